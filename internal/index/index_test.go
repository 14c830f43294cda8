package index

import (
	"errors"
	"testing"
	"time"

	IOE "github.com/IBM/fp-go/v2/ioeither"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/models"
	T "github.com/Qubut/fotoware-explorer/packages/data_builder/internal/typing"
)

type recordingWriter struct {
	writes []models.Index
	err    error
}

func (w *recordingWriter) WriteIndex(index models.Index) IOE.IOEither[error, T.Unit] {
	if w.err != nil {
		return IOE.Left[T.Unit](w.err)
	}
	w.writes = append(w.writes, index)
	return IOE.Of[error](T.Unit{})
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestBuilderLifecycle(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	w := &recordingWriter{}
	b := NewBuilder(w, clock.Now)

	require.NoError(t, b.Enumerate(2))
	assert.Equal(t, Enumerated, b.State())

	a := models.ArchiveSummary{ID: "A", Name: "Archive A", Href: "/fotoweb/archives/A/"}
	require.NoError(t, b.BeginArchive(a, 3))
	require.NoError(t, b.AddAsset("A", "X123"))
	require.NoError(t, b.AddAsset("A", "Y9"))
	require.NoError(t, b.AddAsset("A", "X123"))
	require.NoError(t, b.CompleteArchive("A", 2))
	require.Len(t, w.writes, 1)

	bArchive := models.ArchiveSummary{ID: "B", Name: "Archive B", Description: "second"}
	require.NoError(t, b.BeginArchive(bArchive, 1))
	require.NoError(t, b.AddAsset("B", "X123"))
	require.NoError(t, b.CompleteArchive("B", 2))
	require.Len(t, w.writes, 2)

	clock.t = clock.t.Add(1500 * time.Millisecond)
	require.NoError(t, b.Finalise(2))
	assert.Equal(t, Finalised, b.State())
	require.Len(t, w.writes, 3)

	want := models.Index{
		Metadata: models.IndexMetadata{
			LastUpdated:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
			TotalArchives: 2,
			TotalAssets:   2,
			BuildTime:     1500,
		},
		Archives: map[string]*models.ArchiveEntry{
			"A": {ID: "A", Name: "Archive A", Href: "/fotoweb/archives/A/", AssetCount: 3, Assets: []string{"X123", "Y9"}},
			"B": {ID: "B", Name: "Archive B", Description: "second", AssetCount: 1, Assets: []string{"X123"}},
		},
	}
	if diff := cmp.Diff(want, w.writes[2]); diff != "" {
		t.Errorf("final index mismatch (-want +got):\n%s", diff)
	}
	assert.Zero(t, w.writes[0].Metadata.BuildTime)
	assert.NotContains(t, w.writes[0].Archives, "B")
}

func TestBuilderRejectsInvalidTransitions(t *testing.T) {
	b := NewBuilder(&recordingWriter{}, nil)
	a := models.ArchiveSummary{ID: "A"}

	assert.ErrorIs(t, b.BeginArchive(a, 0), ErrInvalidTransition)
	assert.ErrorIs(t, b.Finalise(0), ErrInvalidTransition)

	require.NoError(t, b.Enumerate(1))
	assert.ErrorIs(t, b.Enumerate(1), ErrInvalidTransition)
	assert.ErrorIs(t, b.AddAsset("A", "X"), ErrInvalidTransition)

	require.NoError(t, b.BeginArchive(a, 0))
	assert.ErrorIs(t, b.BeginArchive(models.ArchiveSummary{ID: "B"}, 0), ErrInvalidTransition)
	assert.ErrorIs(t, b.AddAsset("B", "X"), ErrInvalidTransition)
	assert.ErrorIs(t, b.Finalise(0), ErrInvalidTransition)
	require.NoError(t, b.CompleteArchive("A", 0))

	require.NoError(t, b.Finalise(0))
	assert.ErrorIs(t, b.BeginArchive(a, 0), ErrInvalidTransition)
}

func TestWriteFailureIsReported(t *testing.T) {
	w := &recordingWriter{err: errors.New("read-only file system")}
	b := NewBuilder(w, nil)
	require.NoError(t, b.Enumerate(1))
	require.NoError(t, b.BeginArchive(models.ArchiveSummary{ID: "A"}, 0))

	err := b.CompleteArchive("A", 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidTransition)

	err = b.Finalise(0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, Finalised, b.State())
}

func TestSnapshotIsIsolated(t *testing.T) {
	b := NewBuilder(&recordingWriter{}, nil)
	require.NoError(t, b.Enumerate(1))
	require.NoError(t, b.BeginArchive(models.ArchiveSummary{ID: "A"}, 1))
	require.NoError(t, b.AddAsset("A", "X"))

	snap := b.Snapshot()
	snap.Archives["A"].Assets[0] = "changed"
	assert.Equal(t, []string{"X"}, b.Snapshot().Archives["A"].Assets)
}
