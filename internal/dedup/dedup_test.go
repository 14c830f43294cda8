package dedup

import (
	"errors"
	"testing"

	IOE "github.com/IBM/fp-go/v2/ioeither"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/models"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/store"
	T "github.com/Qubut/fotoware-explorer/packages/data_builder/internal/typing"
)

func ref(href, uid string) models.AssetRef {
	r := models.AssetRef{Href: href, Filename: href}
	if uid != "" {
		r.Metadata = models.Metadata{models.FieldUniqueID: models.StringValue(uid)}
	}
	return r
}

func asset(uid string) *models.Asset {
	a := &models.Asset{Href: "/fetched", Filename: "fetched.jpg"}
	if uid != "" {
		a.Metadata = models.Metadata{models.FieldUniqueID: models.StringValue(uid)}
	}
	return a
}

func TestUniqueIDPrefersReference(t *testing.T) {
	assert.Equal(t, "R1", UniqueID(ref("a", "R1"), asset("A1"), "187"))
	assert.Equal(t, "A1", UniqueID(ref("a", ""), asset("A1"), "187"))
	assert.Equal(t, "", UniqueID(ref("a", ""), asset(""), "187"))
	assert.Equal(t, "", UniqueID(ref("a", ""), nil, "187"))

	listRef := models.AssetRef{Metadata: models.Metadata{"187": models.ListValue("", " L1 ", "L2")}}
	assert.Equal(t, "L1", UniqueID(listRef, nil, "187"))
}

func TestMergeAcrossArchives(t *testing.T) {
	cache := NewCache(store.New(t.TempDir()), "", 0, zaptest.NewLogger(t).Sugar())

	uid, outcome, err := cache.Merge("A", ref("/a/x.info", "X123"), asset("X123"))
	require.NoError(t, err)
	assert.Equal(t, "X123", uid)
	assert.Equal(t, Created, outcome)

	_, outcome, err = cache.Merge("B", ref("/b/x.info", "X123"), asset("X123"))
	require.NoError(t, err)
	assert.Equal(t, Merged, outcome)

	_, outcome, err = cache.Merge("B", ref("/b/x2.info", "X123"), asset("X123"))
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)

	record, ok := cache.Get("X123")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, record.Archives)
	assert.Equal(t, "/a/x.info", record.Href)
	assert.Equal(t, "X123", record.UniqueID)
	assert.Equal(t, 1, cache.Len())
}

func TestMergeWithoutUniqueID(t *testing.T) {
	cache := NewCache(store.New(t.TempDir()), "187", 0, zaptest.NewLogger(t).Sugar())
	_, _, err := cache.Merge("A", ref("/a/x.info", ""), asset(""))
	assert.ErrorIs(t, err, ErrNoUniqueID)
	assert.Equal(t, 0, cache.Len())
}

func TestEvictionRereadsFlushedRecords(t *testing.T) {
	s := store.New(t.TempDir())
	cache := NewCache(s, "187", 2, zaptest.NewLogger(t).Sugar())

	for _, uid := range []string{"U1", "U2", "U3"} {
		_, _, err := cache.Merge("A", ref("/a/"+uid, uid), asset(uid))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, cache.InMemory())
	assert.Equal(t, 3, cache.Len())
	assert.True(t, s.AssetExists("U1"))
	_, inMemory := cache.Get("U1")
	assert.False(t, inMemory)

	_, outcome, err := cache.Merge("B", ref("/b/U1", "U1"), asset("U1"))
	require.NoError(t, err)
	assert.Equal(t, Merged, outcome)

	onDisk, err := s.ReadAsset("U1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, onDisk.Archives)

	_, outcome, err = cache.Merge("B", ref("/b/U1", "U1"), asset("U1"))
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)

	written, err := cache.FlushAll()
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Equal(t, 0, cache.InMemory())
	assert.Equal(t, 3, cache.Len())
	assert.True(t, s.AssetExists("U3"))
}

type failingStore struct {
	fail   bool
	writes []string
}

func (f *failingStore) WriteAsset(a models.Asset) IOE.IOEither[error, T.Unit] {
	if f.fail {
		return IOE.Left[T.Unit](errors.New("disk full"))
	}
	f.writes = append(f.writes, a.UniqueID)
	return IOE.Of[error](T.Unit{})
}

func (f *failingStore) ReadAsset(string) (models.Asset, error) {
	return models.Asset{}, errors.New("not implemented")
}

func TestFailedEvictionKeepsRecord(t *testing.T) {
	fs := &failingStore{fail: true}
	cache := NewCache(fs, "187", 1, zaptest.NewLogger(t).Sugar())

	_, _, err := cache.Merge("A", ref("/a/1", "U1"), asset("U1"))
	require.NoError(t, err)
	_, _, err = cache.Merge("A", ref("/a/2", "U2"), asset("U2"))
	require.NoError(t, err)

	assert.Equal(t, 1, cache.EvictionFailures)
	assert.Equal(t, 2, cache.InMemory())

	_, err = cache.FlushAll()
	require.Error(t, err)
	assert.Equal(t, 2, cache.InMemory())

	fs.fail = false
	written, err := cache.FlushAll()
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Equal(t, []string{"U1", "U2"}, fs.writes)
}
