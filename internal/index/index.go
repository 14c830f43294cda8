package index

import (
	"errors"
	"fmt"
	"time"

	ET "github.com/IBM/fp-go/v2/either"
	IOE "github.com/IBM/fp-go/v2/ioeither"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/models"
	T "github.com/Qubut/fotoware-explorer/packages/data_builder/internal/typing"
)

var ErrInvalidTransition = errors.New("invalid index transition")

type State int

const (
	NotStarted State = iota
	Enumerated
	Finalised
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Enumerated:
		return "enumerated"
	default:
		return "finalised"
	}
}

type Writer interface {
	WriteIndex(index models.Index) IOE.IOEither[error, T.Unit]
}

// Builder accumulates the index document. Archives are opened with BeginArchive, filled
// with AddAsset and closed with CompleteArchive, which also persists the index. One archive
// is open at a time.
type Builder struct {
	writer  Writer
	now     func() time.Time
	state   State
	index   models.Index
	started time.Time
	current string
	seen    map[string]struct{}
}

// NewBuilder creates a builder; now defaults to time.Now.
func NewBuilder(writer Writer, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{
		writer:  writer,
		now:     now,
		index:   models.NewIndex(),
		started: now(),
	}
}

func (b *Builder) State() State {
	return b.state
}

// Enumerate records the archive total and the build timestamp.
func (b *Builder) Enumerate(totalArchives int) error {
	if b.state != NotStarted {
		return b.invalid("enumerate")
	}
	b.index.Metadata.LastUpdated = b.now().UTC()
	b.index.Metadata.TotalArchives = totalArchives
	b.state = Enumerated
	return nil
}

// BeginArchive opens the index entry for an archive. assetCount is the number of asset
// references in its listing, whether or not they resolve.
func (b *Builder) BeginArchive(archive models.ArchiveSummary, assetCount int) error {
	if b.state != Enumerated || b.current != "" {
		return b.invalid("begin archive " + archive.ID)
	}
	b.index.Archives[archive.ID] = &models.ArchiveEntry{
		ID:          archive.ID,
		Name:        archive.Name,
		Description: archive.Description,
		Href:        archive.Href,
		AssetCount:  assetCount,
		Assets:      []string{},
	}
	b.current = archive.ID
	b.seen = map[string]struct{}{}
	return nil
}

// AddAsset appends a unique ID to the open archive. Repeats within the archive are ignored.
func (b *Builder) AddAsset(archiveID, uniqueID string) error {
	if b.state != Enumerated || b.current != archiveID {
		return b.invalid("add asset to " + archiveID)
	}
	if _, ok := b.seen[uniqueID]; ok {
		return nil
	}
	b.seen[uniqueID] = struct{}{}
	entry := b.index.Archives[archiveID]
	entry.Assets = append(entry.Assets, uniqueID)
	return nil
}

// CompleteArchive closes the open archive, updates the asset total and writes the index.
// A write failure is returned but the archive stays closed.
func (b *Builder) CompleteArchive(archiveID string, totalAssets int) error {
	if b.state != Enumerated || b.current != archiveID {
		return b.invalid("complete archive " + archiveID)
	}
	b.current = ""
	b.seen = nil
	b.index.Metadata.TotalAssets = totalAssets
	return b.write()
}

// Finalise records the build time and writes the final index.
func (b *Builder) Finalise(totalAssets int) error {
	if b.state != Enumerated || b.current != "" {
		return b.invalid("finalise")
	}
	b.index.Metadata.TotalAssets = totalAssets
	b.index.Metadata.BuildTime = b.now().Sub(b.started).Milliseconds()
	b.state = Finalised
	return b.write()
}

// Snapshot returns a copy of the index.
func (b *Builder) Snapshot() models.Index {
	return b.index.Clone()
}

func (b *Builder) write() error {
	_, err := ET.UnwrapError(b.writer.WriteIndex(b.index.Clone())())
	if err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

func (b *Builder) invalid(op string) error {
	return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, op, b.state)
}
