package dedup

import (
	"errors"
	"fmt"

	ET "github.com/IBM/fp-go/v2/either"
	IOE "github.com/IBM/fp-go/v2/ioeither"
	"go.uber.org/zap"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/models"
	T "github.com/Qubut/fotoware-explorer/packages/data_builder/internal/typing"
)

// ErrNoUniqueID is returned by Merge when neither the listing entry nor the fetched asset
// carries a unique ID.
var ErrNoUniqueID = errors.New("asset has no unique ID")

type Outcome int

const (
	// Created means the unique ID was seen for the first time.
	Created Outcome = iota
	// Merged means the archive was appended to an existing record.
	Merged
	// Unchanged means the record already listed the archive.
	Unchanged
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Merged:
		return "merged"
	default:
		return "unchanged"
	}
}

type AssetStore interface {
	WriteAsset(asset models.Asset) IOE.IOEither[error, T.Unit]
	ReadAsset(uniqueID string) (models.Asset, error)
}

// UniqueID returns the canonical ID of an asset. The listing entry's metadata wins over
// the fetched asset's.
func UniqueID(ref models.AssetRef, asset *models.Asset, field string) string {
	if id := ref.Metadata.Value(field); id != "" {
		return id
	}
	if asset != nil {
		return asset.Metadata.Value(field)
	}
	return ""
}

// Cache holds canonical asset records keyed by unique ID.
//
// With a positive limit, records beyond it are written out oldest first and dropped from
// memory. A dropped record is read back from the store whenever a later archive
// references it, so its membership list stays complete.
type Cache struct {
	store   AssetStore
	field   string
	limit   int
	logger  *zap.SugaredLogger
	records map[string]*models.Asset
	order   []string
	flushed map[string]struct{}

	// EvictionFailures counts records that could not be written out on eviction.
	EvictionFailures int
}

func NewCache(store AssetStore, field string, limit int, logger *zap.SugaredLogger) *Cache {
	if field == "" {
		field = models.FieldUniqueID
	}
	return &Cache{
		store:   store,
		field:   field,
		limit:   limit,
		logger:  logger,
		records: map[string]*models.Asset{},
		flushed: map[string]struct{}{},
	}
}

// Merge folds one fetched asset, referenced from archiveID, into the cache. It returns
// the unique ID the asset resolved to.
func (c *Cache) Merge(archiveID string, ref models.AssetRef, asset *models.Asset) (string, Outcome, error) {
	uid := UniqueID(ref, asset, c.field)
	if uid == "" {
		return "", Unchanged, ErrNoUniqueID
	}

	if record, ok := c.records[uid]; ok {
		if record.AddArchive(archiveID) {
			return uid, Merged, nil
		}
		return uid, Unchanged, nil
	}

	if _, ok := c.flushed[uid]; ok {
		outcome, err := c.mergeFlushed(uid, archiveID)
		return uid, outcome, err
	}

	record := models.AssetFromRef(ref)
	if asset != nil {
		record = *asset
	}
	record.UniqueID = uid
	record.Href = ref.Href
	record.Archives = []string{archiveID}
	c.records[uid] = &record
	c.order = append(c.order, uid)
	c.evict()
	return uid, Created, nil
}

func (c *Cache) mergeFlushed(uid, archiveID string) (Outcome, error) {
	record, err := c.store.ReadAsset(uid)
	if err != nil {
		return Unchanged, fmt.Errorf("reload asset %s: %w", uid, err)
	}
	if !record.AddArchive(archiveID) {
		return Unchanged, nil
	}
	if _, err := ET.UnwrapError(c.store.WriteAsset(record)()); err != nil {
		return Unchanged, fmt.Errorf("rewrite asset %s: %w", uid, err)
	}
	return Merged, nil
}

func (c *Cache) evict() {
	if c.limit <= 0 {
		return
	}
	for len(c.order) > c.limit {
		uid := c.order[0]
		if _, err := ET.UnwrapError(c.store.WriteAsset(*c.records[uid])()); err != nil {
			c.EvictionFailures++
			c.logger.Warnw("Failed to flush asset, keeping it in memory",
				"uniqueId", uid,
				"error", err,
			)
			return
		}
		c.order = c.order[1:]
		delete(c.records, uid)
		c.flushed[uid] = struct{}{}
		c.logger.Debugw("Flushed asset", "uniqueId", uid, "inMemory", len(c.records))
	}
}

// FlushAll writes every in-memory record in first-seen order. Records that fail to write
// stay in memory; their errors are joined into the result.
func (c *Cache) FlushAll() (int, error) {
	var (
		written int
		errs    []error
		kept    []string
	)
	for _, uid := range c.order {
		if _, err := ET.UnwrapError(c.store.WriteAsset(*c.records[uid])()); err != nil {
			errs = append(errs, fmt.Errorf("write asset %s: %w", uid, err))
			kept = append(kept, uid)
			continue
		}
		delete(c.records, uid)
		c.flushed[uid] = struct{}{}
		written++
	}
	c.order = kept
	return written, errors.Join(errs...)
}

// Get returns the in-memory record for uid.
func (c *Cache) Get(uid string) (*models.Asset, bool) {
	record, ok := c.records[uid]
	return record, ok
}

// Len counts distinct unique IDs seen, in memory or flushed.
func (c *Cache) Len() int {
	return len(c.records) + len(c.flushed)
}

func (c *Cache) InMemory() int {
	return len(c.records)
}
