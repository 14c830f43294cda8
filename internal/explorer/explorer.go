package explorer

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/config"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/models"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/store"
)

const (
	thumbnailSize = 800
	previewSize   = 1200
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidSort = errors.New("invalid sort")
)

// Archive is the listing view of a persisted archive.
type Archive struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Href        string `json:"href,omitempty"`
	Created     string `json:"created,omitempty"`
	Modified    string `json:"modified,omitempty"`
	AssetCount  int    `json:"assetCount"`
}

// AssetView is an asset as presented to readers. ID combines archive and per-archive asset
// ID as "{archiveId} {assetId}".
type AssetView struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	Title                 string          `json:"title"`
	Type                  string          `json:"type"`
	Href                  string          `json:"href"`
	Metadata              models.Metadata `json:"metadata"`
	ThumbnailURL          string          `json:"thumbnailUrl,omitempty"`
	PreviewURL            string          `json:"previewUrl,omitempty"`
	EmbedURL              string          `json:"embedUrl,omitempty"`
	Created               string          `json:"created,omitempty"`
	Modified              string          `json:"modified,omitempty"`
	UniqueID              string          `json:"uniqueId,omitempty"`
	Archives              []string        `json:"archives,omitempty"`
	IsCulturallySensitive bool            `json:"isCulturallySensitive"`
	IsSuperseded          bool            `json:"isSuperseded"`
	IsFeatured            bool            `json:"isFeatured"`
	Flags                 []models.Flag   `json:"flags"`
}

type DateRange struct {
	Earliest *time.Time `json:"earliest"`
	Latest   *time.Time `json:"latest"`
}

type Stats struct {
	TotalArchives int            `json:"totalArchives"`
	TotalAssets   int            `json:"totalAssets"`
	LastUpdated   time.Time      `json:"lastUpdated"`
	TotalPixels   int64          `json:"totalSize"`
	FileTypes     map[string]int `json:"fileTypes"`
	DateRange     DateRange      `json:"dateRange"`
}

// Explorer reads the build output. Reads are memoised until Reload and concurrent reads
// of the same file share one load. Callers get copies, never the memoised values.
type Explorer struct {
	Store         *store.Store
	PublicBaseURL string
	// UniqueIDField is the metadata field listing references carry the unique ID in.
	UniqueIDField string
	Logger        *zap.SugaredLogger

	mu         sync.RWMutex
	memo       map[string]any
	generation uint64
	group      singleflight.Group
	now        func() time.Time
}

func NewExplorer(cfg config.Config, logger *zap.SugaredLogger) *Explorer {
	field := cfg.API.UniqueIDField
	if field == "" {
		field = models.FieldUniqueID
	}
	return &Explorer{
		Store:         store.New(cfg.Output.Directory),
		PublicBaseURL: strings.TrimRight(cfg.Explorer.PublicBaseURL, "/"),
		UniqueIDField: field,
		Logger:        logger,
		memo:          map[string]any{},
		now:           time.Now,
	}
}

// Reload drops every memoised read.
func (e *Explorer) Reload() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.memo = map[string]any{}
	e.generation++
}

func memoise[T any](e *Explorer, key string, load func() (T, error)) (T, error) {
	e.mu.RLock()
	cached, ok := e.memo[key]
	generation := e.generation
	e.mu.RUnlock()
	if ok {
		return cached.(T), nil
	}
	v, err, _ := e.group.Do(key, func() (any, error) {
		v, err := load()
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		if e.generation == generation {
			e.memo[key] = v
		}
		e.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Archive returns the persisted archive payload.
func (e *Explorer) Archive(archiveID string) (models.ArchiveDetail, error) {
	detail, err := e.archive(archiveID)
	if err != nil {
		return models.ArchiveDetail{}, err
	}
	return detail.Clone(), nil
}

func (e *Explorer) archive(archiveID string) (models.ArchiveDetail, error) {
	return memoise(e, "archive:"+archiveID, func() (models.ArchiveDetail, error) {
		detail, err := e.Store.ReadArchive(archiveID)
		if errors.Is(err, fs.ErrNotExist) {
			return models.ArchiveDetail{}, fmt.Errorf("archive %s: %w", archiveID, ErrNotFound)
		}
		if err != nil {
			return models.ArchiveDetail{}, err
		}
		detail.ID = archiveID
		return detail, nil
	})
}

// Archives lists every persisted archive ordered by ID. Unreadable files are skipped.
func (e *Explorer) Archives() ([]Archive, error) {
	ids, err := e.Store.ListArchiveIDs()
	if err != nil {
		return nil, err
	}
	archives := make([]Archive, 0, len(ids))
	for _, id := range ids {
		detail, err := e.archive(id)
		if err != nil {
			e.Logger.Warnw("Error reading archive", "archive", id, "error", err)
			continue
		}
		archives = append(archives, archiveView(detail))
	}
	return archives, nil
}

func archiveView(detail models.ArchiveDetail) Archive {
	count := detail.AssetCount
	if count == 0 {
		count = len(detail.Refs())
	}
	return Archive{
		ID:          detail.ID,
		Name:        detail.Name,
		Description: detail.Description,
		Href:        detail.Href,
		Created:     detail.Created,
		Modified:    detail.Modified,
		AssetCount:  count,
	}
}

// ArchiveAssets returns the views of every asset listed in an archive.
func (e *Explorer) ArchiveAssets(archiveID string) ([]AssetView, error) {
	detail, err := e.archive(archiveID)
	if err != nil {
		return nil, err
	}
	views := make([]AssetView, 0, len(detail.Refs()))
	for _, ref := range detail.Refs() {
		view := e.view(models.AssetFromRef(ref))
		view.ID = archiveID + " " + ref.LocalID()
		views = append(views, view)
	}
	return views, nil
}

// Asset resolves "{archiveId} {assetId}" (or "{archiveId}/{assetId}", or a bare asset ID).
// The canonical asset file is tried first, then the named archive's listing, then every
// archive. A listing hit is upgraded to its canonical record when one exists.
func (e *Explorer) Asset(key string) (AssetView, error) {
	archiveID, assetID := SplitAssetKey(key)
	if assetID == "" {
		return AssetView{}, fmt.Errorf("asset %q: %w", key, ErrNotFound)
	}
	id := assetID
	if archiveID != "" {
		id = archiveID + " " + assetID
	}

	if asset, err := e.canonical(assetID); err == nil {
		view := e.view(asset)
		view.ID = id
		return view, nil
	}
	e.Logger.Debugw("Asset file not found, searching archives", "asset", assetID)

	if archiveID != "" {
		if ref, ok := e.findInArchive(archiveID, assetID); ok {
			return e.refView(id, ref), nil
		}
	}
	ids, err := e.Store.ListArchiveIDs()
	if err != nil {
		return AssetView{}, err
	}
	for _, other := range ids {
		if other == archiveID {
			continue
		}
		if ref, ok := e.findInArchive(other, assetID); ok {
			return e.refView(id, ref), nil
		}
	}
	return AssetView{}, fmt.Errorf("asset %q: %w", key, ErrNotFound)
}

// SplitAssetKey splits a combined asset key into archive and asset IDs.
func SplitAssetKey(key string) (archiveID, assetID string) {
	key = strings.TrimSpace(key)
	if i := strings.IndexAny(key, " /"); i >= 0 {
		return key[:i], strings.TrimSpace(key[i+1:])
	}
	return "", key
}

func (e *Explorer) canonical(uniqueID string) (models.Asset, error) {
	return memoise(e, "asset:"+uniqueID, func() (models.Asset, error) {
		return e.Store.ReadAsset(uniqueID)
	})
}

func (e *Explorer) findInArchive(archiveID, assetID string) (models.AssetRef, bool) {
	detail, err := e.archive(archiveID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.Logger.Warnw("Error reading archive", "archive", archiveID, "error", err)
		}
		return models.AssetRef{}, false
	}
	for _, ref := range detail.Refs() {
		if ref.LocalID() == assetID {
			return ref, true
		}
	}
	return models.AssetRef{}, false
}

func (e *Explorer) refView(id string, ref models.AssetRef) AssetView {
	asset := models.AssetFromRef(ref)
	if uid := ref.Metadata.Value(e.UniqueIDField); uid != "" {
		if canonical, err := e.canonical(uid); err == nil {
			asset = canonical
		}
	}
	view := e.view(asset)
	view.ID = id
	return view
}

func (e *Explorer) view(asset models.Asset) AssetView {
	metadata := asset.Metadata.Clone()
	if metadata == nil {
		metadata = models.Metadata{}
	}
	title := metadata.Value(models.FieldTitle)
	if title == "" {
		title = asset.Filename
	}
	view := AssetView{
		Name:                  asset.Filename,
		Title:                 title,
		Type:                  asset.Doctype,
		Href:                  asset.Href,
		Metadata:              metadata,
		ThumbnailURL:          e.publicURL(models.PreviewHref(asset.Previews, thumbnailSize)),
		PreviewURL:            e.publicURL(models.PreviewHref(asset.Previews, previewSize)),
		Created:               asset.Created,
		Modified:              asset.Modified,
		UniqueID:              asset.UniqueID,
		Archives:              slices.Clone(asset.Archives),
		IsCulturallySensitive: metadata.IsCulturallySensitive(),
		IsSuperseded:          metadata.IsSuperseded(),
		IsFeatured:            metadata.IsFeatured(),
		Flags:                 metadata.Flags(),
	}
	if original, ok := models.OriginalRendition(asset.Renditions); ok {
		view.EmbedURL = e.publicURL(original.Href)
	}
	return view
}

func (e *Explorer) publicURL(href string) string {
	if href == "" {
		return ""
	}
	return e.PublicBaseURL + href
}

// Index returns the persisted index document.
func (e *Explorer) Index() (models.Index, error) {
	index, err := memoise(e, "index", e.Store.ReadIndex)
	if errors.Is(err, fs.ErrNotExist) {
		return models.Index{}, fmt.Errorf("index: %w", ErrNotFound)
	}
	if err != nil {
		return models.Index{}, err
	}
	return index.Clone(), nil
}

// Stats aggregates over every persisted archive listing. TotalPixels sums width*height of
// each listed asset's original rendition.
func (e *Explorer) Stats() (Stats, error) {
	ids, err := e.Store.ListArchiveIDs()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{FileTypes: map[string]int{}}
	for _, id := range ids {
		detail, err := e.archive(id)
		if err != nil {
			e.Logger.Warnw("Error reading archive", "archive", id, "error", err)
			continue
		}
		stats.TotalArchives++
		stats.TotalAssets += archiveView(detail).AssetCount
		for _, ref := range detail.Refs() {
			if original, ok := models.OriginalRendition(ref.Renditions); ok {
				stats.TotalPixels += int64(original.Width) * int64(original.Height)
			}
			doctype := strings.ToLower(ref.Doctype)
			if doctype == "" {
				doctype = "unknown"
			}
			stats.FileTypes[doctype]++
			created, err := time.Parse(time.RFC3339, ref.Created)
			if err != nil {
				continue
			}
			if stats.DateRange.Earliest == nil || created.Before(*stats.DateRange.Earliest) {
				earliest := created
				stats.DateRange.Earliest = &earliest
			}
			if stats.DateRange.Latest == nil || created.After(*stats.DateRange.Latest) {
				latest := created
				stats.DateRange.Latest = &latest
			}
		}
	}
	stats.LastUpdated = e.now().UTC()
	if stats.DateRange.Latest != nil {
		stats.LastUpdated = *stats.DateRange.Latest
	}
	return stats, nil
}

// Search returns archives whose name or description contains term, case-insensitively.
func (e *Explorer) Search(term string) ([]Archive, error) {
	archives, err := e.Archives()
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(term)
	matches := []Archive{}
	for _, a := range archives {
		if strings.Contains(strings.ToLower(a.Name), term) ||
			strings.Contains(strings.ToLower(a.Description), term) {
			matches = append(matches, a)
		}
	}
	return matches, nil
}

var sortKeys = map[string]func(Archive) string{
	"id":          func(a Archive) string { return a.ID },
	"name":        func(a Archive) string { return a.Name },
	"description": func(a Archive) string { return a.Description },
	"created":     func(a Archive) string { return a.Created },
	"modified":    func(a Archive) string { return a.Modified },
}

// SortArchives returns a copy sorted by field ("id", "name", "description", "created" or
// "modified") in direction "asc" (default) or "desc". Archives missing the field sort last.
func SortArchives(archives []Archive, field, direction string) ([]Archive, error) {
	key, ok := sortKeys[field]
	if !ok {
		return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidSort, field)
	}
	var desc bool
	switch direction {
	case "", "asc":
	case "desc":
		desc = true
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidSort, direction)
	}
	sorted := make([]Archive, len(archives))
	copy(sorted, archives)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := key(sorted[i]), key(sorted[j])
		if a == "" || b == "" {
			return a != "" && b == ""
		}
		if desc {
			return strings.ToLower(a) > strings.ToLower(b)
		}
		return strings.ToLower(a) < strings.ToLower(b)
	})
	return sorted, nil
}
