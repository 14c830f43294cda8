package models

import "time"

type IndexMetadata struct {
	LastUpdated   time.Time `json:"lastUpdated"`
	TotalArchives int       `json:"totalArchives"`
	TotalAssets   int       `json:"totalAssets"`
	// BuildTime is in milliseconds, zero until the build is finalised.
	BuildTime int64 `json:"buildTime"`
}

// ArchiveEntry is the index rollup of one archive. AssetCount counts the references in
// the archive listing; Assets lists the canonical IDs resolved from them.
type ArchiveEntry struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Href        string   `json:"href"`
	AssetCount  int      `json:"assetCount"`
	Assets      []string `json:"assets"`
}

type Index struct {
	Metadata IndexMetadata            `json:"metadata"`
	Archives map[string]*ArchiveEntry `json:"archives"`
}

func NewIndex() Index {
	return Index{Archives: map[string]*ArchiveEntry{}}
}

// Clone returns a deep copy safe to hand to writers while the builder keeps mutating.
func (i Index) Clone() Index {
	out := Index{Metadata: i.Metadata, Archives: make(map[string]*ArchiveEntry, len(i.Archives))}
	for id, entry := range i.Archives {
		e := *entry
		e.Assets = make([]string, len(entry.Assets))
		copy(e.Assets, entry.Assets)
		out.Archives[id] = &e
	}
	return out
}
