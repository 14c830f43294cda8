package models

import (
	"encoding/json"
	"fmt"
)

// Asset is a fetched asset payload. Fields the pipeline does not model are kept in
// extra and written back unchanged.
type Asset struct {
	UniqueID   string
	Archives   []string
	Href       string
	Filename   string
	Doctype    string
	Created    string
	Modified   string
	Metadata   Metadata
	Previews   []Preview
	Renditions []Rendition

	extra map[string]json.RawMessage
}

type assetFields struct {
	UniqueID   string      `json:"uniqueId,omitempty"`
	Archives   []string    `json:"archives,omitempty"`
	Href       string      `json:"href"`
	Filename   string      `json:"filename"`
	Doctype    string      `json:"doctype,omitempty"`
	Created    string      `json:"created,omitempty"`
	Modified   string      `json:"modified,omitempty"`
	Metadata   Metadata    `json:"metadata"`
	Previews   []Preview   `json:"previews"`
	Renditions []Rendition `json:"renditions"`
}

var modelledAssetKeys = []string{
	"uniqueId", "archives", "href", "filename", "doctype",
	"created", "modified", "metadata", "previews", "renditions",
}

func (a *Asset) UnmarshalJSON(data []byte) error {
	var fields assetFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("asset: %w", err)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("asset: %w", err)
	}
	for _, k := range modelledAssetKeys {
		delete(all, k)
	}
	*a = Asset{
		UniqueID:   fields.UniqueID,
		Archives:   fields.Archives,
		Href:       fields.Href,
		Filename:   fields.Filename,
		Doctype:    fields.Doctype,
		Created:    fields.Created,
		Modified:   fields.Modified,
		Metadata:   fields.Metadata,
		Previews:   fields.Previews,
		Renditions: fields.Renditions,
		extra:      all,
	}
	return nil
}

func (a Asset) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.extra)+len(modelledAssetKeys))
	for k, v := range a.extra {
		out[k] = v
	}
	metadata := a.Metadata
	if metadata == nil {
		metadata = Metadata{}
	}
	previews := a.Previews
	if previews == nil {
		previews = []Preview{}
	}
	renditions := a.Renditions
	if renditions == nil {
		renditions = []Rendition{}
	}
	out["href"] = a.Href
	out["filename"] = a.Filename
	out["metadata"] = metadata
	out["previews"] = previews
	out["renditions"] = renditions
	if a.Doctype != "" {
		out["doctype"] = a.Doctype
	}
	if a.Created != "" {
		out["created"] = a.Created
	}
	if a.Modified != "" {
		out["modified"] = a.Modified
	}
	if a.UniqueID != "" {
		out["uniqueId"] = a.UniqueID
	}
	if a.Archives != nil {
		out["archives"] = a.Archives
	}
	return json.Marshal(out)
}

// HasArchive reports whether archiveID is in the membership list.
func (a *Asset) HasArchive(archiveID string) bool {
	for _, id := range a.Archives {
		if id == archiveID {
			return true
		}
	}
	return false
}

// AddArchive appends archiveID to the membership list unless already present.
// It reports whether the list changed.
func (a *Asset) AddArchive(archiveID string) bool {
	if a.HasArchive(archiveID) {
		return false
	}
	a.Archives = append(a.Archives, archiveID)
	return true
}

// AssetFromRef builds an asset from an archive listing entry.
func AssetFromRef(ref AssetRef) Asset {
	return Asset{
		Href:       ref.Href,
		Filename:   ref.Filename,
		Doctype:    ref.Doctype,
		Created:    ref.Created,
		Modified:   ref.Modified,
		Metadata:   ref.Metadata,
		Previews:   ref.Previews,
		Renditions: ref.Renditions,
	}
}
