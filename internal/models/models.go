package models

import (
	"path"
	"slices"
	"strings"
)

// Paging mirrors the FotoWare collection paging block. Next is empty on the last page.
type Paging struct {
	Prev  string `json:"prev,omitempty"`
	Next  string `json:"next,omitempty"`
	First string `json:"first,omitempty"`
	Last  string `json:"last,omitempty"`
}

type ArchiveSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Href        string `json:"href"`
}

type ArchiveList struct {
	Data   []ArchiveSummary `json:"data"`
	Paging *Paging          `json:"paging,omitempty"`
}

type AssetPage struct {
	Data   []AssetRef `json:"data"`
	Paging *Paging    `json:"paging,omitempty"`
}

// ArchiveDetail is the archive payload including its nested asset listing.
// Raw holds the bytes persisted to archives/archive-{id}.json.
type ArchiveDetail struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Href        string     `json:"href"`
	Type        string     `json:"type,omitempty"`
	Created     string     `json:"created,omitempty"`
	Modified    string     `json:"modified,omitempty"`
	AssetCount  int        `json:"assetCount,omitempty"`
	Assets      *AssetPage `json:"assets,omitempty"`
	Raw         []byte     `json:"-"`
}

// Refs returns the asset references of the listing, nil when the archive has none.
func (a ArchiveDetail) Refs() []AssetRef {
	if a.Assets == nil {
		return nil
	}
	return a.Assets.Data
}

type Preview struct {
	Size   int    `json:"size"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Href   string `json:"href"`
	Square bool   `json:"square"`
}

type Rendition struct {
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Href        string `json:"href"`
	Default     bool   `json:"default"`
	Original    bool   `json:"original"`
}

// Clone returns a copy that shares no memory with a.
func (a ArchiveDetail) Clone() ArchiveDetail {
	out := a
	out.Raw = slices.Clone(a.Raw)
	if a.Assets != nil {
		page := AssetPage{Data: make([]AssetRef, len(a.Assets.Data))}
		if a.Assets.Paging != nil {
			paging := *a.Assets.Paging
			page.Paging = &paging
		}
		for i, ref := range a.Assets.Data {
			page.Data[i] = ref.Clone()
		}
		out.Assets = &page
	}
	return out
}

// AssetRef is an asset entry nested in an archive listing.
type AssetRef struct {
	Href       string      `json:"href"`
	Filename   string      `json:"filename"`
	Doctype    string      `json:"doctype,omitempty"`
	Created    string      `json:"created,omitempty"`
	Modified   string      `json:"modified,omitempty"`
	Metadata   Metadata    `json:"metadata,omitempty"`
	Previews   []Preview   `json:"previews,omitempty"`
	Renditions []Rendition `json:"renditions,omitempty"`
}

func (r AssetRef) Clone() AssetRef {
	r.Metadata = r.Metadata.Clone()
	r.Previews = slices.Clone(r.Previews)
	r.Renditions = slices.Clone(r.Renditions)
	return r
}

// LocalID is the per-archive asset identifier: the last href segment without ".info".
func (r AssetRef) LocalID() string {
	return LocalIDFromHref(r.Href)
}

func LocalIDFromHref(href string) string {
	return strings.TrimSuffix(path.Base(strings.TrimRight(href, "/")), ".info")
}

// PreviewHref returns the href of the preview with the given size.
func PreviewHref(previews []Preview, size int) string {
	for _, p := range previews {
		if p.Size == size {
			return p.Href
		}
	}
	return ""
}

// OriginalRendition returns the rendition flagged as original, if any.
func OriginalRendition(renditions []Rendition) (Rendition, bool) {
	for _, r := range renditions {
		if r.Original {
			return r, true
		}
	}
	return Rendition{}, false
}
