package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataValueDecodesScalarsAndLists(t *testing.T) {
	var m Metadata
	err := json.Unmarshal([]byte(`{
		"5": {"value": "Sunset"},
		"25": {"value": ["", "beach", "sky"]},
		"350": {"value": 1999},
		"187": {"value": null}
	}`), &m)
	require.NoError(t, err)

	assert.Equal(t, "Sunset", m.Value("5"))
	assert.True(t, m["25"].IsList)
	assert.Equal(t, "beach", m.Value("25"))
	assert.Equal(t, ", beach, sky", m["25"].String())
	assert.Equal(t, "1999", m.Value("350"))
	assert.Equal(t, "", m.Value("187"))
	assert.Equal(t, "", m.Value("missing"))
}

func TestMetadataValueEncodesEnvelope(t *testing.T) {
	out, err := json.Marshal(Metadata{"5": StringValue("x"), "25": ListValue("a", "b")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"5":{"value":"x"},"25":{"value":["a","b"]}}`, string(out))
}

func TestMetadataKeysOrderedNumerically(t *testing.T) {
	m := Metadata{"120": {}, "5": {}, "title": {}, "25": {}}
	assert.Equal(t, []string{"5", "25", "120", "title"}, m.Keys())
}

func TestFlags(t *testing.T) {
	m := Metadata{
		FieldAccess:     StringValue("Culturally Sensitive"),
		FieldStatus:     StringValue("Current"),
		FieldVisibility: ListValue("Featured"),
	}
	flags := m.Flags()
	require.Len(t, flags, 2)
	assert.Equal(t, "cultural", flags[0].Type)
	assert.Equal(t, "featured", flags[1].Type)
	assert.Empty(t, Metadata{}.Flags())
}

func TestFieldLabel(t *testing.T) {
	assert.Equal(t, "Unique ID", FieldLabel("187"))
	assert.Equal(t, "Field 999", FieldLabel("999"))
}

func TestAssetRoundTripKeepsUnknownFields(t *testing.T) {
	payload := `{
		"href": "/fotoweb/archives/5000-A/x.jpg.info",
		"filename": "x.jpg",
		"doctype": "image",
		"metadata": {"187": {"value": "X123"}},
		"previews": [{"size": 800, "width": 800, "height": 600, "href": "/p/800", "square": false}],
		"renditions": [],
		"filesize": 1234,
		"attributes": {"imageattributes": {"pixelwidth": 10}}
	}`
	var a Asset
	require.NoError(t, json.Unmarshal([]byte(payload), &a))
	assert.Equal(t, "x.jpg", a.Filename)
	assert.Equal(t, "X123", a.Metadata.Value(FieldUniqueID))

	a.UniqueID = "X123"
	a.AddArchive("A")
	out, err := json.Marshal(a)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, float64(1234), back["filesize"])
	assert.Contains(t, back, "attributes")
	assert.Equal(t, "X123", back["uniqueId"])
	assert.Equal(t, []any{"A"}, back["archives"])
}

func TestAddArchiveIsIdempotent(t *testing.T) {
	a := Asset{Archives: []string{"A"}}
	assert.False(t, a.AddArchive("A"))
	assert.True(t, a.AddArchive("B"))
	assert.Equal(t, []string{"A", "B"}, a.Archives)
}

func TestLocalID(t *testing.T) {
	assert.Equal(t, "photo.jpg", AssetRef{Href: "/fotoweb/archives/5000-A/Folder/photo.jpg.info"}.LocalID())
	assert.Equal(t, "photo.jpg", LocalIDFromHref("/fotoweb/archives/5000-A/photo.jpg.info/"))
}

func TestIndexCloneIsDeep(t *testing.T) {
	idx := NewIndex()
	idx.Archives["A"] = &ArchiveEntry{ID: "A", Assets: []string{"X"}}
	c := idx.Clone()
	c.Archives["A"].Assets[0] = "Y"
	assert.Equal(t, "X", idx.Archives["A"].Assets[0])

	idx.Archives["B"] = &ArchiveEntry{ID: "B"}
	out, err := json.Marshal(idx.Clone())
	require.NoError(t, err)
	assert.Contains(t, string(out), `"assets":[]`)
}

func TestArchiveDetailCloneIsDeep(t *testing.T) {
	detail := ArchiveDetail{
		ID:  "A",
		Raw: []byte(`{"id":"A"}`),
		Assets: &AssetPage{Data: []AssetRef{{
			Filename: "a.jpg",
			Metadata: Metadata{"25": ListValue("rock", "art")},
			Previews: []Preview{{Size: 800, Href: "/p"}},
		}}},
	}
	c := detail.Clone()
	c.Raw[0] = '['
	c.Assets.Data[0].Filename = "b.jpg"
	c.Assets.Data[0].Metadata["25"].List[0] = "paint"
	c.Assets.Data[0].Metadata["5"] = StringValue("new")
	c.Assets.Data[0].Previews[0].Href = "/q"

	assert.Equal(t, `{"id":"A"}`, string(detail.Raw))
	ref := detail.Assets.Data[0]
	assert.Equal(t, "a.jpg", ref.Filename)
	assert.Equal(t, []string{"rock", "art"}, ref.Metadata["25"].List)
	assert.NotContains(t, ref.Metadata, "5")
	assert.Equal(t, "/p", ref.Previews[0].Href)
}
