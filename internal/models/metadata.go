package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// MetadataValue is a FotoWare metadata field: {"value": "x"} or {"value": ["a", "b"]}.
type MetadataValue struct {
	Single string
	List   []string
	IsList bool
}

func StringValue(s string) MetadataValue {
	return MetadataValue{Single: s}
}

func ListValue(items ...string) MetadataValue {
	return MetadataValue{List: items, IsList: true}
}

// First returns the scalar value, or the first non-empty list element.
func (v MetadataValue) First() string {
	if !v.IsList {
		return v.Single
	}
	for _, item := range v.List {
		if strings.TrimSpace(item) != "" {
			return item
		}
	}
	return ""
}

func (v MetadataValue) String() string {
	if v.IsList {
		return strings.Join(v.List, ", ")
	}
	return v.Single
}

// Equals reports whether the value is the scalar s, or a list containing s.
func (v MetadataValue) Equals(s string) bool {
	if !v.IsList {
		return v.Single == s
	}
	for _, item := range v.List {
		if item == s {
			return true
		}
	}
	return false
}

type metadataEnvelope struct {
	Value json.RawMessage `json:"value"`
}

func (v *MetadataValue) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) > 0 && raw[0] == '{' {
		var env metadataEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("metadata value: %w", err)
		}
		raw = bytes.TrimSpace(env.Value)
	}
	*v = MetadataValue{}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	switch raw[0] {
	case '[':
		var items []any
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("metadata list: %w", err)
		}
		v.IsList = true
		v.List = make([]string, 0, len(items))
		for _, item := range items {
			v.List = append(v.List, scalarString(item))
		}
	case '"':
		return json.Unmarshal(raw, &v.Single)
	default:
		var scalar any
		if err := json.Unmarshal(raw, &scalar); err != nil {
			return fmt.Errorf("metadata scalar: %w", err)
		}
		v.Single = scalarString(scalar)
	}
	return nil
}

func (v MetadataValue) MarshalJSON() ([]byte, error) {
	if v.IsList {
		list := v.List
		if list == nil {
			list = []string{}
		}
		return json.Marshal(map[string][]string{"value": list})
	}
	return json.Marshal(map[string]string{"value": v.Single})
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// Metadata maps numbered FotoWare field keys to values.
type Metadata map[string]MetadataValue

// Value returns the first value of a field, "" when absent.
func (m Metadata) Value(field string) string {
	if m == nil {
		return ""
	}
	v, ok := m[field]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.First())
}

// Clone returns a copy that shares no lists with m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		v.List = slices.Clone(v.List)
		out[k] = v
	}
	return out
}

// Keys returns field keys ordered numerically, non-numeric keys last.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

const (
	FieldTitle      = "5"
	FieldUniqueID   = "187"
	FieldAccess     = "429"
	FieldStatus     = "602"
	FieldVisibility = "611"
)

var fieldLabels = map[string]string{
	"5":   "Title",
	"25":  "Tags",
	"116": "Copyright",
	"120": "Description",
	"187": "Unique ID",
	"201": "Source URL",
	"300": "Country",
	"302": "Publisher",
	"350": "Date",
	"360": "Contact Email",
	"361": "Contact Name",
	"362": "Last Modified",
	"427": "Resource Types",
	"429": "Access Level",
	"432": "Subjects",
	"602": "Status",
	"604": "Publisher",
	"605": "Audience",
	"611": "Visibility",
	"821": "Education Level",
	"822": "Language",
	"823": "Accessibility Features",
	"830": "Expiry Date",
	"840": "Publisher",
	"841": "Contributors",
	"842": "Embed Code",
	"844": "Technical Notes",
	"846": "Review Notes",
	"847": "Contact",
	"858": "UUID",
	"859": "Publisher",
	"860": "Creator",
	"862": "Resource Types",
	"863": "License",
	"864": "Creator",
}

// FieldLabel returns the display label of a metadata field, or "Field <key>".
func FieldLabel(key string) string {
	if label, ok := fieldLabels[key]; ok {
		return label
	}
	return "Field " + key
}

type Flag struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	Icon  string `json:"icon"`
}

func (m Metadata) IsCulturallySensitive() bool {
	v, ok := m[FieldAccess]
	return ok && v.Equals("Culturally Sensitive")
}

func (m Metadata) IsSuperseded() bool {
	v, ok := m[FieldStatus]
	return ok && v.Equals("Superseded")
}

func (m Metadata) IsFeatured() bool {
	v, ok := m[FieldVisibility]
	return ok && v.Equals("Featured")
}

// Flags derives the display flags of an asset from its metadata.
func (m Metadata) Flags() []Flag {
	flags := []Flag{}
	if m.IsCulturallySensitive() {
		flags = append(flags, Flag{Type: "cultural", Label: "Culturally sensitive content", Icon: "EyeOff"})
	}
	if m.IsSuperseded() {
		flags = append(flags, Flag{Type: "superseded", Label: "This asset has been superseded", Icon: "Info"})
	}
	if m.IsFeatured() {
		flags = append(flags, Flag{Type: "featured", Label: "Featured asset", Icon: "Star"})
	}
	return flags
}
