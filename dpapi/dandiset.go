package dpapi

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Metadata is an arbitrary JSON object as stored by girder and the catalog.
type Metadata map[string]interface{}

// Clone returns a deep copy of m, descending into nested maps and slices.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return cloneValue(map[string]interface{}(m)).(map[string]interface{})
}

// UnmarshalJSON decodes integers as int64 so counts and byte sizes keep
// every digit. Other numbers decode as float64.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}
	*m = normalizeNumbers(raw).(map[string]interface{})
	return nil
}

func normalizeNumbers(v interface{}) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		for k, x := range v {
			v[k] = normalizeNumbers(x)
		}
		return v
	case []interface{}:
		for i, x := range v {
			v[i] = normalizeNumbers(x)
		}
		return v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	default:
		return v
	}
}

func cloneValue(v interface{}) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, x := range v {
			out[k] = cloneValue(x)
		}
		return out
	case Metadata:
		return Metadata(cloneValue(map[string]interface{}(v)).(map[string]interface{}))
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, x := range v {
			out[i] = cloneValue(x)
		}
		return out
	default:
		return v
	}
}

// Dandiset is the catalog row for one logical dataset.
type Dandiset struct {
	ID         int64     `json:"-"`
	Identifier string    `json:"identifier"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}

// Version is an immutable snapshot of a dandiset's metadata.
type Version struct {
	ID          int64     `json:"-"`
	DandisetID  int64     `json:"-"`
	Version     VersionID `json:"version"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Metadata    Metadata  `json:"metadata"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

// Bounds on Version fields, in characters.
const (
	MaxNameLength        = 150
	MaxDescriptionLength = 3000
)

// Contributor is shared between every version that lists the same person
// with the same roles and affiliations.
type Contributor struct {
	ID           int64    `json:"-"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	ORCID        string   `json:"orcid"`
	Roles        []Role   `json:"roles"`
	Affiliations []string `json:"affiliations"`
}

// RoleNames returns the contributor's roles as strings, in order.
func (c Contributor) RoleNames() []string {
	out := make([]string, len(c.Roles))
	for i, r := range c.Roles {
		out[i] = r.String()
	}
	return out
}

// Subject groups the assets of one experimental subject within a version.
type Subject struct {
	ID        int64  `json:"-"`
	VersionID int64  `json:"-"`
	Name      string `json:"name"`
}

// Asset is one published file. The digest is the proof of its content.
type Asset struct {
	ID        int64     `json:"-"`
	UUID      uuid.UUID `json:"uuid"`
	VersionID int64     `json:"-"`
	SubjectID int64     `json:"-"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	Metadata  Metadata  `json:"metadata"`
	ObjectKey string    `json:"-"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
}

// VersionSummary is the read-side projection of a version.
// Count and Size are aggregated over the version's assets.
type VersionSummary struct {
	Dandiset     DandisetSummary `json:"dandiset"`
	Version      VersionID       `json:"version"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Metadata     Metadata        `json:"metadata"`
	Contributors []Contributor   `json:"contributors"`
	Created      time.Time       `json:"created"`
	Updated      time.Time       `json:"updated"`
	Count        int64           `json:"count"`
	Size         int64           `json:"size"`
}

// DandisetSummary is the read-side projection of a dandiset.
type DandisetSummary struct {
	Identifier string    `json:"identifier"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
	Versions   int       `json:"versions,omitempty"`
}
