package dpapi

import (
	"strconv"
	"strings"
)

// RemoteFolder is a girder folder as seen by the loader. Read-only.
type RemoteFolder struct {
	ID   string   `json:"_id"`
	Name string   `json:"name"`
	Meta Metadata `json:"meta"`
}

// RemoteItem is a girder item. Each item must carry exactly one file.
type RemoteItem struct {
	ID   string   `json:"_id"`
	Name string   `json:"name"`
	Meta Metadata `json:"meta"`
}

// RemoteFile is the single file attached to an item.
// Meta is inherited from the owning item.
type RemoteFile struct {
	ID   string   `json:"_id"`
	Name string   `json:"name"`
	Size int64    `json:"size"`
	URL  string   `json:"-"`
	Meta Metadata `json:"-"`
}

// DraftSubject is one subject folder of a draft and its files.
type DraftSubject struct {
	GirderID string
	Name     string
	Files    []RemoteFile
}

// Draft is the in-memory tree of a dandiset draft, loaded from girder.
type Draft struct {
	GirderID   string
	Identifier string
	Metadata   Metadata
	Subjects   []DraftSubject
}

// FileCount returns the number of files across all subjects.
func (d Draft) FileCount() int {
	n := 0
	for _, s := range d.Subjects {
		n += len(s.Files)
	}
	return n
}

// CheckPathSegment rejects names that cannot be used as a single object-key
// segment: empty, "." or "..", or containing a slash.
//
// Errors:
//
//   - dandi-error-schema-violation -- when name is not a plain segment
func CheckPathSegment(what, name string) error {
	switch {
	case name == "":
		return ErrorSchemaViolation(what, "empty name")
	case name == "." || name == "..":
		return ErrorSchemaViolation(what, "name "+strconv.Quote(name)+" is reserved")
	case strings.ContainsAny(name, `/\`):
		return ErrorSchemaViolation(what, "name "+strconv.Quote(name)+" contains a path separator")
	}
	return nil
}
