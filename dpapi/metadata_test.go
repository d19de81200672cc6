package dpapi

import (
	"encoding/json"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/warpfork/go-testmark"
)

func TestExtractVersionMetadataFixtures(t *testing.T) {
	doc, err := testmark.ReadFile("testdata/metadata.md")
	if err != nil {
		t.Fatalf("fixture file parse failed?!: %s", err)
	}
	doc.BuildDirIndex()
	for _, dir := range doc.DirEnt.ChildrenList {
		dir := dir
		t.Run(dir.Name, func(t *testing.T) {
			qt.Assert(t, dir.Children["draft"], qt.IsNotNil)
			var meta Metadata
			err := json.Unmarshal(dir.Children["draft"].Hunk.Body, &meta)
			qt.Assert(t, err, qt.IsNil)
			draft := Draft{GirderID: "abc", Identifier: "000003", Metadata: meta}

			vm, err := ExtractVersionMetadata(draft)
			if dir.Children["error"] != nil {
				qt.Assert(t, err, qt.IsNotNil)
				qt.Assert(t, Code(err), qt.Equals, strings.TrimSpace(string(dir.Children["error"].Hunk.Body)))
				return
			}
			qt.Assert(t, err, qt.IsNil)
			qt.Assert(t, vm.Name, qt.Equals, strings.TrimSpace(string(dir.Children["name"].Hunk.Body)))

			var expect Metadata
			err = json.Unmarshal(dir.Children["manifest"].Hunk.Body, &expect)
			qt.Assert(t, err, qt.IsNil)
			qt.Assert(t, vm.Manifest, qt.DeepEquals, expect)
		})
	}
}

func TestExtractVersionMetadataDoesNotMutateDraft(t *testing.T) {
	meta := Metadata{
		"dandiset": map[string]interface{}{
			"name":        "n",
			"description": "d",
			"extra":       "kept",
		},
	}
	vm, err := ExtractVersionMetadata(Draft{Metadata: meta})
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, vm.Description, qt.Equals, "d")

	block := meta["dandiset"].(map[string]interface{})
	qt.Assert(t, block["name"], qt.Equals, "n")
	qt.Assert(t, vm.Metadata["dandiset"], qt.DeepEquals, map[string]interface{}{"extra": "kept"})
}

func TestExtractVersionMetadataDescriptionBound(t *testing.T) {
	build := func(n int) Draft {
		return Draft{Metadata: Metadata{
			"dandiset": map[string]interface{}{
				"name":        "n",
				"description": strings.Repeat("é", n),
			},
		}}
	}
	_, err := ExtractVersionMetadata(build(MaxDescriptionLength))
	qt.Assert(t, err, qt.IsNil)

	_, err = ExtractVersionMetadata(build(MaxDescriptionLength + 1))
	qt.Assert(t, Code(err), qt.Equals, CodeSchemaViolation)
}

func TestExtractVersionMetadataMissingMeta(t *testing.T) {
	_, err := ExtractVersionMetadata(Draft{Identifier: "000001"})
	qt.Assert(t, Code(err), qt.Equals, CodeSchemaViolation)
}

func TestExtractVersionMetadataContributors(t *testing.T) {
	vm, err := ExtractVersionMetadata(Draft{Metadata: Metadata{
		"dandiset": map[string]interface{}{
			"name":        "n",
			"description": "d",
			"contributors": []interface{}{
				map[string]interface{}{
					"name":         "Doe, Jane",
					"roles":        []interface{}{"Author", "Funder"},
					"affiliations": []interface{}{"MIT"},
				},
			},
		},
	}})
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, vm.Contributors, qt.HasLen, 1)
	c := vm.Contributors[0]
	qt.Assert(t, c.Roles, qt.DeepEquals, []Role{RoleAuthor, RoleFunder})
	qt.Assert(t, c.Affiliations, qt.DeepEquals, []string{"MIT"})
	qt.Assert(t, c.Email, qt.Equals, "")
}

func TestMetadataKeepsIntegers(t *testing.T) {
	var meta Metadata
	err := json.Unmarshal([]byte(`{
		"numberOfSubjects": 1000000,
		"assetsSummary": {"size": 123456789012, "ratio": 0.25, "counts": [1, 2.5, 1e400]},
		"huge": 123456789012345678901234567890
	}`), &meta)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, meta["numberOfSubjects"], qt.Equals, int64(1000000))
	summary := meta["assetsSummary"].(map[string]interface{})
	qt.Assert(t, summary["size"], qt.Equals, int64(123456789012))
	qt.Assert(t, summary["ratio"], qt.Equals, 0.25)
	qt.Assert(t, summary["counts"].([]interface{})[:2], qt.DeepEquals, []interface{}{int64(1), 2.5})
	_, ok := meta["huge"].(float64)
	qt.Assert(t, ok, qt.IsTrue)

	var empty Metadata
	qt.Assert(t, json.Unmarshal([]byte(`null`), &empty), qt.IsNil)
	qt.Assert(t, empty, qt.IsNil)
}
