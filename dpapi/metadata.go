package dpapi

import (
	"fmt"
	"unicode/utf8"
)

// Keys promoted out of the `dandiset` metadata block into first-class version fields.
const (
	MetaKeyDandiset     = "dandiset"
	MetaKeyName         = "name"
	MetaKeyDescription  = "description"
	MetaKeyContributors = "contributors"
)

// VersionMetadata is the result of splitting a draft's metadata into
// catalog fields and the remainder.
type VersionMetadata struct {
	Name         string
	Description  string
	Contributors []Contributor
	// Metadata is the whole draft metadata with the promoted keys removed.
	Metadata Metadata
	// Manifest is the `dandiset` block with the promoted keys removed;
	// it is what gets written as the version's manifest document.
	Manifest Metadata
}

// ExtractVersionMetadata validates a draft's metadata and splits out the
// name, description and contributors. Every contributor role is checked
// before anything is returned, so callers can validate before writing.
// The draft is not modified.
//
// Errors:
//
//   - dandi-error-schema-violation -- when a required field is missing or malformed,
//     the description is too long, or a contributor role is unknown
func ExtractVersionMetadata(d Draft) (VersionMetadata, error) {
	subject := fmt.Sprintf("dandiset %s (girder folder %s)", d.Identifier, d.GirderID)
	if d.Metadata == nil {
		return VersionMetadata{}, ErrorSchemaViolation(subject, `draft folder has no "meta" field`)
	}
	meta := d.Metadata.Clone()
	block, ok := asObject(meta[MetaKeyDandiset])
	if !ok {
		return VersionMetadata{}, ErrorSchemaViolation(subject, `"meta" has no "dandiset" object`)
	}

	name, ok := block[MetaKeyName].(string)
	if !ok || name == "" {
		return VersionMetadata{}, ErrorSchemaViolation(subject, `"name" must be a non-empty string`)
	}
	if n := utf8.RuneCountInString(name); n > MaxNameLength {
		return VersionMetadata{}, ErrorSchemaViolation(subject,
			fmt.Sprintf("name length %d is greater than %d", n, MaxNameLength))
	}
	description, ok := block[MetaKeyDescription].(string)
	if !ok {
		return VersionMetadata{}, ErrorSchemaViolation(subject, `"description" must be a string`)
	}
	if n := utf8.RuneCountInString(description); n > MaxDescriptionLength {
		return VersionMetadata{}, ErrorSchemaViolation(subject,
			fmt.Sprintf("description length %d is greater than %d", n, MaxDescriptionLength))
	}
	var contributors []Contributor
	if raw, present := block[MetaKeyContributors]; present && raw != nil {
		list, ok := raw.([]interface{})
		if !ok {
			return VersionMetadata{}, ErrorSchemaViolation(subject, `"contributors" must be a list`)
		}
		for i, entry := range list {
			c, err := parseContributor(entry)
			if err != nil {
				return VersionMetadata{}, ErrorSchemaViolation(subject, fmt.Sprintf("contributor %d: %s", i, err))
			}
			contributors = append(contributors, c)
		}
	}

	delete(block, MetaKeyName)
	delete(block, MetaKeyDescription)
	delete(block, MetaKeyContributors)
	meta[MetaKeyDandiset] = map[string]interface{}(block)

	return VersionMetadata{
		Name:         name,
		Description:  description,
		Contributors: contributors,
		Metadata:     meta,
		Manifest:     block.Clone(),
	}, nil
}

func asObject(v interface{}) (Metadata, bool) {
	switch v := v.(type) {
	case map[string]interface{}:
		return Metadata(v), true
	case Metadata:
		return v, true
	default:
		return nil, false
	}
}

func parseContributor(v interface{}) (Contributor, error) {
	obj, ok := asObject(v)
	if !ok {
		return Contributor{}, fmt.Errorf("must be an object")
	}
	var c Contributor
	var err error
	if c.Name, err = optionalString(obj, "name"); err != nil {
		return Contributor{}, err
	}
	if c.Email, err = optionalString(obj, "email"); err != nil {
		return Contributor{}, err
	}
	if c.ORCID, err = optionalString(obj, "orcid"); err != nil {
		return Contributor{}, err
	}
	roles, err := optionalStrings(obj, "roles")
	if err != nil {
		return Contributor{}, err
	}
	for _, name := range roles {
		r, ok := rolesByName[name]
		if !ok {
			return Contributor{}, fmt.Errorf("invalid role %q", name)
		}
		c.Roles = append(c.Roles, r)
	}
	if c.Affiliations, err = optionalStrings(obj, "affiliations"); err != nil {
		return Contributor{}, err
	}
	if c.Roles == nil {
		c.Roles = []Role{}
	}
	if c.Affiliations == nil {
		c.Affiliations = []string{}
	}
	return c, nil
}

func optionalString(obj Metadata, key string) (string, error) {
	raw, present := obj[key]
	if !present || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%q must be a string", key)
	}
	return s, nil
}

func optionalStrings(obj Metadata, key string) ([]string, error) {
	raw, present := obj[key]
	if !present || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%q must be a list of strings", key)
	}
	out := make([]string, 0, len(list))
	for _, x := range list {
		s, ok := x.(string)
		if !ok {
			return nil, fmt.Errorf("%q must be a list of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}
