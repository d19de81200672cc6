// Package objectstore holds published blobs and manifests.
//
// Store is implemented against S3 (or anything speaking its protocol, such as MinIO)
// and in memory. Staging wraps a Store so that a publish writes under a private
// prefix first and only moves objects to their final keys when the catalog is
// about to commit.
package objectstore

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/dandiarchive/dandipub/dpapi"
)

// ManifestName is the object written at the root of each published version.
const ManifestName = "dandiset.yaml"

type Options struct {
	PublicRead  bool
	ContentType string
}

type Store interface {
	// Exists reports whether key is present. A missing key is not an error.
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, r io.Reader, opts Options) error
	Copy(ctx context.Context, src, dst string, opts Options) error
	Delete(ctx context.Context, key string) error
	// Ping checks that the bucket is reachable.
	Ping(ctx context.Context) error
	// URI names key for humans, e.g. s3://bucket/key.
	URI(key string) string
}

// VersionPrefix is the key under which everything for one published version lives.
func VersionPrefix(prefix, dandiset string, version dpapi.VersionID) string {
	return path.Join(prefix, dandiset, string(version))
}

// AssetKey is where one file of a published version lives.
// subject and file must each be a single key segment; anything that would
// place the object outside the version's prefix is refused.
//
// Errors:
//
//   - dandi-error-schema-violation -- when subject or file is not a plain segment
func AssetKey(prefix, dandiset string, version dpapi.VersionID, subject, file string) (string, error) {
	if err := dpapi.CheckPathSegment("subject", subject); err != nil {
		return "", err
	}
	if err := dpapi.CheckPathSegment("file", file); err != nil {
		return "", err
	}
	base := VersionPrefix(prefix, dandiset, version)
	key := path.Join(base, subject, file)
	if !strings.HasPrefix(key, base+"/") {
		return "", dpapi.ErrorSchemaViolation(subject+"/"+file, "key "+key+" leaves "+base)
	}
	return key, nil
}

func ManifestKey(prefix, dandiset string, version dpapi.VersionID) string {
	return path.Join(VersionPrefix(prefix, dandiset, version), ManifestName)
}
