// Package catalog is the relational record of published dandisets.
//
// All writes of one publish happen inside a single WithTx call and either
// commit together or not at all. Reads happen outside transactions and only
// ever observe committed publishes.
package catalog

import (
	"context"

	"github.com/dandiarchive/dandipub/dpapi"
)

const LOG_TAG = "catalog"

type Catalog interface {
	// WithTx runs fn in a transaction. It commits if fn returns nil and
	// rolls back if fn returns an error or panics; the panic is re-raised.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListDandisets(ctx context.Context) ([]dpapi.DandisetSummary, error)
	// ListVersions returns a dandiset's versions, most recently created first.
	ListVersions(ctx context.Context, identifier string) ([]dpapi.VersionSummary, error)
	ListAssets(ctx context.Context, identifier string, version dpapi.VersionID) ([]dpapi.Asset, error)
	// DeleteDandiset removes a dandiset with its versions, subjects and assets.
	// Contributors are kept; they may be shared with other dandisets.
	DeleteDandiset(ctx context.Context, identifier string) error

	Ping(ctx context.Context) error
	Close()
}

// Tx is the write side, only reachable inside WithTx.
type Tx interface {
	// LockOrCreateDandiset returns the dandiset row for identifier, creating it if needed,
	// and holds it locked until the transaction ends. Concurrent publishes of the
	// same dandiset are serialized here.
	LockOrCreateDandiset(ctx context.Context, identifier string) (dpapi.Dandiset, error)
	VersionExists(ctx context.Context, dandisetID int64, version dpapi.VersionID) (bool, error)
	// LatestVersion returns the greatest `0.YYMMDD.HHMM` version of the dandiset.
	// ok is false when it has none; integer versions are ignored.
	LatestVersion(ctx context.Context, dandisetID int64) (v dpapi.VersionID, ok bool, err error)
	InsertVersion(ctx context.Context, v *dpapi.Version) error
	// GetOrCreateContributor returns the existing row with the same natural key
	// (name, email, orcid, roles, affiliations) or inserts one.
	GetOrCreateContributor(ctx context.Context, c dpapi.Contributor) (dpapi.Contributor, error)
	LinkContributor(ctx context.Context, versionID, contributorID int64, position int) error
	InsertSubject(ctx context.Context, s *dpapi.Subject) error
	InsertAsset(ctx context.Context, a *dpapi.Asset) error
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
