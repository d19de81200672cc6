package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dandiarchive/dandipub/dpapi"
	"github.com/dandiarchive/dandipub/pkg/logging"
)

// schema is applied by Migrate. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS dandisets (
		id BIGSERIAL PRIMARY KEY,
		identifier TEXT NOT NULL UNIQUE,
		created TIMESTAMPTZ NOT NULL,
		updated TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS versions (
		id BIGSERIAL PRIMARY KEY,
		dandiset_id BIGINT NOT NULL REFERENCES dandisets(id) ON DELETE CASCADE,
		version VARCHAR(13) NOT NULL,
		name VARCHAR(150) NOT NULL,
		description TEXT NOT NULL CHECK (char_length(description) <= 3000),
		metadata JSONB NOT NULL DEFAULT '{}',
		created TIMESTAMPTZ NOT NULL,
		updated TIMESTAMPTZ NOT NULL,
		UNIQUE (dandiset_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS contributors (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		orcid TEXT NOT NULL DEFAULT '',
		roles TEXT[] NOT NULL DEFAULT '{}',
		affiliations TEXT[] NOT NULL DEFAULT '{}',
		UNIQUE (name, email, orcid, roles, affiliations)
	)`,
	`CREATE TABLE IF NOT EXISTS version_contributors (
		version_id BIGINT NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
		contributor_id BIGINT NOT NULL REFERENCES contributors(id),
		position INT NOT NULL,
		PRIMARY KEY (version_id, contributor_id)
	)`,
	`CREATE TABLE IF NOT EXISTS subjects (
		id BIGSERIAL PRIMARY KEY,
		version_id BIGINT NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		UNIQUE (version_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id BIGSERIAL PRIMARY KEY,
		uuid UUID NOT NULL UNIQUE,
		version_id BIGINT NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
		subject_id BIGINT NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
		path TEXT NOT NULL,
		size BIGINT NOT NULL,
		sha256 CHAR(64) NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		object_key TEXT NOT NULL,
		created TIMESTAMPTZ NOT NULL,
		updated TIMESTAMPTZ NOT NULL,
		UNIQUE (version_id, path)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_versions_dandiset ON versions(dandiset_id, version)`,
	`CREATE INDEX IF NOT EXISTS idx_assets_version ON assets(version_id)`,
}

// Postgres is the production Catalog.
type Postgres struct {
	pool *pgxpool.Pool
	// Now stamps created/updated columns. Defaults to time.Now.
	Now func() time.Time
}

var _ Catalog = (*Postgres)(nil)

// OpenPostgres connects a pool to databaseURL and checks the connection.
//
// Errors:
//
//   - dandi-error-catalog -- when the URL is invalid or the database is unreachable
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, dpapi.ErrorCatalog("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, dpapi.ErrorCatalog("connect", err)
	}
	return &Postgres{pool: pool, Now: time.Now}, nil
}

// Migrate creates any missing tables and indexes.
//
// Errors:
//
//   - dandi-error-catalog -- when a statement fails
func (p *Postgres) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return dpapi.ErrorCatalog(fmt.Sprintf("migrate step %d", i), err)
		}
	}
	logging.Ctx(ctx).Debug(LOG_TAG, "schema up to date (%d statements)", len(schema))
	return nil
}

// Errors:
//
//   - dandi-error-catalog -- when the database is unreachable
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return dpapi.ErrorCatalog("ping", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// Errors:
//
//   - dandi-error-catalog -- when the transaction cannot begin or commit
//   - whatever fn returns
func (p *Postgres) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	pgtx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return dpapi.ErrorCatalog("begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			// Rollback on an already failed tx only reports the original failure.
			_ = pgtx.Rollback(context.WithoutCancel(ctx))
		}
	}()
	if err := fn(ctx, &pgTx{tx: pgtx, now: p.Now}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return dpapi.ErrorCatalog("commit", err)
	}
	committed = true
	return nil
}

func decodeMetadata(raw []byte) (dpapi.Metadata, error) {
	if raw == nil {
		return dpapi.Metadata{}, nil
	}
	var m dpapi.Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, dpapi.ErrorSerialization("decoding metadata column", err)
	}
	return m, nil
}

func encodeMetadata(m dpapi.Metadata) ([]byte, error) {
	if m == nil {
		m = dpapi.Metadata{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, dpapi.ErrorSerialization("encoding metadata column", err)
	}
	return raw, nil
}

// Errors:
//
//   - dandi-error-catalog -- when the query fails
func (p *Postgres) ListDandisets(ctx context.Context) ([]dpapi.DandisetSummary, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT d.identifier, d.created, d.updated, count(v.id)
		FROM dandisets d LEFT JOIN versions v ON v.dandiset_id = d.id
		GROUP BY d.id ORDER BY d.identifier`)
	if err != nil {
		return nil, dpapi.ErrorCatalog("list dandisets", err)
	}
	defer rows.Close()
	out := []dpapi.DandisetSummary{}
	for rows.Next() {
		var d dpapi.DandisetSummary
		if err := rows.Scan(&d.Identifier, &d.Created, &d.Updated, &d.Versions); err != nil {
			return nil, dpapi.ErrorCatalog("list dandisets", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, dpapi.ErrorCatalog("list dandisets", err)
	}
	return out, nil
}

func (p *Postgres) dandiset(ctx context.Context, identifier string) (dpapi.Dandiset, error) {
	var d dpapi.Dandiset
	err := p.pool.QueryRow(ctx, `SELECT id, identifier, created, updated FROM dandisets WHERE identifier = $1`,
		identifier).Scan(&d.ID, &d.Identifier, &d.Created, &d.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return d, dpapi.ErrorCatalogMissing("dandiset " + identifier)
	}
	if err != nil {
		return d, dpapi.ErrorCatalog("get dandiset", err)
	}
	return d, nil
}

// Errors:
//
//   - dandi-error-catalog -- when the dandiset does not exist or the query fails
//   - dandi-error-serialization -- when a metadata column does not decode
func (p *Postgres) ListVersions(ctx context.Context, identifier string) ([]dpapi.VersionSummary, error) {
	d, err := p.dandiset(ctx, identifier)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, `
		SELECT v.id, v.version, v.name, v.description, v.metadata, v.created, v.updated,
			count(a.id), coalesce(sum(a.size), 0)::bigint
		FROM versions v LEFT JOIN assets a ON a.version_id = v.id
		WHERE v.dandiset_id = $1
		GROUP BY v.id ORDER BY v.created DESC, v.id DESC`, d.ID)
	if err != nil {
		return nil, dpapi.ErrorCatalog("list versions", err)
	}
	defer rows.Close()
	var ids []int64
	out := []dpapi.VersionSummary{}
	for rows.Next() {
		var id int64
		var raw []byte
		sum := dpapi.VersionSummary{
			Dandiset: dpapi.DandisetSummary{Identifier: d.Identifier, Created: d.Created, Updated: d.Updated},
		}
		if err := rows.Scan(&id, &sum.Version, &sum.Name, &sum.Description, &raw,
			&sum.Created, &sum.Updated, &sum.Count, &sum.Size); err != nil {
			return nil, dpapi.ErrorCatalog("list versions", err)
		}
		if sum.Metadata, err = decodeMetadata(raw); err != nil {
			return nil, err
		}
		ids = append(ids, id)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, dpapi.ErrorCatalog("list versions", err)
	}
	for i, id := range ids {
		if out[i].Contributors, err = p.contributorsOf(ctx, id); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *Postgres) contributorsOf(ctx context.Context, versionID int64) ([]dpapi.Contributor, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT c.id, c.name, c.email, c.orcid, c.roles, c.affiliations
		FROM contributors c JOIN version_contributors vc ON vc.contributor_id = c.id
		WHERE vc.version_id = $1 ORDER BY vc.position`, versionID)
	if err != nil {
		return nil, dpapi.ErrorCatalog("list contributors", err)
	}
	defer rows.Close()
	out := []dpapi.Contributor{}
	for rows.Next() {
		var c dpapi.Contributor
		var roles []string
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.ORCID, &roles, &c.Affiliations); err != nil {
			return nil, dpapi.ErrorCatalog("list contributors", err)
		}
		for _, name := range roles {
			r, err := dpapi.ParseRole(name)
			if err != nil {
				return nil, err
			}
			c.Roles = append(c.Roles, r)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dpapi.ErrorCatalog("list contributors", err)
	}
	return out, nil
}

// Errors:
//
//   - dandi-error-catalog -- when the dandiset or version does not exist or the query fails
//   - dandi-error-serialization -- when a metadata column does not decode
func (p *Postgres) ListAssets(ctx context.Context, identifier string, version dpapi.VersionID) ([]dpapi.Asset, error) {
	d, err := p.dandiset(ctx, identifier)
	if err != nil {
		return nil, err
	}
	var versionID int64
	err = p.pool.QueryRow(ctx, `SELECT id FROM versions WHERE dandiset_id = $1 AND version = $2`,
		d.ID, string(version)).Scan(&versionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, dpapi.ErrorCatalogMissing(fmt.Sprintf("version %s/%s", identifier, version))
	}
	if err != nil {
		return nil, dpapi.ErrorCatalog("get version", err)
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, uuid, version_id, subject_id, path, size, sha256, metadata, object_key, created, updated
		FROM assets WHERE version_id = $1 ORDER BY path`, versionID)
	if err != nil {
		return nil, dpapi.ErrorCatalog("list assets", err)
	}
	defer rows.Close()
	out := []dpapi.Asset{}
	for rows.Next() {
		var a dpapi.Asset
		var raw []byte
		if err := rows.Scan(&a.ID, &a.UUID, &a.VersionID, &a.SubjectID, &a.Path, &a.Size,
			&a.SHA256, &raw, &a.ObjectKey, &a.Created, &a.Updated); err != nil {
			return nil, dpapi.ErrorCatalog("list assets", err)
		}
		if a.Metadata, err = decodeMetadata(raw); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, dpapi.ErrorCatalog("list assets", err)
	}
	return out, nil
}

// Errors:
//
//   - dandi-error-catalog -- when the dandiset does not exist or the delete fails
func (p *Postgres) DeleteDandiset(ctx context.Context, identifier string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM dandisets WHERE identifier = $1`, identifier)
	if err != nil {
		return dpapi.ErrorCatalog("delete dandiset", err)
	}
	if tag.RowsAffected() == 0 {
		return dpapi.ErrorCatalogMissing("dandiset " + identifier)
	}
	return nil
}

type pgTx struct {
	tx  pgx.Tx
	now func() time.Time
}

var _ Tx = (*pgTx)(nil)

// Errors:
//
//   - dandi-error-catalog -- when the insert or lock fails
func (t *pgTx) LockOrCreateDandiset(ctx context.Context, identifier string) (dpapi.Dandiset, error) {
	now := t.now().UTC()
	_, err := t.tx.Exec(ctx, `
		INSERT INTO dandisets (identifier, created, updated) VALUES ($1, $2, $2)
		ON CONFLICT (identifier) DO NOTHING`, identifier, now)
	if err != nil {
		return dpapi.Dandiset{}, dpapi.ErrorCatalog("create dandiset", err)
	}
	var d dpapi.Dandiset
	err = t.tx.QueryRow(ctx, `
		SELECT id, identifier, created, updated FROM dandisets
		WHERE identifier = $1 FOR UPDATE`, identifier).Scan(&d.ID, &d.Identifier, &d.Created, &d.Updated)
	if err != nil {
		return dpapi.Dandiset{}, dpapi.ErrorCatalog("lock dandiset", err)
	}
	return d, nil
}

// Errors:
//
//   - dandi-error-catalog -- when the query fails
func (t *pgTx) VersionExists(ctx context.Context, dandisetID int64, version dpapi.VersionID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM versions WHERE dandiset_id = $1 AND version = $2)`,
		dandisetID, string(version)).Scan(&exists)
	if err != nil {
		return false, dpapi.ErrorCatalog("probe version", err)
	}
	return exists, nil
}

// Errors:
//
//   - dandi-error-catalog -- when the query fails
func (t *pgTx) LatestVersion(ctx context.Context, dandisetID int64) (dpapi.VersionID, bool, error) {
	var latest *string
	err := t.tx.QueryRow(ctx, `
		SELECT max(version COLLATE "C") FROM versions
		WHERE dandiset_id = $1 AND version ~ '^0\.[0-9]{6}\.[0-9]{4}$'`,
		dandisetID).Scan(&latest)
	if err != nil {
		return "", false, dpapi.ErrorCatalog("latest version", err)
	}
	if latest == nil {
		return "", false, nil
	}
	return dpapi.VersionID(*latest), true, nil
}

// Errors:
//
//   - dandi-error-catalog -- when the insert fails, including duplicate versions
//   - dandi-error-serialization -- when the metadata does not encode
func (t *pgTx) InsertVersion(ctx context.Context, v *dpapi.Version) error {
	raw, err := encodeMetadata(v.Metadata)
	if err != nil {
		return err
	}
	now := t.now().UTC()
	err = t.tx.QueryRow(ctx, `
		INSERT INTO versions (dandiset_id, version, name, description, metadata, created, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id`,
		v.DandisetID, string(v.Version), v.Name, v.Description, raw, now).Scan(&v.ID)
	if err != nil {
		return dpapi.ErrorCatalog("insert version", err)
	}
	v.Created, v.Updated = now, now
	return nil
}

// GetOrCreateContributor looks the contributor up by natural key and inserts it if absent.
// The unique index on the natural key catches a concurrent insert, in which case
// the row that won is read back.
//
// Errors:
//
//   - dandi-error-catalog -- when a query fails
func (t *pgTx) GetOrCreateContributor(ctx context.Context, c dpapi.Contributor) (dpapi.Contributor, error) {
	roles := nonNil(c.RoleNames())
	affiliations := nonNil(c.Affiliations)
	lookup := func() (int64, error) {
		var id int64
		err := t.tx.QueryRow(ctx, `
			SELECT id FROM contributors
			WHERE name = $1 AND email = $2 AND orcid = $3 AND roles = $4 AND affiliations = $5`,
			c.Name, c.Email, c.ORCID, roles, affiliations).Scan(&id)
		return id, err
	}

	id, err := lookup()
	switch {
	case err == nil:
		c.ID = id
		return c, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return c, dpapi.ErrorCatalog("lookup contributor", err)
	}

	err = t.tx.QueryRow(ctx, `
		INSERT INTO contributors (name, email, orcid, roles, affiliations)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name, email, orcid, roles, affiliations) DO NOTHING
		RETURNING id`,
		c.Name, c.Email, c.ORCID, roles, affiliations).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		id, err = lookup()
	}
	if err != nil {
		return c, dpapi.ErrorCatalog("create contributor", err)
	}
	c.ID = id
	return c, nil
}

// Errors:
//
//   - dandi-error-catalog -- when the insert fails
func (t *pgTx) LinkContributor(ctx context.Context, versionID, contributorID int64, position int) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO version_contributors (version_id, contributor_id, position) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, versionID, contributorID, position)
	if err != nil {
		return dpapi.ErrorCatalog("link contributor", err)
	}
	return nil
}

// Errors:
//
//   - dandi-error-catalog -- when the insert fails
func (t *pgTx) InsertSubject(ctx context.Context, s *dpapi.Subject) error {
	err := t.tx.QueryRow(ctx, `INSERT INTO subjects (version_id, name) VALUES ($1, $2) RETURNING id`,
		s.VersionID, s.Name).Scan(&s.ID)
	if err != nil {
		return dpapi.ErrorCatalog("insert subject", err)
	}
	return nil
}

// Errors:
//
//   - dandi-error-catalog -- when the insert fails
//   - dandi-error-serialization -- when the metadata does not encode
func (t *pgTx) InsertAsset(ctx context.Context, a *dpapi.Asset) error {
	raw, err := encodeMetadata(a.Metadata)
	if err != nil {
		return err
	}
	now := t.now().UTC()
	err = t.tx.QueryRow(ctx, `
		INSERT INTO assets (uuid, version_id, subject_id, path, size, sha256, metadata, object_key, created, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9) RETURNING id`,
		a.UUID, a.VersionID, a.SubjectID, a.Path, a.Size, a.SHA256, raw, a.ObjectKey, now).Scan(&a.ID)
	if err != nil {
		return dpapi.ErrorCatalog("insert asset", err)
	}
	a.Created, a.Updated = now, now
	return nil
}
