package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dandiarchive/dandipub/dpapi"
)

type link struct {
	versionID     int64
	contributorID int64
	position      int
}

type memState struct {
	nextID       int64
	dandisets    map[string]dpapi.Dandiset
	versions     []dpapi.Version
	contributors []dpapi.Contributor
	links        []link
	subjects     []dpapi.Subject
	assets       []dpapi.Asset
}

func newMemState() *memState {
	return &memState{dandisets: map[string]dpapi.Dandiset{}}
}

func (s *memState) clone() *memState {
	out := &memState{
		nextID:       s.nextID,
		dandisets:    make(map[string]dpapi.Dandiset, len(s.dandisets)),
		versions:     append([]dpapi.Version(nil), s.versions...),
		contributors: append([]dpapi.Contributor(nil), s.contributors...),
		links:        append([]link(nil), s.links...),
		subjects:     append([]dpapi.Subject(nil), s.subjects...),
		assets:       append([]dpapi.Asset(nil), s.assets...),
	}
	for k, v := range s.dandisets {
		out.dandisets[k] = v
	}
	return out
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

// Memory is an in-process Catalog. A transaction works on a private copy of
// the state which replaces the shared state on commit. Transactions are
// serialized; calling WithTx from inside fn deadlocks.
type Memory struct {
	// Now stamps created/updated columns. Defaults to time.Now.
	Now func() time.Time

	mu    sync.Mutex
	state *memState
}

var _ Catalog = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{Now: time.Now, state: newMemState()}
}

func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{state: m.state.clone(), now: m.Now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
func (m *Memory) Close()                         {}

// Counts reports the number of rows per table, for tests and health output.
func (m *Memory) Counts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"dandisets":    len(m.state.dandisets),
		"versions":     len(m.state.versions),
		"contributors": len(m.state.contributors),
		"subjects":     len(m.state.subjects),
		"assets":       len(m.state.assets),
	}
}

func (m *Memory) ListDandisets(ctx context.Context) ([]dpapi.DandisetSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]dpapi.DandisetSummary, 0, len(m.state.dandisets))
	for _, d := range m.state.dandisets {
		sum := dpapi.DandisetSummary{Identifier: d.Identifier, Created: d.Created, Updated: d.Updated}
		for _, v := range m.state.versions {
			if v.DandisetID == d.ID {
				sum.Versions++
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

// Errors:
//
//   - dandi-error-catalog -- when the dandiset does not exist
func (m *Memory) ListVersions(ctx context.Context, identifier string) ([]dpapi.VersionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.state.dandisets[identifier]
	if !ok {
		return nil, dpapi.ErrorCatalogMissing("dandiset " + identifier)
	}
	var versions []dpapi.Version
	for _, v := range m.state.versions {
		if v.DandisetID == d.ID {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		if !versions[i].Created.Equal(versions[j].Created) {
			return versions[i].Created.After(versions[j].Created)
		}
		return versions[i].ID > versions[j].ID
	})
	out := make([]dpapi.VersionSummary, 0, len(versions))
	for _, v := range versions {
		sum := dpapi.VersionSummary{
			Dandiset:     dpapi.DandisetSummary{Identifier: d.Identifier, Created: d.Created, Updated: d.Updated},
			Version:      v.Version,
			Name:         v.Name,
			Description:  v.Description,
			Metadata:     v.Metadata.Clone(),
			Contributors: m.state.contributorsOf(v.ID),
			Created:      v.Created,
			Updated:      v.Updated,
		}
		for _, a := range m.state.assets {
			if a.VersionID == v.ID {
				sum.Count++
				sum.Size += a.Size
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *memState) contributorsOf(versionID int64) []dpapi.Contributor {
	var ls []link
	for _, l := range s.links {
		if l.versionID == versionID {
			ls = append(ls, l)
		}
	}
	sort.Slice(ls, func(i, j int) bool { return ls[i].position < ls[j].position })
	out := []dpapi.Contributor{}
	for _, l := range ls {
		for _, c := range s.contributors {
			if c.ID == l.contributorID {
				out = append(out, c)
			}
		}
	}
	return out
}

// Errors:
//
//   - dandi-error-catalog -- when the dandiset or version does not exist
func (m *Memory) ListAssets(ctx context.Context, identifier string, version dpapi.VersionID) ([]dpapi.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.state.dandisets[identifier]
	if !ok {
		return nil, dpapi.ErrorCatalogMissing("dandiset " + identifier)
	}
	var versionID int64
	for _, v := range m.state.versions {
		if v.DandisetID == d.ID && v.Version == version {
			versionID = v.ID
		}
	}
	if versionID == 0 {
		return nil, dpapi.ErrorCatalogMissing(fmt.Sprintf("version %s/%s", identifier, version))
	}
	out := []dpapi.Asset{}
	for _, a := range m.state.assets {
		if a.VersionID == versionID {
			a.Metadata = a.Metadata.Clone()
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Errors:
//
//   - dandi-error-catalog -- when the dandiset does not exist
func (m *Memory) DeleteDandiset(ctx context.Context, identifier string) error {
	return m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		s := tx.(*memTx).state
		d, ok := s.dandisets[identifier]
		if !ok {
			return dpapi.ErrorCatalogMissing("dandiset " + identifier)
		}
		delete(s.dandisets, identifier)
		gone := map[int64]bool{}
		versions := s.versions[:0]
		for _, v := range s.versions {
			if v.DandisetID == d.ID {
				gone[v.ID] = true
				continue
			}
			versions = append(versions, v)
		}
		s.versions = versions
		links := s.links[:0]
		for _, l := range s.links {
			if !gone[l.versionID] {
				links = append(links, l)
			}
		}
		s.links = links
		subjects := s.subjects[:0]
		for _, x := range s.subjects {
			if !gone[x.VersionID] {
				subjects = append(subjects, x)
			}
		}
		s.subjects = subjects
		assets := s.assets[:0]
		for _, a := range s.assets {
			if !gone[a.VersionID] {
				assets = append(assets, a)
			}
		}
		s.assets = assets
		return nil
	})
}

type memTx struct {
	state *memState
	now   func() time.Time
}

var _ Tx = (*memTx)(nil)

func (tx *memTx) LockOrCreateDandiset(ctx context.Context, identifier string) (dpapi.Dandiset, error) {
	if d, ok := tx.state.dandisets[identifier]; ok {
		return d, nil
	}
	now := tx.now().UTC()
	d := dpapi.Dandiset{ID: tx.state.id(), Identifier: identifier, Created: now, Updated: now}
	tx.state.dandisets[identifier] = d
	return d, nil
}

func (tx *memTx) VersionExists(ctx context.Context, dandisetID int64, version dpapi.VersionID) (bool, error) {
	for _, v := range tx.state.versions {
		if v.DandisetID == dandisetID && v.Version == version {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) LatestVersion(ctx context.Context, dandisetID int64) (dpapi.VersionID, bool, error) {
	var latest dpapi.VersionID
	for _, v := range tx.state.versions {
		if v.DandisetID == dandisetID && v.Version.IsTimestamp() && v.Version > latest {
			latest = v.Version
		}
	}
	return latest, latest != "", nil
}

// Errors:
//
//   - dandi-error-catalog -- when the version already exists or a bound is exceeded
func (tx *memTx) InsertVersion(ctx context.Context, v *dpapi.Version) error {
	exists, _ := tx.VersionExists(ctx, v.DandisetID, v.Version)
	if exists {
		return dpapi.ErrorCatalog("insert version", fmt.Errorf("duplicate version %s for dandiset %d", v.Version, v.DandisetID))
	}
	if len([]rune(v.Description)) > dpapi.MaxDescriptionLength || len([]rune(v.Name)) > dpapi.MaxNameLength {
		return dpapi.ErrorCatalog("insert version", fmt.Errorf("name or description too long"))
	}
	now := tx.now().UTC()
	v.ID = tx.state.id()
	v.Created, v.Updated = now, now
	stored := *v
	stored.Metadata = v.Metadata.Clone()
	tx.state.versions = append(tx.state.versions, stored)
	return nil
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (tx *memTx) GetOrCreateContributor(ctx context.Context, c dpapi.Contributor) (dpapi.Contributor, error) {
	roles := c.RoleNames()
	for _, existing := range tx.state.contributors {
		if existing.Name == c.Name && existing.Email == c.Email && existing.ORCID == c.ORCID &&
			sameStrings(existing.RoleNames(), roles) && sameStrings(existing.Affiliations, c.Affiliations) {
			return existing, nil
		}
	}
	c.ID = tx.state.id()
	c.Roles = append([]dpapi.Role{}, c.Roles...)
	c.Affiliations = append([]string{}, c.Affiliations...)
	tx.state.contributors = append(tx.state.contributors, c)
	return c, nil
}

func (tx *memTx) LinkContributor(ctx context.Context, versionID, contributorID int64, position int) error {
	for _, l := range tx.state.links {
		if l.versionID == versionID && l.contributorID == contributorID {
			return nil
		}
	}
	tx.state.links = append(tx.state.links, link{versionID: versionID, contributorID: contributorID, position: position})
	return nil
}

// Errors:
//
//   - dandi-error-catalog -- when the version already has a subject with that name
func (tx *memTx) InsertSubject(ctx context.Context, s *dpapi.Subject) error {
	for _, existing := range tx.state.subjects {
		if existing.VersionID == s.VersionID && existing.Name == s.Name {
			return dpapi.ErrorCatalog("insert subject", fmt.Errorf("duplicate subject %q", s.Name))
		}
	}
	s.ID = tx.state.id()
	tx.state.subjects = append(tx.state.subjects, *s)
	return nil
}

// Errors:
//
//   - dandi-error-catalog -- when the version already has an asset at that path
func (tx *memTx) InsertAsset(ctx context.Context, a *dpapi.Asset) error {
	for _, existing := range tx.state.assets {
		if existing.VersionID == a.VersionID && existing.Path == a.Path {
			return dpapi.ErrorCatalog("insert asset", fmt.Errorf("duplicate asset path %q", a.Path))
		}
	}
	now := tx.now().UTC()
	a.ID = tx.state.id()
	a.Created, a.Updated = now, now
	stored := *a
	stored.Metadata = a.Metadata.Clone()
	tx.state.assets = append(tx.state.assets, stored)
	return nil
}
