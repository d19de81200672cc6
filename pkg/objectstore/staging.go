package objectstore

import (
	"context"
	"io"
	"path"
	"sync"

	"github.com/dandiarchive/dandipub/pkg/logging"
)

const LOG_TAG = "store"

type staged struct {
	key  string
	opts Options
}

// Staging collects the writes of one publish run under {staging}/{run}/
// and moves them to their final keys on Finalize.
//
// Until Finalize runs nothing is visible at a final key. If anything fails
// afterwards, Abort removes both the staged and the already finalized objects,
// so a rolled back publish leaves no objects behind.
type Staging struct {
	store  Store
	prefix string

	mu        sync.Mutex
	pending   []staged
	finalized []string
}

// NewStaging returns a staging area for one run. runID must be unique per run.
func NewStaging(store Store, stagingPrefix, runID string) *Staging {
	return &Staging{
		store:  store,
		prefix: path.Join(stagingPrefix, runID),
	}
}

// StagedKey is where the object destined for key is written before Finalize.
func (s *Staging) StagedKey(key string) string {
	return path.Join(s.prefix, key)
}

// Put writes r to the staged location of key. opts apply once the object is finalized;
// staged objects are always private.
//
// Errors:
//
//   - dandi-error-store -- when the underlying write fails
func (s *Staging) Put(ctx context.Context, key string, r io.Reader, opts Options) error {
	if err := s.store.Put(ctx, s.StagedKey(key), r, Options{ContentType: opts.ContentType}); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, staged{key: key, opts: opts})
	return nil
}

// Pending lists the final keys that have been staged but not finalized.
func (s *Staging) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, len(s.pending))
	for i, p := range s.pending {
		keys[i] = p.key
	}
	return keys
}

// Finalize copies every staged object to its final key and removes the staged copy.
// It stops at the first failure; call Abort to clean up.
//
// Errors:
//
//   - dandi-error-store -- when a copy or delete fails
func (s *Staging) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) > 0 {
		p := s.pending[0]
		if err := s.store.Copy(ctx, s.StagedKey(p.key), p.key, p.opts); err != nil {
			return err
		}
		s.finalized = append(s.finalized, p.key)
		s.pending = s.pending[1:]
		if err := s.store.Delete(ctx, s.StagedKey(p.key)); err != nil {
			return err
		}
	}
	return nil
}

// Abort deletes every object this run wrote, staged or finalized.
// All deletions are attempted; the first error is returned.
//
// Errors:
//
//   - dandi-error-store -- when a delete fails
func (s *Staging) Abort(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	remember := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, p := range s.pending {
		remember(s.store.Delete(ctx, s.StagedKey(p.key)))
	}
	for _, key := range s.finalized {
		remember(s.store.Delete(ctx, s.StagedKey(key)))
		remember(s.store.Delete(ctx, key))
	}
	if first != nil {
		logging.Ctx(ctx).Warn(LOG_TAG, "cleanup after failed publish incomplete: %s", first)
	}
	s.pending = nil
	s.finalized = nil
	return first
}
