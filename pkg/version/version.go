// Package version picks the identifier of a new published version.
//
// Two strategies exist. Timestamp is the default and yields `0.YYMMDD.HHMM`,
// moving forward one minute at a time past identifiers already taken. It never
// goes below the dandiset's latest timestamp version, so a clock that steps
// backwards still yields increasing identifiers.
// Probe yields the smallest positive integer whose manifest object is absent,
// for deployments where the object store is the only source of truth.
//
// Allocators hold no state between calls: with the same clock and the same
// catalog and store contents they return the same identifier. They do not
// synchronize across processes; callers serialize publishes of one dandiset
// with the catalog lock.
package version

import (
	"context"
	"fmt"
	"time"

	"github.com/dandiarchive/dandipub/dpapi"
	"github.com/dandiarchive/dandipub/pkg/config"
)

// DefaultMaxAttempts bounds the number of candidates tried before giving up.
const DefaultMaxAttempts = 100000

// ExistsFunc reports whether a candidate version is already taken.
type ExistsFunc func(ctx context.Context, v dpapi.VersionID) (bool, error)

// LatestFunc returns the newest timestamp version of the dandiset, if any.
type LatestFunc func(ctx context.Context) (dpapi.VersionID, bool, error)

// Probes are the places a candidate is looked up. A nil probe is skipped.
type Probes struct {
	// InCatalog checks for a version row of the dandiset.
	InCatalog ExistsFunc
	// InStore checks for the version's manifest object at its final key.
	InStore ExistsFunc
	// Latest is the lower bound for timestamp allocation.
	Latest LatestFunc
}

func (p Probes) taken(ctx context.Context, v dpapi.VersionID) (bool, error) {
	for _, probe := range []ExistsFunc{p.InCatalog, p.InStore} {
		if probe == nil {
			continue
		}
		exists, err := probe(ctx, v)
		if err != nil || exists {
			return exists, err
		}
	}
	return false, nil
}

type Allocator interface {
	// Allocate returns the next free version of dandiset.
	//
	// Errors:
	//
	//   - dandi-error-allocation-failed -- when a probe fails or no candidate is free
	Allocate(ctx context.Context, dandiset string, probes Probes) (dpapi.VersionID, error)
}

// Timestamp allocates `0.YYMMDD.HHMM` identifiers from a UTC clock.
type Timestamp struct {
	// Now defaults to time.Now.
	Now         func() time.Time
	MaxAttempts int
}

func (a Timestamp) Allocate(ctx context.Context, dandiset string, probes Probes) (dpapi.VersionID, error) {
	now := a.Now
	if now == nil {
		now = time.Now
	}
	limit := a.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}
	t := now().UTC().Truncate(time.Minute)
	if probes.Latest != nil {
		latest, ok, err := probes.Latest(ctx)
		if err != nil {
			return "", dpapi.ErrorAllocation(dandiset, err)
		}
		if last, isTime := latest.Time(); ok && isTime && !t.After(last) {
			t = last.Add(time.Minute)
		}
	}
	for i := 0; i < limit; i++ {
		candidate := dpapi.VersionFromTime(t)
		taken, err := probes.taken(ctx, candidate)
		if err != nil {
			return "", dpapi.ErrorAllocation(dandiset, err)
		}
		if !taken {
			return candidate, nil
		}
		t = t.Add(time.Minute)
	}
	return "", dpapi.ErrorAllocation(dandiset, fmt.Errorf("no free timestamp version in %d minutes", limit))
}

// Probe allocates integer identifiers starting at 1.
// Only probes.InStore is meaningful to it, though InCatalog is honored if set.
type Probe struct {
	MaxAttempts int
}

func (a Probe) Allocate(ctx context.Context, dandiset string, probes Probes) (dpapi.VersionID, error) {
	if probes.InStore == nil {
		return "", dpapi.ErrorAllocation(dandiset, fmt.Errorf("probe allocation needs an object store probe"))
	}
	limit := a.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}
	for n := 1; n <= limit; n++ {
		candidate := dpapi.VersionFromInt(n)
		taken, err := probes.taken(ctx, candidate)
		if err != nil {
			return "", dpapi.ErrorAllocation(dandiset, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", dpapi.ErrorAllocation(dandiset, fmt.Errorf("no free integer version below %d", limit+1))
}

// ForStrategy returns the allocator named by a config strategy.
//
// Errors:
//
//   - dandi-error-config -- when strategy is unknown
func ForStrategy(strategy string) (Allocator, error) {
	switch strategy {
	case config.StrategyTimestamp:
		return Timestamp{}, nil
	case config.StrategyProbe:
		return Probe{}, nil
	default:
		return nil, dpapi.ErrorConfig("version.strategy", "unknown strategy "+fmt.Sprintf("%q", strategy))
	}
}
