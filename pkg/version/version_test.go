package version

import (
	"context"
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/dandiarchive/dandipub/dpapi"
)

// setProbe answers from a fixed set and counts calls.
type setProbe struct {
	taken map[dpapi.VersionID]bool
	calls int
}

func (p *setProbe) exists(ctx context.Context, v dpapi.VersionID) (bool, error) {
	p.calls++
	return p.taken[v], nil
}

func clock(s string) func() time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

func TestTimestampCollisionAdvancesOneMinute(t *testing.T) {
	probe := &setProbe{taken: map[dpapi.VersionID]bool{"0.230101.1200": true}}
	a := Timestamp{Now: clock("2023-01-01T12:00:42Z")}

	v, err := a.Allocate(context.Background(), "000003", Probes{InCatalog: probe.exists})
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, v, qt.Equals, dpapi.VersionID("0.230101.1201"))
}

func TestTimestampRollsOverHourAndDay(t *testing.T) {
	probe := &setProbe{taken: map[dpapi.VersionID]bool{"0.231231.2359": true}}
	a := Timestamp{Now: clock("2023-12-31T23:59:00Z")}

	v, err := a.Allocate(context.Background(), "000003", Probes{InCatalog: probe.exists})
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, v, qt.Equals, dpapi.VersionID("0.240101.0000"))
}

func latest(v dpapi.VersionID) LatestFunc {
	return func(ctx context.Context) (dpapi.VersionID, bool, error) {
		return v, v != "", nil
	}
}

func TestTimestampNeverGoesBackwards(t *testing.T) {
	// The clock reads earlier than the newest version already published.
	a := Timestamp{Now: clock("2023-01-01T11:00:00Z")}
	v, err := a.Allocate(context.Background(), "000003", Probes{Latest: latest("0.230101.1230")})
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, v, qt.Equals, dpapi.VersionID("0.230101.1231"))

	// A clock ahead of the latest version is used as is.
	a = Timestamp{Now: clock("2023-01-01T13:00:00Z")}
	v, err = a.Allocate(context.Background(), "000003", Probes{Latest: latest("0.230101.1230")})
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, v, qt.Equals, dpapi.VersionID("0.230101.1300"))

	// A clock equal to the latest version moves one minute on.
	probe := &setProbe{}
	a = Timestamp{Now: clock("2023-01-01T12:30:10Z")}
	v, err = a.Allocate(context.Background(), "000003", Probes{InCatalog: probe.exists, Latest: latest("0.230101.1230")})
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, v, qt.Equals, dpapi.VersionID("0.230101.1231"))
	qt.Assert(t, probe.calls, qt.Equals, 1)

	// Integer versions do not bound timestamps.
	a = Timestamp{Now: clock("2023-01-01T11:00:00Z")}
	v, err = a.Allocate(context.Background(), "000003", Probes{Latest: latest("7")})
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, v, qt.Equals, dpapi.VersionID("0.230101.1100"))
}

func TestTimestampLatestErrorIsFatal(t *testing.T) {
	a := Timestamp{Now: clock("2023-01-01T11:00:00Z")}
	_, err := a.Allocate(context.Background(), "000003", Probes{
		Latest: func(ctx context.Context) (dpapi.VersionID, bool, error) {
			return "", false, errors.New("catalog down")
		},
	})
	qt.Assert(t, dpapi.Code(err), qt.Equals, dpapi.CodeAllocationFailed)
}

func TestTimestampUsesUTC(t *testing.T) {
	a := Timestamp{Now: clock("2023-01-01T07:30:00-05:00")}
	v, err := a.Allocate(context.Background(), "000003", Probes{})
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, v, qt.Equals, dpapi.VersionID("0.230101.1230"))
}

func TestTimestampIdempotentAndUnique(t *testing.T) {
	taken := map[dpapi.VersionID]bool{}
	for m := 0; m < 5; m++ {
		taken[dpapi.VersionFromTime(time.Date(2023, 1, 1, 12, m, 0, 0, time.UTC))] = true
	}
	probe := &setProbe{taken: taken}
	a := Timestamp{Now: clock("2023-01-01T12:00:00Z")}
	probes := Probes{InCatalog: probe.exists, InStore: probe.exists}

	first, err := a.Allocate(context.Background(), "000003", probes)
	qt.Assert(t, err, qt.IsNil)
	second, err := a.Allocate(context.Background(), "000003", probes)
	qt.Assert(t, err, qt.IsNil)

	qt.Assert(t, first, qt.Equals, second)
	qt.Assert(t, first, qt.Equals, dpapi.VersionID("0.230101.1205"))
	qt.Assert(t, first.IsTimestamp(), qt.IsTrue)
	qt.Assert(t, taken[first], qt.IsFalse)
}

func TestTimestampGivesUp(t *testing.T) {
	always := func(ctx context.Context, v dpapi.VersionID) (bool, error) { return true, nil }
	a := Timestamp{Now: clock("2023-01-01T12:00:00Z"), MaxAttempts: 3}
	_, err := a.Allocate(context.Background(), "000003", Probes{InCatalog: always})
	qt.Assert(t, dpapi.Code(err), qt.Equals, dpapi.CodeAllocationFailed)
}

func TestProbe(t *testing.T) {
	probe := &setProbe{taken: map[dpapi.VersionID]bool{"1": true, "2": true}}
	a := Probe{}

	v, err := a.Allocate(context.Background(), "000003", Probes{InStore: probe.exists})
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, v, qt.Equals, dpapi.VersionID("3"))
	qt.Assert(t, probe.calls, qt.Equals, 3)

	again, err := a.Allocate(context.Background(), "000003", Probes{InStore: probe.exists})
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, again, qt.Equals, v)
}

func TestProbeErrorIsFatal(t *testing.T) {
	failing := func(ctx context.Context, v dpapi.VersionID) (bool, error) {
		return false, errors.New("access denied")
	}
	_, err := Probe{}.Allocate(context.Background(), "000003", Probes{InStore: failing})
	qt.Assert(t, dpapi.Code(err), qt.Equals, dpapi.CodeAllocationFailed)

	_, err = Probe{}.Allocate(context.Background(), "000003", Probes{})
	qt.Assert(t, dpapi.Code(err), qt.Equals, dpapi.CodeAllocationFailed)
}

func TestForStrategy(t *testing.T) {
	a, err := ForStrategy("timestamp")
	qt.Assert(t, err, qt.IsNil)
	_, ok := a.(Timestamp)
	qt.Assert(t, ok, qt.IsTrue)

	a, err = ForStrategy("probe")
	qt.Assert(t, err, qt.IsNil)
	_, ok = a.(Probe)
	qt.Assert(t, ok, qt.IsTrue)

	_, err = ForStrategy("random")
	qt.Assert(t, dpapi.Code(err), qt.Equals, dpapi.CodeConfig)
}
