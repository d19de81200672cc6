package dpapi

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// VersionID identifies one published version of a dandiset.
//
// Timestamp allocation yields `0.YYMMDD.HHMM`, which sorts lexicographically
// in publish order. Probe allocation yields a positive integer.
type VersionID string

var versionPattern = regexp.MustCompile(`^0\.\d{6}\.\d{4}$`)

// VersionFromTime formats t (converted to UTC) as a timestamp version.
func VersionFromTime(t time.Time) VersionID {
	t = t.UTC()
	return VersionID(fmt.Sprintf("0.%02d%02d%02d.%02d%02d", t.Year()%100, int(t.Month()), t.Day(), t.Hour(), t.Minute()))
}

// VersionFromInt formats a probe-allocated version.
func VersionFromInt(n int) VersionID {
	return VersionID(strconv.Itoa(n))
}

// IsTimestamp reports whether v has the `0.YYMMDD.HHMM` form.
func (v VersionID) IsTimestamp() bool {
	return versionPattern.MatchString(string(v))
}

// Time returns the minute a timestamp version names.
// ok is false for integer versions.
func (v VersionID) Time() (t time.Time, ok bool) {
	if !v.IsTimestamp() {
		return time.Time{}, false
	}
	t, err := time.Parse("0.060102.1504", string(v))
	return t, err == nil
}

func (v VersionID) String() string {
	return string(v)
}

// ParseVersionID accepts either version form.
//
// Errors:
//
//   - dandi-error-schema-violation -- when s is neither a timestamp version nor a positive integer
func ParseVersionID(s string) (VersionID, error) {
	v := VersionID(s)
	if v.IsTimestamp() {
		return v, nil
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 && strconv.Itoa(n) == s {
		return v, nil
	}
	return "", ErrorSchemaViolation("version", "malformed version identifier "+strconv.Quote(s))
}
