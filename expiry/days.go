// Package expiry keeps "days remaining" fields consistent with their
// validity dates.
//
// A Pair couples a validity field with its derived days field. The days
// value is never authored directly: it is recomputed from the validity
// date on load, when the validity changes, on a schedule that fires at
// least hourly and exactly at local midnight, when the view becomes
// visible again, and right before the record is submitted.
package expiry

import (
	"errors"
	"strconv"
	"time"
)

// ErrDerivedField is returned when a caller tries to write a days field
var ErrDerivedField = errors.New("days remaining is derived from its validity date")

// Suffixes used by PairsFor
const (
	ValiditySuffix = "_validity"
	DaysSuffix     = "_days_remaining"
)

// dateLayouts are tried in order when parsing a validity date
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// Pair names a validity field and the days field derived from it
type Pair struct {
	Validity string
	Days     string
}

// PairsFor builds pairs named <prefix>_validity / <prefix>_days_remaining
func PairsFor(prefixes ...string) []Pair {
	pairs := make([]Pair, 0, len(prefixes))
	for _, p := range prefixes {
		pairs = append(pairs, Pair{Validity: p + ValiditySuffix, Days: p + DaysSuffix})
	}
	return pairs
}

// Fields is the flat form state, field name to value
type Fields map[string]string

// Clone returns a shallow copy
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ParseDate parses a validity date and returns its calendar date in loc.
// Date-only values are taken as-is; timestamps are converted to loc first.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	for _, layout := range dateLayouts {
		var t time.Time
		var err error
		if layout == time.RFC3339 {
			t, err = time.Parse(layout, s)
			if err == nil {
				t = t.In(loc)
			}
		} else {
			t, err = time.ParseInLocation(layout, s, loc)
		}
		if err == nil {
			return midnight(t), true
		}
	}
	return time.Time{}, false
}

// DaysRemaining returns the signed number of days from now's calendar date
// to the validity date, as a string. Past dates are negative. Empty or
// unparseable input yields "".
func DaysRemaining(validity string, now time.Time) string {
	if validity == "" {
		return ""
	}
	date, ok := ParseDate(validity, now.Location())
	if !ok {
		return ""
	}
	return strconv.Itoa(daysBetween(midnight(now), date))
}

// daysBetween counts calendar days from a to b. Both are rebuilt in UTC so
// DST shifts in the local zone cannot produce 23 or 25 hour days.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// RecomputeAll refreshes the days field of every pair whose validity is
// set. When nothing changes the same map is returned and changed is false,
// so callers can skip downstream work. Otherwise a modified copy is returned
// and state is left untouched.
func RecomputeAll(pairs []Pair, state Fields, now time.Time) (Fields, bool) {
	var out Fields
	for _, p := range pairs {
		validity := state[p.Validity]
		if validity == "" {
			continue
		}
		days := DaysRemaining(validity, now)
		if state[p.Days] == days {
			continue
		}
		if out == nil {
			out = state.Clone()
		}
		out[p.Days] = days
	}
	if out == nil {
		return state, false
	}
	return out, true
}
