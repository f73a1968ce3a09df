package expiry

import (
	"strconv"
	"testing"
	"time"
)

var dhaka = time.FixedZone("BDT", 6*60*60)

func date(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, dhaka)
}

func TestDaysRemaining(t *testing.T) {
	tests := []struct {
		name     string
		validity string
		now      time.Time
		want     string
	}{
		{"leap years counted", "2030-01-01", date(2025, 1, 1, 9, 0), "1826"},
		{"today", "2025-01-01", date(2025, 1, 1, 23, 59), "0"},
		{"tomorrow just before midnight", "2025-01-02", date(2025, 1, 1, 23, 59), "1"},
		{"expired not clamped", "2024-12-25", date(2025, 1, 1, 0, 0), "-7"},
		{"across feb 29", "2024-03-01", date(2024, 2, 28, 12, 0), "2"},
		{"timestamp converted to local date", "2025-01-02T23:00:00Z", date(2025, 1, 1, 10, 0), "2"},
		{"local timestamp", "2025-01-05T08:30:00", date(2025, 1, 1, 10, 0), "4"},
		{"empty", "", date(2025, 1, 1, 10, 0), ""},
		{"unparseable", "next tuesday", date(2025, 1, 1, 10, 0), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysRemaining(tt.validity, tt.now); got != tt.want {
				t.Errorf("DaysRemaining(%q) = %q, want %q", tt.validity, got, tt.want)
			}
		})
	}
}

func TestDaysRemaining_SignMatchesDirection(t *testing.T) {
	today := date(2025, 6, 15, 14, 30)
	for _, offset := range []int{-400, -31, -1, 0, 1, 29, 365, 1000} {
		validity := today.AddDate(0, 0, offset).Format("2006-01-02")
		n, err := strconv.Atoi(DaysRemaining(validity, today))
		if err != nil {
			t.Fatalf("DaysRemaining(%s) not a number: %v", validity, err)
		}
		switch {
		case offset > 0 && n <= 0, offset < 0 && n >= 0, offset == 0 && n != 0:
			t.Errorf("offset %d: DaysRemaining(%s) = %d", offset, validity, n)
		}
		if n != offset {
			t.Errorf("offset %d: got %d", offset, n)
		}
	}
}

func TestDaysRemaining_StableWithinDay(t *testing.T) {
	morning := date(2025, 3, 10, 0, 1)
	evening := date(2025, 3, 10, 23, 59)
	for _, v := range []string{"2025-03-10", "2026-01-01", "2020-01-01"} {
		a := DaysRemaining(v, morning)
		b := DaysRemaining(v, morning)
		c := DaysRemaining(v, evening)
		if a != b || b != c {
			t.Errorf("DaysRemaining(%s) changed within the day: %s %s %s", v, a, b, c)
		}
	}
}

func TestPairsFor(t *testing.T) {
	pairs := PairsFor("trade_license", "bsci")
	want := []Pair{
		{"trade_license_validity", "trade_license_days_remaining"},
		{"bsci_validity", "bsci_days_remaining"},
	}
	if len(pairs) != len(want) {
		t.Fatalf("PairsFor() = %v", pairs)
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Errorf("pairs[%d] = %v, want %v", i, pairs[i], want[i])
		}
	}
}

func TestRecomputeAll(t *testing.T) {
	pairs := PairsFor("fire_license", "bsci", "gots")
	now := date(2025, 1, 1, 12, 0)
	state := Fields{
		"name":                        "Acme Knits",
		"fire_license_validity":       "2025-01-11",
		"fire_license_days_remaining": "3",
		"bsci_validity":               "",
		"bsci_days_remaining":         "99",
	}

	next, changed := RecomputeAll(pairs, state, now)
	if !changed {
		t.Fatal("RecomputeAll() reported no change for a stale field")
	}
	if next["fire_license_days_remaining"] != "10" {
		t.Errorf("fire_license_days_remaining = %q, want 10", next["fire_license_days_remaining"])
	}
	if next["bsci_days_remaining"] != "99" {
		t.Errorf("pair with empty validity was touched: %q", next["bsci_days_remaining"])
	}
	if _, ok := next["gots_days_remaining"]; ok {
		t.Error("absent pair should not be written")
	}
	if state["fire_license_days_remaining"] != "3" {
		t.Error("input state was mutated")
	}

	again, changed := RecomputeAll(pairs, next, now)
	if changed {
		t.Error("second RecomputeAll() reported a change")
	}
	// Same map, not an equal copy
	again["scratch"] = "x"
	if next["scratch"] != "x" {
		t.Error("second RecomputeAll() returned a different map")
	}
}
