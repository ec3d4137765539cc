package config

import "testing"

func TestParseQuietHours(t *testing.T) {
	cases := []struct {
		raw        string
		start, end int
		ok         bool
	}{
		{"22:00-08:00", 22 * 60, 8 * 60, true},
		{"23:30-06:15", 23*60 + 30, 6*60 + 15, true},
		{"garbage", 0, 0, false},
		{"25:00-08:00", 0, 0, false},
		{"22:00", 0, 0, false},
	}
	for _, c := range cases {
		start, end, ok := parseQuietHours(c.raw)
		if ok != c.ok || start != c.start || end != c.end {
			t.Errorf("parseQuietHours(%q) = %d,%d,%v want %d,%d,%v", c.raw, start, end, ok, c.start, c.end, c.ok)
		}
	}
}

func TestDecisionWeightsAlpha(t *testing.T) {
	w := DecisionWeights{Conservative: 0.8, Balanced: 0.5, Intelligent: 0.2}
	if w.Alpha("conservative") != 0.8 || w.Alpha("intelligent") != 0.2 {
		t.Error("mode weights not applied")
	}
	if w.Alpha("unknown") != 0.5 {
		t.Error("unknown mode must fall back to balanced")
	}
}

func TestDailyCapsForLevel(t *testing.T) {
	caps := DailyCaps{High: 6, Medium: 4, Low: 2}
	cases := map[string]int{"high": 6, "medium": 4, "low": 2, "inactive": 2}
	for level, want := range cases {
		if got := caps.ForLevel(level); got != want {
			t.Errorf("ForLevel(%s) = %d, want %d", level, got, want)
		}
	}
}
