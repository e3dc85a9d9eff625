package interval

import (
	"testing"
	"time"
)

func at(h, m int) time.Time {
	return time.Date(2026, 2, 10, h, m, 0, 0, time.UTC)
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"identical", New(at(10, 0), at(11, 0)), New(at(10, 0), at(11, 0)), true},
		{"partial", New(at(10, 0), at(11, 0)), New(at(10, 30), at(11, 30)), true},
		{"contained", New(at(10, 0), at(12, 0)), New(at(10, 30), at(11, 0)), true},
		{"touching after", New(at(10, 0), at(11, 0)), New(at(11, 0), at(12, 0)), false},
		{"touching before", New(at(11, 0), at(12, 0)), New(at(10, 0), at(11, 0)), false},
		{"disjoint", New(at(8, 0), at(9, 0)), New(at(10, 0), at(11, 0)), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Overlaps(tc.a, tc.b); got != tc.want {
				t.Fatalf("Overlaps = %v, want %v", got, tc.want)
			}
			if got := Overlaps(tc.b, tc.a); got != tc.want {
				t.Fatalf("Overlaps not symmetric: %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOverlapsAny(t *testing.T) {
	set := []Interval{New(at(9, 0), at(10, 0)), New(at(13, 0), at(14, 0))}
	if OverlapsAny(New(at(10, 0), at(13, 0)), set) {
		t.Fatalf("expected gap between busy intervals to be free")
	}
	if !OverlapsAny(New(at(12, 30), at(13, 30)), set) {
		t.Fatalf("expected overlap with 13:00-14:00")
	}
	if OverlapsAny(New(at(9, 0), at(10, 0)), nil) {
		t.Fatalf("expected empty set to never overlap")
	}
}

func TestValid(t *testing.T) {
	if New(at(10, 0), at(10, 0)).Valid() {
		t.Fatalf("empty interval must be invalid")
	}
	if !New(at(10, 0), at(10, 1)).Valid() {
		t.Fatalf("expected valid interval")
	}
}
