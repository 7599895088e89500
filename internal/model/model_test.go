package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

func TestIntervalOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"partial", Interval{at(10, 0), at(11, 0)}, Interval{at(10, 30), at(11, 30)}, true},
		{"adjacent", Interval{at(10, 0), at(11, 0)}, Interval{at(11, 0), at(12, 0)}, false},
		{"contained", Interval{at(9, 0), at(17, 0)}, Interval{at(12, 0), at(13, 0)}, true},
		{"disjoint", Interval{at(9, 0), at(10, 0)}, Interval{at(14, 0), at(15, 0)}, false},
		{"zero length inside", Interval{at(9, 0), at(17, 0)}, Interval{at(12, 0), at(12, 0)}, false},
		{"zero length self", Interval{at(12, 0), at(12, 0)}, Interval{at(12, 0), at(12, 0)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a), "overlap must be symmetric")
		})
	}
}

func TestIntervalIntersect(t *testing.T) {
	got, ok := Interval{at(9, 0), at(12, 0)}.Intersect(Interval{at(11, 0), at(14, 0)})
	assert.True(t, ok)
	assert.Equal(t, Interval{at(11, 0), at(12, 0)}, got)

	_, ok = Interval{at(9, 0), at(10, 0)}.Intersect(Interval{at(10, 0), at(11, 0)})
	assert.False(t, ok)
}

func TestFlagsWithIsSortedSet(t *testing.T) {
	var f Flags
	f = f.With(FlagMultipleTimesDetected, FlagAmbiguousDuration, FlagMultipleTimesDetected)
	assert.Equal(t, Flags{FlagAmbiguousDuration, FlagMultipleTimesDetected}, f)
	assert.True(t, f.Has(FlagAmbiguousDuration))
	assert.False(t, f.Has(FlagLowConfidenceTitle))

	g := f.With(FlagLowConfidenceTitle)
	assert.Len(t, f, 2, "With must not modify the receiver")
	assert.Len(t, g, 3)
}

func TestNewUtteranceDefaultsToUTC(t *testing.T) {
	u := NewUtterance("hi", time.Date(2026, 1, 1, 0, 0, 0, 0, time.FixedZone("X", 3600)), nil)
	assert.Equal(t, time.UTC, u.Location)
	assert.Equal(t, time.UTC, u.Reference.Location())
}
