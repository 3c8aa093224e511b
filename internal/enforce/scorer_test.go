package enforce

import (
	"testing"
	"time"

	"enforcement-engine/internal/models"
)

func daysAgo(now time.Time, days int) *time.Time {
	t := now.AddDate(0, 0, -days)
	return &t
}

func TestClassifyTierBoundaries(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		amount float64
		date   *time.Time
		want   string
	}{
		{"high amount recent", 3000, daysAgo(now, 365), models.TierA},
		{"high amount one day too old", 3000, daysAgo(now, 366), models.TierB},
		{"just under A amount", 2999, daysAgo(now, 366), models.TierB},
		{"mid amount", 1000, daysAgo(now, 10), models.TierB},
		{"small and fresh", 999, daysAgo(now, 1), models.TierC},
		{"small but aged into B window", 500, daysAgo(now, 400), models.TierB},
		{"small and stale", 500, daysAgo(now, 1096), models.TierC},
		{"large amount no date", 5000, nil, models.TierC},
		{"mid amount no date", 1500, nil, models.TierB},
		{"five k thirty days", 5000, daysAgo(now, 30), models.TierA},
	}

	for _, tc := range cases {
		if got := ClassifyTier(tc.amount, tc.date, now); got != tc.want {
			t.Errorf("%s: ClassifyTier(%v) = %s, want %s", tc.name, tc.amount, got, tc.want)
		}
	}
}

func TestClassifyTierDeterministic(t *testing.T) {
	now := time.Now().UTC()
	date := daysAgo(now, 200)
	first := ClassifyTier(2500, date, now)
	for i := 0; i < 100; i++ {
		if got := ClassifyTier(2500, date, now); got != first {
			t.Fatalf("classification flapped: %s then %s", first, got)
		}
	}
}
