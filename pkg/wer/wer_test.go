package wer

import (
	"math"
	"testing"
	"time"
)

func TestWER(t *testing.T) {
	cases := []struct {
		name       string
		reference  string
		hypothesis string
		want       float64
	}{
		{"exact match", "hola mundo", "hola mundo", 0.0},
		{"one deletion", "hola mundo", "hola", 0.5},
		{"all deleted", "a b c", "", 1.0},
		{"empty reference", "", "x", 0.0},
		{"both empty", "", "", 0.0},
		{"substitution", "hola mundo", "hola mundos", 0.5},
		{"insertion", "hola", "hola mundo", 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := WER(tc.reference, tc.hypothesis)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("WER(%q, %q) = %v, want %v", tc.reference, tc.hypothesis, got, tc.want)
			}
		})
	}
}

func TestWERBoundedByWorstCase(t *testing.T) {
	for _, ref := range Dataset {
		score := WER(ref, "")
		if math.Abs(score-1.0) > 1e-9 {
			t.Fatalf("empty hypothesis against %q scored %v, want 1.0", ref, score)
		}
	}
}

func TestDailyReportAggregatesByDay(t *testing.T) {
	r := NewDailyReport()
	day1 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	now := day1
	r.now = func() time.Time { return now }

	r.Add(0.0)
	r.Add(0.5)
	now = day2
	r.Add(1.0)

	got := r.Summary()
	if len(got) != 2 {
		t.Fatalf("expected two days, got %v", got)
	}
	if math.Abs(got["2025-06-01"]-0.25) > 1e-9 {
		t.Fatalf("day one mean = %v, want 0.25", got["2025-06-01"])
	}
	if math.Abs(got["2025-06-02"]-1.0) > 1e-9 {
		t.Fatalf("day two mean = %v, want 1.0", got["2025-06-02"])
	}
}
