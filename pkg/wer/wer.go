// Package wer computes word error rate for offline evaluation of
// transcription quality, with a daily aggregate report.
package wer

import (
	"strings"
	"sync"
	"time"
)

// WER returns the word error rate between a reference phrase and a
// hypothesis: the word-level edit distance divided by the reference
// length. An empty reference is defined as 0.0 to avoid division by
// zero.
func WER(reference, hypothesis string) float64 {
	r := strings.Fields(reference)
	h := strings.Fields(hypothesis)
	if len(r) == 0 {
		return 0.0
	}

	d := make([][]int, len(r)+1)
	for i := range d {
		d[i] = make([]int, len(h)+1)
		d[i][0] = i
	}
	for j := 0; j <= len(h); j++ {
		d[0][j] = j
	}
	for i := 1; i <= len(r); i++ {
		for j := 1; j <= len(h); j++ {
			cost := 1
			if r[i-1] == h[j-1] {
				cost = 0
			}
			d[i][j] = min3(d[i-1][j]+1, d[i][j-1]+1, d[i-1][j-1]+cost)
		}
	}
	return float64(d[len(r)][len(h)]) / float64(len(r))
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// DailyReport accumulates WER scores keyed by calendar day. Safe for
// concurrent use; scores are append-only.
type DailyReport struct {
	mu     sync.Mutex
	scores map[string][]float64
	now    func() time.Time
}

func NewDailyReport() *DailyReport {
	return &DailyReport{
		scores: make(map[string][]float64),
		now:    time.Now,
	}
}

// Add records a score under today's date.
func (d *DailyReport) Add(score float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	day := d.now().Format("2006-01-02")
	d.scores[day] = append(d.scores[day], score)
}

// Summary returns the mean score per day.
func (d *DailyReport) Summary() map[string]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]float64, len(d.scores))
	for day, vals := range d.scores {
		var sum float64
		for _, v := range vals {
			sum += v
		}
		out[day] = sum / float64(len(vals))
	}
	return out
}
