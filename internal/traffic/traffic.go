package traffic

import (
	"sync"
	"time"
)

// Kind identifies what a recorded event was.
type Kind int

const (
	// Admitted is an /api request the rate limiter let through.
	Admitted Kind = iota
	// Denied is an /api request rejected with 429.
	Denied
	// ProviderSuccess is a lookup or save whose weather provider calls succeeded.
	ProviderSuccess
	// ProviderError is a lookup or save that failed on the provider side (5xx, network, breaker open).
	ProviderError
	numKinds
)

// Snapshot holds per-kind counts inside the tracker window.
type Snapshot struct {
	Admitted        int
	Denied          int
	ProviderSuccess int
	ProviderError   int
}

// DenialRatio returns denied / (admitted + denied) and the sample size.
func (s Snapshot) DenialRatio() (float64, int) {
	total := s.Admitted + s.Denied
	if total == 0 {
		return 0, 0
	}
	return float64(s.Denied) / float64(total), total
}

// ProviderErrorRatio returns provider errors / provider calls and the sample size.
func (s Snapshot) ProviderErrorRatio() (float64, int) {
	total := s.ProviderSuccess + s.ProviderError
	if total == 0 {
		return 0, 0
	}
	return float64(s.ProviderError) / float64(total), total
}

// Tracker keeps event timestamps for a sliding window. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	events [numKinds][]time.Time
}

// NewTracker returns a Tracker over the given window (default 1m when <= 0).
func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = time.Minute
	}
	return &Tracker{window: window, now: time.Now}
}

// Window returns the sliding window length.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// Record adds one event of kind k. A nil Tracker ignores the call.
func (t *Tracker) Record(k Kind) {
	if t == nil || k < 0 || k >= numKinds {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.events[k] = append(prune(t.events[k], now.Add(-t.window)), now)
}

// Snapshot returns counts of events newer than now-window.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-t.window)
	for k := range t.events {
		t.events[k] = prune(t.events[k], cutoff)
	}
	return Snapshot{
		Admitted:        len(t.events[Admitted]),
		Denied:          len(t.events[Denied]),
		ProviderSuccess: len(t.events[ProviderSuccess]),
		ProviderError:   len(t.events[ProviderError]),
	}
}

// Reset clears all recorded events.
func (t *Tracker) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.events {
		t.events[k] = nil
	}
}

// prune drops timestamps at or before cutoff. Timestamps are appended in order,
// so the kept ones form a suffix.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
