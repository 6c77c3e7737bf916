// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package discovery runs one continuously refreshing scan per transport and
// publishes full snapshots; diffing is left to the registry.
package discovery

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/toeirei/pairmaster/internal/logging"
	"github.com/toeirei/pairmaster/internal/model"
)

// Scanner produces the candidates currently visible on one transport.
type Scanner interface {
	Transport() model.TransportKind
	Scan(ctx context.Context) ([]model.DeviceCandidate, error)
}

// BackoffConfig shapes the delay between failing scans.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// Debouncer hides candidates that vanish for fewer than Misses consecutive
// scans.
type Debouncer struct {
	misses  int
	tracked map[string]*tracked
}

type tracked struct {
	c      model.DeviceCandidate
	missed int
}

// NewDebouncer returns a debouncer dropping a candidate after misses
// consecutive absences. Values below 1 drop on the first miss.
func NewDebouncer(misses int) *Debouncer {
	if misses < 1 {
		misses = 1
	}
	return &Debouncer{misses: misses, tracked: make(map[string]*tracked)}
}

// Filter folds one scan result into the debounced view and returns it,
// sorted by candidate key.
func (d *Debouncer) Filter(seen []model.DeviceCandidate) []model.DeviceCandidate {
	present := make(map[string]bool, len(seen))
	for _, c := range seen {
		d.tracked[c.Key()] = &tracked{c: c}
		present[c.Key()] = true
	}
	out := make([]model.DeviceCandidate, 0, len(d.tracked))
	for key, tc := range d.tracked {
		if !present[key] {
			tc.missed++
			if tc.missed >= d.misses {
				delete(d.tracked, key)
				continue
			}
		}
		out = append(out, tc.c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Runner drives one scanner on a fixed interval.
type Runner struct {
	Scanner  Scanner
	Interval time.Duration
	// ScanTimeout bounds one scan; it defaults to Interval.
	ScanTimeout time.Duration
	Debounce    int
	Publish     func(model.Snapshot)
	// OnPersistentError is told once when FailureThreshold scans in a row
	// have failed.
	OnPersistentError func(kind model.TransportKind, err error)
	FailureThreshold  int
	Backoff           BackoffConfig
	Now               func() time.Time
}

// Run scans until ctx is done. A failed scan counts as a miss for every
// tracked candidate.
func (r *Runner) Run(ctx context.Context) error {
	kind := r.Scanner.Transport()
	deb := NewDebouncer(r.Debounce)
	now := r.Now
	if now == nil {
		now = time.Now
	}
	timeout := r.ScanTimeout
	if timeout <= 0 {
		timeout = r.Interval
	}
	threshold := r.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	failures := 0

	for {
		scanCtx, cancel := context.WithTimeout(ctx, timeout)
		cands, err := r.Scanner.Scan(scanCtx)
		cancel()
		if ctx.Err() != nil {
			return nil
		}

		wait := r.Interval
		if err != nil {
			failures++
			logging.Debugf("discovery: %s scan failed (%d in a row): %v", kind, failures, err)
			if failures == threshold && r.OnPersistentError != nil {
				r.OnPersistentError(kind, err)
			}
			if d := NextBackoffDelay(r.Backoff, failures, rng); d > wait {
				wait = d
			}
			cands = nil
		} else {
			if failures >= threshold {
				logging.Infof("discovery: %s scanning recovered", kind)
			}
			failures = 0
		}

		if r.Publish != nil {
			r.Publish(model.Snapshot{Transport: kind, Candidates: deb.Filter(cands), TakenAt: now()})
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
