// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/toeirei/pairmaster/internal/model"
)

func cand(addr string) model.DeviceCandidate {
	return model.DeviceCandidate{Transport: model.TransportTCP, Address: addr}
}

func keys(cs []model.DeviceCandidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Key()
	}
	return out
}

func TestDebouncerToleratesShortGaps(t *testing.T) {
	d := NewDebouncer(3)
	if got := d.Filter([]model.DeviceCandidate{cand("a:1"), cand("b:1")}); len(got) != 2 {
		t.Fatalf("expected 2, got %v", keys(got))
	}
	// b missing twice: still reported
	for i := 0; i < 2; i++ {
		if got := d.Filter([]model.DeviceCandidate{cand("a:1")}); len(got) != 2 {
			t.Fatalf("miss %d: expected b still present, got %v", i+1, keys(got))
		}
	}
	// third consecutive miss drops it
	if got := d.Filter([]model.DeviceCandidate{cand("a:1")}); len(got) != 1 || got[0].Address != "a:1" {
		t.Fatalf("expected only a after 3 misses, got %v", keys(got))
	}
}

func TestDebouncerResetsOnReappearance(t *testing.T) {
	d := NewDebouncer(2)
	d.Filter([]model.DeviceCandidate{cand("a:1")})
	d.Filter(nil)
	d.Filter([]model.DeviceCandidate{cand("a:1")})
	if got := d.Filter(nil); len(got) != 1 {
		t.Fatalf("miss counter should have reset, got %v", keys(got))
	}
}

func TestNextBackoffDelayCaps(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	if d := NextBackoffDelay(cfg, 1, nil); d != time.Second {
		t.Fatalf("attempt 1 = %s", d)
	}
	if d := NextBackoffDelay(cfg, 3, nil); d != 4*time.Second {
		t.Fatalf("attempt 3 = %s", d)
	}
	if d := NextBackoffDelay(cfg, 10, nil); d != 5*time.Second {
		t.Fatalf("attempt 10 = %s", d)
	}
}

type scriptedScanner struct {
	mu    sync.Mutex
	steps []scanStep
	calls int
}

type scanStep struct {
	cands []model.DeviceCandidate
	err   error
}

func (s *scriptedScanner) Transport() model.TransportKind { return model.TransportTCP }

func (s *scriptedScanner) Scan(ctx context.Context) ([]model.DeviceCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i].cands, s.steps[i].err
}

func TestRunnerPublishesAndReportsPersistentErrors(t *testing.T) {
	boom := errors.New("bridge gone")
	sc := &scriptedScanner{steps: []scanStep{
		{cands: []model.DeviceCandidate{cand("a:1")}},
		{err: boom},
		{err: boom},
		{err: boom},
	}}
	var mu sync.Mutex
	var snaps []model.Snapshot
	var reported []error
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		Scanner:          sc,
		Interval:         5 * time.Millisecond,
		Debounce:         2,
		FailureThreshold: 3,
		Publish: func(s model.Snapshot) {
			mu.Lock()
			snaps = append(snaps, s)
			if len(snaps) == 5 {
				cancel()
			}
			mu.Unlock()
		},
		OnPersistentError: func(kind model.TransportKind, err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		},
	}
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(snaps) < 3 {
		t.Fatalf("expected at least 3 snapshots, got %d", len(snaps))
	}
	if len(snaps[0].Candidates) != 1 || len(snaps[1].Candidates) != 1 {
		t.Fatalf("first failure should be debounced: %v / %v", keys(snaps[0].Candidates), keys(snaps[1].Candidates))
	}
	if len(snaps[2].Candidates) != 0 {
		t.Fatalf("second consecutive miss should drop candidate: %v", keys(snaps[2].Candidates))
	}
	if len(reported) != 1 || !errors.Is(reported[0], boom) {
		t.Fatalf("expected exactly one persistent error report, got %v", reported)
	}
}
