package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePruner struct {
	mu      sync.Mutex
	ages    []time.Time
	calls   int
	failOn  int
	cutoffs []time.Time
}

func (p *fakePruner) PruneAudit(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.cutoffs = append(p.cutoffs, cutoff)
	if p.calls == p.failOn {
		return 0, errors.New("db down")
	}
	var deleted int64
	kept := p.ages[:0]
	for _, t := range p.ages {
		if deleted < int64(limit) && t.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	p.ages = kept
	return deleted, nil
}

type stubClock struct{ t time.Time }

func (c stubClock) Now() time.Time { return c.t }

func TestPruneAudit_Batches(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	p := &fakePruner{ages: []time.Time{
		now.Add(-100 * time.Hour),
		now.Add(-90 * time.Hour),
		now.Add(-80 * time.Hour),
		now.Add(-time.Hour),
	}}
	cfg := RetentionConfig{MaxAge: 48 * time.Hour, BatchSize: 2}
	cfg.applyDefaults()

	got := pruneAudit(context.Background(), p, stubClock{now}, cfg)

	if got != 3 {
		t.Errorf("deleted = %d, want 3", got)
	}
	// 2 + 1: the short batch ends the run.
	if p.calls != 2 {
		t.Errorf("calls = %d, want 2", p.calls)
	}
	if len(p.ages) != 1 {
		t.Errorf("kept = %d, want 1", len(p.ages))
	}
	if want := now.Add(-48 * time.Hour); !p.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", p.cutoffs[0], want)
	}
}

func TestPruneAudit_StopsOnError(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	p := &fakePruner{failOn: 2, ages: []time.Time{
		now.Add(-100 * time.Hour),
		now.Add(-90 * time.Hour),
		now.Add(-80 * time.Hour),
	}}

	got := pruneAudit(context.Background(), p, stubClock{now}, RetentionConfig{MaxAge: time.Hour, BatchSize: 1, CheckInterval: time.Hour})

	if got != 1 {
		t.Errorf("deleted = %d, want 1", got)
	}
	if p.calls != 2 {
		t.Errorf("calls = %d, want 2", p.calls)
	}
}

func TestRunAuditRetention_StopsOnCancel(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	p := &fakePruner{ages: []time.Time{now.Add(-400 * 24 * time.Hour)}}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		RunAuditRetention(ctx, p, stubClock{now}, RetentionConfig{CheckInterval: time.Hour})
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		p.mu.Lock()
		calls := p.calls
		p.mu.Unlock()
		if calls > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("retention job never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("retention job did not stop")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ages) != 0 {
		t.Errorf("entry older than the default max age was kept")
	}
}
