package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeKeyCleaner struct {
	calls   atomic.Int64
	deleted int64
	err     error
}

func (f *fakeKeyCleaner) CleanupExpired(ctx context.Context, olderThanDays int) (int64, error) {
	f.calls.Add(1)
	return f.deleted, f.err
}

// ---------------------------------------------------------------------------
// NewAPIKeyCleanupJob — construction and defaulting
// ---------------------------------------------------------------------------

func TestNewAPIKeyCleanupJob_DefaultInterval(t *testing.T) {
	j := NewAPIKeyCleanupJob(&fakeKeyCleaner{}, 0, 0)
	if j == nil {
		t.Fatal("NewAPIKeyCleanupJob returned nil")
	}
	if j.interval != time.Duration(DefaultCleanupIntervalHours)*time.Hour {
		t.Errorf("interval = %v, want %dh", j.interval, DefaultCleanupIntervalHours)
	}
	if j.retentionDays != DefaultCleanupRetentionDays {
		t.Errorf("retentionDays = %d, want %d", j.retentionDays, DefaultCleanupRetentionDays)
	}
}

func TestNewAPIKeyCleanupJob_NegativeValues_Default(t *testing.T) {
	j := NewAPIKeyCleanupJob(&fakeKeyCleaner{}, -1, -7)
	if j.interval != time.Duration(DefaultCleanupIntervalHours)*time.Hour {
		t.Errorf("interval = %v, want default", j.interval)
	}
	if j.retentionDays != DefaultCleanupRetentionDays {
		t.Errorf("retentionDays = %d, want default", j.retentionDays)
	}
}

func TestNewAPIKeyCleanupJob_CustomValues(t *testing.T) {
	j := NewAPIKeyCleanupJob(&fakeKeyCleaner{}, 6, 14)
	if j.interval != 6*time.Hour {
		t.Errorf("interval = %v, want 6h", j.interval)
	}
	if j.retentionDays != 14 {
		t.Errorf("retentionDays = %d, want 14", j.retentionDays)
	}
}

// ---------------------------------------------------------------------------
// Start / Stop
// ---------------------------------------------------------------------------

func TestAPIKeyCleanupJob_StartRunsImmediately(t *testing.T) {
	cleaner := &fakeKeyCleaner{deleted: 3}
	j := NewAPIKeyCleanupJob(cleaner, 1, 30)

	done := make(chan struct{})
	go func() {
		j.Start(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for cleaner.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("cleanup never ran after Start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	j.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestAPIKeyCleanupJob_ContextCancelStops(t *testing.T) {
	cleaner := &fakeKeyCleaner{}
	j := NewAPIKeyCleanupJob(cleaner, 1, 30)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancel")
	}
}

func TestAPIKeyCleanupJob_SweepErrorDoesNotStopLoop(t *testing.T) {
	cleaner := &fakeKeyCleaner{err: errors.New("db down")}
	j := NewAPIKeyCleanupJob(cleaner, 1, 30)

	done := make(chan struct{})
	go func() {
		j.Start(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for cleaner.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("cleanup never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The loop must still be alive after a failed sweep.
	j.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop following a sweep error")
	}
}
