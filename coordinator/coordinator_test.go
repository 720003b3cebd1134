package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartPeriodicRunsRepeatedly(t *testing.T) {
	c := NewCoordinator()
	defer c.Shutdown(context.Background())

	var runs atomic.Int32
	_, err := c.StartPeriodic(context.Background(), "sweep", 10*time.Millisecond, func(ctx context.Context) (int, error) {
		runs.Add(1)
		return 2, nil
	})
	if err != nil {
		t.Fatalf("StartPeriodic failed: %v", err)
	}

	waitFor(t, func() bool {
		p := c.GetProcessStatus("sweep")
		return p != nil && p.Runs >= 3
	})

	p := c.GetProcessStatus("sweep")
	if runs.Load() < 3 {
		t.Errorf("job ran %d times", runs.Load())
	}
	if p.Runs < 3 || p.Processed < 6 {
		t.Errorf("unexpected counters: runs=%d processed=%d", p.Runs, p.Processed)
	}
	if p.Cancel != nil {
		t.Error("status snapshot must not expose the cancel func")
	}
}

func TestDuplicateProcessRejected(t *testing.T) {
	c := NewCoordinator()
	defer c.Shutdown(context.Background())

	noop := func(context.Context) (int, error) { return 0, nil }
	if _, err := c.StartPeriodic(context.Background(), "sweep", time.Hour, noop); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	_, err := c.StartPeriodic(context.Background(), "sweep", time.Hour, noop)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("expected already exists error, got %v", err)
	}

	if _, err := c.StartPeriodic(context.Background(), "bad", 0, noop); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestFailedRunIsRecorded(t *testing.T) {
	c := NewCoordinator()
	defer c.Shutdown(context.Background())

	boom := errors.New("boom")
	_, err := c.StartPeriodic(context.Background(), "failing", time.Hour, func(context.Context) (int, error) {
		return 0, boom
	})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		p := c.GetProcessStatus("failing")
		return p != nil && p.Status == StatusFailed
	})
	if p := c.GetProcessStatus("failing"); !errors.Is(p.Error, boom) {
		t.Errorf("expected boom, got %v", p.Error)
	}
}

func TestRunOnce(t *testing.T) {
	c := NewCoordinator()

	p, err := c.RunOnce(context.Background(), "purge", func(context.Context) (int, error) {
		return 4, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != StatusCompleted || p.Processed != 4 {
		t.Errorf("unexpected result: %+v", p)
	}
	if c.GetProcessStatus("purge") != nil {
		t.Error("one-shot process should not stay listed")
	}

	_, err = c.RunOnce(context.Background(), "panic", func(context.Context) (int, error) {
		panic("bad job")
	})
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Errorf("expected panic to be reported, got %v", err)
	}
}

func TestStopAndShutdown(t *testing.T) {
	c := NewCoordinator()
	noop := func(context.Context) (int, error) { return 0, nil }

	for _, id := range []string{"a", "b"} {
		if _, err := c.StartPeriodic(context.Background(), id, time.Hour, noop); err != nil {
			t.Fatal(err)
		}
	}
	c.StopProcess("a")
	if got := len(c.ListProcesses()); got != 1 {
		t.Errorf("expected 1 process after stop, got %d", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !c.IsShuttingDown() {
		t.Error("expected shutting down")
	}
	if err := c.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown failed: %v", err)
	}
	if _, err := c.StartPeriodic(context.Background(), "late", time.Hour, noop); err == nil {
		t.Error("expected start after shutdown to fail")
	}
}
