// Package coordinator runs named background jobs, such as the periodic
// expiry sweep of the secure store, and tracks their status.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ProcessStatus string

const (
	StatusRunning   ProcessStatus = "running"
	StatusIdle      ProcessStatus = "idle"
	StatusCompleted ProcessStatus = "completed"
	StatusFailed    ProcessStatus = "failed"
)

// Job is one run of a background process. The returned count is reported as
// the number of items processed.
type Job func(ctx context.Context) (int, error)

type Process struct {
	ID        string
	Status    ProcessStatus
	StartTime time.Time
	LastRun   time.Time
	Runs      int
	Processed int
	Error     error
	Cancel    context.CancelFunc
	ctx       context.Context
}

type Coordinator struct {
	mu              sync.RWMutex
	activeProcesses map[string]*Process
	shutdownCh      chan struct{}
	shutdownOnce    sync.Once
	wg              sync.WaitGroup
	logger          zerolog.Logger
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		activeProcesses: make(map[string]*Process),
		shutdownCh:      make(chan struct{}),
		logger:          log.With().Str("component", "coordinator").Logger(),
	}
}

// StartPeriodic runs job every interval until the process is stopped, ctx is
// canceled or the coordinator shuts down. The first run happens immediately.
func (c *Coordinator) StartPeriodic(ctx context.Context, processID string, interval time.Duration, job Job) (*Process, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("process %s: interval must be positive", processID)
	}
	process, err := c.register(ctx, processID, true)
	if err != nil {
		return nil, err
	}
	go c.loop(process, interval, job)

	c.logger.Info().Str("process", processID).Dur("interval", interval).Msg("Process started")
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot(process), nil
}

// register adds an idle process under processID. Background processes join
// the wait group before the lock is released so Shutdown waits for them.
func (c *Coordinator) register(ctx context.Context, processID string, background bool) (*Process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.IsShuttingDown() {
		return nil, fmt.Errorf("coordinator is shutting down")
	}
	if _, taken := c.activeProcesses[processID]; taken {
		return nil, fmt.Errorf("process %s already exists", processID)
	}

	pctx, cancel := context.WithCancel(ctx)
	p := &Process{
		ID:        processID,
		Status:    StatusIdle,
		StartTime: time.Now(),
		Cancel:    cancel,
		ctx:       pctx,
	}
	c.activeProcesses[processID] = p
	if background {
		c.wg.Add(1)
	}
	return p, nil
}

// RunOnce runs job synchronously under processID and records its outcome
func (c *Coordinator) RunOnce(ctx context.Context, processID string, job Job) (*Process, error) {
	process, err := c.register(ctx, processID, false)
	if err != nil {
		return nil, err
	}

	c.run(process, job)

	c.mu.Lock()
	process.Cancel()
	if process.Error == nil {
		process.Status = StatusCompleted
	}
	result := c.snapshot(process)
	delete(c.activeProcesses, processID)
	c.mu.Unlock()

	return result, result.Error
}

func (c *Coordinator) loop(p *Process, interval time.Duration, job Job) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.run(p, job)

		select {
		case <-ticker.C:
		case <-p.ctx.Done():
			c.finish(p)
			return
		case <-c.shutdownCh:
			c.finish(p)
			return
		}
	}
}

func (c *Coordinator) run(p *Process, job Job) {
	if p.ctx.Err() != nil {
		return
	}

	c.UpdateProcessStatus(p.ID, StatusRunning, nil)

	n, err := safeRun(p.ctx, job)

	c.mu.Lock()
	p.LastRun = time.Now()
	p.Runs++
	p.Processed += n
	p.Error = err
	if err != nil {
		p.Status = StatusFailed
	} else {
		p.Status = StatusIdle
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error().Err(err).Str("process", p.ID).Msg("Process run failed")
		return
	}
	c.logger.Debug().Str("process", p.ID).Int("processed", n).Msg("Process run completed")
}

func safeRun(ctx context.Context, job Job) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(ctx)
}

func (c *Coordinator) finish(p *Process) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Status != StatusFailed {
		p.Status = StatusCompleted
	}
}

func (c *Coordinator) StopProcess(processID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if process, exists := c.activeProcesses[processID]; exists {
		process.Cancel()
		delete(c.activeProcesses, processID)
		c.logger.Info().Str("process", processID).Msg("Process stopped")
	}
}

func (c *Coordinator) UpdateProcessStatus(processID string, status ProcessStatus, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if process, exists := c.activeProcesses[processID]; exists {
		process.Status = status
		process.Error = err
	}
}

func (c *Coordinator) GetProcessStatus(processID string) *Process {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if process, exists := c.activeProcesses[processID]; exists {
		return c.snapshot(process)
	}
	return nil
}

func (c *Coordinator) ListProcesses() []*Process {
	c.mu.RLock()
	defer c.mu.RUnlock()

	processes := make([]*Process, 0, len(c.activeProcesses))
	for _, process := range c.activeProcesses {
		processes = append(processes, c.snapshot(process))
	}
	return processes
}

// snapshot returns a copy without the cancel handle; the caller holds mu
func (c *Coordinator) snapshot(p *Process) *Process {
	return &Process{
		ID:        p.ID,
		Status:    p.Status,
		StartTime: p.StartTime,
		LastRun:   p.LastRun,
		Runs:      p.Runs,
		Processed: p.Processed,
		Error:     p.Error,
	}
}

func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		close(c.shutdownCh)
	})

	c.mu.Lock()
	for _, process := range c.activeProcesses {
		process.Cancel()
	}
	c.mu.Unlock()

	// Wait for all processes with timeout
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) IsShuttingDown() bool {
	select {
	case <-c.shutdownCh:
		return true
	default:
		return false
	}
}
