// Package coordinator serialises graph builds. One build runs at a time per
// process (optionally per cluster, through a Lease). Builds can be run
// blocking, or started in the background and polled by namespace.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/54b3r/graphchat-go/internal/graph/build"
	"github.com/54b3r/graphchat-go/internal/logging"
)

// ErrBusy is returned when another build holds the build lock.
var ErrBusy = errors.New("build already in progress")

// BuildFunc performs one graph build.
type BuildFunc func(ctx context.Context) (*build.Output, error)

// Status is the lifecycle state of a background task.
type Status string

const (
	// StatusRunning means the worker has not finished.
	StatusRunning Status = "running"
	// StatusDone means Result or Error is set.
	StatusDone Status = "done"
)

// Task is the record of a background build for one namespace.
type Task struct {
	Status     Status        `json:"status"`
	Result     *build.Output `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitzero"`
}

// StartResult is the outcome of Start.
type StartResult int

const (
	// StartStarted means a worker was launched.
	StartStarted StartResult = iota
	// StartRunning means a task for the namespace is still running.
	StartRunning
	// StartBusy means another namespace holds the build lock.
	StartBusy
	// StartFailed means the lock could not be taken for a reason other than
	// contention, such as an unreachable lease backend.
	StartFailed
)

func (r StartResult) String() string {
	switch r {
	case StartStarted:
		return "started"
	case StartRunning:
		return "running"
	case StartBusy:
		return "busy"
	case StartFailed:
		return "failed"
	default:
		return fmt.Sprintf("StartResult(%d)", int(r))
	}
}

// DefaultLeaseTTL bounds how long a crashed process can hold a cluster lease.
const DefaultLeaseTTL = 2 * time.Minute

// leaseKey is the single cluster-wide build key, mirroring the process lock.
const leaseKey = "graph-build"

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLease adds a cross-process lease acquired after the in-process lock.
func WithLease(l Lease, ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.lease = l
		if ttl > 0 {
			c.leaseTTL = ttl
		}
	}
}

// Coordinator owns the build lock and the background task table.
type Coordinator struct {
	build sync.Mutex

	mu    sync.Mutex
	tasks map[string]*Task

	lease    Lease
	leaseTTL time.Duration
}

// New returns a Coordinator with no tasks.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		tasks:    make(map[string]*Task),
		leaseTTL: DefaultLeaseTTL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// acquire takes the process lock and, when configured, the cluster lease.
// The returned func releases both.
func (c *Coordinator) acquire(ctx context.Context) (func(), bool, error) {
	if !c.build.TryLock() {
		return nil, false, nil
	}
	if c.lease == nil {
		return c.build.Unlock, true, nil
	}

	token, err := c.lease.Acquire(ctx, leaseKey, c.leaseTTL)
	if err != nil {
		c.build.Unlock()
		if errors.Is(err, ErrBusy) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("coordinator: acquire lease: %w", err)
	}

	stop := make(chan struct{})
	go c.keepAlive(ctx, token, stop)

	return func() {
		close(stop)
		if err := c.lease.Release(ctx, leaseKey, token); err != nil {
			logging.FromContext(ctx).Warn("coordinator: lease release failed", slog.Any("error", err))
		}
		c.build.Unlock()
	}, true, nil
}

// keepAlive renews the lease at a third of its TTL until stop is closed.
func (c *Coordinator) keepAlive(ctx context.Context, token string, stop <-chan struct{}) {
	t := time.NewTicker(c.leaseTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			err := c.lease.Renew(ctx, leaseKey, token, c.leaseTTL)
			if errors.Is(err, errLeaseLost) {
				logging.FromContext(ctx).Error("coordinator: build lease lost, build continues without cluster exclusion")
				return
			}
			if err != nil {
				logging.FromContext(ctx).Warn("coordinator: lease renew failed", slog.Any("error", err))
			}
		}
	}
}

// invoke runs fn, converting a panic into an error.
func invoke(ctx context.Context, fn BuildFunc) (out *build.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx).Error("coordinator: build panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			out, err = nil, fmt.Errorf("coordinator: build panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Run executes fn while holding the build lock and waits for it. ErrBusy is
// returned without running fn when the lock is held. fn gets a context that
// keeps ctx values but not its cancellation, so a disconnecting caller does
// not abort the build; in that case Run returns ctx.Err() and the build
// finishes in the background.
func (c *Coordinator) Run(ctx context.Context, ns string, fn BuildFunc) (*build.Output, error) {
	log := logging.FromContext(ctx)

	bctx := context.WithoutCancel(ctx)
	release, ok, err := c.acquire(bctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Info("coordinator: build rejected, lock held", slog.String("namespace", ns))
		return nil, ErrBusy
	}

	type result struct {
		out *build.Output
		err error
	}
	done := make(chan result, 1)

	go func() {
		start := time.Now()
		out, err := invoke(bctx, fn)
		release()
		log.Info("coordinator: build finished",
			slog.String("namespace", ns),
			slog.Duration("duration", time.Since(start)),
			slog.Bool("ok", err == nil),
		)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start launches fn in the background for ns. The running task record exists
// before Start returns StartStarted. err is set only with StartFailed.
func (c *Coordinator) Start(ctx context.Context, ns string, fn BuildFunc) (StartResult, error) {
	log := logging.FromContext(ctx)

	if c.running(ns) {
		return StartRunning, nil
	}

	bctx := context.WithoutCancel(ctx)
	release, ok, err := c.acquire(bctx)
	if err != nil {
		log.Error("coordinator: start failed", slog.String("namespace", ns), slog.Any("error", err))
		return StartFailed, err
	}
	if !ok {
		return StartBusy, nil
	}

	c.mu.Lock()
	if t, ok := c.tasks[ns]; ok && t.Status == StatusRunning {
		c.mu.Unlock()
		release()
		return StartRunning, nil
	}
	task := &Task{Status: StatusRunning, StartedAt: time.Now()}
	c.tasks[ns] = task
	c.mu.Unlock()

	go func() {
		out, err := invoke(bctx, fn)

		c.mu.Lock()
		task.Status = StatusDone
		task.FinishedAt = time.Now()
		if err != nil {
			task.Error = err.Error()
		} else {
			task.Result = out
		}
		c.mu.Unlock()

		release()

		log.Info("coordinator: background build finished",
			slog.String("namespace", ns),
			slog.Duration("duration", task.FinishedAt.Sub(task.StartedAt)),
			slog.Bool("ok", err == nil),
		)
	}()

	log.Info("coordinator: background build started", slog.String("namespace", ns))
	return StartStarted, nil
}

func (c *Coordinator) running(ns string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[ns]
	return ok && t.Status == StatusRunning
}

// Poll returns the task for ns. A running task stays recorded; a finished
// task is returned once and then forgotten. ok is false when no task exists.
func (c *Coordinator) Poll(ns string) (Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[ns]
	if !ok {
		return Task{}, false
	}
	if t.Status == StatusDone {
		delete(c.tasks, ns)
	}
	return *t, true
}
