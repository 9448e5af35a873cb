// Package dispatch runs non-critical side effects (cache writes, audit and
// moderation logs) on a background worker so they never block or fail a
// request.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/slot-ingest/internal/config"
)

// Func is a unit of background work.
type Func func(ctx context.Context) error

type task struct {
	name string
	fn   Func
}

// Dispatcher drains a buffered queue with a single worker goroutine.
type Dispatcher struct {
	ch           chan task
	done         chan struct{}
	taskTimeout  time.Duration
	drainTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	once   sync.Once

	dropped   atomic.Int64
	failed    atomic.Int64
	completed atomic.Int64
}

// New starts a dispatcher.
func New(cfg config.DispatchConfig) *Dispatcher {
	size := cfg.BufferSize
	if size <= 0 {
		size = 256
	}
	d := &Dispatcher{
		ch:           make(chan task, size),
		done:         make(chan struct{}),
		taskTimeout:  secondsOr(cfg.TaskTimeoutSecs, 10*time.Second),
		drainTimeout: secondsOr(cfg.DrainTimeoutSecs, 15*time.Second),
	}
	go d.loop()
	return d
}

// Submit queues fn. It never blocks: a full queue or a closed dispatcher
// drops the task and returns false.
func (d *Dispatcher) Submit(name string, fn Func) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		zap.L().Warn("dispatch: submit after close, task dropped", zap.String("task", name))
		d.dropped.Add(1)
		return false
	}

	select {
	case d.ch <- task{name: name, fn: fn}:
		return true
	default:
		zap.L().Warn("dispatch: queue full, task dropped",
			zap.String("task", name),
			zap.Int("capacity", cap(d.ch)),
		)
		d.dropped.Add(1)
		return false
	}
}

// Close stops intake and waits for queued tasks, up to the drain timeout.
func (d *Dispatcher) Close() error {
	var err error
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.ch)
		d.mu.Unlock()

		select {
		case <-d.done:
		case <-time.After(d.drainTimeout):
			err = eris.Errorf("dispatch: drain timed out after %s with %d tasks queued", d.drainTimeout, len(d.ch))
		}
	})
	return err
}

// Stats reports task counters.
func (d *Dispatcher) Stats() (completed, failed, dropped int64) {
	return d.completed.Load(), d.failed.Load(), d.dropped.Load()
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for t := range d.ch {
		d.run(t)
	}
}

func (d *Dispatcher) run(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.taskTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			zap.L().Error("dispatch: task panicked",
				zap.String("task", t.name),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	if err := t.fn(ctx); err != nil {
		d.failed.Add(1)
		zap.L().Error("dispatch: task failed",
			zap.String("task", t.name),
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)),
		)
		return
	}
	d.completed.Add(1)
}

func secondsOr(secs int, def time.Duration) time.Duration {
	if secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}
