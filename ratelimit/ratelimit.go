// Package ratelimit implements the sliding-window rate limiter of spec
// §4.7: a bounded in-memory counter with an optional queue and background
// drainer.
package ratelimit

import (
	"container/list"
	"sync"
	"time"

	"github.com/flowmind/orchestrator/core"
)

// Options configures a Limiter.
type Options struct {
	WindowMs     int
	MaxRequests  int
	QueueExcess  bool
	MaxQueueSize int
}

// DefaultOptions returns the spec's defaults: 1000ms window, queueing
// disabled, 100-entry queue cap.
func DefaultOptions() Options {
	return Options{WindowMs: 1000, MaxRequests: 10, QueueExcess: false, MaxQueueSize: 100}
}

// Stats reports the limiter's lifetime counters (spec §4.7).
type Stats struct {
	Allowed    int64
	Throttled  int64
	Queued     int64
	Rejected   int64
	QueueSize  int
	Remaining  int
}

type waiter struct {
	done chan error
}

// Limiter is a sliding-window request-rate limiter. acquire() either
// admits immediately, queues (if enabled and room remains), or rejects.
type Limiter struct {
	mu          sync.Mutex
	opts        Options
	logger      core.Logger
	timestamps  *list.List // time.Time, oldest first
	queue       *list.List // *waiter, oldest first
	allowed     int64
	throttled   int64
	queuedCount int64
	rejected    int64
	stopCh      chan struct{}
	stopped     bool
}

// New builds a Limiter and starts its background queue drainer.
func New(opts Options, logger core.Logger) *Limiter {
	if opts.WindowMs <= 0 {
		opts.WindowMs = 1000
	}
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = 10
	}
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = 100
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}

	l := &Limiter{
		opts:       opts,
		logger:     logger,
		timestamps: list.New(),
		queue:      list.New(),
		stopCh:     make(chan struct{}),
	}
	go l.drainLoop()
	return l
}

// Acquire admits the call at once when the window has room. Otherwise it
// rejects with "Rate limit exceeded", or, with QueueExcess, rejects with
// "Rate limit queue full" when the queue is full, or else blocks until the
// drainer admits it or Reset rejects it. It takes no context. Rejections
// are core.FrameworkError values of Kind "ValidationError".
func (l *Limiter) Acquire() error {
	l.mu.Lock()

	l.evictExpired(time.Now())

	if l.timestamps.Len() < l.opts.MaxRequests {
		l.timestamps.PushBack(time.Now())
		l.allowed++
		l.mu.Unlock()
		return nil
	}

	l.throttled++

	if !l.opts.QueueExcess {
		l.rejected++
		l.mu.Unlock()
		return core.NewValidationError("ratelimit.Acquire", "Rate limit exceeded")
	}

	if l.queue.Len() >= l.opts.MaxQueueSize {
		l.rejected++
		l.mu.Unlock()
		return core.NewValidationError("ratelimit.Acquire", "Rate limit queue full")
	}

	w := &waiter{done: make(chan error, 1)}
	l.queue.PushBack(w)
	l.queuedCount++
	l.mu.Unlock()

	return <-w.done
}

// evictExpired drops timestamps older than the window. Caller holds mu.
func (l *Limiter) evictExpired(now time.Time) {
	cutoff := now.Add(-time.Duration(l.opts.WindowMs) * time.Millisecond)
	for e := l.timestamps.Front(); e != nil; {
		next := e.Next()
		if e.Value.(time.Time).Before(cutoff) {
			l.timestamps.Remove(e)
		}
		e = next
	}
}

// drainLoop periodically admits queued waiters as window slots free up
// (spec §4.7: "a background drainer pops when slots free").
func (l *Limiter) drainLoop() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.drainOnce()
		}
	}
}

func (l *Limiter) drainOnce() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictExpired(time.Now())

	for l.timestamps.Len() < l.opts.MaxRequests && l.queue.Len() > 0 {
		front := l.queue.Front()
		l.queue.Remove(front)
		l.timestamps.PushBack(time.Now())
		l.allowed++
		front.Value.(*waiter).done <- nil
	}
}

// Reset rejects every queued waiter with "Rate limiter reset" and clears
// the window.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for e := l.queue.Front(); e != nil; e = e.Next() {
		e.Value.(*waiter).done <- core.NewValidationError("ratelimit.Reset", "Rate limiter reset")
	}
	l.queue.Init()
	l.timestamps.Init()
}

// Stop terminates the background drainer. Safe to call more than once;
// later calls do nothing.
func (l *Limiter) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()
	close(l.stopCh)
}

// Stats returns a snapshot of the limiter's counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictExpired(time.Now())
	remaining := l.opts.MaxRequests - l.timestamps.Len()
	if remaining < 0 {
		remaining = 0
	}

	return Stats{
		Allowed:   l.allowed,
		Throttled: l.throttled,
		Queued:    l.queuedCount,
		Rejected:  l.rejected,
		QueueSize: l.queue.Len(),
		Remaining: remaining,
	}
}
