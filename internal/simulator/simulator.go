// Package simulator stands in for an analysis backend: a run completes after a fixed
// latency and cannot be cancelled once started.
package simulator

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"dochub/internal/domain"
)

const DefaultLatency = 3 * time.Second

// Hooks receive the lifecycle of a run. Started runs before Run returns; Completed runs
// exactly once when the latency elapses.
type Hooks struct {
	Started   func(taskID string)
	Completed func(taskID string)
}

type Simulator struct {
	Latency time.Duration
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

func New(latency time.Duration, c clockwork.Clock, logger *slog.Logger) *Simulator {
	if latency < 0 {
		latency = DefaultLatency
	}
	if c == nil {
		c = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{Latency: latency, Clock: c, Logger: logger.With("component", "simulator")}
}

// Handle tracks one in-flight run.
type Handle struct {
	TaskID    string
	StartedAt time.Time
	Deadline  time.Time

	once sync.Once
	done chan struct{}
}

// Done is closed after the completion hook has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run completes or ctx ends. Ending ctx stops the wait only;
// the run still completes.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts processing task asynchronously and returns immediately.
func (s *Simulator) Run(task domain.Task, hooks Hooks) *Handle {
	now := s.Clock.Now()
	h := &Handle{
		TaskID:    task.ID,
		StartedAt: now,
		Deadline:  now.Add(s.Latency),
		done:      make(chan struct{}),
	}
	s.Logger.Info("analysis started", "task_id", task.ID, "bulk_files", len(task.BulkFiles), "latency", s.Latency)
	if hooks.Started != nil {
		hooks.Started(task.ID)
	}
	s.Clock.AfterFunc(s.Latency, func() { s.complete(h, hooks.Completed) })
	return h
}

func (s *Simulator) complete(h *Handle, completed func(string)) {
	h.once.Do(func() {
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				s.Logger.Error("completion hook panicked", "task_id", h.TaskID, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		if completed != nil {
			completed(h.TaskID)
		}
		s.Logger.Info("analysis completed", "task_id", h.TaskID)
	})
}
