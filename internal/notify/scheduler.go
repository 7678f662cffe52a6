// Package notify keeps the single active user notification and its auto-dismiss timer.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"dochub/internal/domain"
)

const (
	DefaultDuration = 5 * time.Second
	DefaultFade     = 300 * time.Millisecond
)

// Options configure a Scheduler. A zero Duration falls back to DefaultDuration; a zero
// Fade removes the notification right after it is dismissed.
type Options struct {
	Duration time.Duration
	Fade     time.Duration
	Clock    clockwork.Clock
	Logger   *slog.Logger
	// OnDismiss runs once when a notification is retired by its timer or by Dismiss.
	// It does not run for a notification preempted by a newer Show.
	OnDismiss func(domain.Notification)
	// OnRemoved runs after the fade that follows a dismissal, unless a newer Show
	// lands during the fade.
	OnRemoved func(domain.Notification)
}

// Scheduler holds at most one active notification.
type Scheduler struct {
	mu       sync.Mutex
	opts     Options
	current  *domain.Notification
	timer    clockwork.Timer
	fade     clockwork.Timer
	gen      uint64
	shown    int
	retired  int
	preempts int
}

func New(opts Options) *Scheduler {
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	if opts.Fade < 0 {
		opts.Fade = 0
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With("component", "notify")
	return &Scheduler{opts: opts}
}

// Show replaces the active notification using the default duration.
func (s *Scheduler) Show(kind domain.NotificationKind, text string) domain.Notification {
	return s.ShowFor(kind, text, 0)
}

// ShowFor replaces the active notification and arms a new auto-dismiss timer of d.
// A non-positive d uses the configured duration.
func (s *Scheduler) ShowFor(kind domain.NotificationKind, text string, d time.Duration) domain.Notification {
	if d <= 0 {
		d = s.opts.Duration
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.timer.Stop()
		s.preempts++
	}
	if s.fade != nil {
		s.fade.Stop()
		s.fade = nil
	}
	s.gen++
	gen := s.gen
	n := domain.Notification{Kind: kind, Text: text, ExpiresAt: s.opts.Clock.Now().Add(d)}
	s.current = &n
	s.shown++
	s.timer = s.opts.Clock.AfterFunc(d, func() { s.expire(gen) })
	s.opts.Logger.Debug("notification shown", "kind", kind, "text", text, "duration", d)
	return n
}

// Dismiss clears the active notification and cancels its timer. It reports whether a
// notification was active.
func (s *Scheduler) Dismiss() bool {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return false
	}
	s.timer.Stop()
	n := s.retireLocked()
	s.mu.Unlock()
	s.afterRetire(n)
	return true
}

// Current returns the active notification, if any.
func (s *Scheduler) Current() (domain.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.Notification{}, false
	}
	return *s.current, true
}

// Stats reports how many notifications were shown, retired and preempted.
func (s *Scheduler) Stats() (shown, retired, preempted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shown, s.retired, s.preempts
}

func (s *Scheduler) expire(gen uint64) {
	s.mu.Lock()
	// a timer that lost the race with Show or Dismiss belongs to a retired generation
	if gen != s.gen || s.current == nil {
		s.mu.Unlock()
		return
	}
	n := s.retireLocked()
	s.mu.Unlock()
	s.afterRetire(n)
}

// retireLocked clears the active notification and arms its fade timer. The fade is
// armed before OnDismiss runs so removal never precedes dismissal.
func (s *Scheduler) retireLocked() domain.Notification {
	n := *s.current
	s.current = nil
	s.timer = nil
	s.gen++
	s.retired++
	if s.opts.OnRemoved != nil && s.opts.Fade > 0 {
		gen := s.gen
		s.fade = s.opts.Clock.AfterFunc(s.opts.Fade, func() { s.removed(gen, n) })
	}
	return n
}

func (s *Scheduler) afterRetire(n domain.Notification) {
	if s.opts.OnDismiss != nil {
		s.opts.OnDismiss(n)
	}
	if s.opts.OnRemoved != nil && s.opts.Fade == 0 {
		s.opts.OnRemoved(n)
	}
}

// removed fires at the end of a fade. A Show during the fade bumps gen and the stale
// removal is dropped.
func (s *Scheduler) removed(gen uint64, n domain.Notification) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.fade = nil
	s.mu.Unlock()
	s.opts.OnRemoved(n)
}
