package notify

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dochub/internal/domain"
)

type recorder struct {
	dismissed chan domain.Notification
	removed   chan domain.Notification
}

func newTestScheduler(t *testing.T) (*Scheduler, clockwork.FakeClock, recorder) {
	t.Helper()
	c := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := recorder{
		dismissed: make(chan domain.Notification, 8),
		removed:   make(chan domain.Notification, 8),
	}
	s := New(Options{
		Duration:  5 * time.Second,
		Fade:      300 * time.Millisecond,
		Clock:     c,
		OnDismiss: func(n domain.Notification) { rec.dismissed <- n },
		OnRemoved: func(n domain.Notification) { rec.removed <- n },
	})
	return s, c, rec
}

// next waits for a callback; timer callbacks of the fake clock run on their own goroutine.
func next(t *testing.T, ch <-chan domain.Notification) domain.Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification callback")
	}
	return domain.Notification{}
}

func TestShowExpiresAfterDuration(t *testing.T) {
	s, c, rec := newTestScheduler(t)

	n := s.Show(domain.NotifySuccess, "saved")
	assert.Equal(t, c.Now().Add(5*time.Second), n.ExpiresAt)

	c.Advance(4999 * time.Millisecond)
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "saved", cur.Text)

	c.Advance(time.Millisecond)
	assert.Equal(t, "saved", next(t, rec.dismissed).Text)
	_, ok = s.Current()
	assert.False(t, ok)
	assert.Empty(t, rec.removed, "removal waits for the fade")

	c.Advance(300 * time.Millisecond)
	assert.Equal(t, "saved", next(t, rec.removed).Text)
}

func TestShowPreemptsWithoutDismissEvent(t *testing.T) {
	s, c, rec := newTestScheduler(t)

	s.Show(domain.NotifyInfo, "first")
	c.Advance(3 * time.Second)
	s.Show(domain.NotifyError, "second")

	// the first timer would have fired here
	c.Advance(2 * time.Second)
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "second", cur.Text)
	assert.Empty(t, rec.dismissed)

	c.Advance(3 * time.Second)
	assert.Equal(t, "second", next(t, rec.dismissed).Text)
	_, ok = s.Current()
	assert.False(t, ok)

	shown, retired, preempted := s.Stats()
	assert.Equal(t, 2, shown)
	assert.Equal(t, 1, retired)
	assert.Equal(t, 1, preempted)
}

func TestDismissCancelsTimer(t *testing.T) {
	s, c, rec := newTestScheduler(t)

	assert.False(t, s.Dismiss(), "nothing to dismiss yet")
	s.ShowFor(domain.NotifyWarning, "careful", time.Second)
	require.True(t, s.Dismiss())
	_, ok := s.Current()
	assert.False(t, ok)
	assert.Equal(t, "careful", next(t, rec.dismissed).Text)

	c.Advance(10 * time.Second)
	assert.Equal(t, "careful", next(t, rec.removed).Text)
	assert.Empty(t, rec.dismissed, "the cancelled timer must not dismiss again")
}

func TestShowDuringFadeDropsStaleRemoval(t *testing.T) {
	s, c, rec := newTestScheduler(t)

	s.Show(domain.NotifyInfo, "first")
	require.True(t, s.Dismiss())
	next(t, rec.dismissed)

	// a new notification lands while the first is still fading out
	s.Show(domain.NotifySuccess, "second")
	c.Advance(300 * time.Millisecond)
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "second", cur.Text)

	c.Advance(5 * time.Second)
	assert.Equal(t, "second", next(t, rec.dismissed).Text)
	c.Advance(300 * time.Millisecond)
	assert.Equal(t, "second", next(t, rec.removed).Text, "the first fade must not remove anything")
	assert.Empty(t, rec.removed)
}

func TestDefaultDuration(t *testing.T) {
	c := clockwork.NewFakeClockAt(time.Unix(0, 0))
	s := New(Options{Clock: c})
	n := s.Show(domain.NotifyInfo, "hello")
	assert.Equal(t, time.Unix(0, 0).Add(DefaultDuration), n.ExpiresAt)
}
