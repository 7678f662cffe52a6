package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dochub/internal/domain"
)

func TestRunCompletesOnceAfterLatency(t *testing.T) {
	c := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	sim := New(3*time.Second, c, nil)

	var started, completed []string
	h := sim.Run(domain.Task{ID: "task-1"}, Hooks{
		Started:   func(id string) { started = append(started, id) },
		Completed: func(id string) { completed = append(completed, id) },
	})
	require.Equal(t, []string{"task-1"}, started, "start hook runs before Run returns")
	assert.Empty(t, completed)
	assert.Equal(t, h.StartedAt.Add(3*time.Second), h.Deadline)

	c.Advance(2 * time.Second)
	select {
	case <-h.Done():
		t.Fatalf("completed before latency elapsed")
	default:
	}

	c.Advance(time.Second)
	require.NoError(t, waitDone(h))
	assert.Equal(t, []string{"task-1"}, completed)

	c.Advance(time.Hour)
	assert.Len(t, completed, 1)
}

func TestWaitReturnsOnContextWithoutCancellingRun(t *testing.T) {
	c := clockwork.NewFakeClockAt(time.Unix(0, 0))
	sim := New(time.Second, c, nil)
	fired := 0
	h := sim.Run(domain.Task{ID: "t"}, Hooks{Completed: func(string) { fired++ }})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.Wait(ctx), context.Canceled)

	c.Advance(time.Second)
	require.NoError(t, waitDone(h))
	assert.Equal(t, 1, fired)
}

func TestPanickingHookStillClosesDone(t *testing.T) {
	c := clockwork.NewFakeClockAt(time.Unix(0, 0))
	sim := New(0, c, nil)
	h := sim.Run(domain.Task{ID: "t"}, Hooks{Completed: func(string) { panic("boom") }})
	c.Advance(0)
	require.NoError(t, waitDone(h), "done must close even when the hook panics")
}

func waitDone(h *Handle) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return h.Wait(ctx)
}

func TestRealClockRun(t *testing.T) {
	sim := New(5*time.Millisecond, nil, nil)
	done := make(chan string, 1)
	h := sim.Run(domain.Task{ID: "real"}, Hooks{Completed: func(id string) { done <- id }})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))
	assert.Equal(t, "real", <-done)
}
