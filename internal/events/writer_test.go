package events_test

import (
	"context"
	"testing"
	"time"

	"dochub/internal/db"
	"dochub/internal/events"
	"dochub/internal/migrate"
)

func TestAppendAndLatest(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	w := events.Writer{DB: conn, Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	ctx := context.Background()
	if err := w.Append(ctx, "task.created", "task-1", events.EventPayload{"name": "A"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(ctx, "task.created", "task-2", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(ctx, "task.completed", "task-1", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	all, err := w.Latest(ctx, 10, "", "")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(all) != 3 || all[0].Type != "task.completed" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	if all[2].Payload != `{"name":"A"}` || all[2].TS != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected first event %+v", all[2])
	}

	forTask, err := w.Latest(ctx, 0, "", "task-1")
	if err != nil || len(forTask) != 2 {
		t.Fatalf("expected 2 events for task-1, got %d (%v)", len(forTask), err)
	}
	created, err := w.Latest(ctx, 1, "task.created", "")
	if err != nil || len(created) != 1 || created[0].TaskID != "task-2" {
		t.Fatalf("unexpected filtered events %+v (%v)", created, err)
	}
}
