package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"dochub/internal/config"
	"dochub/internal/db"
	"dochub/internal/domain"
	"dochub/internal/engine"
)

func testConfig(driver string) *config.Config {
	cfg := config.Default()
	cfg.Storage.Driver = driver
	return cfg
}

func openTestApp(t *testing.T, dir string, cfg *config.Config, c clockwork.Clock) *App {
	t.Helper()
	a, err := Open(context.Background(), Options{Workspace: dir, Config: cfg, Clock: c})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func addScenarioFiles(a *App) {
	pdf := func(name string, size int64) domain.FileRef {
		return domain.FileRef{Name: name, Size: size, MimeType: domain.PDFMimeType}
	}
	a.Buffer.AddBulk(pdf("a.pdf", 100000), pdf("b.pdf", 200000))
	a.Buffer.SetFresh(pdf("c.pdf", 300000))
}

func TestOpenSQLiteWorkspacePersistsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	c := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	a := openTestApp(t, dir, testConfig("sqlite"), c)
	if !a.Seeded {
		t.Fatalf("expected seed tasks on a fresh workspace")
	}
	addScenarioFiles(a)
	task, err := a.Engine.CreateTask(ctx, a.Buffer, engine.CreateOptions{Name: "Quarterly"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".dochub", "dochub.db")); err != nil {
		t.Fatalf("expected db file: %v", err)
	}

	b := openTestApp(t, dir, testConfig("sqlite"), c)
	if b.Seeded {
		t.Fatalf("expected stored tasks on reopen")
	}
	tasks := b.Engine.Tasks()
	if len(tasks) != 3 || tasks[0].ID != task.ID {
		t.Fatalf("unexpected tasks after reopen: %+v", tasks)
	}
	evts, err := b.Events(ctx, 10, "task.created", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 1 || evts[0].TaskID != task.ID {
		t.Fatalf("unexpected events %+v", evts)
	}
}

func TestOpenFileWorkspace(t *testing.T) {
	dir := t.TempDir()
	c := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	a := openTestApp(t, dir, testConfig("file"), c)
	addScenarioFiles(a)
	if _, err := a.Engine.CreateTask(context.Background(), a.Buffer, engine.CreateOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(db.StateDir(dir), "documentTasks.json"))
	if err != nil {
		t.Fatalf("read slot file: %v", err)
	}
	if len(data) == 0 || data[0] != '[' {
		t.Fatalf("expected a JSON array, got %q", data)
	}
	if _, err := a.Events(context.Background(), 5, "", ""); !errors.Is(err, ErrNoJournal) {
		t.Fatalf("expected ErrNoJournal, got %v", err)
	}
}

func TestOpenMemoryWorkspaceRunsAnalysis(t *testing.T) {
	c := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	cfg := testConfig("memory")
	cfg.Seed.Enabled = false
	a := openTestApp(t, t.TempDir(), cfg, c)
	if a.Seeded || len(a.Engine.Tasks()) != 0 {
		t.Fatalf("seed disabled, expected empty store")
	}
	addScenarioFiles(a)
	task, err := a.Engine.CreateTask(context.Background(), a.Buffer, engine.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	a.Engine.SelectTask(task.ID)
	h, err := a.Engine.StartProcessing(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	c.Advance(cfg.Processing.Latency)
	<-h.Done()
	got, _ := a.Engine.Task(task.ID)
	if got.Status != domain.TaskCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Workspace: t.TempDir(), Config: testConfig("redis")})
	if err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestConcurrentSessionsShareOneWorkspace(t *testing.T) {
	dir := t.TempDir()
	c := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()
	cfg := testConfig("sqlite")
	cfg.Seed.Enabled = false

	// session A starts a run and keeps it in flight
	a := openTestApp(t, dir, cfg, c)
	addScenarioFiles(a)
	taskA, err := a.Engine.CreateTask(ctx, a.Buffer, engine.CreateOptions{Name: "A"})
	if err != nil {
		t.Fatal(err)
	}
	a.Engine.SelectTask(taskA.ID)
	h, err := a.Engine.StartProcessing(ctx, taskA.ID)
	if err != nil {
		t.Fatal(err)
	}

	// session B opens the same workspace while A is running
	b := openTestApp(t, dir, cfg, c)
	if got, _ := b.Engine.Task(taskA.ID); got.Status != domain.TaskProcessing {
		t.Fatalf("a live run in another session must not be reset, got %s", got.Status)
	}
	c.Advance(time.Second)
	addScenarioFiles(b)
	taskB, err := b.Engine.CreateTask(ctx, b.Buffer, engine.CreateOptions{Name: "B"})
	if err != nil {
		t.Fatal(err)
	}
	b.Engine.SelectTask(taskB.ID)
	if _, err := b.Engine.StartProcessing(ctx, taskB.ID); !errors.Is(err, domain.ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing across sessions, got %v", err)
	}

	c.Advance(cfg.Processing.Latency)
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not complete")
	}

	reopened := openTestApp(t, dir, cfg, c)
	tasks := reopened.Engine.Tasks()
	if len(tasks) != 2 || tasks[0].ID != taskB.ID || tasks[1].ID != taskA.ID {
		t.Fatalf("a concurrent session lost a task: %+v", tasks)
	}
	if tasks[1].Status != domain.TaskCompleted || tasks[0].Status != domain.TaskCreated {
		t.Fatalf("unexpected statuses A=%s B=%s", tasks[1].Status, tasks[0].Status)
	}

	// the finished run released the lease, so B may now start
	h, err = b.Engine.StartProcessing(ctx, taskB.ID)
	if err != nil {
		t.Fatalf("start after the other run finished: %v", err)
	}
	c.Advance(cfg.Processing.Latency)
	<-h.Done()
}
