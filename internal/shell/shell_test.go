package shell

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dochub/internal/app"
	"dochub/internal/config"
	"dochub/internal/domain"
)

type shellEnv struct {
	shell *Shell
	app   *app.App
	clock clockwork.FakeClock
	out   *bytes.Buffer
	dir   string
}

func newShellEnv(t *testing.T) shellEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.Seed.Enabled = false
	c := clockwork.NewFakeClockAt(time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC))
	a, err := app.Open(context.Background(), app.Options{Workspace: t.TempDir(), Config: cfg, Clock: c})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	var out bytes.Buffer
	return shellEnv{shell: New(a, &out), app: a, clock: c, out: &out, dir: t.TempDir()}
}

func (e shellEnv) file(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func (e shellEnv) exec(t *testing.T, line string) string {
	t.Helper()
	e.out.Reset()
	require.NoError(t, e.shell.Exec(context.Background(), line), line)
	return e.out.String()
}

const pdfBody = "%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF\n"

func TestShellCreateAndAnalyze(t *testing.T) {
	env := newShellEnv(t)
	a := env.file(t, "a.pdf", pdfBody)
	b := env.file(t, "b.pdf", pdfBody)
	notes := env.file(t, "notes.txt", "plain text\n")
	fresh := env.file(t, "draft.pdf", pdfBody)

	out := env.exec(t, "add-bulk "+a+" "+notes+" "+b)
	assert.Contains(t, out, "added 2 of 3")
	assert.Contains(t, out, "skipped 1 non-PDF")

	out = env.exec(t, "gates")
	assert.Contains(t, out, "can create: false")

	env.exec(t, "fresh "+fresh)
	env.exec(t, "persona Legal Analyst")
	out = env.exec(t, "create Contract Review")
	assert.Contains(t, out, "created task-")
	assert.Contains(t, out, `[success] Task "Contract Review" created successfully!`)

	tasks := env.app.Engine.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "Legal Analyst", tasks[0].Persona)
	assert.Len(t, tasks[0].BulkFiles, 2)

	out = env.exec(t, "files")
	assert.NotContains(t, out, "a.pdf", "selection is cleared after create")

	id := tasks[0].ID
	assert.Contains(t, env.exec(t, "select "+id), "selected "+id)
	out = env.exec(t, "start")
	assert.Contains(t, out, "[info] Starting analysis")

	out = env.exec(t, "list")
	assert.Contains(t, out, string(domain.TaskProcessing))

	_, h, ok := env.app.Engine.Processing()
	require.True(t, ok)
	env.clock.Advance(config.Default().Processing.Latency)
	out = env.exec(t, "wait")
	assert.Contains(t, out, "analysis of "+id+" finished")
	assert.Contains(t, out, "[success] Analysis completed")
	select {
	case <-h.Done():
	default:
		t.Fatal("wait returned before the run completed")
	}
	out = env.exec(t, "list")
	assert.Contains(t, out, string(domain.TaskCompleted))
}

func TestShellReportsRejections(t *testing.T) {
	env := newShellEnv(t)

	env.out.Reset()
	err := env.shell.Exec(context.Background(), "create")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, env.out.String(), "[error] Please upload at least one bulk PDF file.")

	env.out.Reset()
	err = env.shell.Exec(context.Background(), "start")
	assert.ErrorIs(t, err, domain.ErrNotSelected)

	assert.Contains(t, env.exec(t, "notice"), "Please select a task")
	env.exec(t, "dismiss")
	assert.Contains(t, env.exec(t, "notice"), "no notification")

	err = env.shell.Exec(context.Background(), "frobnicate")
	assert.ErrorContains(t, err, "unknown command")
}

func TestShellRemoveBulkAndToggleSelection(t *testing.T) {
	env := newShellEnv(t)
	env.exec(t, "add-bulk "+env.file(t, "a.pdf", pdfBody)+" "+env.file(t, "b.pdf", pdfBody))
	env.exec(t, "remove-bulk 1")
	snap := env.app.Buffer.Snapshot()
	require.Len(t, snap.Bulk, 1)
	assert.Equal(t, "b.pdf", snap.Bulk[0].Name)
	assert.Contains(t, env.exec(t, "remove-bulk 5"), "no bulk entry 5")

	env.exec(t, "select task-9")
	assert.Contains(t, env.exec(t, "select task-9"), "selection cleared")
}

func TestShellRunStopsAtQuit(t *testing.T) {
	env := newShellEnv(t)
	script := strings.Join([]string{"help", "bogus", "quit", "list"}, "\n")
	require.NoError(t, env.shell.Run(context.Background(), strings.NewReader(script)))
	out := env.out.String()
	assert.Contains(t, out, "add-bulk <path>...")
	assert.Contains(t, out, `error: unknown command "bogus"`)
	assert.NotContains(t, out, "+--", "commands after quit are not run")
}
