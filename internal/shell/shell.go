// Package shell is the interactive front end: it keeps the pending file selection
// across commands and renders the task store state after each one.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"dochub/internal/app"
	"dochub/internal/domain"
	"dochub/internal/engine"
	"dochub/internal/selection"
)

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("quit")

type command struct {
	usage string
	help  string
	run   func(s *Shell, ctx context.Context, args []string, rest string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"add-bulk":    {"add-bulk <path>...", "add PDF files to the bulk list", (*Shell).addBulk},
		"remove-bulk": {"remove-bulk <n>", "remove bulk entry n (as numbered by files)", (*Shell).removeBulk},
		"fresh":       {"fresh <path>", "set the fresh PDF file", (*Shell).setFresh},
		"files":       {"files", "show the pending selection", (*Shell).files},
		"clear":       {"clear", "drop the pending selection", (*Shell).clear},
		"persona":     {"persona [text]", "set the persona for the next task", (*Shell).setPersona},
		"job":         {"job [text]", "set the job to be done for the next task", (*Shell).setJob},
		"create":      {"create [name]", "create a task from the pending selection", (*Shell).create},
		"list":        {"list", "list tasks, newest first", (*Shell).list},
		"select":      {"select <id>", "select a task; selecting it again clears the selection", (*Shell).selectTask},
		"start":       {"start [id]", "start analysis of the selected task", (*Shell).start},
		"wait":        {"wait", "block until the running analysis completes", (*Shell).wait},
		"gates":       {"gates", "show whether create and start are allowed", (*Shell).gates},
		"notice":      {"notice", "show the active notification", (*Shell).notice},
		"dismiss":     {"dismiss", "dismiss the active notification", (*Shell).dismiss},
		"help":        {"help", "show commands", (*Shell).help},
		"quit":        {"quit", "leave the shell", func(*Shell, context.Context, []string, string) error { return ErrQuit }},
	}
	commands["exit"] = commands["quit"]
}

// Shell runs commands against one opened workspace.
type Shell struct {
	app     *app.App
	out     io.Writer
	prompt  string
	pending engine.CreateOptions
	seen    domain.Notification
}

func New(a *app.App, out io.Writer) *Shell {
	return &Shell{app: a, out: out, prompt: "dh> "}
}

// Run reads commands from in until EOF or quit. Command errors are printed and the
// session continues.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	fmt.Fprint(s.out, s.prompt)
	for sc.Scan() {
		err := s.Exec(ctx, sc.Text())
		if errors.Is(err, ErrQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(s.out, "error:", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(s.out, s.prompt)
	}
	return sc.Err()
}

// Exec runs a single command line and then prints any notification it raised.
func (s *Shell) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	cmd, ok := commands[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", name)
	}
	err := cmd.run(s, ctx, strings.Fields(rest), rest)
	s.flushNotice()
	return err
}

// flushNotice prints the active notification once.
func (s *Shell) flushNotice() {
	n, ok := s.app.Notices.Current()
	if !ok || n == s.seen {
		return
	}
	s.seen = n
	fmt.Fprintf(s.out, "[%s] %s\n", n.Kind, n.Text)
}

func (s *Shell) addBulk(_ context.Context, args []string, _ string) error {
	if len(args) == 0 {
		return errors.New("usage: " + commands["add-bulk"].usage)
	}
	refs, err := selection.FromPaths(args...)
	if err != nil {
		return err
	}
	added := s.app.Buffer.AddBulk(refs...)
	fmt.Fprintf(s.out, "added %d of %d file(s) to bulk\n", added, len(refs))
	if skipped := len(refs) - added; skipped > 0 {
		fmt.Fprintf(s.out, "skipped %d non-PDF file(s)\n", skipped)
	}
	return nil
}

func (s *Shell) removeBulk(_ context.Context, args []string, _ string) error {
	if len(args) != 1 {
		return errors.New("usage: " + commands["remove-bulk"].usage)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid index %q", args[0])
	}
	if !s.app.Buffer.RemoveBulk(n - 1) {
		fmt.Fprintf(s.out, "no bulk entry %d\n", n)
	}
	return nil
}

func (s *Shell) setFresh(_ context.Context, args []string, _ string) error {
	if len(args) == 0 {
		return errors.New("usage: " + commands["fresh"].usage)
	}
	refs, err := selection.FromPaths(args...)
	if err != nil {
		return err
	}
	if !s.app.Buffer.SetFresh(refs...) {
		fmt.Fprintln(s.out, "no PDF given; fresh file cleared")
		return nil
	}
	fmt.Fprintf(s.out, "fresh file set to %s\n", s.app.Buffer.Snapshot().Fresh.Name)
	return nil
}

func (s *Shell) files(context.Context, []string, string) error {
	snap := s.app.Buffer.Snapshot()
	RenderFiles(s.out, snap.Bulk, snap.Fresh)
	return nil
}

func (s *Shell) clear(context.Context, []string, string) error {
	s.app.Buffer.Clear()
	return nil
}

func (s *Shell) setPersona(_ context.Context, _ []string, rest string) error {
	s.pending.Persona = rest
	return nil
}

func (s *Shell) setJob(_ context.Context, _ []string, rest string) error {
	s.pending.JobToBeDone = rest
	return nil
}

func (s *Shell) create(ctx context.Context, _ []string, rest string) error {
	opts := s.pending
	opts.Name = rest
	t, err := s.app.Engine.CreateTask(ctx, s.app.Buffer, opts)
	if err != nil {
		return err
	}
	s.pending = engine.CreateOptions{}
	fmt.Fprintf(s.out, "created %s\n", t.ID)
	return nil
}

func (s *Shell) list(context.Context, []string, string) error {
	sel, _ := s.app.Engine.Selected()
	RenderTasks(s.out, s.app.Engine.Tasks(), sel)
	return nil
}

func (s *Shell) selectTask(_ context.Context, args []string, _ string) error {
	if len(args) != 1 {
		return errors.New("usage: " + commands["select"].usage)
	}
	if sel, ok := s.app.Engine.SelectTask(args[0]); ok {
		fmt.Fprintf(s.out, "selected %s\n", sel)
	} else {
		fmt.Fprintln(s.out, "selection cleared")
	}
	return nil
}

func (s *Shell) start(ctx context.Context, args []string, _ string) error {
	id := ""
	if len(args) > 0 {
		id = args[0]
	}
	h, err := s.app.Engine.StartProcessing(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "analysis of %s running until %s\n", h.TaskID, h.Deadline.Format(timeLayout))
	return nil
}

func (s *Shell) wait(ctx context.Context, _ []string, _ string) error {
	id, h, ok := s.app.Engine.Processing()
	if !ok || h == nil {
		fmt.Fprintln(s.out, "nothing is running")
		return nil
	}
	if err := h.Wait(ctx); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "analysis of %s finished\n", id)
	return nil
}

func (s *Shell) gates(context.Context, []string, string) error {
	v := s.app.Engine.View(s.app.Buffer)
	fmt.Fprintf(s.out, "can create: %t\ncan start: %t\n", v.CanCreateTask, v.CanStartTask)
	if v.Running != "" {
		fmt.Fprintf(s.out, "running: %s\n", v.Running)
	}
	return nil
}

func (s *Shell) notice(context.Context, []string, string) error {
	n, ok := s.app.Notices.Current()
	if !ok {
		fmt.Fprintln(s.out, "no notification")
		return nil
	}
	s.seen = n
	fmt.Fprintf(s.out, "[%s] %s\n", n.Kind, n.Text)
	return nil
}

func (s *Shell) dismiss(context.Context, []string, string) error {
	if !s.app.Notices.Dismiss() {
		fmt.Fprintln(s.out, "no notification")
	}
	return nil
}

func (s *Shell) help(context.Context, []string, string) error {
	names := []string{"add-bulk", "remove-bulk", "fresh", "files", "clear", "persona", "job", "create",
		"list", "select", "start", "wait", "gates", "notice", "dismiss", "help", "quit"}
	for _, name := range names {
		c := commands[name]
		fmt.Fprintf(s.out, "  %-20s %s\n", c.usage, c.help)
	}
	return nil
}
