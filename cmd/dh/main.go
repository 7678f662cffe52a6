package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dochub/internal/app"
	"dochub/internal/config"
	"dochub/internal/db"
	"dochub/internal/domain"
	"dochub/internal/engine"
	"dochub/internal/logger"
	"dochub/internal/selection"
	"dochub/internal/shell"
)

// Per-invocation state, reset by run.
var vp = viper.New()

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one dh command line and returns the exit code. Errors are reported
// once, on errOut.
func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	vp = viper.New()
	vp.SetEnvPrefix("DOCHUB")
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	vp.AutomaticEnv()
	stdout, stderr = out, errOut

	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dh",
		Short: "Document analysis task hub",
		Long: `dh manages document analysis tasks in a workspace.
- Task: a bundle of bulk PDF documents plus one fresh PDF, with an optional persona and job to be done.
- Lifecycle: created -> processing -> completed. Only one analysis runs at a time, across every dh process on the workspace.
- Storage: the whole task collection lives under one key (sqlite by default, or a JSON file).
- Event log: every create, start and completion is journaled; view it with 'dh log tail'.
- Shell: 'dh shell' keeps a pending file selection across commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := db.EnsureWorkspace(vp.GetString("workspace"))
			return err
		},
	}
	addPersistentFlags(root)
	root.AddCommand(taskCmd())
	root.AddCommand(logCmd())
	root.AddCommand(configCmd())
	root.AddCommand(shellCmd())
	return root
}

func addPersistentFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("storage", "", "storage driver: sqlite, file or memory")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.Duration("latency", 0, "simulated analysis latency")
	_ = vp.BindPFlag("workspace", flags.Lookup("workspace"))
	_ = vp.BindPFlag("json", flags.Lookup("json"))
	_ = vp.BindPFlag("storage.driver", flags.Lookup("storage"))
	_ = vp.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = vp.BindPFlag("processing.latency", flags.Lookup("latency"))
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage analysis tasks",
		Long:  "Tasks bundle bulk PDFs with a fresh PDF. They flow created -> processing -> completed; a completed task is never analyzed again.",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskStartCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks := a.Engine.Tasks()
				if status != "" {
					filtered := tasks[:0]
					for _, t := range tasks {
						if string(t.Status) == status {
							filtered = append(filtered, t)
						}
					}
					tasks = filtered
				}
				if vp.GetBool("json") {
					return printJSON(tasks)
				}
				shell.RenderTasks(stdout, tasks, "")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (created, processing, completed)")
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var opts engine.CreateOptions
	var bulk []string
	var fresh string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task from local PDF files",
		RunE: func(cmd *cobra.Command, args []string) error {
			bulkRefs, err := selection.FromPaths(bulk...)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if n := a.Buffer.AddBulk(bulkRefs...); n < len(bulkRefs) {
					fmt.Fprintf(stderr, "skipped %d non-PDF bulk file(s)\n", len(bulkRefs)-n)
				}
				if fresh != "" {
					ref, err := selection.FromPath(fresh)
					if err != nil {
						return err
					}
					if !a.Buffer.SetFresh(ref) {
						fmt.Fprintf(stderr, "fresh file %s is not a PDF\n", fresh)
					}
				}
				t, err := a.Engine.CreateTask(ctx, a.Buffer, opts)
				if err != nil {
					return err
				}
				printNotice(a)
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringArrayVar(&bulk, "bulk", []string{}, "bulk PDF path (repeatable)")
	cmd.Flags().StringVar(&fresh, "fresh", "", "fresh PDF path")
	cmd.Flags().StringVar(&opts.Name, "name", "", "task name (defaults to a dated name)")
	cmd.Flags().StringVar(&opts.Persona, "persona", "", "persona the analysis is for")
	cmd.Flags().StringVar(&opts.JobToBeDone, "job", "", "job to be done")
	return cmd
}

func taskStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <task-id>",
		Short: "Analyze a task and wait for it to complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				a.Engine.SelectTask(args[0])
				h, err := a.Engine.StartProcessing(ctx, args[0])
				if err != nil {
					return err
				}
				printNotice(a)
				if err := h.Wait(ctx); err != nil {
					return fmt.Errorf("interrupted; the task is reset to created once its run lease expires: %w", err)
				}
				printNotice(a)
				t, _ := a.Engine.Task(args[0])
				return printTask(t)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The journal of task lifecycle events: task.created, task.processing and task.completed.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, taskID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evts, err := a.Events(ctx, n, evtType, taskID)
				if err != nil {
					return err
				}
				if vp.GetBool("json") {
					return printJSON(evts)
				}
				shell.RenderEvents(stdout, evts)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&taskID, "task", "", "task id filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in dochub.yml at the workspace root. Every key is optional; DOCHUB_* environment variables and flags override it.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(vp.GetString("workspace"), vp)
			if err != nil {
				return err
			}
			if vp.GetBool("json") {
				return printJSON(cfg.Settings())
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Fprint(stdout, out)
			return nil
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default dochub.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.WriteDefault(vp.GetString("workspace"), force)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, "wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func shellCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive session",
		Long:  "Pick bulk and fresh files, create tasks, select one and start its analysis. Type help inside the shell.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return shell.New(a, stdout).Run(ctx, os.Stdin)
			})
		},
	}
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	workspace := vp.GetString("workspace")
	cfg, err := config.Load(workspace, vp)
	if err != nil {
		return err
	}
	log, err := logger.Setup(cfg.Log.Level, cfg.Log.Format, stderr)
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, app.Options{Workspace: workspace, Config: cfg, Logger: log})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// printNotice echoes the active notification to stderr, keeping stdout for results.
// Rejections are not echoed: their message comes back as the command error.
func printNotice(a *app.App) {
	if n, ok := a.Notices.Current(); ok {
		fmt.Fprintf(stderr, "[%s] %s\n", n.Kind, n.Text)
	}
}

func printTask(t domain.Task) error {
	if vp.GetBool("json") {
		return printJSON(t)
	}
	shell.RenderTasks(stdout, []domain.Task{t}, "")
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
