package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dochub/internal/domain"
	"dochub/internal/events"
	"dochub/internal/selection"
	"dochub/internal/simulator"
)

// Persistence loads and saves the full task collection.
type Persistence interface {
	Load(ctx context.Context) ([]domain.Task, bool)
	Save(ctx context.Context, tasks []domain.Task) error
}

// Notifier displays one transient message at a time.
type Notifier interface {
	Show(kind domain.NotificationKind, text string) domain.Notification
	Current() (domain.Notification, bool)
}

// Processor runs the analysis for a single task.
type Processor interface {
	Run(task domain.Task, hooks simulator.Hooks) *simulator.Handle
}

// Journal records lifecycle events. Failures are logged, never returned.
type Journal interface {
	Append(ctx context.Context, evtType, taskID string, payload events.EventPayload) error
}

// RunLease guards the single analysis run across every session sharing the storage.
type RunLease interface {
	// Acquire claims the lease for taskID. When another live run holds it, ok is false
	// and holder names that run's task.
	Acquire(ctx context.Context, taskID string, ttl time.Duration) (holder string, ok bool, err error)
	Release(ctx context.Context, taskID string) error
	// Held reports the task of the live run, if any.
	Held(ctx context.Context) (taskID string, ok bool, err error)
}

// Source is the pending file selection consumed by CreateTask.
type Source interface {
	Snapshot() selection.Snapshot
	Clear()
}

type Options struct {
	Persistence Persistence
	Notifier    Notifier
	Processor   Processor
	Journal     Journal
	// Lease, when set, makes the one-run rule hold across processes. Stored tasks in
	// processing are only reset when no live lease covers them.
	Lease RunLease
	// LeaseTTL bounds a lease left behind by a crashed session. Defaults to DefaultLeaseTTL.
	LeaseTTL time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
	// Seed returns the example tasks used when storage holds no tasks. Nil disables seeding.
	Seed func(now time.Time) []domain.Task
	// PersistSeed writes the seed set as soon as it is materialized.
	PersistSeed bool
}

// Engine is the task store: the authoritative collection, the selection and the single
// in-flight analysis run. Every collection mutation is followed by a full write.
const (
	DefaultLeaseTTL = time.Minute
	// maxSaveAttempts bounds the reload-and-merge retries after a conflicting write.
	maxSaveAttempts = 4
)

type Engine struct {
	mu      sync.Mutex
	opts    Options
	logger  *slog.Logger
	tasks   []domain.Task
	index   map[string]int
	sel     string
	running string
	runSeq  uint64
	handle  *simulator.Handle
}

func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	return &Engine{
		opts:   opts,
		logger: opts.Logger.With("component", "engine"),
		index:  map[string]int{},
	}
}

func (e *Engine) now() time.Time {
	return e.opts.Now()
}

// LoadOrSeed initializes the collection from storage, falling back to the seed set
// when storage holds no tasks. It reports whether the seed set was used.
func (e *Engine) LoadOrSeed(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	var stored []domain.Task
	var ok bool
	if e.opts.Persistence != nil {
		stored, ok = e.opts.Persistence.Load(ctx)
	}
	if ok && len(stored) > 0 {
		e.setTasksLocked(stored)
		if n := e.restoreInterruptedLocked(ctx); n > 0 {
			e.logger.Warn("restored interrupted runs to created", "tasks", n)
			if err := e.saveLocked(ctx); err != nil {
				e.show(domain.NotifyWarning, "Interrupted analyses were reset, but the change could not be saved.")
			}
		}
		e.logger.Info("tasks loaded", "tasks", len(e.tasks))
		return false
	}
	if e.opts.Seed == nil {
		e.setTasksLocked(nil)
		return false
	}
	e.setTasksLocked(e.opts.Seed(e.now()))
	e.logger.Info("storage empty, using seed tasks", "tasks", len(e.tasks), "persist", e.opts.PersistSeed)
	if e.opts.PersistSeed {
		if err := e.saveLocked(ctx); err != nil {
			e.show(domain.NotifyWarning, "Example tasks could not be saved.")
		}
	}
	return true
}

// restoreInterruptedLocked resets tasks stored mid-run whose run died with its process
// and can never report completion. A task covered by a live lease is still running in
// another session and is left alone.
func (e *Engine) restoreInterruptedLocked(ctx context.Context) int {
	live := ""
	if e.opts.Lease != nil {
		id, ok, err := e.opts.Lease.Held(ctx)
		if err != nil {
			e.logger.Warn("run lease unreadable, leaving processing tasks as stored", "error", err)
			return 0
		}
		if ok {
			live = id
		}
	}
	n := 0
	for i := range e.tasks {
		if e.tasks[i].Status == domain.TaskProcessing && e.tasks[i].ID != live {
			e.tasks[i].Status = domain.TaskCreated
			n++
		}
	}
	return n
}

func (e *Engine) setTasksLocked(tasks []domain.Task) {
	e.tasks = make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		e.tasks = append(e.tasks, t.Clone())
	}
	e.reindexLocked()
}

func (e *Engine) reindexLocked() {
	e.index = make(map[string]int, len(e.tasks))
	for i, t := range e.tasks {
		e.index[t.ID] = i
	}
}

// Tasks returns a copy of the collection, newest first.
func (e *Engine) Tasks() []domain.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, t.Clone())
	}
	return out
}

// Task returns a copy of the task with id.
func (e *Engine) Task(id string) (domain.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.index[id]
	if !ok {
		return domain.Task{}, false
	}
	return e.tasks[i].Clone(), true
}

// CreateOptions carry the optional task context.
type CreateOptions struct {
	Name        string
	Persona     string
	JobToBeDone string
}

// CreateTask mints a task from the pending selection, persists the collection and
// clears the selection. An empty bulk list is reported before a missing fresh file.
func (e *Engine) CreateTask(ctx context.Context, src Source, opts CreateOptions) (domain.Task, error) {
	snap := src.Snapshot()
	if len(snap.Bulk) == 0 {
		return domain.Task{}, e.reject(domain.MissingBulk())
	}
	if snap.Fresh == nil {
		return domain.Task{}, e.reject(domain.MissingFresh())
	}

	e.mu.Lock()
	now := e.now()
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = DefaultTaskName(now)
	}
	t := domain.Task{
		ID:          e.newIDLocked(now),
		Name:        name,
		Persona:     strings.TrimSpace(opts.Persona),
		JobToBeDone: strings.TrimSpace(opts.JobToBeDone),
		BulkFiles:   append([]domain.FileRef(nil), snap.Bulk...),
		FreshFile:   *snap.Fresh,
		CreatedAt:   now.UnixMilli(),
		Status:      domain.TaskCreated,
	}
	e.tasks = append([]domain.Task{t}, e.tasks...)
	e.reindexLocked()
	renamed, saveErr := e.persistLocked(ctx)
	if id, ok := renamed[t.ID]; ok {
		t.ID = id
	}
	e.record(ctx, "task.created", t.ID, events.EventPayload{"name": t.Name, "bulk_files": len(t.BulkFiles), "fresh_file": t.FreshFile.Name})
	e.mu.Unlock()

	src.Clear()
	e.logger.Info("task created", "task_id", t.ID, "bulk_files", len(t.BulkFiles))
	if saveErr != nil {
		e.show(domain.NotifyWarning, fmt.Sprintf("Task %q created, but it could not be saved.", t.Name))
	} else {
		e.show(domain.NotifySuccess, fmt.Sprintf("Task %q created successfully!", t.Name))
	}
	return t.Clone(), nil
}

// newIDLocked returns a time based id, falling back to a UUIDv7 when the millisecond
// id is already taken.
func (e *Engine) newIDLocked(now time.Time) string {
	id := fmt.Sprintf("task-%d", now.UnixMilli())
	for {
		if _, taken := e.index[id]; !taken {
			return id
		}
		v7, err := uuid.NewV7()
		if err != nil {
			id = "task-" + uuid.NewString()
			continue
		}
		id = "task-" + v7.String()
	}
}

// DefaultTaskName is the name given to tasks created without one.
func DefaultTaskName(now time.Time) string {
	return "Document Analysis Task - " + now.Format("1/2/2006")
}

// SelectTask toggles the selection: selecting the selected id clears it. Existence is
// not checked here. It returns the resulting selection.
func (e *Engine) SelectTask(id string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sel == id {
		e.sel = ""
	} else {
		e.sel = id
	}
	return e.sel, e.sel != ""
}

// Selected returns the current selection.
func (e *Engine) Selected() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sel, e.sel != ""
}

// CanStartTask reports whether a task is selected and no run is in flight.
func (e *Engine) CanStartTask() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sel != "" && e.running == ""
}

// Processing returns the in-flight run, if any.
func (e *Engine) Processing() (string, *simulator.Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running, e.handle, e.running != ""
}

// StartProcessing starts the analysis of the selected task. A non-empty id must match
// the selection. Only one run may be in flight across the whole collection. Status
// changes are driven by the processor hooks, not by this call.
func (e *Engine) StartProcessing(ctx context.Context, id string) (*simulator.Handle, error) {
	if e.opts.Processor == nil {
		return nil, fmt.Errorf("engine: no processor configured")
	}
	e.mu.Lock()
	sel := e.sel
	if sel == "" {
		e.mu.Unlock()
		return nil, e.reject(domain.Reject(domain.ErrNotSelected, "Please select a task to start analysis."))
	}
	if id != "" && id != sel {
		e.mu.Unlock()
		return nil, e.reject(domain.Reject(domain.ErrNotSelected, "Task %s is not selected.", id))
	}
	if e.running != "" {
		running := e.running
		e.mu.Unlock()
		return nil, e.reject(domain.Reject(domain.ErrAlreadyProcessing, "Analysis for %s is still running. Please wait for it to finish.", running))
	}
	i, ok := e.index[sel]
	if !ok {
		e.mu.Unlock()
		return nil, e.reject(domain.Reject(domain.ErrNotFound, "Selected task not found."))
	}
	task := e.tasks[i].Clone()
	if err := domain.EnsureTransition(task.Status, domain.TaskProcessing); err != nil {
		e.mu.Unlock()
		return nil, e.reject(&domain.RejectionError{Kind: err, Msg: fmt.Sprintf("Task %q cannot be analyzed again (status %s).", task.Name, task.Status)})
	}
	e.running = task.ID
	e.runSeq++
	seq := e.runSeq
	e.mu.Unlock()

	if e.opts.Lease != nil {
		var err error
		if task, err = e.claimRun(ctx, task, seq); err != nil {
			return nil, e.reject(err)
		}
	}

	e.show(domain.NotifyInfo, fmt.Sprintf("Starting analysis for %q...", task.Name))
	bg := context.WithoutCancel(ctx)
	h := e.opts.Processor.Run(task, simulator.Hooks{
		Started:   func(taskID string) { e.markProcessing(bg, taskID) },
		Completed: func(taskID string) { e.finish(bg, taskID, seq) },
	})

	e.mu.Lock()
	if e.runSeq == seq && e.running == task.ID {
		e.handle = h
	}
	e.mu.Unlock()
	return h, nil
}

// claimRun takes the workspace run lease for task and then refreshes the collection,
// so a task another session already analyzed is not run twice. On failure the local
// run slot reserved under seq is freed.
func (e *Engine) claimRun(ctx context.Context, task domain.Task, seq uint64) (domain.Task, error) {
	holder, ok, err := e.opts.Lease.Acquire(ctx, task.ID, e.opts.LeaseTTL)
	if err != nil {
		e.logger.Error("run lease unavailable", "task_id", task.ID, "error", err)
		e.releaseSlot(seq)
		return task, &domain.RejectionError{Kind: err, Msg: "Analysis could not be started: the workspace run lease is unavailable."}
	}
	if !ok {
		e.releaseSlot(seq)
		return task, domain.Reject(domain.ErrAlreadyProcessing, "Analysis for %s is still running in another session. Please wait for it to finish.", holder)
	}

	e.mu.Lock()
	e.refreshLocked(ctx)
	i, found := e.index[task.ID]
	if !found {
		e.mu.Unlock()
		e.releaseLease(ctx, task.ID)
		e.releaseSlot(seq)
		return task, domain.Reject(domain.ErrNotFound, "Selected task not found.")
	}
	// holding the lease means no run is live, so a stored processing status is stale
	if e.tasks[i].Status == domain.TaskProcessing {
		e.tasks[i].Status = domain.TaskCreated
	}
	task = e.tasks[i].Clone()
	e.mu.Unlock()
	if err := domain.EnsureTransition(task.Status, domain.TaskProcessing); err != nil {
		e.releaseLease(ctx, task.ID)
		e.releaseSlot(seq)
		return task, &domain.RejectionError{Kind: err, Msg: fmt.Sprintf("Task %q cannot be analyzed again (status %s).", task.Name, task.Status)}
	}
	return task, nil
}

func (e *Engine) releaseSlot(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runSeq == seq {
		e.running = ""
		e.handle = nil
	}
}

func (e *Engine) releaseLease(ctx context.Context, id string) {
	if e.opts.Lease == nil {
		return
	}
	if err := e.opts.Lease.Release(ctx, id); err != nil {
		e.logger.Warn("run lease not released", "task_id", id, "error", err)
	}
}

func (e *Engine) markProcessing(ctx context.Context, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.index[id]
	if !ok {
		e.logger.Warn("processing started for unknown task", "task_id", id)
		return
	}
	if err := domain.EnsureTransition(e.tasks[i].Status, domain.TaskProcessing); err != nil {
		e.logger.Warn("cannot mark task processing", "task_id", id, "error", err)
		return
	}
	e.tasks[i].Status = domain.TaskProcessing
	if err := e.saveLocked(ctx); err != nil {
		e.logger.Warn("processing status not saved", "task_id", id)
	}
	e.record(ctx, "task.processing", id, nil)
}

// finish is the processor completion hook. It completes the task and frees the run slot.
func (e *Engine) finish(ctx context.Context, id string, seq uint64) {
	e.mu.Lock()
	t, saved, err := e.completeLocked(ctx, id)
	if e.runSeq == seq {
		e.running = ""
		e.handle = nil
	}
	e.mu.Unlock()
	e.releaseLease(ctx, id)
	if err != nil {
		e.logger.Warn("completion dropped", "task_id", id, "error", err)
		return
	}
	e.announceCompleted(t, saved)
}

// MarkCompleted moves a processing task to completed and persists the collection.
func (e *Engine) MarkCompleted(ctx context.Context, id string) (domain.Task, error) {
	e.mu.Lock()
	t, saved, err := e.completeLocked(ctx, id)
	e.mu.Unlock()
	if err != nil {
		return domain.Task{}, e.reject(err)
	}
	e.announceCompleted(t, saved)
	return t, nil
}

// completeLocked applies the completion and reports whether the write succeeded.
func (e *Engine) completeLocked(ctx context.Context, id string) (domain.Task, bool, error) {
	i, ok := e.index[id]
	if !ok {
		return domain.Task{}, false, domain.Reject(domain.ErrNotFound, "Task %s not found.", id)
	}
	t := &e.tasks[i]
	if err := domain.EnsureTransition(t.Status, domain.TaskCompleted); err != nil {
		return domain.Task{}, false, &domain.RejectionError{Kind: err, Msg: fmt.Sprintf("Task %q is not being analyzed (status %s).", t.Name, t.Status)}
	}
	done := e.now().UnixMilli()
	if done < t.CreatedAt {
		done = t.CreatedAt
	}
	t.Status = domain.TaskCompleted
	t.CompletedAt = &done
	saved := e.saveLocked(ctx) == nil
	e.record(ctx, "task.completed", id, events.EventPayload{"completed_at": done})
	return t.Clone(), saved, nil
}

func (e *Engine) announceCompleted(t domain.Task, saved bool) {
	e.logger.Info("task completed", "task_id", t.ID)
	if !saved {
		e.show(domain.NotifyWarning, fmt.Sprintf("Analysis completed for %q, but the result could not be saved.", t.Name))
		return
	}
	e.show(domain.NotifySuccess, fmt.Sprintf("Analysis completed for %q. Results are ready for review.", t.Name))
}

func (e *Engine) saveLocked(ctx context.Context) error {
	_, err := e.persistLocked(ctx)
	return err
}

// persistLocked writes the collection. When another session wrote since our last read
// the stored collection is merged in and the write retried. It returns the ids of local
// tasks that had to be renamed during a merge.
func (e *Engine) persistLocked(ctx context.Context) (map[string]string, error) {
	if e.opts.Persistence == nil {
		return nil, nil
	}
	var renamed map[string]string
	var err error
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		if err = e.opts.Persistence.Save(ctx, e.tasks); err == nil {
			return renamed, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			break
		}
		e.logger.Info("tasks changed in another session, merging", "attempt", attempt)
		if stored, ok := e.opts.Persistence.Load(ctx); ok {
			for from, to := range e.mergeLocked(stored) {
				if renamed == nil {
					renamed = map[string]string{}
				}
				renamed[from] = to
			}
		}
	}
	e.logger.Error("persist tasks failed", "error", err)
	return renamed, err
}

// refreshLocked folds the stored collection into memory without writing.
func (e *Engine) refreshLocked(ctx context.Context) {
	if e.opts.Persistence == nil {
		return
	}
	if stored, ok := e.opts.Persistence.Load(ctx); ok {
		e.mergeLocked(stored)
	}
}

// mergeLocked unions a collection written by another session into ours. Tasks only
// move forward through the lifecycle, so the further-along copy wins and ours wins
// ties. A local task whose id was taken by a different stored task gets a new id.
func (e *Engine) mergeLocked(stored []domain.Task) map[string]string {
	var renamed map[string]string
	for _, theirs := range stored {
		i, ok := e.index[theirs.ID]
		if !ok {
			e.tasks = append(e.tasks, theirs.Clone())
			e.index[theirs.ID] = len(e.tasks) - 1
			continue
		}
		ours := &e.tasks[i]
		if !sameTask(*ours, theirs) {
			from := ours.ID
			ours.ID = e.newIDLocked(time.UnixMilli(ours.CreatedAt))
			e.index[ours.ID] = i
			if e.sel == from {
				e.sel = ours.ID
			}
			if renamed == nil {
				renamed = map[string]string{}
			}
			renamed[from] = ours.ID
			e.tasks = append(e.tasks, theirs.Clone())
			e.index[theirs.ID] = len(e.tasks) - 1
			continue
		}
		if statusRank(theirs.Status) > statusRank(ours.Status) {
			*ours = theirs.Clone()
		}
	}
	sort.SliceStable(e.tasks, func(i, j int) bool { return e.tasks[i].CreatedAt > e.tasks[j].CreatedAt })
	e.reindexLocked()
	return renamed
}

// sameTask reports whether two copies describe the same created task.
func sameTask(a, b domain.Task) bool {
	return a.CreatedAt == b.CreatedAt && a.Name == b.Name && a.FreshFile == b.FreshFile
}

func statusRank(s domain.TaskStatus) int {
	switch s {
	case domain.TaskProcessing:
		return 1
	case domain.TaskCompleted:
		return 2
	default:
		return 0
	}
}

func (e *Engine) record(ctx context.Context, evtType, taskID string, payload events.EventPayload) {
	if e.opts.Journal == nil {
		return
	}
	if err := e.opts.Journal.Append(ctx, evtType, taskID, payload); err != nil {
		e.logger.Warn("journal append failed", "type", evtType, "task_id", taskID, "error", err)
	}
}

func (e *Engine) reject(err error) error {
	e.logger.Info("operation rejected", "error", err)
	e.show(domain.NotifyError, err.Error())
	return err
}

func (e *Engine) show(kind domain.NotificationKind, text string) {
	if e.opts.Notifier == nil {
		return
	}
	e.opts.Notifier.Show(kind, text)
}

// View is the state the presentation layer renders.
type View struct {
	Tasks         []domain.Task
	Selected      string
	Notification  *domain.Notification
	Running       string
	CanCreateTask bool
	CanStartTask  bool
}

// Gate reports whether the pending selection allows task creation.
type Gate interface {
	CanCreateTask() bool
}

// View assembles the presentation state in one call.
func (e *Engine) View(g Gate) View {
	v := View{Tasks: e.Tasks()}
	e.mu.Lock()
	v.Selected = e.sel
	v.Running = e.running
	v.CanStartTask = e.sel != "" && e.running == ""
	e.mu.Unlock()
	if g != nil {
		v.CanCreateTask = g.CanCreateTask()
	}
	if e.opts.Notifier != nil {
		if n, ok := e.opts.Notifier.Current(); ok {
			v.Notification = &n
		}
	}
	return v
}
