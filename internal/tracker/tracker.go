// Package tracker coordinates the task store, statistics and namespace
// reconciliation behind a single lock, and announces every change.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/songmopx/planeveryday.org/internal/events"
	"github.com/songmopx/planeveryday.org/internal/projection"
	"github.com/songmopx/planeveryday.org/internal/reconcile"
	"github.com/songmopx/planeveryday.org/internal/stats"
	"github.com/songmopx/planeveryday.org/internal/storage"
	"github.com/songmopx/planeveryday.org/internal/task"
)

// MaxWindowDays bounds an occurrence query.
const MaxWindowDays = 400

// Tracker is the only entry point that mutates tracker state. Every method is
// safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	cal    task.Calendar
	store  *task.Store
	agg    *stats.Aggregator
	proj   *projection.Projector
	rec    *reconcile.Reconciler
	bus    *events.Bus
	logger *slog.Logger
}

// Options configures a Tracker.
type Options struct {
	Logger *slog.Logger
	// Bus receives change events. A private bus is created when nil.
	Bus *events.Bus
}

// New wires a tracker starting in the guest namespace. Call Load before use
// to read persisted state.
func New(cal task.Calendar, ids task.IDGenerator, gw *storage.Gateway, opts Options) (*Tracker, error) {
	if gw == nil {
		return nil, errors.New("storage gateway is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}

	store, err := task.NewStore(cal, ids)
	if err != nil {
		return nil, fmt.Errorf("task store: %w", err)
	}

	t := &Tracker{
		cal:    cal,
		store:  store,
		agg:    stats.NewAggregator(cal),
		proj:   projection.NewProjector(store),
		bus:    bus,
		logger: logger,
	}
	t.rec, err = reconcile.New(&t.mu, store, t.agg, gw, reconcile.Options{
		Logger:    logger,
		OnWarning: t.publishWarning,
	})
	if err != nil {
		return nil, fmt.Errorf("reconciler: %w", err)
	}
	return t, nil
}

// Events returns the bus change events are published on.
func (t *Tracker) Events() *events.Bus {
	return t.bus
}

// Calendar returns the calendar used for "today".
func (t *Tracker) Calendar() task.Calendar {
	return t.cal
}

func (t *Tracker) publish(typ events.Type, subject string, count int) {
	t.bus.Publish(events.Event{
		Type:      typ,
		Namespace: t.rec.Namespace().String(),
		Subject:   subject,
		Count:     count,
		At:        t.cal.Now().UTC(),
	})
}

// publishWarning may run with or without the lock held, so it reads the
// namespace from the error rather than from the reconciler.
func (t *Tracker) publishWarning(err error) {
	e := events.Event{Type: events.TypeWarning, Message: err.Error(), At: t.cal.Now().UTC()}
	var perr *storage.PersistenceError
	if errors.As(err, &perr) {
		e.Namespace = perr.Namespace.String()
	}
	t.bus.Publish(e)
}

func (t *Tracker) persist(ctx context.Context, keys ...storage.Key) {
	for _, err := range t.rec.Persist(ctx, keys...) {
		t.publishWarning(err)
	}
}

func collectionKey(k task.Kind) storage.Key {
	if k == task.KindDaily {
		return storage.KeyDailyTasks
	}
	return storage.KeySingleTasks
}

// Load reads the active namespace from storage, replacing in-memory state.
func (t *Tracker) Load(ctx context.Context) (reconcile.SwitchResult, error) {
	res, err := t.rec.Load(ctx)
	if err != nil {
		return res, err
	}
	t.mu.Lock()
	t.publish(events.TypeNamespaceSwitched, "", 0)
	t.mu.Unlock()
	return res, nil
}

// CreateTask validates spec and adds the task.
func (t *Tracker) CreateTask(ctx context.Context, spec task.TaskSpec) (task.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	created, err := t.store.CreateTask(spec)
	if err != nil {
		return task.Task{}, err
	}
	t.afterTaskCreated(ctx, created)
	return created, nil
}

// QuickAdd creates a simple single task due today.
func (t *Tracker) QuickAdd(ctx context.Context, name string) (task.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	created, err := t.store.QuickAdd(name)
	if err != nil {
		return task.Task{}, err
	}
	t.afterTaskCreated(ctx, created)
	return created, nil
}

func (t *Tracker) afterTaskCreated(ctx context.Context, created task.Task) {
	// A new task changes what is due this week.
	t.agg.Refresh(t.store)
	t.persist(ctx, collectionKey(created.Kind()), storage.KeyStatistics)
	t.publish(events.TypeTaskCreated, created.ID, 1)
}

// DeleteTask removes a task and its completion records. It reports false
// for an unknown id.
func (t *Tracker) DeleteTask(ctx context.Context, id string, kind task.Kind, permanent bool) (task.DeleteResult, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	res, ok, err := t.store.DeleteTask(id, kind, permanent)
	if err != nil || !ok {
		return res, ok, err
	}
	t.agg.ForgetTask(id)
	t.agg.RecomputeAll(t.store)
	t.persist(ctx, collectionKey(kind), storage.KeyCompletedTasks, storage.KeyStatistics)
	t.publish(events.TypeTaskDeleted, id, len(res.Records))
	return res, true, nil
}

// RecordCompletion appends a completion record and folds it into the
// statistics. The first completion ever starts the persistence timer.
func (t *Tracker) RecordCompletion(ctx context.Context, in task.CompletionInput) (task.CompletionRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.store.RecordCompletion(in)
	if err != nil {
		return task.CompletionRecord{}, err
	}
	t.agg.OnCompletionAdded(r, t.store)

	keys := []storage.Key{storage.KeyCompletedTasks, storage.KeyStatistics}
	if t.rec.StartTimerOnce(r.CompletedAt) {
		keys = append(keys, storage.KeyTimerStart)
	}
	t.persist(ctx, keys...)
	t.publish(events.TypeCompletionRecorded, r.ID, 1)
	return r, nil
}

// DeleteCompletionRecord removes one record (undo). An unknown id yields
// task.ErrNotFound.
func (t *Tracker) DeleteCompletionRecord(ctx context.Context, id string) (task.CompletionRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.store.DeleteCompletionRecord(id)
	if !ok {
		return task.CompletionRecord{}, fmt.Errorf("completion record %q: %w", id, task.ErrNotFound)
	}
	t.agg.RecomputeAll(t.store)
	t.persist(ctx, storage.KeyCompletedTasks, storage.KeyStatistics)
	t.publish(events.TypeCompletionDeleted, id, 1)
	return r, nil
}

// Reclassify moves misfiled tasks into the collection matching their kind.
func (t *Tracker) Reclassify(ctx context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	moved := t.store.Reclassify()
	if moved > 0 {
		t.persist(ctx, storage.KeyDailyTasks, storage.KeySingleTasks)
		t.publish(events.TypeTasksReclassified, "", moved)
	}
	return moved
}

// Recompute rebuilds the statistics from the completion records.
func (t *Tracker) Recompute(ctx context.Context) stats.Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.agg.RecomputeAll(t.store)
	t.persist(ctx, storage.KeyStatistics)
	t.publish(events.TypeStatsRecomputed, "", 0)
	return t.agg.Statistics()
}

// Tasks returns copies of both task collections.
func (t *Tracker) Tasks() (daily, single []task.Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.DailyTasks(), t.store.SingleTasks()
}

// Task looks a task up by id.
func (t *Tracker) Task(id string) (task.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	found, ok := t.store.Find(id)
	if !ok {
		return task.Task{}, fmt.Errorf("task %q: %w", id, task.ErrNotFound)
	}
	return found, nil
}

// Records returns the completion records matching f.
func (t *Tracker) Records(f task.RecordFilter) []task.CompletionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.QueryRecords(f)
}

// Occurrences projects the tasks over [from, to]. Empty bounds default to
// the standard window around today.
func (t *Tracker) Occurrences(from, to task.Date) (projection.Projection, projection.Window, error) {
	w := projection.DefaultWindow(t.cal.Today())
	if from != "" {
		w.From = from
	}
	if to != "" {
		w.To = to
	}

	var problems []string
	if !w.From.Valid() {
		problems = append(problems, "from must be a YYYY-MM-DD date")
	}
	if !w.To.Valid() {
		problems = append(problems, "to must be a YYYY-MM-DD date")
	}
	if len(problems) == 0 {
		if w.To.Before(w.From) {
			problems = append(problems, "to must not be before from")
		} else if len(task.DatesBetween(w.From, w.To)) > MaxWindowDays {
			problems = append(problems, fmt.Sprintf("window must not exceed %d days", MaxWindowDays))
		}
	}
	if len(problems) > 0 {
		return nil, w, &task.ValidationError{Problems: problems}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.proj.ProjectWindow(w), w, nil
}

// Overview summarizes today.
func (t *Tracker) Overview() projection.Overview {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.proj.Overview(t.cal.Today())
}

// Unfinished lists single tasks not completed on their date.
func (t *Tracker) Unfinished() []projection.Occurrence {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.proj.Unfinished()
}

// CompletedSingles lists completed single tasks, newest first.
func (t *Tracker) CompletedSingles() []projection.CompletedSingle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.proj.CompletedSingles()
}

// Statistics returns the statistics with the streak and weekly rate brought
// up to date for today.
func (t *Tracker) Statistics() stats.Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.agg.Refresh(t.store)
	return t.agg.Statistics()
}

// TaskStats returns the aggregate of one task.
func (t *Tracker) TaskStats(id string) stats.TaskStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.agg.TaskStats(id)
}

// Trend returns per-day completion counts for the last days days.
func (t *Tracker) Trend(days int) []stats.DayCount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return stats.Trend(t.store.Records(), t.cal.Today(), days)
}

// Timer projects the persistence timer at the current instant.
func (t *Tracker) Timer() TimerView {
	t.mu.Lock()
	start := t.rec.TimerStart()
	t.mu.Unlock()
	return ViewTimer(start, t.cal.Now())
}

// ResetTimer clears the persistence timer.
func (t *Tracker) ResetTimer(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.ResetTimer()
	t.persist(ctx, storage.KeyTimerStart)
	t.publish(events.TypeTimerReset, "", 0)
}

// Namespace returns the namespace whose data is loaded and whether a switch
// to another namespace is still in flight.
func (t *Tracker) Namespace() (storage.Namespace, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.Namespace(), t.rec.Pending()
}

// OnIdentityChange follows sign-in and sign-out. A load overtaken by a later
// identity change is dropped silently.
func (t *Tracker) OnIdentityChange(ctx context.Context, userID string, signedIn bool) error {
	var (
		res reconcile.SwitchResult
		err error
	)
	if signedIn {
		res, err = t.rec.SwitchToAccount(ctx, userID)
	} else {
		res, err = t.rec.SwitchToGuest(ctx)
	}
	if errors.Is(err, reconcile.ErrStaleLoad) {
		t.logger.Info("identity change superseded", "namespace", res.Namespace.String())
		return nil
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if res.Merge != nil {
		t.publish(events.TypeDataMerged, "", res.Merge.Added.Total())
	}
	t.publish(events.TypeNamespaceSwitched, "", 0)
	return nil
}

// Import merges raw guest documents into the active namespace. Malformed
// items are skipped; the returned error is then a *reconcile.ReconciliationError
// and the report is still valid.
func (t *Tracker) Import(ctx context.Context, docs storage.Documents) (reconcile.MergeReport, error) {
	report, err := t.rec.MergeGuestDocuments(ctx, docs)

	if n := report.Added.Total(); n > 0 {
		t.mu.Lock()
		t.publish(events.TypeDataMerged, "", n)
		t.mu.Unlock()
	}
	return report, err
}

// Export returns the documents of the active namespace.
func (t *Tracker) Export() (storage.Documents, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return reconcile.Encode(t.rec.State())
}

// Flush waits for background remote saves.
func (t *Tracker) Flush(ctx context.Context) error {
	return t.rec.Flush(ctx)
}
