package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/songmopx/planeveryday.org/internal/platform/logging"
	"github.com/songmopx/planeveryday.org/internal/stats"
	"github.com/songmopx/planeveryday.org/internal/storage"
	"github.com/songmopx/planeveryday.org/internal/task"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	prefix string
	n      int
}

func (g *seqIDs) NewID() string {
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// remoteStore wraps a MemoryStore with optional failure and an optional gate
// that blocks loads until released.
type remoteStore struct {
	*storage.MemoryStore
	mu   sync.Mutex
	fail error
	gate map[string]chan struct{}
}

func newRemoteStore() *remoteStore {
	return &remoteStore{MemoryStore: storage.NewMemoryStore(), gate: make(map[string]chan struct{})}
}

func (r *remoteStore) block(ns storage.Namespace) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	r.gate[ns.String()] = ch
	return ch
}

func (r *remoteStore) wait(ns storage.Namespace) error {
	r.mu.Lock()
	ch, fail := r.gate[ns.String()], r.fail
	r.mu.Unlock()
	if ch != nil {
		<-ch
	}
	return fail
}

func (r *remoteStore) Load(ctx context.Context, ns storage.Namespace, key storage.Key) ([]byte, bool, error) {
	if err := r.wait(ns); err != nil {
		return nil, false, err
	}
	return r.MemoryStore.Load(ctx, ns, key)
}

func (r *remoteStore) LoadAll(ctx context.Context, ns storage.Namespace) (map[storage.Key][]byte, error) {
	if err := r.wait(ns); err != nil {
		return nil, err
	}
	return r.MemoryStore.LoadAll(ctx, ns)
}

func (r *remoteStore) Save(ctx context.Context, ns storage.Namespace, key storage.Key, data []byte) error {
	r.mu.Lock()
	fail := r.fail
	r.mu.Unlock()
	if fail != nil {
		return fail
	}
	return r.MemoryStore.Save(ctx, ns, key, data)
}

type harness struct {
	mu       *sync.Mutex
	store    *task.Store
	agg      *stats.Aggregator
	rec      *Reconciler
	local    *storage.MemoryStore
	remote   *remoteStore
	warnings []error
	wmu      sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cal := task.NewCalendar(fixedClock{now: time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)}, time.UTC)
	store, err := task.NewStore(cal, &seqIDs{prefix: "local"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	h := &harness{
		mu:     &sync.Mutex{},
		store:  store,
		agg:    stats.NewAggregator(cal),
		local:  storage.NewMemoryStore(),
		remote: newRemoteStore(),
	}
	gw := storage.NewGateway(h.local, h.remote, time.Second, logging.Discard())
	h.rec, err = New(h.mu, h.store, h.agg, gw, Options{
		Logger: logging.Discard(),
		OnWarning: func(err error) {
			h.wmu.Lock()
			defer h.wmu.Unlock()
			h.warnings = append(h.warnings, err)
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func ptr[T any](v T) *T { return &v }

func (h *harness) seedAccount(t *testing.T, userID string, s State) {
	t.Helper()
	docs, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for k, v := range docs {
		if err := h.remote.MemoryStore.Save(context.Background(), storage.Account(userID), k, v); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func accountState() State {
	return State{
		Daily:   []task.Task{{ID: "acc-d", Name: "Account daily", Dimension: task.DimensionSimple, TargetValue: 1, Schedule: task.DailySchedule{Start: "2024-01-01"}}},
		Records: []task.CompletionRecord{{ID: "acc-r", TaskID: "acc-d", TaskKind: task.KindDaily, Date: "2024-01-04", ActualValue: 1}},
		Stats:   stats.Statistics{TotalCompleted: 1, DailyCompletions: map[task.Date]int{"2024-01-04": 1}},
	}
}

func TestSwitchToAccount_MergesGuestData(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedAccount(t, "u1", accountState())

	guestTask, _ := h.store.CreateTask(task.TaskSpec{Name: "Guest single", Kind: task.KindSingle, ScheduledDate: ptr(task.MustDate("2024-01-05"))})
	r, _ := h.store.RecordCompletion(task.CompletionInput{TaskID: guestTask.ID})
	h.agg.OnCompletionAdded(r, h.store)
	h.rec.StartTimerOnce(r.CompletedAt)

	res, err := h.rec.SwitchToAccount(ctx, "u1")
	if err != nil {
		t.Fatalf("SwitchToAccount: %v", err)
	}
	if res.Source != storage.SourceRemote || res.Merge == nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Merge.Added.Single != 1 || res.Merge.Added.Records != 1 || res.Merge.Offered != 2 {
		t.Fatalf("unexpected merge report %+v", res.Merge)
	}
	if h.rec.Namespace() != storage.Account("u1") || h.rec.Pending() {
		t.Fatalf("unexpected namespace %v pending=%v", h.rec.Namespace(), h.rec.Pending())
	}

	state := h.rec.State()
	if len(state.Daily) != 1 || len(state.Single) != 1 || len(state.Records) != 2 {
		t.Fatalf("unexpected merged state %+v", state)
	}
	// Recomputed, not the inflated additive sum.
	if state.Stats.TotalCompleted != 2 || state.Stats.DailyCompletions["2024-01-05"] != 1 || state.Stats.DailyCompletions["2024-01-04"] != 1 {
		t.Fatalf("unexpected stats %+v", state.Stats)
	}
	if state.TimerStart == nil {
		t.Fatal("expected guest timer start adopted")
	}

	if err := h.rec.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	body, found, _ := h.remote.MemoryStore.Load(ctx, storage.Account("u1"), storage.KeyCompletedTasks)
	if !found {
		t.Fatal("expected merged records saved remotely")
	}
	saved, err := Decode(storage.Documents{storage.KeyCompletedTasks: body})
	if err != nil || len(saved.Records) != 2 {
		t.Fatalf("expected 2 remote records, got %d (%v)", len(saved.Records), err)
	}
	if _, found, _ := h.local.Load(ctx, storage.Account("u1"), storage.KeyCompletedTasks); !found {
		t.Fatal("expected merged records saved locally")
	}
}

func TestMergeGuestData_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedAccount(t, "u1", accountState())

	guest := State{
		Single:  []task.Task{{ID: "g-s", Name: "G", Dimension: task.DimensionSimple, TargetValue: 1, Schedule: task.SingleSchedule{On: "2024-01-05"}}},
		Records: []task.CompletionRecord{{ID: "g-r", TaskID: "g-s", TaskKind: task.KindSingle, Date: "2024-01-05", ActualValue: 1}},
		Stats:   stats.Statistics{TotalCompleted: 1, DailyCompletions: map[task.Date]int{"2024-01-05": 1}},
	}

	if _, err := h.rec.SwitchToAccount(ctx, "u1"); err != nil {
		t.Fatalf("SwitchToAccount: %v", err)
	}

	h.mu.Lock()
	first, _ := h.rec.MergeGuestData(ctx, guest)
	once := h.rec.State()
	second, _ := h.rec.MergeGuestData(ctx, guest)
	twice := h.rec.State()
	empty, _ := h.rec.MergeGuestData(ctx, State{})
	h.mu.Unlock()

	if first.Added.Total() != 2 || second.Added.Total() != 0 {
		t.Fatalf("unexpected reports %+v / %+v", first, second)
	}
	if len(once.Single) != len(twice.Single) || len(once.Records) != len(twice.Records) || len(once.Daily) != len(twice.Daily) {
		t.Fatalf("collections changed on second merge: %+v vs %+v", once, twice)
	}
	if twice.Stats.TotalCompleted != 2 {
		t.Fatalf("expected recompute to undo additive double count, got %d", twice.Stats.TotalCompleted)
	}
	if empty.Offered != 0 {
		t.Fatalf("expected empty merge to be a no-op, got %+v", empty)
	}
	if err := h.rec.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestSwitchToGuest_DoesNotMergeBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedAccount(t, "u1", accountState())

	if _, err := h.rec.SwitchToAccount(ctx, "u1"); err != nil {
		t.Fatalf("SwitchToAccount: %v", err)
	}
	res, err := h.rec.SwitchToGuest(ctx)
	if err != nil {
		t.Fatalf("SwitchToGuest: %v", err)
	}
	if res.Merge != nil || res.Source != storage.SourceLocal {
		t.Fatalf("unexpected result %+v", res)
	}
	if !h.rec.State().Empty() {
		t.Fatalf("expected empty guest namespace, got %+v", h.rec.State())
	}
}

func TestSwitchToAccount_RemoteFailureFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.remote.fail = errors.New("offline")

	docs, _ := Encode(accountState())
	for k, v := range docs {
		_ = h.local.Save(ctx, storage.Account("u1"), k, v)
	}

	res, err := h.rec.SwitchToAccount(ctx, "u1")
	if err != nil {
		t.Fatalf("SwitchToAccount: %v", err)
	}
	if res.Source != storage.SourceLocal || len(res.Warnings) == 0 {
		t.Fatalf("expected local fallback with warning, got %+v", res)
	}
	if h.rec.Namespace() != storage.Account("u1") {
		t.Fatal("expected the switch to complete despite the remote failure")
	}
	if got := len(h.rec.State().Daily); got != 1 {
		t.Fatalf("expected the local account copy, got %d daily tasks", got)
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()
	var perr *storage.PersistenceError
	if len(h.warnings) == 0 || !errors.As(h.warnings[0], &perr) || !perr.Remote {
		t.Fatalf("expected remote persistence warning, got %v", h.warnings)
	}
}

func TestSwitch_DiscardsStaleLoad(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedAccount(t, "slow", accountState())
	release := h.remote.block(storage.Account("slow"))

	done := make(chan error, 1)
	go func() {
		_, err := h.rec.SwitchToAccount(ctx, "slow")
		done <- err
	}()

	// Wait until the slow switch has registered itself.
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.Lock()
		pending := h.rec.Pending()
		h.mu.Unlock()
		if pending {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("switch never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := h.rec.SwitchToGuest(ctx); err != nil {
		t.Fatalf("SwitchToGuest: %v", err)
	}
	close(release)

	if err := <-done; !errors.Is(err, ErrStaleLoad) {
		t.Fatalf("expected ErrStaleLoad, got %v", err)
	}
	if h.rec.Namespace() != storage.Guest() || !h.rec.State().Empty() {
		t.Fatalf("stale account data was applied: ns=%v state=%+v", h.rec.Namespace(), h.rec.State())
	}
}

func TestMergeGuestDocuments_ReportsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	docs := storage.Documents{
		storage.KeySingleTasks:    []byte(`[{"id":"s","name":"S","kind":"single","scheduledDate":"2024-01-05"}, {"id":"bad","kind":"single"}]`),
		storage.KeyCompletedTasks: []byte(`[{"id":"r","taskId":"s","taskKind":"single","date":"2024-01-05","actualValue":1}]`),
	}
	report, err := h.rec.MergeGuestDocuments(ctx, docs)

	var rerr *ReconciliationError
	if !errors.As(err, &rerr) || rerr.Skipped != 1 {
		t.Fatalf("expected one skipped item, got %v", err)
	}
	if report.Skipped != 1 || report.Added.Single != 1 || report.Added.Records != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, found, _ := h.local.Load(ctx, storage.Guest(), storage.KeySingleTasks); !found {
		t.Fatal("expected merged state persisted to the guest namespace")
	}
}

func TestMergeGuestDocuments_KeepsRecordsWithoutIDs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	docs := storage.Documents{
		storage.KeyDailyTasks: []byte(`[{"id":"d1","name":"Walk","type":"daily","createdDate":"2024-01-02T08:00:00.000Z"}]`),
		storage.KeyCompletedTasks: []byte(`[
			{"taskId":"d1","taskType":"daily","date":"2024-01-02","actualValue":1},
			{"taskId":"d1","taskType":"daily","date":"2024-01-03","actualValue":1},
			{"taskId":"d1","date":"2024-01-04","actualValue":1}
		]`),
	}
	report, err := h.rec.MergeGuestDocuments(ctx, docs)
	if err != nil {
		t.Fatalf("MergeGuestDocuments: %v", err)
	}
	if report.Offered != 4 || report.Added.Daily != 1 || report.Added.Records != 3 || report.Skipped != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	state := h.rec.State()
	ids := make(map[string]bool)
	for _, r := range state.Records {
		if r.ID == "" || ids[r.ID] {
			t.Fatalf("expected distinct record ids, got %+v", state.Records)
		}
		ids[r.ID] = true
		if r.TaskKind != task.KindDaily {
			t.Fatalf("expected every record attributed to the daily kind, got %+v", r)
		}
	}
	if state.Stats.TotalCompleted != 3 || state.Stats.TaskCategories[task.KindDaily] != 3 {
		t.Fatalf("expected stats over all three records, got %+v", state.Stats)
	}
	if _, ok := state.Stats.TaskCategories[""]; ok {
		t.Fatalf("expected no empty category, got %+v", state.Stats.TaskCategories)
	}
	if start := state.Daily[0].Schedule.(task.DailySchedule).Start; start != "2024-01-02" {
		t.Fatalf("expected start from createdDate, got %s", start)
	}

	h.mu.Lock()
	_, ok := h.store.DeleteCompletionRecord(state.Records[1].ID)
	h.mu.Unlock()
	if !ok {
		t.Fatal("expected an imported record to be addressable by its id")
	}
}

func TestLoad_RepairsAndReclassifies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_ = h.local.Save(ctx, storage.Guest(), storage.KeyDailyTasks, []byte(`[{"id":"s","name":"S","kind":"single","scheduledDate":"2024-01-05"}]`))
	_ = h.local.Save(ctx, storage.Guest(), storage.KeyCompletedTasks, []byte(`[{"taskId":"s","taskKind":"single","date":"2024-01-05","actualValue":2}]`))

	res, err := h.rec.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Reclassified != 1 || res.Repaired != 1 {
		t.Fatalf("unexpected repairs %+v", res)
	}
	state := h.rec.State()
	if len(state.Single) != 1 || len(state.Daily) != 0 || state.Records[0].ID == "" {
		t.Fatalf("unexpected state %+v", state)
	}
	if state.Stats.PerTaskStats["s"].CumulativeValue != 2 {
		t.Fatalf("expected stats recomputed on load, got %+v", state.Stats.PerTaskStats)
	}
}

func TestTimer(t *testing.T) {
	h := newHarness(t)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !h.rec.StartTimerOnce(at) {
		t.Fatal("expected first start to set the timer")
	}
	if h.rec.StartTimerOnce(at.Add(time.Hour)) {
		t.Fatal("expected second start to be ignored")
	}
	if got := h.rec.TimerStart(); got == nil || !got.Equal(at) {
		t.Fatalf("unexpected timer start %v", got)
	}
	h.rec.ResetTimer()
	if h.rec.TimerStart() != nil {
		t.Fatal("expected timer cleared")
	}
}
