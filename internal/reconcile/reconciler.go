// Package reconcile switches the tracker between the guest and account
// namespaces and merges guest data into an account on sign-in.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/songmopx/planeveryday.org/internal/stats"
	"github.com/songmopx/planeveryday.org/internal/storage"
	"github.com/songmopx/planeveryday.org/internal/task"
)

// ErrStaleLoad is returned when a namespace load finished after a newer switch was requested.
var ErrStaleLoad = errors.New("namespace load superseded by a newer switch")

// MergeReport summarizes a guest merge.
type MergeReport struct {
	Offered int              `json:"offered"`
	Added   task.UnionReport `json:"added"`
	Skipped int              `json:"skipped"`
}

// SwitchResult describes a completed namespace switch or load.
type SwitchResult struct {
	Namespace    storage.Namespace
	Source       storage.Source
	Merge        *MergeReport
	Reclassified int
	Repaired     int
	Warnings     []error
}

// Reconciler owns the active namespace. The lock it is given is shared with
// the tracker: Load, SwitchToAccount, SwitchToGuest and MergeGuestDocuments
// take it themselves and release it while remote I/O is outstanding; every
// other method expects the caller to hold it.
type Reconciler struct {
	mu     sync.Locker
	store  *task.Store
	agg    *stats.Aggregator
	gw     *storage.Gateway
	logger *slog.Logger
	warn   func(error)

	committed  storage.Namespace
	requested  storage.Namespace
	generation uint64
	timerStart *time.Time

	saves    sync.WaitGroup
	saveSeq  uint64
	remoteMu sync.Mutex
	written  map[string]uint64 // namespace/key -> newest snapshot saved remotely
}

// Options configures a Reconciler.
type Options struct {
	// OnWarning receives every persistence and reconciliation warning. It may
	// be called from background goroutines.
	OnWarning func(error)
	Logger    *slog.Logger
}

// New builds a Reconciler starting in the guest namespace.
func New(mu sync.Locker, store *task.Store, agg *stats.Aggregator, gw *storage.Gateway, opts Options) (*Reconciler, error) {
	if mu == nil || store == nil || agg == nil || gw == nil {
		return nil, errors.New("lock, store, aggregator and gateway are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	warn := opts.OnWarning
	if warn == nil {
		warn = func(error) {}
	}
	return &Reconciler{
		mu:      mu,
		store:   store,
		agg:     agg,
		gw:      gw,
		logger:  logger,
		warn:    warn,
		written: make(map[string]uint64),
	}, nil
}

// Namespace returns the namespace whose data is in memory.
func (r *Reconciler) Namespace() storage.Namespace {
	return r.committed
}

// Pending reports whether a switch to another namespace is still loading.
func (r *Reconciler) Pending() bool {
	return r.requested != r.committed
}

// TimerStart returns the instant of the first completion ever, if any.
func (r *Reconciler) TimerStart() *time.Time {
	if r.timerStart == nil {
		return nil
	}
	t := *r.timerStart
	return &t
}

// StartTimerOnce records at as the timer start unless one is already set.
func (r *Reconciler) StartTimerOnce(at time.Time) bool {
	if r.timerStart != nil {
		return false
	}
	t := at.UTC()
	r.timerStart = &t
	return true
}

// ResetTimer clears the timer start.
func (r *Reconciler) ResetTimer() {
	r.timerStart = nil
}

// State returns a detached copy of the in-memory namespace state.
func (r *Reconciler) State() State {
	snap := r.store.Snapshot()
	return State{
		Daily:      snap.Daily,
		Single:     snap.Single,
		Records:    snap.Records,
		Stats:      r.agg.Statistics(),
		TimerStart: r.TimerStart(),
	}
}

// Load reads the committed namespace, replacing in-memory state. Used at start-up.
func (r *Reconciler) Load(ctx context.Context) (SwitchResult, error) {
	r.mu.Lock()
	ns := r.committed
	r.mu.Unlock()
	return r.switchTo(ctx, ns, false)
}

// SwitchToAccount loads the account's namespace and, when leaving the guest
// namespace, merges the guest state held in memory at that moment.
func (r *Reconciler) SwitchToAccount(ctx context.Context, userID string) (SwitchResult, error) {
	if userID == "" {
		return SwitchResult{}, errors.New("user id is required")
	}
	return r.switchTo(ctx, storage.Account(userID), true)
}

// SwitchToGuest loads the guest namespace. Account data is never merged back.
func (r *Reconciler) SwitchToGuest(ctx context.Context) (SwitchResult, error) {
	return r.switchTo(ctx, storage.Guest(), false)
}

func (r *Reconciler) switchTo(ctx context.Context, ns storage.Namespace, mergeGuest bool) (SwitchResult, error) {
	r.mu.Lock()
	r.generation++
	gen := r.generation
	r.requested = ns
	r.mu.Unlock()

	loaded := r.gw.LoadNamespace(ctx, ns)

	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.generation || r.requested != ns {
		r.logger.Info("discarding stale namespace load", "namespace", ns.String())
		return SwitchResult{Namespace: ns}, ErrStaleLoad
	}

	result := SwitchResult{Namespace: ns, Source: loaded.Source, Warnings: loaded.Warnings}

	state, decodeErr := Decode(loaded.Docs)
	if decodeErr != nil {
		result.Warnings = append(result.Warnings, decodeErr)
	}

	var guest State
	if mergeGuest && r.committed.IsGuest() && !ns.IsGuest() {
		guest = r.State()
	}

	r.store.Replace(state.Snapshot())
	r.agg.Replace(state.Stats)
	r.timerStart = state.TimerStart
	r.committed = ns

	result.Repaired = r.store.RepairRecordIDs() + r.store.RepairRecordKinds()
	result.Reclassified = r.store.Reclassify()

	if !guest.Empty() {
		report := r.merge(guest)
		result.Merge = &report
	}
	r.agg.RecomputeAll(r.store)

	if result.Merge != nil || result.Repaired > 0 || result.Reclassified > 0 {
		result.Warnings = append(result.Warnings, r.Persist(ctx)...)
	}

	for _, w := range result.Warnings {
		r.warn(w)
	}
	r.logger.Info("namespace active",
		"namespace", ns.String(),
		"source", string(loaded.Source),
		"reclassified", result.Reclassified,
		"merged", result.Merge != nil,
	)
	return result, nil
}

// MergeGuestData merges guest into the in-memory state: id-keyed union of the
// three collections, additive statistics, then a full recompute and a persist.
// An empty guest state is a no-op. The caller holds the lock.
func (r *Reconciler) MergeGuestData(ctx context.Context, guest State) (MergeReport, []error) {
	if guest.Empty() {
		return MergeReport{}, nil
	}
	report := r.merge(guest)
	r.agg.RecomputeAll(r.store)
	return report, r.Persist(ctx)
}

// MergeGuestDocuments decodes raw guest documents and merges them. Malformed
// items are skipped and counted; the *ReconciliationError is returned
// alongside the report.
func (r *Reconciler) MergeGuestDocuments(ctx context.Context, docs storage.Documents) (MergeReport, error) {
	guest, decodeErr := Decode(docs)

	r.mu.Lock()
	defer r.mu.Unlock()

	report, warnings := r.MergeGuestData(ctx, guest)
	var rerr *ReconciliationError
	if errors.As(decodeErr, &rerr) {
		report.Skipped = rerr.Skipped
	}
	for _, w := range warnings {
		r.warn(w)
	}
	return report, decodeErr
}

func (r *Reconciler) merge(guest State) MergeReport {
	snap := guest.Snapshot()
	report := MergeReport{
		Offered: len(snap.Daily) + len(snap.Single) + len(snap.Records),
		Added:   r.store.Union(snap),
	}
	r.agg.MergeCounters(guest.Stats)
	if guest.TimerStart != nil && (r.timerStart == nil || guest.TimerStart.Before(*r.timerStart)) {
		t := *guest.TimerStart
		r.timerStart = &t
	}
	r.store.Reclassify()
	r.store.RepairRecordKinds()
	return report
}

// Persist saves the given keys (all keys when none are given) of the
// committed namespace. The local write happens before Persist returns; the
// remote write runs in the background with a full snapshot of each document.
// A snapshot is never written remotely after a newer one of the same
// document. Local failures are returned.
func (r *Reconciler) Persist(ctx context.Context, keys ...storage.Key) []error {
	ns := r.committed
	docs, err := Encode(r.State(), keys...)
	if err != nil {
		return []error{err}
	}

	var warnings []error
	for key, body := range docs {
		if err := r.gw.SaveLocal(ctx, ns, key, body); err != nil {
			r.logger.Error("local save failed", "namespace", ns.String(), "key", string(key), "error", err)
			warnings = append(warnings, err)
		}
	}

	if r.gw.HasRemote() && !ns.IsGuest() {
		r.saveSeq++
		seq := r.saveSeq
		r.saves.Add(1)
		go func() {
			defer r.saves.Done()
			// Detached from ctx: the request that triggered the save may finish first.
			bg := context.WithoutCancel(ctx)
			for key, body := range docs {
				r.saveRemote(bg, ns, key, body, seq)
			}
		}()
	}
	return warnings
}

func (r *Reconciler) saveRemote(ctx context.Context, ns storage.Namespace, key storage.Key, body []byte, seq uint64) {
	r.remoteMu.Lock()
	defer r.remoteMu.Unlock()

	doc := ns.String() + "/" + string(key)
	if r.written[doc] > seq {
		return
	}
	if err := r.gw.SaveRemote(ctx, ns, key, body); err != nil {
		r.logger.Warn("remote save failed", "namespace", ns.String(), "key", string(key), "error", err)
		r.warn(err)
		return
	}
	r.written[doc] = seq
}

// Flush waits for background remote saves to finish or ctx to end.
func (r *Reconciler) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.saves.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
