package stats

import (
	"maps"
	"math"
	"time"

	"github.com/songmopx/planeveryday.org/internal/projection"
	"github.com/songmopx/planeveryday.org/internal/task"
)

// StreakLimit caps how many days back the streak walk looks.
const StreakLimit = 365

// TaskStats is the per-task aggregate.
type TaskStats struct {
	CompletedDayCount int            `json:"completedDayCount"`
	CumulativeValue   float64        `json:"cumulativeValue"`
	TaskName          string         `json:"taskName"`
	Dimension         task.Dimension `json:"dimension"`
}

// Statistics is derived entirely from the completion records and tasks.
type Statistics struct {
	TotalCompleted       int                  `json:"totalCompleted"`
	StreakDays           int                  `json:"streakDays"`
	WeeklyCompletionRate int                  `json:"weeklyCompletionRate"`
	DailyCompletions     map[task.Date]int    `json:"dailyCompletions"`
	TaskCategories       map[task.Kind]int    `json:"taskCategories"`
	PerTaskStats         map[string]TaskStats `json:"perTaskStats"`
	LastUpdated          time.Time            `json:"lastUpdated"`
}

// New returns zeroed statistics with allocated maps.
func New() Statistics {
	return Statistics{
		DailyCompletions: make(map[task.Date]int),
		TaskCategories:   make(map[task.Kind]int),
		PerTaskStats:     make(map[string]TaskStats),
	}
}

// Clone deep-copies s, allocating any nil maps.
func (s Statistics) Clone() Statistics {
	out := s
	out.DailyCompletions = maps.Clone(s.DailyCompletions)
	out.TaskCategories = maps.Clone(s.TaskCategories)
	out.PerTaskStats = maps.Clone(s.PerTaskStats)
	if out.DailyCompletions == nil {
		out.DailyCompletions = make(map[task.Date]int)
	}
	if out.TaskCategories == nil {
		out.TaskCategories = make(map[task.Kind]int)
	}
	if out.PerTaskStats == nil {
		out.PerTaskStats = make(map[string]TaskStats)
	}
	return out
}

// IsZero reports whether s carries no counters at all.
func (s Statistics) IsZero() bool {
	return s.TotalCompleted == 0 && len(s.DailyCompletions) == 0 && len(s.TaskCategories) == 0 && len(s.PerTaskStats) == 0
}

// Aggregator maintains Statistics for the active namespace. Like the task
// store it relies on the tracker for serialization.
type Aggregator struct {
	cal   task.Calendar
	stats Statistics
}

// NewAggregator returns an aggregator with empty statistics.
func NewAggregator(cal task.Calendar) *Aggregator {
	return &Aggregator{cal: cal, stats: New()}
}

// Statistics returns a copy of the current statistics.
func (a *Aggregator) Statistics() Statistics {
	return a.stats.Clone()
}

// Replace installs previously persisted statistics.
func (a *Aggregator) Replace(s Statistics) {
	a.stats = s.Clone()
}

// TaskStats returns the aggregate for taskID, zero if it has no completions.
func (a *Aggregator) TaskStats(taskID string) TaskStats {
	return a.stats.PerTaskStats[taskID]
}

// OnCompletionAdded folds r into the counters. src must already contain r.
// The completed-day count only grows when no other record exists for the same
// task and date.
func (a *Aggregator) OnCompletionAdded(r task.CompletionRecord, src projection.Source) {
	records := src.Records()
	first := true
	for _, other := range records {
		if other.ID != r.ID && other.TaskID == r.TaskID && other.Date == r.Date {
			first = false
			break
		}
	}

	a.stats.TotalCompleted++
	a.stats.DailyCompletions[r.Date]++
	a.stats.TaskCategories[r.TaskKind]++
	entry := applyRecord(a.stats.PerTaskStats[r.TaskID], r)
	if first {
		entry.CompletedDayCount++
	}
	a.stats.PerTaskStats[r.TaskID] = entry

	a.refresh(src)
}

// RecomputeAll rebuilds every counter from the record collection.
func (a *Aggregator) RecomputeAll(src projection.Source) {
	records := src.Records()
	next := New()
	next.TotalCompleted = len(records)

	days := make(map[string]map[task.Date]struct{})
	for _, r := range records {
		next.DailyCompletions[r.Date]++
		next.TaskCategories[r.TaskKind]++
		next.PerTaskStats[r.TaskID] = applyRecord(next.PerTaskStats[r.TaskID], r)

		seen, ok := days[r.TaskID]
		if !ok {
			seen = make(map[task.Date]struct{})
			days[r.TaskID] = seen
		}
		seen[r.Date] = struct{}{}
	}
	for id, seen := range days {
		entry := next.PerTaskStats[id]
		entry.CompletedDayCount = len(seen)
		next.PerTaskStats[id] = entry
	}

	a.stats = next
	a.refresh(src)
}

// ForgetTask drops the per-task entry of a deleted task.
func (a *Aggregator) ForgetTask(taskID string) {
	delete(a.stats.PerTaskStats, taskID)
}

// MergeCounters adds other's coarse counters into the current statistics.
// Per-task entries are summed too; RecomputeAll is expected to follow.
func (a *Aggregator) MergeCounters(other Statistics) {
	a.stats.TotalCompleted += other.TotalCompleted
	for d, n := range other.DailyCompletions {
		a.stats.DailyCompletions[d] += n
	}
	for k, n := range other.TaskCategories {
		a.stats.TaskCategories[k] += n
	}
	for id, ts := range other.PerTaskStats {
		cur := a.stats.PerTaskStats[id]
		cur.CompletedDayCount += ts.CompletedDayCount
		cur.CumulativeValue += ts.CumulativeValue
		if cur.TaskName == "" {
			cur.TaskName = ts.TaskName
		}
		if cur.Dimension == "" {
			cur.Dimension = ts.Dimension
		}
		a.stats.PerTaskStats[id] = cur
	}
	a.stats.LastUpdated = a.cal.Now().UTC()
}

// Refresh recomputes the streak and weekly rate, which depend on today.
func (a *Aggregator) Refresh(src projection.Source) {
	a.refresh(src)
}

func (a *Aggregator) refresh(src projection.Source) {
	today := a.cal.Today()
	a.stats.StreakDays = Streak(a.stats.DailyCompletions, today)
	a.stats.WeeklyCompletionRate = WeeklyRate(projection.NewProjector(src), today)
	a.stats.LastUpdated = a.cal.Now().UTC()
}

// Streak counts consecutive days with completions ending today, looking back
// at most StreakLimit days. A day without completions ends the run.
func Streak(daily map[task.Date]int, today task.Date) int {
	streak := 0
	for i := 0; i < StreakLimit; i++ {
		if daily[today.AddDays(-i)] <= 0 {
			break
		}
		streak++
	}
	return streak
}

// WeeklyRate is the rounded percentage of completed occurrences in the
// Sunday-start week containing today, or 0 when nothing is due.
func WeeklyRate(p *projection.Projector, today task.Date) int {
	start := today.WeekStart()
	end := start.AddDays(6)
	due, completed := p.Project(start, end).Counts(task.DatesBetween(start, end)...)
	if due == 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(due)))
}

// DayCount is one point of a completion trend.
type DayCount struct {
	Date  task.Date `json:"date"`
	Count int       `json:"count"`
}

// Trend counts completion records per day for the days ending today, oldest first.
func Trend(records []task.CompletionRecord, today task.Date, days int) []DayCount {
	if days <= 0 {
		return []DayCount{}
	}
	counts := make(map[task.Date]int)
	for _, r := range records {
		counts[r.Date]++
	}
	out := make([]DayCount, 0, days)
	for i := days - 1; i >= 0; i-- {
		d := today.AddDays(-i)
		out = append(out, DayCount{Date: d, Count: counts[d]})
	}
	return out
}

func applyRecord(entry TaskStats, r task.CompletionRecord) TaskStats {
	value := r.ActualValue
	if value <= 0 {
		value = 1
	}
	entry.CumulativeValue += value
	if r.TaskName != "" {
		entry.TaskName = r.TaskName
	}
	if r.Dimension != "" {
		entry.Dimension = r.Dimension
	}
	return entry
}
