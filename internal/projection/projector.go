// Package projection expands tasks into dated occurrences and derives the
// read-only views built on them. It holds no state of its own.
package projection

import (
	"sort"

	"github.com/songmopx/planeveryday.org/internal/task"
)

// Source is the read side of the task store.
type Source interface {
	DailyTasks() []task.Task
	SingleTasks() []task.Task
	Records() []task.CompletionRecord
}

// Occurrence is a task's instance on a date. Completed is derived from the
// completion records on every projection.
type Occurrence struct {
	Task      task.Task `json:"task"`
	Date      task.Date `json:"date"`
	Completed bool      `json:"completed"`
}

// Projection maps each date of a window to its ordered occurrences.
type Projection map[task.Date][]Occurrence

// Counts returns the number of due and completed occurrences over dates.
func (p Projection) Counts(dates ...task.Date) (due, completed int) {
	for _, d := range dates {
		for _, o := range p[d] {
			due++
			if o.Completed {
				completed++
			}
		}
	}
	return due, completed
}

// Window is an inclusive date range.
type Window struct {
	From task.Date
	To   task.Date
}

// Past and Ahead bound the default window around today.
const (
	PastDays    = 7
	AheadMonths = 3
)

// DefaultWindow covers a week back through three months ahead of today.
func DefaultWindow(today task.Date) Window {
	return Window{From: today.AddDays(-PastDays), To: today.AddMonths(AheadMonths)}
}

// Projector computes occurrences from a Source.
type Projector struct {
	src Source
}

// NewProjector wraps src.
func NewProjector(src Source) *Projector {
	return &Projector{src: src}
}

// Project lists, for every date in [from, to], the daily tasks active that day
// followed by the single tasks scheduled that day, each in collection order.
func (p *Projector) Project(from, to task.Date) Projection {
	daily := p.src.DailyTasks()
	single := p.src.SingleTasks()
	done := completionIndex(p.src.Records())

	out := make(Projection)
	for _, d := range task.DatesBetween(from, to) {
		var day []Occurrence
		for _, t := range daily {
			if t.ActiveOn(d) {
				day = append(day, Occurrence{Task: t, Date: d, Completed: done.has(t.ID, d)})
			}
		}
		for _, t := range single {
			if t.ActiveOn(d) {
				day = append(day, Occurrence{Task: t, Date: d, Completed: done.has(t.ID, d)})
			}
		}
		if len(day) > 0 {
			out[d] = day
		}
	}
	return out
}

// ProjectWindow is Project over w.
func (p *Projector) ProjectWindow(w Window) Projection {
	return p.Project(w.From, w.To)
}

// DueOn returns the occurrences for a single day.
func (p *Projector) DueOn(d task.Date) []Occurrence {
	return p.Project(d, d)[d]
}

// Unfinished lists single tasks with no completion on their scheduled date,
// oldest date first.
func (p *Projector) Unfinished() []Occurrence {
	done := completionIndex(p.src.Records())
	out := make([]Occurrence, 0)
	for _, t := range p.src.SingleTasks() {
		on, ok := t.ScheduledDate()
		if !ok || done.has(t.ID, on) {
			continue
		}
		out = append(out, Occurrence{Task: t, Date: on})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Task.CreatedAt.Before(out[j].Task.CreatedAt)
	})
	return out
}

// CompletedSingle pairs a completed single task with its latest record.
type CompletedSingle struct {
	Task   task.Task             `json:"task"`
	Record task.CompletionRecord `json:"record"`
}

// CompletedSingles lists single tasks completed on their scheduled date,
// most recently completed first.
func (p *Projector) CompletedSingles() []CompletedSingle {
	latest := make(map[string]task.CompletionRecord)
	for _, r := range p.src.Records() {
		key := r.TaskID + "|" + string(r.Date)
		if prev, ok := latest[key]; !ok || r.CompletedAt.After(prev.CompletedAt) {
			latest[key] = r
		}
	}

	out := make([]CompletedSingle, 0)
	for _, t := range p.src.SingleTasks() {
		on, ok := t.ScheduledDate()
		if !ok {
			continue
		}
		if r, ok := latest[t.ID+"|"+string(on)]; ok {
			out = append(out, CompletedSingle{Task: t, Record: r})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Record.CompletedAt.After(out[j].Record.CompletedAt)
	})
	return out
}

// UpcomingDays is how far ahead Overview counts pending single tasks.
const UpcomingDays = 30

// Overview summarizes the task collections relative to today.
type Overview struct {
	Today            task.Date    `json:"today"`
	DueToday         []Occurrence `json:"dueToday"`
	CompletedToday   int          `json:"completedToday"`
	ActiveDaily      int          `json:"activeDaily"`
	UpcomingSingles  int          `json:"upcomingSingles"`
	TotalCompletions int          `json:"totalCompletions"`
}

// Overview counts daily tasks active today, single tasks scheduled within the
// next UpcomingDays days, and all completion records.
func (p *Projector) Overview(today task.Date) Overview {
	due := p.DueOn(today)
	if due == nil {
		due = []Occurrence{}
	}
	ov := Overview{Today: today, DueToday: due, TotalCompletions: len(p.src.Records())}
	for _, o := range due {
		if o.Completed {
			ov.CompletedToday++
		}
	}
	for _, t := range p.src.DailyTasks() {
		if t.ActiveOn(today) {
			ov.ActiveDaily++
		}
	}
	horizon := today.AddDays(UpcomingDays)
	for _, t := range p.src.SingleTasks() {
		if on, ok := t.ScheduledDate(); ok && !on.Before(today) && !on.After(horizon) {
			ov.UpcomingSingles++
		}
	}
	return ov
}

type index map[string]map[task.Date]struct{}

func completionIndex(records []task.CompletionRecord) index {
	idx := make(index)
	for _, r := range records {
		dates, ok := idx[r.TaskID]
		if !ok {
			dates = make(map[task.Date]struct{})
			idx[r.TaskID] = dates
		}
		dates[r.Date] = struct{}{}
	}
	return idx
}

func (i index) has(taskID string, d task.Date) bool {
	_, ok := i[taskID][d]
	return ok
}
