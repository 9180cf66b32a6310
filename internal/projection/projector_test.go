package projection

import (
	"testing"
	"time"

	"github.com/songmopx/planeveryday.org/internal/task"
)

type fakeSource struct {
	daily   []task.Task
	single  []task.Task
	records []task.CompletionRecord
}

func (f fakeSource) DailyTasks() []task.Task { return f.daily }
func (f fakeSource) SingleTasks() []task.Task { return f.single }
func (f fakeSource) Records() []task.CompletionRecord { return f.records }

func dailyTask(id, start string, end string) task.Task {
	sched := task.DailySchedule{Start: task.MustDate(start)}
	if end != "" {
		e := task.MustDate(end)
		sched.End = &e
	}
	return task.Task{ID: id, Name: id, Dimension: task.DimensionSimple, TargetValue: 1, Schedule: sched}
}

func singleTask(id, on string) task.Task {
	return task.Task{ID: id, Name: id, Dimension: task.DimensionSimple, TargetValue: 1, Schedule: task.SingleSchedule{On: task.MustDate(on)}}
}

func record(id, taskID, date string, at time.Time) task.CompletionRecord {
	return task.CompletionRecord{ID: id, TaskID: taskID, Date: task.MustDate(date), CompletedAt: at, ActualValue: 1}
}

func TestProject_DailyStartBound(t *testing.T) {
	p := NewProjector(fakeSource{daily: []task.Task{dailyTask("d1", "2024-01-10", "")}})

	got := p.Project("2024-01-08", "2024-01-12")

	if len(got) != 3 {
		t.Fatalf("expected 3 dates, got %d: %v", len(got), got)
	}
	for _, d := range []task.Date{"2024-01-10", "2024-01-11", "2024-01-12"} {
		if len(got[d]) != 1 || got[d][0].Task.ID != "d1" {
			t.Fatalf("expected d1 on %s, got %v", d, got[d])
		}
	}
	for _, d := range []task.Date{"2024-01-08", "2024-01-09"} {
		if _, ok := got[d]; ok {
			t.Fatalf("did not expect occurrences on %s", d)
		}
	}
}

func TestProject_EndDateInclusiveAndOrdering(t *testing.T) {
	src := fakeSource{
		daily:   []task.Task{dailyTask("d1", "2024-01-01", "2024-01-02"), dailyTask("d2", "2024-01-01", "")},
		single:  []task.Task{singleTask("s1", "2024-01-02")},
		records: []task.CompletionRecord{record("r1", "s1", "2024-01-02", time.Time{}), record("r2", "d2", "2024-01-01", time.Time{})},
	}
	got := NewProjector(src).Project("2024-01-01", "2024-01-03")

	day2 := got["2024-01-02"]
	if len(day2) != 3 || day2[0].Task.ID != "d1" || day2[1].Task.ID != "d2" || day2[2].Task.ID != "s1" {
		t.Fatalf("unexpected order on 01-02: %v", day2)
	}
	if !day2[2].Completed || day2[0].Completed {
		t.Fatalf("unexpected completion flags: %v", day2)
	}
	if day3 := got["2024-01-03"]; len(day3) != 1 || day3[0].Task.ID != "d2" {
		t.Fatalf("expected only d2 after d1's end date, got %v", day3)
	}
	if !got["2024-01-01"][1].Completed {
		t.Fatal("expected d2 completed on 01-01")
	}

	due, completed := got.Counts(task.DatesBetween("2024-01-01", "2024-01-03")...)
	if due != 6 || completed != 2 {
		t.Fatalf("expected 6 due / 2 completed, got %d/%d", due, completed)
	}
}

func TestDefaultWindow(t *testing.T) {
	w := DefaultWindow("2024-01-31")
	if w.From != "2024-01-24" || w.To != "2024-05-01" {
		t.Fatalf("unexpected window %+v", w)
	}
}

func TestUnfinishedAndCompletedSingles(t *testing.T) {
	base := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	src := fakeSource{
		single: []task.Task{
			singleTask("late", "2024-01-03"),
			singleTask("done-early", "2024-01-01"),
			singleTask("soon", "2024-01-07"),
			singleTask("done-late", "2024-01-04"),
			singleTask("wrong-day", "2024-01-02"),
		},
		records: []task.CompletionRecord{
			record("r1", "done-early", "2024-01-01", base.Add(-48*time.Hour)),
			record("r2", "done-late", "2024-01-04", base.Add(-time.Hour)),
			record("r3", "done-late", "2024-01-04", base),
			record("r4", "wrong-day", "2024-01-03", base),
		},
	}
	p := NewProjector(src)

	unfinished := p.Unfinished()
	wantUnfinished := []string{"wrong-day", "late", "soon"}
	if len(unfinished) != len(wantUnfinished) {
		t.Fatalf("expected %d unfinished, got %d", len(wantUnfinished), len(unfinished))
	}
	for i, id := range wantUnfinished {
		if unfinished[i].Task.ID != id {
			t.Fatalf("unfinished[%d] = %s, want %s", i, unfinished[i].Task.ID, id)
		}
	}

	completed := p.CompletedSingles()
	if len(completed) != 2 || completed[0].Task.ID != "done-late" || completed[1].Task.ID != "done-early" {
		t.Fatalf("unexpected completed singles %v", completed)
	}
	if completed[0].Record.ID != "r3" {
		t.Fatalf("expected latest record r3, got %s", completed[0].Record.ID)
	}
}

func TestOverview(t *testing.T) {
	src := fakeSource{
		daily:   []task.Task{dailyTask("d1", "2024-01-01", ""), dailyTask("future", "2024-02-01", "")},
		single:  []task.Task{singleTask("today", "2024-01-05"), singleTask("in30", "2024-02-04"), singleTask("in31", "2024-02-05"), singleTask("past", "2024-01-04")},
		records: []task.CompletionRecord{record("r1", "d1", "2024-01-05", time.Time{}), record("r2", "past", "2024-01-04", time.Time{})},
	}
	ov := NewProjector(src).Overview("2024-01-05")

	if ov.ActiveDaily != 1 || ov.UpcomingSingles != 2 || ov.TotalCompletions != 2 {
		t.Fatalf("unexpected overview %+v", ov)
	}
	if len(ov.DueToday) != 2 || ov.CompletedToday != 1 {
		t.Fatalf("unexpected today section %+v", ov)
	}
}
