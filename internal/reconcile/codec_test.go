package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/songmopx/planeveryday.org/internal/stats"
	"github.com/songmopx/planeveryday.org/internal/storage"
	"github.com/songmopx/planeveryday.org/internal/task"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	st := stats.New()
	st.TotalCompleted = 1
	st.DailyCompletions["2024-01-02"] = 1

	in := State{
		Daily:      []task.Task{{ID: "d", Name: "D", Dimension: task.DimensionSimple, TargetValue: 1, Schedule: task.DailySchedule{Start: "2024-01-01"}}},
		Single:     []task.Task{{ID: "s", Name: "S", Dimension: task.DimensionCount, TargetValue: 3, Schedule: task.SingleSchedule{On: "2024-01-05"}}},
		Records:    []task.CompletionRecord{{ID: "r", TaskID: "d", TaskKind: task.KindDaily, Date: "2024-01-02", ActualValue: 1}},
		Stats:      st,
		TimerStart: &start,
	}

	docs, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(docs) != len(storage.AllKeys) {
		t.Fatalf("expected %d documents, got %d", len(storage.AllKeys), len(docs))
	}

	out, err := Decode(docs)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out.Daily) != 1 || len(out.Single) != 1 || len(out.Records) != 1 {
		t.Fatalf("unexpected sizes %+v", out)
	}
	if out.Single[0].TargetValue != 3 || out.Records[0].Date != "2024-01-02" {
		t.Fatalf("unexpected decoded values %+v", out)
	}
	if out.TimerStart == nil || !out.TimerStart.Equal(start) {
		t.Fatalf("unexpected timer start %v", out.TimerStart)
	}
	if out.Stats.TotalCompleted != 1 || out.Stats.DailyCompletions["2024-01-02"] != 1 {
		t.Fatalf("unexpected stats %+v", out.Stats)
	}
}

func TestEncode_EmptyCollectionsAreArrays(t *testing.T) {
	docs, err := Encode(State{}, storage.KeyDailyTasks, storage.KeyTimerStart)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(docs[storage.KeyDailyTasks]) != "[]" {
		t.Fatalf("expected [], got %s", docs[storage.KeyDailyTasks])
	}
	if string(docs[storage.KeyTimerStart]) != "null" {
		t.Fatalf("expected null, got %s", docs[storage.KeyTimerStart])
	}
	if _, ok := docs[storage.KeyStatistics]; ok {
		t.Fatal("expected only requested keys")
	}
}

func TestDecode_SkipsMalformedItems(t *testing.T) {
	docs := storage.Documents{
		storage.KeyDailyTasks: []byte(`[{"id":"ok","name":"a","kind":"daily","startDate":"2024-01-01"}, {"name":"no id"}, 42]`),
		storage.KeySingleTasks: []byte(`{"not":"an array"}`),
		storage.KeyCompletedTasks: []byte(`[
			{"id":"r1","taskId":"ok","taskKind":"daily","date":"2024-01-01","actualValue":1},
			{"id":"r2","taskId":"ok","date":"yesterday"},
			{"id":"r3","date":"2024-01-01"},
			{"id":"r4","taskId":"ok"}
		]`),
		storage.KeyStatistics: []byte(`"garbage"`),
		storage.KeyTimerStart: []byte(`null`),
	}

	state, err := Decode(docs)

	var rerr *ReconciliationError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *ReconciliationError, got %v", err)
	}
	// two bad daily items, the single document, three bad records, the statistics document
	if rerr.Skipped != 7 {
		t.Fatalf("expected 7 skipped, got %d: %v", rerr.Skipped, rerr)
	}
	if len(state.Daily) != 1 || state.Daily[0].ID != "ok" {
		t.Fatalf("expected the valid daily task kept, got %+v", state.Daily)
	}
	if len(state.Records) != 1 || state.Records[0].ID != "r1" {
		t.Fatalf("expected only r1 kept, got %+v", state.Records)
	}
	if state.Stats.DailyCompletions == nil || state.TimerStart != nil {
		t.Fatalf("expected zero stats and no timer, got %+v", state)
	}
}

func TestDecode_MissingDocumentsAreEmpty(t *testing.T) {
	state, err := Decode(storage.Documents{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !state.Empty() || state.TimerStart != nil {
		t.Fatalf("expected empty state, got %+v", state)
	}
}

func TestDecode_BrowserDocuments(t *testing.T) {
	docs := storage.Documents{
		storage.KeyDailyTasks: []byte(`[{"id":"d1","name":"Read","type":"daily","dimension":"time","targetValue":30,"unit":"minutes","createdDate":"2024-01-02T08:00:00.000Z"}]`),
		storage.KeySingleTasks: []byte(`[{"id":"s1","name":"Dentist","type":"single","dimension":"simple","targetValue":1,"unit":"","createdDate":"2024-01-02T08:00:00.000Z","date":"2024-01-09"}]`),
		storage.KeyCompletedTasks: []byte(`[
			{"id":"r1","taskId":"d1","taskType":"daily","date":"2024-01-03","completedAt":"2024-01-03T20:00:00.000Z","actualValue":25,"taskName":"Read","dimension":"time","note":""},
			{"id":"r2","taskId":"s1","taskType":"single","date":"2024-01-09","completedAt":"2024-01-09T10:00:00.000Z","actualValue":1,"taskName":"Dentist","dimension":"simple","note":"done"}
		]`),
	}

	state, err := Decode(docs)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(state.Daily) != 1 || len(state.Single) != 1 || len(state.Records) != 2 {
		t.Fatalf("unexpected state %+v", state)
	}
	daily := state.Daily[0]
	if !daily.CreatedAt.Equal(time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)) || daily.ActiveOn("2024-01-01") || !daily.ActiveOn("2024-01-02") {
		t.Fatalf("expected daily task anchored at its creation date, got %+v", daily)
	}
	if on, ok := state.Single[0].ScheduledDate(); !ok || on != "2024-01-09" {
		t.Fatalf("unexpected single schedule %+v", state.Single[0])
	}
	if state.Records[0].TaskKind != task.KindDaily || state.Records[1].TaskKind != task.KindSingle {
		t.Fatalf("expected record kinds from taskType, got %+v", state.Records)
	}
}
