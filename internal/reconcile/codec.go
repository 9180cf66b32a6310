package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/songmopx/planeveryday.org/internal/stats"
	"github.com/songmopx/planeveryday.org/internal/storage"
	"github.com/songmopx/planeveryday.org/internal/task"
)

// State is everything persisted for one namespace.
type State struct {
	Daily      []task.Task
	Single     []task.Task
	Records    []task.CompletionRecord
	Stats      stats.Statistics
	TimerStart *time.Time
}

// Empty reports whether s has no tasks and no completion records.
func (s State) Empty() bool {
	return s.Snapshot().Empty()
}

// Snapshot returns the task collections of s.
func (s State) Snapshot() task.Snapshot {
	return task.Snapshot{Daily: s.Daily, Single: s.Single, Records: s.Records}
}

// ReconciliationError reports items skipped while decoding or merging.
type ReconciliationError struct {
	Skipped int
	Causes  []error
}

func (e *ReconciliationError) Error() string {
	msgs := make([]string, 0, len(e.Causes))
	for _, c := range e.Causes {
		msgs = append(msgs, c.Error())
	}
	return fmt.Sprintf("skipped %d malformed item(s): %s", e.Skipped, strings.Join(msgs, "; "))
}

func (e *ReconciliationError) Unwrap() []error { return e.Causes }

func (e *ReconciliationError) add(err error) {
	e.Skipped++
	e.Causes = append(e.Causes, err)
}

func (e *ReconciliationError) orNil() error {
	if e == nil || e.Skipped == 0 {
		return nil
	}
	return e
}

// Encode renders the requested keys of s, or every key when none are given.
func Encode(s State, keys ...storage.Key) (storage.Documents, error) {
	if len(keys) == 0 {
		keys = storage.AllKeys
	}
	docs := make(storage.Documents, len(keys))
	for _, key := range keys {
		var v any
		switch key {
		case storage.KeyDailyTasks:
			v = nonNil(s.Daily)
		case storage.KeySingleTasks:
			v = nonNil(s.Single)
		case storage.KeyCompletedTasks:
			v = nonNil(s.Records)
		case storage.KeyStatistics:
			v = s.Stats.Clone()
		case storage.KeyTimerStart:
			v = s.TimerStart
		default:
			return nil, fmt.Errorf("unknown key %q", key)
		}
		body, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		docs[key] = body
	}
	return docs, nil
}

// Decode parses a namespace's documents. Arrays are decoded item by item so a
// malformed item is skipped without losing the rest; the returned error is a
// *ReconciliationError describing what was dropped, or nil.
func Decode(docs storage.Documents) (State, error) {
	rerr := &ReconciliationError{}
	s := State{Stats: stats.New()}

	s.Daily = decodeItems[task.Task](docs, storage.KeyDailyTasks, rerr)
	s.Single = decodeItems[task.Task](docs, storage.KeySingleTasks, rerr)
	s.Records = decodeItems[task.CompletionRecord](docs, storage.KeyCompletedTasks, rerr)
	s.Records = dropInvalidRecords(s.Records, rerr)

	if body, ok := docs[storage.KeyStatistics]; ok && !isNull(body) {
		var st stats.Statistics
		if err := json.Unmarshal(body, &st); err != nil {
			rerr.add(fmt.Errorf("%s: %w", storage.KeyStatistics, err))
		} else {
			s.Stats = st.Clone()
		}
	}

	if body, ok := docs[storage.KeyTimerStart]; ok && !isNull(body) {
		var ts time.Time
		if err := json.Unmarshal(body, &ts); err != nil {
			rerr.add(fmt.Errorf("%s: %w", storage.KeyTimerStart, err))
		} else {
			s.TimerStart = &ts
		}
	}

	return s, rerr.orNil()
}

func decodeItems[T any](docs storage.Documents, key storage.Key, rerr *ReconciliationError) []T {
	body, ok := docs[key]
	if !ok || isNull(body) {
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		rerr.add(fmt.Errorf("%s: %w", key, err))
		return nil
	}
	out := make([]T, 0, len(raw))
	for i, item := range raw {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			rerr.add(fmt.Errorf("%s[%d]: %w", key, i, err))
			continue
		}
		out = append(out, v)
	}
	return out
}

// Records without a task or date cannot be attributed; an empty id is
// repaired later by the store.
func dropInvalidRecords(records []task.CompletionRecord, rerr *ReconciliationError) []task.CompletionRecord {
	out := records[:0]
	for _, r := range records {
		switch {
		case r.TaskID == "":
			rerr.add(fmt.Errorf("%s %q: %w", storage.KeyCompletedTasks, r.ID, errNoTaskID))
			continue
		case !r.Date.Valid():
			rerr.add(fmt.Errorf("%s %q: %w", storage.KeyCompletedTasks, r.ID, errNoDate))
			continue
		}
		out = append(out, r)
	}
	return out
}

var (
	errNoTaskID = errors.New("record has no taskId")
	errNoDate   = errors.New("record has no date")
)

func isNull(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	return trimmed == "" || trimmed == "null"
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
