package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes recurring tasks from one-off tasks.
type Kind string

const (
	KindDaily  Kind = "daily"
	KindSingle Kind = "single"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindDaily || k == KindSingle
}

// Dimension describes how a completion is measured.
type Dimension string

const (
	DimensionSimple Dimension = "simple"
	DimensionCount  Dimension = "count"
	DimensionTime   Dimension = "time"
)

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	switch d {
	case DimensionSimple, DimensionCount, DimensionTime:
		return true
	}
	return false
}

// Unit is the display unit for quantities of d.
func (d Dimension) Unit() string {
	switch d {
	case DimensionCount:
		return "times"
	case DimensionTime:
		return "minutes"
	default:
		return ""
	}
}

// Schedule is the kind-specific part of a task: DailySchedule or SingleSchedule.
type Schedule interface {
	Kind() Kind
	ActiveOn(d Date) bool
	isSchedule()
}

// DailySchedule recurs every day from Start through End inclusive. A nil End is open-ended.
type DailySchedule struct {
	Start Date
	End   *Date
}

func (DailySchedule) Kind() Kind { return KindDaily }

func (s DailySchedule) ActiveOn(d Date) bool {
	if d.Before(s.Start) {
		return false
	}
	return s.End == nil || !d.After(*s.End)
}

func (DailySchedule) isSchedule() {}

// SingleSchedule occurs exactly on On.
type SingleSchedule struct {
	On Date
}

func (SingleSchedule) Kind() Kind { return KindSingle }

func (s SingleSchedule) ActiveOn(d Date) bool { return d == s.On }

func (SingleSchedule) isSchedule() {}

// Task is a daily or single task. Its kind is carried by Schedule.
type Task struct {
	ID          string
	Name        string
	Dimension   Dimension
	TargetValue float64
	CreatedAt   time.Time
	Schedule    Schedule
}

// Kind returns the variant of t.
func (t Task) Kind() Kind {
	if t.Schedule == nil {
		return ""
	}
	return t.Schedule.Kind()
}

// Unit returns the display unit derived from the dimension.
func (t Task) Unit() string {
	return t.Dimension.Unit()
}

// ActiveOn reports whether t is due on d.
func (t Task) ActiveOn(d Date) bool {
	return t.Schedule != nil && t.Schedule.ActiveOn(d)
}

// ScheduledDate returns the date of a single task.
func (t Task) ScheduledDate() (Date, bool) {
	s, ok := t.Schedule.(SingleSchedule)
	return s.On, ok
}

type taskJSON struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Kind          Kind      `json:"kind"`
	Dimension     Dimension `json:"dimension"`
	TargetValue   float64   `json:"targetValue"`
	Unit          string    `json:"unit,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	StartDate     *Date     `json:"startDate,omitempty"`
	EndDate       *Date     `json:"endDate,omitempty"`
	ScheduledDate *Date     `json:"scheduledDate,omitempty"`

	// Accepted on input for documents written by the browser client.
	LegacyType    Kind       `json:"type,omitempty"`
	LegacyDate    *Date      `json:"date,omitempty"`
	LegacyCreated *time.Time `json:"createdDate,omitempty"`
}

// MarshalJSON writes the flat document form.
func (t Task) MarshalJSON() ([]byte, error) {
	out := taskJSON{
		ID:          t.ID,
		Name:        t.Name,
		Kind:        t.Kind(),
		Dimension:   t.Dimension,
		TargetValue: t.TargetValue,
		Unit:        t.Unit(),
		CreatedAt:   t.CreatedAt,
	}
	switch s := t.Schedule.(type) {
	case DailySchedule:
		start := s.Start
		out.StartDate = &start
		out.EndDate = s.End
	case SingleSchedule:
		on := s.On
		out.ScheduledDate = &on
	default:
		return nil, fmt.Errorf("task %s has no schedule", t.ID)
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the flat document form. A missing kind is inferred from the date fields.
func (t *Task) UnmarshalJSON(b []byte) error {
	var in taskJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	if strings.TrimSpace(in.ID) == "" {
		return errors.New("task id is required")
	}

	kind := in.Kind
	if kind == "" {
		kind = in.LegacyType
	}
	scheduled := in.ScheduledDate
	if scheduled == nil {
		scheduled = in.LegacyDate
	}
	if kind == "" {
		kind = KindDaily
		if scheduled != nil {
			kind = KindSingle
		}
	}
	if in.CreatedAt.IsZero() && in.LegacyCreated != nil {
		in.CreatedAt = *in.LegacyCreated
	}

	dimension := in.Dimension
	if dimension == "" {
		dimension = DimensionSimple
	}
	if !dimension.Valid() {
		return fmt.Errorf("task %s: unknown dimension %q", in.ID, dimension)
	}
	target := in.TargetValue
	if target <= 0 {
		target = 1
	}

	var schedule Schedule
	switch kind {
	case KindDaily:
		start := DateOf(in.CreatedAt, time.UTC)
		if in.StartDate != nil {
			start = *in.StartDate
		}
		schedule = DailySchedule{Start: start, End: in.EndDate}
	case KindSingle:
		if scheduled == nil {
			return fmt.Errorf("task %s: single task without scheduledDate", in.ID)
		}
		schedule = SingleSchedule{On: *scheduled}
	default:
		return fmt.Errorf("task %s: unknown kind %q", in.ID, kind)
	}

	*t = Task{
		ID:          in.ID,
		Name:        in.Name,
		Dimension:   dimension,
		TargetValue: target,
		CreatedAt:   in.CreatedAt,
		Schedule:    schedule,
	}
	return nil
}

// CompletionRecord is one completion action attributed to a calendar date.
// TaskName and Dimension are copied from the task so history survives its deletion.
type CompletionRecord struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"taskId"`
	TaskKind    Kind      `json:"taskKind"`
	Date        Date      `json:"date"`
	CompletedAt time.Time `json:"completedAt"`
	ActualValue float64   `json:"actualValue"`
	Note        string    `json:"note,omitempty"`
	TaskName    string    `json:"taskName"`
	Dimension   Dimension `json:"dimension"`
}

// UnmarshalJSON also accepts the browser client's taskType field for TaskKind.
func (r *CompletionRecord) UnmarshalJSON(b []byte) error {
	type plain CompletionRecord
	var in struct {
		plain
		LegacyTaskType Kind `json:"taskType,omitempty"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*r = CompletionRecord(in.plain)
	if r.TaskKind == "" {
		r.TaskKind = in.LegacyTaskType
	}
	return nil
}

// TaskSpec is the caller-supplied description of a new task.
type TaskSpec struct {
	Name          string    `json:"name" validate:"required"`
	Kind          Kind      `json:"kind" validate:"required,oneof=daily single"`
	Dimension     Dimension `json:"dimension" validate:"omitempty,oneof=simple count time"`
	TargetValue   *float64  `json:"targetValue,omitempty"`
	StartDate     *Date     `json:"startDate,omitempty"`
	EndDate       *Date     `json:"endDate,omitempty"`
	ScheduledDate *Date     `json:"scheduledDate,omitempty"`
}

// CompletionInput describes a completion action. Date defaults to today and
// ActualValue to the task's target value.
type CompletionInput struct {
	TaskID      string   `json:"taskId" validate:"required"`
	Kind        Kind     `json:"kind,omitempty" validate:"omitempty,oneof=daily single"`
	Date        *Date    `json:"date,omitempty"`
	ActualValue *float64 `json:"actualValue,omitempty"`
	Note        string   `json:"note,omitempty"`
}

// ErrNotFound indicates the requested task or record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidInput is matched by every *ValidationError.
var ErrInvalidInput = errors.New("invalid input")

// ValidationError lists every problem found in a caller's input.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidInput, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(problems ...string) error {
	return &ValidationError{Problems: problems}
}

// Clock delivers the current time; extracted for deterministic testing.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers for tasks and records.
type IDGenerator interface {
	NewID() string
}

// Snapshot is a detached copy of the three collections.
type Snapshot struct {
	Daily   []Task
	Single  []Task
	Records []CompletionRecord
}

// Empty reports whether the snapshot holds no tasks and no records.
func (s Snapshot) Empty() bool {
	return len(s.Daily) == 0 && len(s.Single) == 0 && len(s.Records) == 0
}

// Clone deep-copies the slices of s.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Daily:   append([]Task(nil), s.Daily...),
		Single:  append([]Task(nil), s.Single...),
		Records: append([]CompletionRecord(nil), s.Records...),
	}
}
