package task

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Store owns the daily, single and completion collections of the active namespace.
// It is not safe for concurrent use; the tracker serializes every call.
type Store struct {
	cal     Calendar
	ids     IDGenerator
	daily   []Task
	single  []Task
	records []CompletionRecord
}

// NewStore constructs an empty Store.
func NewStore(cal Calendar, ids IDGenerator) (*Store, error) {
	if cal.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	if cal.Location == nil {
		cal = NewCalendar(cal.Clock, nil)
	}
	return &Store{cal: cal, ids: ids}, nil
}

// Calendar returns the store's notion of today.
func (s *Store) Calendar() Calendar {
	return s.cal
}

// Validate checks spec and returns every problem at once.
func (spec TaskSpec) Validate() error {
	var problems []string

	if err := validate.Struct(spec); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return invalid(err.Error())
		}
		for _, fe := range fieldErrs {
			switch fe.Field() {
			case "Name":
				// reported below with the trimmed check
			case "Kind":
				problems = append(problems, "kind must be one of: daily, single")
			case "Dimension":
				problems = append(problems, "dimension must be one of: simple, count, time")
			default:
				problems = append(problems, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
		}
	}
	if strings.TrimSpace(spec.Name) == "" {
		problems = append(problems, "name is required")
	}

	dimension := spec.Dimension
	if dimension == "" {
		dimension = DimensionSimple
	}
	if spec.TargetValue != nil && *spec.TargetValue <= 0 && dimension != DimensionSimple {
		problems = append(problems, "targetValue must be greater than 0")
	}

	dates := []struct {
		name string
		d    *Date
	}{{"startDate", spec.StartDate}, {"endDate", spec.EndDate}, {"scheduledDate", spec.ScheduledDate}}
	for _, f := range dates {
		if f.d != nil && !f.d.Valid() {
			problems = append(problems, fmt.Sprintf("%s must be a YYYY-MM-DD date", f.name))
		}
	}

	switch spec.Kind {
	case KindDaily:
		if spec.ScheduledDate != nil {
			problems = append(problems, "scheduledDate is not allowed for daily tasks")
		}
		if spec.StartDate != nil && spec.EndDate != nil && spec.EndDate.Before(*spec.StartDate) {
			problems = append(problems, "endDate must be on or after startDate")
		}
	case KindSingle:
		if spec.ScheduledDate == nil {
			problems = append(problems, "scheduledDate is required for single tasks")
		}
		if spec.StartDate != nil || spec.EndDate != nil {
			problems = append(problems, "startDate and endDate are only allowed for daily tasks")
		}
	}

	if len(problems) > 0 {
		return invalid(problems...)
	}
	return nil
}

// CreateTask validates spec, assigns an id and creation time, and appends the
// task to the collection matching its kind.
func (s *Store) CreateTask(spec TaskSpec) (Task, error) {
	if err := spec.Validate(); err != nil {
		return Task{}, err
	}

	now := s.cal.Now().UTC()
	dimension := spec.Dimension
	if dimension == "" {
		dimension = DimensionSimple
	}
	target := 1.0
	if spec.TargetValue != nil && dimension != DimensionSimple {
		target = *spec.TargetValue
	}

	t := Task{
		ID:          s.ids.NewID(),
		Name:        strings.TrimSpace(spec.Name),
		Dimension:   dimension,
		TargetValue: target,
		CreatedAt:   now,
	}

	switch spec.Kind {
	case KindDaily:
		start := s.cal.DateOf(now)
		if spec.StartDate != nil {
			start = *spec.StartDate
		}
		t.Schedule = DailySchedule{Start: start, End: copyDate(spec.EndDate)}
		s.daily = append(s.daily, t)
	case KindSingle:
		t.Schedule = SingleSchedule{On: *spec.ScheduledDate}
		s.single = append(s.single, t)
	}

	return t, nil
}

// QuickAdd creates a simple single task due today.
func (s *Store) QuickAdd(name string) (Task, error) {
	today := s.cal.Today()
	return s.CreateTask(TaskSpec{Name: name, Kind: KindSingle, Dimension: DimensionSimple, ScheduledDate: &today})
}

// DeleteResult reports what a cascading delete removed.
type DeleteResult struct {
	Task    Task
	Records []CompletionRecord
}

// DeleteTask removes the task with id from the collection for kind and
// cascades to its completion records. Daily tasks are only ever deleted
// permanently. An unknown id is a no-op and reports false.
func (s *Store) DeleteTask(id string, kind Kind, permanent bool) (DeleteResult, bool, error) {
	var collection *[]Task
	switch kind {
	case KindDaily:
		if !permanent {
			return DeleteResult{}, false, invalid("daily tasks can only be deleted permanently")
		}
		collection = &s.daily
	case KindSingle:
		collection = &s.single
	default:
		return DeleteResult{}, false, invalid("kind must be one of: daily, single")
	}

	idx := indexOfTask(*collection, id)
	if idx < 0 {
		return DeleteResult{}, false, nil
	}

	removed := (*collection)[idx]
	*collection = append((*collection)[:idx:idx], (*collection)[idx+1:]...)

	result := DeleteResult{Task: removed}
	kept := s.records[:0:0]
	for _, r := range s.records {
		if r.TaskID == id {
			result.Records = append(result.Records, r)
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept

	return result, true, nil
}

// RecordCompletion appends a completion record. The task may be absent; the
// record then keeps empty denormalized fields and a value of 1.
func (s *Store) RecordCompletion(in CompletionInput) (CompletionRecord, error) {
	var problems []string
	if err := validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				switch fe.Field() {
				case "TaskID":
					problems = append(problems, "taskId is required")
				case "Kind":
					problems = append(problems, "kind must be one of: daily, single")
				}
			}
		} else {
			problems = append(problems, err.Error())
		}
	}
	if in.Date != nil && !in.Date.Valid() {
		problems = append(problems, "date must be a YYYY-MM-DD date")
	}
	if in.ActualValue != nil && *in.ActualValue <= 0 {
		problems = append(problems, "actualValue must be greater than 0")
	}

	t, found := s.Find(in.TaskID)
	kind := in.Kind
	if found {
		kind = t.Kind()
	} else if kind == "" && in.TaskID != "" {
		problems = append(problems, "kind is required when the task does not exist")
	}
	if len(problems) > 0 {
		return CompletionRecord{}, invalid(problems...)
	}

	now := s.cal.Now().UTC()
	date := s.cal.DateOf(now)
	if in.Date != nil {
		date = *in.Date
	}

	value := 1.0
	dimension := DimensionSimple
	name := ""
	if found {
		value = t.TargetValue
		dimension = t.Dimension
		name = t.Name
	}
	if in.ActualValue != nil {
		value = *in.ActualValue
	}
	if value <= 0 {
		value = 1
	}

	r := CompletionRecord{
		ID:          s.ids.NewID(),
		TaskID:      in.TaskID,
		TaskKind:    kind,
		Date:        date,
		CompletedAt: now,
		ActualValue: value,
		Note:        strings.TrimSpace(in.Note),
		TaskName:    name,
		Dimension:   dimension,
	}
	s.records = append(s.records, r)
	return r, nil
}

// DeleteCompletionRecord removes exactly one record by its id.
func (s *Store) DeleteCompletionRecord(recordID string) (CompletionRecord, bool) {
	for i, r := range s.records {
		if r.ID == recordID {
			s.records = append(s.records[:i:i], s.records[i+1:]...)
			return r, true
		}
	}
	return CompletionRecord{}, false
}

// Reclassify moves tasks stored in the wrong collection to the one matching
// their kind. It returns the number of tasks moved.
func (s *Store) Reclassify() int {
	var daily, single []Task
	moved := 0
	for _, t := range s.daily {
		if t.Kind() == KindSingle {
			single = append(single, t)
			moved++
			continue
		}
		daily = append(daily, t)
	}
	for _, t := range s.single {
		if t.Kind() == KindDaily {
			daily = append(daily, t)
			moved++
			continue
		}
		single = append(single, t)
	}
	if moved > 0 {
		s.daily, s.single = daily, single
	}
	return moved
}

// RepairRecordIDs assigns ids to records persisted without one and returns how many were fixed.
func (s *Store) RepairRecordIDs() int {
	fixed := 0
	for i := range s.records {
		if strings.TrimSpace(s.records[i].ID) == "" {
			s.records[i].ID = s.ids.NewID()
			fixed++
		}
	}
	return fixed
}

// RepairRecordKinds fills in the task kind of records written without one,
// taken from the task the record points to. Records of deleted tasks are left alone.
func (s *Store) RepairRecordKinds() int {
	fixed := 0
	for i := range s.records {
		if s.records[i].TaskKind.Valid() {
			continue
		}
		if t, ok := s.Find(s.records[i].TaskID); ok {
			s.records[i].TaskKind = t.Kind()
			fixed++
		}
	}
	return fixed
}

// DailyTasks returns a copy of the daily collection.
func (s *Store) DailyTasks() []Task {
	return append([]Task(nil), s.daily...)
}

// SingleTasks returns a copy of the single collection.
func (s *Store) SingleTasks() []Task {
	return append([]Task(nil), s.single...)
}

// Records returns a copy of every completion record in insertion order.
func (s *Store) Records() []CompletionRecord {
	return append([]CompletionRecord(nil), s.records...)
}

// Find looks a task up by id in both collections.
func (s *Store) Find(id string) (Task, bool) {
	if i := indexOfTask(s.daily, id); i >= 0 {
		return s.daily[i], true
	}
	if i := indexOfTask(s.single, id); i >= 0 {
		return s.single[i], true
	}
	return Task{}, false
}

// FindRecord looks a completion record up by id.
func (s *Store) FindRecord(id string) (CompletionRecord, bool) {
	for _, r := range s.records {
		if r.ID == id {
			return r, true
		}
	}
	return CompletionRecord{}, false
}

// RecordFilter narrows a record query. Zero fields match everything.
type RecordFilter struct {
	TaskID string
	From   Date
	To     Date
}

// QueryRecords returns the records matching f.
func (s *Store) QueryRecords(f RecordFilter) []CompletionRecord {
	out := make([]CompletionRecord, 0)
	for _, r := range s.records {
		if f.TaskID != "" && r.TaskID != f.TaskID {
			continue
		}
		if f.From != "" && r.Date.Before(f.From) {
			continue
		}
		if f.To != "" && r.Date.After(f.To) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// CountCompletions counts records for taskID on date.
func (s *Store) CountCompletions(taskID string, date Date) int {
	n := 0
	for _, r := range s.records {
		if r.TaskID == taskID && r.Date == date {
			n++
		}
	}
	return n
}

// HasCompletion reports whether taskID has at least one record on date.
func (s *Store) HasCompletion(taskID string, date Date) bool {
	return s.CountCompletions(taskID, date) > 0
}

// Snapshot returns a detached copy of all collections.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{Daily: s.daily, Single: s.single, Records: s.records}.Clone()
}

// Replace installs snap as the store's contents.
func (s *Store) Replace(snap Snapshot) {
	c := snap.Clone()
	s.daily, s.single, s.records = c.Daily, c.Single, c.Records
}

// UnionReport counts what Union appended per collection.
type UnionReport struct {
	Daily   int `json:"daily"`
	Single  int `json:"single"`
	Records int `json:"records"`
}

// Total is the number of items appended.
func (r UnionReport) Total() int {
	return r.Daily + r.Single + r.Records
}

// Union appends every item of snap whose id is not already present in the
// corresponding collection. Duplicates by id are dropped, never merged.
// Incoming records without an id are given one and always appended.
func (s *Store) Union(snap Snapshot) UnionReport {
	var report UnionReport
	s.daily, report.Daily = unionTasks(s.daily, snap.Daily)
	s.single, report.Single = unionTasks(s.single, snap.Single)

	seen := make(map[string]struct{}, len(s.records))
	for _, r := range s.records {
		seen[r.ID] = struct{}{}
	}
	for _, r := range snap.Records {
		if strings.TrimSpace(r.ID) == "" {
			r.ID = s.ids.NewID()
		}
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		s.records = append(s.records, r)
		report.Records++
	}
	return report
}

func unionTasks(dst, src []Task) ([]Task, int) {
	seen := make(map[string]struct{}, len(dst))
	for _, t := range dst {
		seen[t.ID] = struct{}{}
	}
	added := 0
	for _, t := range src {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		dst = append(dst, t)
		added++
	}
	return dst, added
}

func indexOfTask(tasks []Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func copyDate(d *Date) *Date {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
