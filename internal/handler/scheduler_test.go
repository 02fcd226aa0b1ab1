package handler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/laudza/leona/internal/llm"
	"github.com/laudza/leona/internal/memory"
)

// stubGenerator returns a canned model response.
type stubGenerator struct {
	response string
	err      error
}

func (s *stubGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	return s.response, s.err
}

// fakeTaskStore is an in-memory TaskStore.
type fakeTaskStore struct {
	tasks []memory.Task
	err   error
}

func (f *fakeTaskStore) StoreTask(t memory.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, t)
	return nil
}

func (f *fakeTaskStore) PendingTasks() ([]memory.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tasks, nil
}

// fixedClock returns a constant time.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var schedNow = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func newTestScheduler(resp string) (*Scheduler, *fakeTaskStore) {
	store := &fakeTaskStore{}
	s := NewScheduler(&stubGenerator{response: resp}, store)
	s.clock = fixedClock{schedNow}
	return s, store
}

func TestScheduler_AddReminder(t *testing.T) {
	s, store := newTestScheduler(`{"action":"add_reminder","title":"call Bob","time":"tomorrow at 3pm","priority":"high"}`)

	got := s.Execute(context.Background(), "remind me to call Bob tomorrow at 3pm", nil)
	if !strings.Contains(got, "Reminder set") {
		t.Fatalf("response missing confirmation: %q", got)
	}
	if !strings.Contains(got, "call Bob") {
		t.Errorf("response missing title: %q", got)
	}

	reminders := s.Reminders()
	if len(reminders) != 1 {
		t.Fatalf("reminders = %d, want 1", len(reminders))
	}
	want := time.Date(2025, 3, 11, 15, 0, 0, 0, time.UTC)
	if !reminders[0].Time.Equal(want) {
		t.Errorf("reminder time = %v, want %v", reminders[0].Time, want)
	}
	if reminders[0].Notified {
		t.Error("new reminder already notified")
	}

	if len(store.tasks) != 1 || store.tasks[0].Priority != 1 {
		t.Errorf("stored task = %+v, want priority 1", store.tasks)
	}
}

func TestScheduler_AddReminder_BadPriorityDefaultsMedium(t *testing.T) {
	s, store := newTestScheduler(`{"action":"add_reminder","title":"x","priority":"urgent!!!"}`)
	s.Execute(context.Background(), "remind me", nil)
	if store.tasks[0].Priority != 2 {
		t.Errorf("priority = %d, want 2 (medium)", store.tasks[0].Priority)
	}
}

// TestScheduler_ConflictBoundariesInclusive pins the inclusive interval check:
// a task due exactly at the start or end of a proposed event conflicts.
func TestScheduler_ConflictBoundariesInclusive(t *testing.T) {
	start := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	cases := []struct {
		name string
		due  time.Time
		want bool
	}{
		{"at start", start, true},
		{"at end", end, true},
		{"inside", start.Add(30 * time.Minute), true},
		{"just before", start.Add(-time.Minute), false},
		{"just after", end.Add(time.Minute), false},
	}
	for _, tc := range cases {
		s, store := newTestScheduler("")
		store.tasks = []memory.Task{{ID: "t1", Title: "standup", DueDate: tc.due, Status: memory.TaskStatusPending}}

		conflict, err := s.checkConflicts(start, end)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if (conflict != "") != tc.want {
			t.Errorf("%s: conflict = %q, want conflict=%v", tc.name, conflict, tc.want)
		}
	}
}

// TestScheduler_ReminderFiresOnce pins monotonic notification: a due reminder
// is fired on the first check and never again.
func TestScheduler_ReminderFiresOnce(t *testing.T) {
	s, _ := newTestScheduler("")
	var fired int
	s.notify = func(Reminder) { fired++ }

	s.reminders = append(s.reminders, &Reminder{
		ID:    "r1",
		Title: "stretch",
		Time:  schedNow.Add(-time.Minute),
	})

	s.CheckReminders()
	if fired != 1 {
		t.Fatalf("fired = %d after first check, want 1", fired)
	}
	s.CheckReminders()
	s.CheckReminders()
	if fired != 1 {
		t.Errorf("fired = %d after repeat checks, want 1", fired)
	}
	if !s.Reminders()[0].Notified {
		t.Error("reminder not marked notified")
	}
}

func TestScheduler_FutureReminderNotFired(t *testing.T) {
	s, _ := newTestScheduler("")
	var fired int
	s.notify = func(Reminder) { fired++ }

	s.reminders = append(s.reminders, &Reminder{Time: schedNow.Add(time.Hour)})
	s.CheckReminders()
	if fired != 0 {
		t.Errorf("fired = %d for future reminder, want 0", fired)
	}
}

func TestScheduler_SuggestTime_AvoidsBusySlots(t *testing.T) {
	s, store := newTestScheduler(`{"action":"suggest_time","duration":60}`)
	// Occupy every business-hour slot today so suggestions land tomorrow.
	for _, h := range []int{9, 10, 11, 14, 15, 16} {
		store.tasks = append(store.tasks, memory.Task{
			DueDate: time.Date(2025, 3, 10, h, 30, 0, 0, time.UTC),
		})
	}

	got := s.Execute(context.Background(), "find me a meeting slot", nil)
	if !strings.Contains(got, "Available Time Slots") {
		t.Fatalf("unexpected response: %q", got)
	}
	if !strings.Contains(got, "March 11") {
		t.Errorf("expected suggestions on March 11, got: %q", got)
	}
	if strings.Contains(got, "March 10") {
		t.Errorf("suggested a fully booked day: %q", got)
	}
}

func TestScheduler_ListSchedule_Empty(t *testing.T) {
	s, _ := newTestScheduler(`{"action":"list_schedule"}`)
	got := s.Execute(context.Background(), "what's on my schedule", nil)
	if !strings.Contains(got, "completely clear") {
		t.Errorf("unexpected response: %q", got)
	}
}

func TestScheduler_ListSchedule_GroupsByDay(t *testing.T) {
	s, store := newTestScheduler(`{"action":"list_schedule"}`)
	store.tasks = []memory.Task{
		{Title: "dentist", DueDate: schedNow.Add(2 * time.Hour)},
		{Title: "review", DueDate: schedNow.AddDate(0, 0, 1)},
	}

	got := s.Execute(context.Background(), "list my schedule", nil)
	if !strings.Contains(got, "Today:") || !strings.Contains(got, "dentist") {
		t.Errorf("missing today's section: %q", got)
	}
	if !strings.Contains(got, "Tomorrow:") || !strings.Contains(got, "review") {
		t.Errorf("missing tomorrow's section: %q", got)
	}
}

func TestScheduler_UnknownActionGivesOverview(t *testing.T) {
	s, _ := newTestScheduler("total nonsense from the model")
	got := s.Execute(context.Background(), "do scheduling things", nil)
	if !strings.Contains(got, "Schedule Management") {
		t.Errorf("expected capability overview, got: %q", got)
	}
}

func TestScheduler_StoreErrorIsApology(t *testing.T) {
	store := &fakeTaskStore{err: context.DeadlineExceeded}
	s := NewScheduler(&stubGenerator{response: `{"action":"add_reminder","title":"x"}`}, store)
	s.clock = fixedClock{schedNow}

	got := s.Execute(context.Background(), "remind me", nil)
	if !strings.Contains(got, "encountered an issue") {
		t.Errorf("expected apology string, got: %q", got)
	}
}
