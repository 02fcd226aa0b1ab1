package memory

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreConversation_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	c := Conversation{
		ID:        "c1",
		CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		UserInput: "remind me about the dentist",
		Response:  "Reminder set.",
		Context:   "",
	}
	if err := s.StoreConversation(c); err != nil {
		t.Fatalf("StoreConversation: %v", err)
	}

	recent, err := s.RecentConversations(10)
	if err != nil {
		t.Fatalf("RecentConversations: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("got %d conversations, want 1", len(recent))
	}
	if recent[0].UserInput != c.UserInput || recent[0].Response != c.Response {
		t.Errorf("round trip mismatch: %+v", recent[0])
	}
}

func TestContext_KeywordMatchMostRecentFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	inputs := []string{
		"schedule a meeting with Bob",
		"what's the weather",
		"cancel the meeting on Friday",
	}
	for i, in := range inputs {
		err := s.StoreConversation(Conversation{
			ID:        fmt.Sprintf("c%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UserInput: in,
			Response:  fmt.Sprintf("response %d", i),
		})
		if err != nil {
			t.Fatalf("StoreConversation: %v", err)
		}
	}

	ctx, err := s.Context("MEETING agenda", 5)
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if ctx == "" {
		t.Fatal("expected non-empty context")
	}

	// Most recent match must appear before the older one.
	first := "cancel the meeting on Friday"
	second := "schedule a meeting with Bob"
	fi := strings.Index(ctx, first)
	si := strings.Index(ctx, second)
	if fi < 0 || si < 0 {
		t.Fatalf("expected both matches in context, got:\n%s", ctx)
	}
	if fi > si {
		t.Errorf("expected most-recent-first ordering, got:\n%s", ctx)
	}
	if strings.Contains(ctx, "weather") {
		t.Errorf("unrelated conversation leaked into context:\n%s", ctx)
	}
}

func TestContext_EmptyQueryAndNoMatch(t *testing.T) {
	s := openTestStore(t)

	if ctx, err := s.Context("", 5); err != nil || ctx != "" {
		t.Errorf("Context(\"\") = (%q, %v), want empty, nil", ctx, err)
	}
	if ctx, err := s.Context("zzyzx", 5); err != nil || ctx != "" {
		t.Errorf("Context(no match) = (%q, %v), want empty, nil", ctx, err)
	}
}

// TestPendingTasks_Ordering pins the task listing invariant: higher urgency
// first (priority 1 before 3), and within equal priority the soonest due
// date first.
func TestPendingTasks_Ordering(t *testing.T) {
	s := openTestStore(t)

	now := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	tasks := []Task{
		{ID: "t1", CreatedAt: now, DueDate: now.Add(48 * time.Hour), Title: "low late", Priority: 3},
		{ID: "t2", CreatedAt: now, DueDate: now.Add(1 * time.Hour), Title: "high soon", Priority: 1},
		{ID: "t3", CreatedAt: now, DueDate: now.Add(24 * time.Hour), Title: "high later", Priority: 1},
		{ID: "t4", CreatedAt: now, DueDate: now.Add(2 * time.Hour), Title: "medium", Priority: 2},
	}
	for _, task := range tasks {
		if err := s.StoreTask(task); err != nil {
			t.Fatalf("StoreTask(%s): %v", task.ID, err)
		}
	}

	got, err := s.PendingTasks()
	if err != nil {
		t.Fatalf("PendingTasks: %v", err)
	}

	wantOrder := []string{"t2", "t3", "t4", "t1"}
	if len(got) != len(wantOrder) {
		t.Fatalf("got %d tasks, want %d", len(got), len(wantOrder))
	}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("position %d: got %s, want %s (full order: %v)", i, got[i].ID, id, taskIDs(got))
		}
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	s := openTestStore(t)

	now := time.Now()
	if err := s.StoreTask(Task{ID: "t1", CreatedAt: now, DueDate: now, Title: "x", Priority: 2}); err != nil {
		t.Fatalf("StoreTask: %v", err)
	}

	if err := s.UpdateTaskStatus("t1", "done"); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	pending, err := s.PendingTasks()
	if err != nil {
		t.Fatalf("PendingTasks: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("completed task still listed as pending: %v", taskIDs(pending))
	}

	if err := s.UpdateTaskStatus("missing", "done"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateTaskStatus(missing) = %v, want ErrNotFound", err)
	}
}

func TestPreferences_LastWriteWins(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetPreference("tone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPreference(missing) = %v, want ErrNotFound", err)
	}

	if err := s.SetPreference("tone", `"formal"`); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	if err := s.SetPreference("tone", `"casual"`); err != nil {
		t.Fatalf("SetPreference overwrite: %v", err)
	}

	got, err := s.GetPreference("tone")
	if err != nil {
		t.Fatalf("GetPreference: %v", err)
	}
	if got != `"casual"` {
		t.Errorf("GetPreference = %q, want %q", got, `"casual"`)
	}
}

func TestDevices_UpsertAndList(t *testing.T) {
	s := openTestStore(t)

	seen := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := Device{ID: "kitchen lights", Type: "light", State: "off", LastSeen: seen, Integration: "simulated"}
	if err := s.UpsertDevice(d); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}

	d.State = "on"
	d.LastSeen = seen.Add(time.Minute)
	if err := s.UpsertDevice(d); err != nil {
		t.Fatalf("UpsertDevice update: %v", err)
	}

	got, err := s.GetDevice("kitchen lights")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.State != "on" {
		t.Errorf("State = %q, want on", got.State)
	}
	if !got.LastSeen.Equal(seen.Add(time.Minute)) {
		t.Errorf("LastSeen not refreshed: %v", got.LastSeen)
	}

	all, err := s.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("got %d devices, want 1", len(all))
	}

	if _, err := s.GetDevice("garage"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDevice(missing) = %v, want ErrNotFound", err)
	}
}


func taskIDs(tasks []Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
