package handler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/laudza/leona/internal/intent"
	"github.com/laudza/leona/internal/llm"
	"github.com/laudza/leona/internal/memory"
)

// Reminder is an in-process reminder owned by the Scheduler. Notified flips
// false→true exactly once, when the checker observes the due time passing.
type Reminder struct {
	ID        string
	Title     string
	Time      time.Time
	Priority  string
	CreatedAt time.Time
	Notified  bool
}

// RecurringTask is a repeating reminder pattern (daily, weekly, monthly).
type RecurringTask struct {
	Title   string
	Pattern string
	Time    time.Time
	Active  bool
}

// TaskStore is the slice of the memory store the Scheduler needs.
type TaskStore interface {
	StoreTask(memory.Task) error
	PendingTasks() ([]memory.Task, error)
}

// Scheduler manages reminders, calendar events, and schedule queries.
type Scheduler struct {
	generator llm.Generator
	store     TaskStore
	clock     Clock

	mu        sync.Mutex
	reminders []*Reminder
	recurring []*RecurringTask

	// notify is called when a reminder fires. Defaults to a log line.
	notify func(Reminder)
}

// NewScheduler creates a Scheduler backed by the given generator and store.
func NewScheduler(g llm.Generator, store TaskStore) *Scheduler {
	s := &Scheduler{
		generator: g,
		store:     store,
		clock:     realClock{},
	}
	s.notify = func(r Reminder) {
		slog.Info("reminder fired", "title", r.Title, "due", r.Time)
	}
	return s
}

func (s *Scheduler) Name() string    { return "scheduler" }
func (s *Scheduler) Purpose() string { return "calendar, reminders, scheduling" }

var priorityRank = map[string]int{"high": 1, "medium": 2, "low": 3}

// Execute parses the scheduling request and dispatches on its action.
func (s *Scheduler) Execute(ctx context.Context, input string, params map[string]any) string {
	cmd := intent.ParseStructured(ctx, s.generator, schedulePrompt(input))

	switch intent.Action(cmd) {
	case "add_reminder":
		return s.addReminder(cmd)
	case "add_event":
		return s.addEvent(cmd)
	case "list_schedule":
		return s.listSchedule()
	case "add_recurring":
		return s.addRecurring(cmd)
	case "check_conflicts":
		return s.checkConflictsResponse(cmd)
	case "suggest_time":
		return s.suggestTime(cmd)
	default:
		return s.overview()
	}
}

func schedulePrompt(input string) string {
	return fmt.Sprintf(`Parse this scheduling request:
User: %s

Extract:
- action: (add_reminder, add_event, list_schedule, add_recurring, check_conflicts, suggest_time)
- title: Event/reminder title
- time: When (natural language like "tomorrow at 3pm", "next Monday")
- duration: How long in minutes (for events)
- recurring: Pattern if recurring (daily, weekly, monthly)
- priority: high, medium, low

Return as JSON.`, input)
}

func (s *Scheduler) parsedTime(cmd map[string]any) time.Time {
	now := s.clock.Now()
	if ts := intent.Str(cmd, "time", ""); ts != "" {
		return ParseNaturalTime(ts, now)
	}
	return now.Add(time.Hour)
}

func (s *Scheduler) addReminder(cmd map[string]any) string {
	r := &Reminder{
		ID:        uuid.New().String(),
		Title:     intent.Str(cmd, "title", "Reminder"),
		Time:      s.parsedTime(cmd),
		Priority:  intent.Str(cmd, "priority", "medium"),
		CreatedAt: s.clock.Now(),
	}
	if _, ok := priorityRank[r.Priority]; !ok {
		r.Priority = "medium"
	}

	s.mu.Lock()
	s.reminders = append(s.reminders, r)
	s.mu.Unlock()

	// Mirror into the task table so the reminder shows up in listings and
	// conflict checks alongside regular tasks.
	err := s.store.StoreTask(memory.Task{
		ID:        uuid.New().String(),
		CreatedAt: r.CreatedAt,
		DueDate:   r.Time,
		Title:     r.Title,
		Priority:  priorityRank[r.Priority],
	})
	if err != nil {
		return fmt.Sprintf("I encountered an issue with scheduling: %v. Let me help you set this up correctly.", err)
	}

	return fmt.Sprintf(`✅ Reminder set successfully!

📅 %s
⏰ Time: %s
🎯 Priority: %s

I'll notify you when it's time. Would you like to add any additional details or set another reminder?`,
		r.Title, r.Time.Format("January 2 at 3:04 PM"), capitalize(r.Priority))
}

func (s *Scheduler) addEvent(cmd map[string]any) string {
	title := intent.Str(cmd, "title", "New Event")
	start := s.parsedTime(cmd)
	duration := durationMinutes(cmd, 60)

	conflict, err := s.checkConflicts(start, start.Add(time.Duration(duration)*time.Minute))
	if err != nil {
		return fmt.Sprintf("I encountered an issue with scheduling: %v. Let me help you set this up correctly.", err)
	}

	err = s.store.StoreTask(memory.Task{
		ID:          uuid.New().String(),
		CreatedAt:   s.clock.Now(),
		DueDate:     start,
		Title:       "Event: " + title,
		Description: intent.Str(cmd, "description", ""),
		Priority:    2,
	})
	if err != nil {
		return fmt.Sprintf("I encountered an issue with scheduling: %v. Let me help you set this up correctly.", err)
	}

	resp := fmt.Sprintf(`📅 Event Created: %s

📍 When: %s
⏱️ Duration: %d minutes`, title, start.Format("January 2 at 3:04 PM"), duration)

	if conflict != "" {
		resp += "\n\n⚠️ Potential conflict detected: " + conflict
		resp += "\nWould you like me to suggest an alternative time?"
	} else {
		resp += "\n\n✨ Your calendar is clear for this time. I'll remind you 15 minutes before."
	}
	return resp
}

// checkConflicts reports the first pending task whose due time falls within
// [start, end]. Both bounds are inclusive, so an event that starts exactly
// when another item is due counts as a conflict.
func (s *Scheduler) checkConflicts(start, end time.Time) (string, error) {
	tasks, err := s.store.PendingTasks()
	if err != nil {
		return "", err
	}
	for _, t := range tasks {
		if !t.DueDate.Before(start) && !t.DueDate.After(end) {
			return fmt.Sprintf("You have '%s' scheduled at that time", t.Title), nil
		}
	}
	return "", nil
}

func (s *Scheduler) checkConflictsResponse(cmd map[string]any) string {
	start := s.parsedTime(cmd)
	end := start.Add(time.Duration(durationMinutes(cmd, 60)) * time.Minute)
	conflict, err := s.checkConflicts(start, end)
	if err != nil {
		return fmt.Sprintf("I encountered an issue with scheduling: %v. Let me help you set this up correctly.", err)
	}
	if conflict == "" {
		return fmt.Sprintf("✨ %s is clear in your schedule.", start.Format("January 2 at 3:04 PM"))
	}
	return "⚠️ " + conflict + ". Would you like me to suggest an alternative time?"
}

type scheduleItem struct {
	title    string
	time     time.Time
	kind     string
	priority string
}

func (s *Scheduler) listSchedule() string {
	tasks, err := s.store.PendingTasks()
	if err != nil {
		return fmt.Sprintf("I encountered an issue with scheduling: %v. Let me help you set this up correctly.", err)
	}

	s.mu.Lock()
	var items []scheduleItem
	for _, r := range s.reminders {
		if !r.Notified {
			items = append(items, scheduleItem{title: r.Title, time: r.Time, kind: "reminder", priority: r.Priority})
		}
	}
	s.mu.Unlock()

	for _, t := range tasks {
		priority := "low"
		for name, rank := range priorityRank {
			if rank == t.Priority {
				priority = name
			}
		}
		items = append(items, scheduleItem{title: t.Title, time: t.DueDate, kind: "task", priority: priority})
	}

	if len(items) == 0 {
		return "📅 Your schedule is completely clear! Would you like me to help you plan your day?"
	}

	sort.Slice(items, func(i, j int) bool { return items[i].time.Before(items[j].time) })

	now := s.clock.Now()
	var today, tomorrow, week []scheduleItem
	for _, it := range items {
		switch {
		case sameDay(it.time, now) && !it.time.Before(now):
			today = append(today, it)
		case sameDay(it.time, now.AddDate(0, 0, 1)):
			tomorrow = append(tomorrow, it)
		case it.time.After(now) && it.time.Before(now.AddDate(0, 0, 7)):
			week = append(week, it)
		}
	}

	var sb strings.Builder
	sb.WriteString("📅 Your Upcoming Schedule\n")
	writeSection(&sb, "Today", today, "3:04 PM")
	writeSection(&sb, "Tomorrow", tomorrow, "3:04 PM")
	writeSection(&sb, "This Week", week, "Mon Jan 2, 3:04 PM")
	sb.WriteString("\n💡 Would you like to add anything else or shall I help you prepare for any of these?")
	return sb.String()
}

func writeSection(sb *strings.Builder, label string, items []scheduleItem, layout string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s:\n", label)
	for _, it := range items {
		emoji := "📋"
		if it.kind == "reminder" {
			emoji = "🔔"
		}
		fmt.Fprintf(sb, "%s %s - %s", emoji, it.time.Format(layout), it.title)
		if it.priority == "high" {
			sb.WriteString(" ⚠️")
		}
		sb.WriteString("\n")
	}
}

func (s *Scheduler) addRecurring(cmd map[string]any) string {
	r := &RecurringTask{
		Title:   intent.Str(cmd, "title", "Recurring Task"),
		Pattern: intent.Str(cmd, "recurring", "daily"),
		Time:    s.parsedTime(cmd),
		Active:  true,
	}

	s.mu.Lock()
	s.recurring = append(s.recurring, r)
	s.mu.Unlock()

	descriptions := map[string]string{
		"daily":    "every day",
		"weekly":   "every week",
		"monthly":  "every month",
		"weekdays": "every weekday",
	}
	desc := descriptions[r.Pattern]
	if desc == "" {
		desc = r.Pattern
	}

	return fmt.Sprintf(`🔄 Recurring Task Created

📋 Task: %s
🔁 Frequency: %s
⏰ Time: %s

I'll remind you %s at this time. You can modify or cancel this anytime.`,
		r.Title, desc, r.Time.Format("3:04 PM"), desc)
}

func (s *Scheduler) suggestTime(cmd map[string]any) string {
	duration := durationMinutes(cmd, 60)

	tasks, err := s.store.PendingTasks()
	if err != nil {
		return fmt.Sprintf("I encountered an issue with scheduling: %v. Let me help you set this up correctly.", err)
	}
	var busy []time.Time
	for _, t := range tasks {
		busy = append(busy, t.DueDate)
	}

	now := s.clock.Now()
	var suggestions []time.Time
	for dayOffset := 0; dayOffset < 7 && len(suggestions) < 3; dayOffset++ {
		day := now.AddDate(0, 0, dayOffset)
		for _, hour := range []int{9, 10, 11, 14, 15, 16} {
			slotStart := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
			slotEnd := slotStart.Add(time.Duration(duration) * time.Minute)

			free := slotStart.After(now)
			for _, b := range busy {
				if !b.Before(slotStart) && !b.After(slotEnd) {
					free = false
					break
				}
			}
			if free {
				suggestions = append(suggestions, slotStart)
				if len(suggestions) >= 3 {
					break
				}
			}
		}
	}

	if len(suggestions) == 0 {
		return "Your schedule is quite full! Would you like me to look at times outside business hours or next week?"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🗓️ Available Time Slots (for %d-minute meeting):\n\n", duration)
	for i, slot := range suggestions {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, slot.Format("Monday, January 2 at 3:04 PM"))
	}
	sb.WriteString("\n✨ All these times are clear in your schedule. Which works best for you?")
	return sb.String()
}

func (s *Scheduler) overview() string {
	tasks, err := s.store.PendingTasks()
	if err != nil {
		return fmt.Sprintf("I encountered an issue with scheduling: %v. Let me help you set this up correctly.", err)
	}

	hour := s.clock.Now().Hour()
	greeting := "Good evening! 🌙"
	switch {
	case hour < 12:
		greeting = "Good morning! ☀️"
	case hour < 17:
		greeting = "Good afternoon! ☕"
	}

	resp := fmt.Sprintf(`%s

I can help you manage your schedule efficiently. Here's what I can do:

📅 Schedule Management:
• Add reminders and calendar events
• Set recurring tasks and habits
• Check for scheduling conflicts
• Suggest optimal meeting times
• Provide daily/weekly overviews

You currently have %d items on your schedule.`, greeting, len(tasks))

	if len(tasks) > 0 {
		next := tasks[0]
		resp += fmt.Sprintf("\n\n⏰ Next up: %s at %s", next.Title, next.DueDate.Format("3:04 PM"))
	}

	return resp + "\n\nWhat would you like to schedule or review?"
}

// Run is the reminder checker loop: every minute it marks overdue reminders
// notified. It returns when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.CheckReminders()
		}
	}
}

// CheckReminders fires every unnotified reminder whose time has passed.
// Firing is monotonic: once Notified is set it never resets, so a second
// pass is a no-op.
func (s *Scheduler) CheckReminders() {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reminders {
		if !r.Notified && !r.Time.After(now) {
			r.Notified = true
			s.notify(*r)
		}
	}
}

// Reminders returns a snapshot of the current reminder list.
func (s *Scheduler) Reminders() []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Reminder, len(s.reminders))
	for i, r := range s.reminders {
		out[i] = *r
	}
	return out
}

func durationMinutes(cmd map[string]any, fallback int) int {
	switch v := cmd["duration"].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
