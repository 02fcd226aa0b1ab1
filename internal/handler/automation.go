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
)

// TriggerType identifies how a workflow is started.
type TriggerType string

const (
	TriggerTime      TriggerType = "time"
	TriggerEvent     TriggerType = "event"
	TriggerCondition TriggerType = "condition"
	TriggerIoT       TriggerType = "iot"
)

// Trigger is a workflow start condition. For time triggers Value is a clock
// time in "HH:MM"; for condition triggers it is an expression the engine
// evaluates; event and iot triggers are registered but not evaluated by the
// built-in engine.
type Trigger struct {
	Type  TriggerType `json:"type"`
	Value string      `json:"value"`
}

// Workflow is a named automation: a trigger plus a list of actions, with
// optional guard conditions.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Trigger     Trigger   `json:"trigger"`
	Conditions  []string  `json:"conditions"`
	Actions     []string  `json:"actions"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	LastRun     time.Time `json:"last_run"`
	RunCount    int       `json:"run_count"`
}

// Automation manages user-defined workflows and the trigger engine that
// runs them.
type Automation struct {
	generator llm.Generator
	clock     Clock

	mu        sync.Mutex
	workflows map[string]*Workflow

	// runAction executes one workflow action. The default only logs the
	// action; tests swap in a recorder.
	runAction func(ctx context.Context, action string)
}

// NewAutomation creates an Automation with an empty workflow registry.
func NewAutomation(g llm.Generator) *Automation {
	a := &Automation{
		generator: g,
		clock:     realClock{},
		workflows: make(map[string]*Workflow),
	}
	a.runAction = func(_ context.Context, action string) {
		slog.Info("workflow action", "action", action)
	}
	return a
}

func (a *Automation) Name() string    { return "automation" }
func (a *Automation) Purpose() string { return "workflow automation, triggers, repetitive task management" }

// Execute parses the automation request and dispatches on its action.
func (a *Automation) Execute(ctx context.Context, input string, params map[string]any) string {
	cmd := intent.ParseStructured(ctx, a.generator, automationPrompt(input))

	switch intent.Action(cmd) {
	case "create_workflow", "create_automation":
		return a.createWorkflow(cmd)
	case "list_workflows":
		return a.listWorkflows()
	case "enable_workflow":
		return a.setEnabled(cmd, true)
	case "disable_workflow":
		return a.setEnabled(cmd, false)
	case "run_workflow":
		return a.runByName(ctx, cmd)
	case "monitor":
		return a.monitorStatus()
	default:
		return a.overview()
	}
}

func automationPrompt(input string) string {
	return fmt.Sprintf(`Parse this automation request:
User: %s

Extract:
- action: (create_workflow, list_workflows, enable_workflow, disable_workflow, run_workflow, monitor)
- name: Workflow name
- trigger_type: (time, event, condition, iot)
- trigger_value: Trigger detail (clock time "HH:MM" for time triggers, expression for conditions)
- steps: List of actions the workflow performs

Return as JSON.`, input)
}

func (a *Automation) createWorkflow(cmd map[string]any) string {
	w := &Workflow{
		ID:          uuid.New().String(),
		Name:        intent.Str(cmd, "name", "Untitled Workflow"),
		Description: intent.Str(cmd, "description", ""),
		Trigger: Trigger{
			Type:  TriggerType(intent.Str(cmd, "trigger_type", string(TriggerEvent))),
			Value: intent.Str(cmd, "trigger_value", ""),
		},
		Actions:   strSlice(cmd, "steps"),
		Enabled:   true,
		CreatedAt: a.clock.Now(),
	}
	switch w.Trigger.Type {
	case TriggerTime, TriggerEvent, TriggerCondition, TriggerIoT:
	default:
		w.Trigger.Type = TriggerEvent
	}
	if len(w.Actions) == 0 {
		w.Actions = []string{"notify"}
	}

	a.mu.Lock()
	a.workflows[w.ID] = w
	a.mu.Unlock()

	return fmt.Sprintf(`⚙️ Workflow Created: %s

🎯 Trigger: %s (%s)
📋 Actions: %s
✅ Status: Enabled

The workflow is active and will run when its trigger fires. Say "list workflows" to review all your automations.`,
		w.Name, w.Trigger.Type, triggerDetail(w.Trigger), strings.Join(w.Actions, ", "))
}

func triggerDetail(t Trigger) string {
	if t.Value == "" {
		return "no detail"
	}
	return t.Value
}

func (a *Automation) listWorkflows() string {
	a.mu.Lock()
	flows := make([]*Workflow, 0, len(a.workflows))
	for _, w := range a.workflows {
		flows = append(flows, w)
	}
	a.mu.Unlock()

	if len(flows) == 0 {
		return "⚙️ You don't have any workflows yet. Try something like \"every morning at 8am, give me a weather update\" to create one."
	}

	sort.Slice(flows, func(i, j int) bool { return flows[i].CreatedAt.Before(flows[j].CreatedAt) })

	var sb strings.Builder
	fmt.Fprintf(&sb, "⚙️ Your Workflows (%d):\n", len(flows))
	for _, w := range flows {
		status := "🟢 enabled"
		if !w.Enabled {
			status = "⚪ disabled"
		}
		fmt.Fprintf(&sb, "\n• %s — %s\n  Trigger: %s %s | Runs: %d", w.Name, status, w.Trigger.Type, triggerDetail(w.Trigger), w.RunCount)
		if !w.LastRun.IsZero() {
			fmt.Fprintf(&sb, " | Last run: %s", w.LastRun.Format("Jan 2 15:04"))
		}
	}
	sb.WriteString("\n\nYou can enable, disable, or run any of these by name.")
	return sb.String()
}

func (a *Automation) setEnabled(cmd map[string]any, enabled bool) string {
	name := intent.Str(cmd, "name", "")
	w := a.findByName(name)
	if w == nil {
		return fmt.Sprintf("I couldn't find a workflow named '%s'. Say \"list workflows\" to see what's available.", name)
	}

	a.mu.Lock()
	w.Enabled = enabled
	a.mu.Unlock()

	if enabled {
		return fmt.Sprintf("🟢 Workflow '%s' is now enabled and will run on its trigger.", w.Name)
	}
	return fmt.Sprintf("⚪ Workflow '%s' is now disabled. It won't run until you re-enable it.", w.Name)
}

func (a *Automation) runByName(ctx context.Context, cmd map[string]any) string {
	name := intent.Str(cmd, "name", "")
	w := a.findByName(name)
	if w == nil {
		return fmt.Sprintf("I couldn't find a workflow named '%s'. Say \"list workflows\" to see what's available.", name)
	}
	runs := a.RunWorkflow(ctx, w.ID)
	return fmt.Sprintf("▶️ Ran workflow '%s' (%d total runs).", w.Name, runs)
}

func (a *Automation) monitorStatus() string {
	a.mu.Lock()
	total := len(a.workflows)
	enabled, totalRuns := 0, 0
	for _, w := range a.workflows {
		if w.Enabled {
			enabled++
		}
		totalRuns += w.RunCount
	}
	a.mu.Unlock()

	return fmt.Sprintf(`📊 Automation Status

⚙️ Workflows: %d total, %d enabled
▶️ Total runs: %d
🔍 Engine: checking triggers every minute

Everything is running smoothly. Want me to create a new automation?`, total, enabled, totalRuns)
}

func (a *Automation) overview() string {
	return `⚙️ I can automate your repetitive tasks! Here's what I can do:

🔧 Workflow Automation:
• Create workflows with time, event, or condition triggers
• Chain multiple actions together
• Enable, disable, or run workflows on demand
• Monitor automation activity

Try: "every weekday at 9am, show me my schedule" or "list workflows".

What would you like to automate?`
}

func (a *Automation) findByName(name string) *Workflow {
	a.mu.Lock()
	defer a.mu.Unlock()
	lower := strings.ToLower(name)
	for _, w := range a.workflows {
		if strings.ToLower(w.Name) == lower {
			return w
		}
	}
	return nil
}

// RunWorkflow executes a workflow's actions and records the run, returning
// the updated run count. Missing workflows are skipped silently and report 0.
func (a *Automation) RunWorkflow(ctx context.Context, id string) int {
	a.mu.Lock()
	w, ok := a.workflows[id]
	if !ok {
		a.mu.Unlock()
		return 0
	}
	w.RunCount++
	w.LastRun = a.clock.Now()
	runs := w.RunCount
	actions := append([]string(nil), w.Actions...)
	a.mu.Unlock()

	for _, action := range actions {
		a.runAction(ctx, action)
	}
	return runs
}

// Workflows returns a snapshot of the registry.
func (a *Automation) Workflows() []Workflow {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Workflow, 0, len(a.workflows))
	for _, w := range a.workflows {
		out = append(out, *w)
	}
	return out
}

// Run is the trigger engine loop: every minute it evaluates enabled workflows
// and runs those whose trigger fires. It returns when ctx is cancelled.
func (a *Automation) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.CheckTriggers(ctx)
		}
	}
}

// CheckTriggers runs one engine pass. Time triggers fire when the current
// clock time matches their "HH:MM" value; condition triggers fire while their
// expression evaluates true. Event and iot triggers are only fired externally
// through RunWorkflow.
func (a *Automation) CheckTriggers(ctx context.Context) {
	now := a.clock.Now().Format("15:04")

	a.mu.Lock()
	var due []string
	for id, w := range a.workflows {
		if !w.Enabled {
			continue
		}
		switch w.Trigger.Type {
		case TriggerTime:
			if w.Trigger.Value == now {
				due = append(due, id)
			}
		case TriggerCondition:
			if evalCondition(w.Trigger.Value) {
				due = append(due, id)
			}
		}
	}
	a.mu.Unlock()

	for _, id := range due {
		a.RunWorkflow(ctx, id)
	}
}

// evalCondition supports the literal always-true expressions; anything else
// stays false until a real expression engine is wired in.
func evalCondition(expr string) bool {
	switch strings.ToLower(strings.TrimSpace(expr)) {
	case "always", "true":
		return true
	}
	return false
}

func strSlice(cmd map[string]any, key string) []string {
	raw, ok := cmd[key].([]any)
	if !ok {
		if s := intent.Str(cmd, key, ""); s != "" {
			return []string{s}
		}
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
