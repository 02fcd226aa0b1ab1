// Package intent turns free text into structured commands via the language
// model. It holds the two parse surfaces every request goes through: the
// orchestrator's handler classification and the shared per-handler command
// parse with its sentinel fallback.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/laudza/leona/internal/llm"
)

const (
	classifyTimeout = 10 * time.Second
	parseTimeout    = 10 * time.Second
)

// ActionUnknown is the sentinel action substituted whenever the model's
// output cannot be parsed. Handlers dispatch on it to their "here's what I
// can do" response.
const ActionUnknown = "unknown"

// Intent is the classification result: which handler should process the
// input, and any parameters the model extracted. A zero-value Intent (empty
// Handler) means no handler matched and the caller should fall back to open
// conversation.
type Intent struct {
	Handler    string         `json:"primary_agent"`
	Parameters map[string]any `json:"parameters"`
}

// Classifier routes free text to a registered handler using one LM call.
type Classifier struct {
	generator llm.Generator
	handlers  map[string]string // name -> one-line purpose
}

// NewClassifier creates a Classifier over the given handler registry
// (name -> purpose line).
func NewClassifier(g llm.Generator, handlers map[string]string) *Classifier {
	return &Classifier{generator: g, handlers: handlers}
}

// Classify asks the model which handler should process the input. On any
// failure (backend error, timeout, malformed JSON) it returns a zero-value
// Intent — classification failures silently fall back to conversation, they
// are never surfaced as errors.
func (c *Classifier) Classify(ctx context.Context, input string) Intent {
	if input == "" {
		return Intent{}
	}

	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	raw, err := c.generator.Generate(ctx, llm.Request{
		Prompt:      c.buildPrompt(input),
		Temperature: 0.1,
		MaxTokens:   256,
	})
	if err != nil {
		slog.Warn("intent classification failed", "error", err)
		return Intent{}
	}

	obj, ok := extractJSONObject(raw)
	if !ok {
		slog.Warn("intent classification returned non-JSON", "response", raw)
		return Intent{}
	}

	var result Intent
	if err := json.Unmarshal([]byte(obj), &result); err != nil {
		slog.Warn("failed to unmarshal intent", "error", err, "response", obj)
		return Intent{}
	}
	if _, registered := c.handlers[result.Handler]; !registered {
		result.Handler = ""
	}
	if result.Parameters == nil {
		result.Parameters = map[string]any{}
	}
	return result
}

func (c *Classifier) buildPrompt(input string) string {
	names := make([]string, 0, len(c.handlers))
	for name := range c.handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("Analyze this request and determine which agent should handle it:\n")
	sb.WriteString("User: " + input + "\n\n")
	sb.WriteString("Available agents:\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "- %s: %s\n", name, c.handlers[name])
	}
	sb.WriteString("\nRespond with a JSON object: {\"primary_agent\": <agent name or null>, \"parameters\": {...}}")
	return sb.String()
}

// ParseStructured issues one LM call with a handler-specific schema prompt
// and returns the parsed command map. It never fails: on backend error or
// non-JSON output it returns {"action": "unknown"} so the handler's dispatch
// falls through to its capability overview.
func ParseStructured(ctx context.Context, g llm.Generator, prompt string) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, parseTimeout)
	defer cancel()

	raw, err := g.Generate(ctx, llm.Request{
		Prompt:      prompt,
		Temperature: 0.1,
		MaxTokens:   512,
	})
	if err != nil {
		slog.Warn("structured parse generation failed", "error", err)
		return map[string]any{"action": ActionUnknown}
	}

	obj, ok := extractJSONObject(raw)
	if !ok {
		slog.Warn("structured parse returned non-JSON", "response", raw)
		return map[string]any{"action": ActionUnknown}
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(obj), &result); err != nil {
		slog.Warn("failed to unmarshal structured command", "error", err)
		return map[string]any{"action": ActionUnknown}
	}
	if result == nil {
		return map[string]any{"action": ActionUnknown}
	}
	if _, has := result["action"]; !has {
		result["action"] = ActionUnknown
	}
	return result
}

// Action returns the string action from a parsed command map, or
// ActionUnknown when absent or non-string.
func Action(cmd map[string]any) string {
	if a, ok := cmd["action"].(string); ok && a != "" {
		return a
	}
	return ActionUnknown
}

// Str returns a string parameter from a parsed command, or fallback.
func Str(cmd map[string]any, key, fallback string) string {
	if v, ok := cmd[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// extractJSONObject finds the outermost JSON object in model output,
// tolerating markdown code fences and prose around it.
func extractJSONObject(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if fenced, ok := stripCodeFence(s); ok {
		s = fenced
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func stripCodeFence(s string) (string, bool) {
	if !strings.HasPrefix(s, "```") {
		return "", false
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s), true
}
