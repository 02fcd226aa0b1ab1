package llm

import (
	"context"
	"strings"
)

// Rules is a keyword-table backend implementing Generator without any model.
// It is the degraded mode LEONA falls back to when no local model is
// available; responses come from a fixed substring-match table, so intent
// classification prompts will not produce JSON and callers land on their
// sentinel fallbacks, which is the intended behavior for this mode.
type Rules struct {
	table []ruleEntry
}

type ruleEntry struct {
	keyword  string
	response string
}

// NewRules creates a Rules backend with the built-in response table.
func NewRules() *Rules {
	return &Rules{table: defaultRuleTable}
}

var defaultRuleTable = []ruleEntry{
	{"how are you", "Operating at peak efficiency. My cognitive processes are running smoothly and I'm eager to assist you."},
	{"what can you do", "I can manage your schedule, organize files, control smart devices, look things up on the web, and automate routine workflows. What would you like me to handle?"},
	{"who are you", "I am LEONA, your executive assistant. Always One Call Away."},
	{"hello", "Hello! How may I assist you today?"},
	{"hi", "Hello! How may I assist you today?"},
	{"thank", "You're most welcome. Always one call away."},
	{"good morning", "Good morning! Shall I run through today's schedule?"},
	{"good night", "Good night. I'll keep watch over your reminders."},
}

// Generate implements Generator by scanning the rule table for the first
// keyword contained in the prompt. Unmatched prompts get a generic reply.
// Rules never fails; it exists precisely so LEONA keeps answering when the
// model backend is down.
func (r *Rules) Generate(_ context.Context, req Request) (string, error) {
	lower := strings.ToLower(req.Prompt)
	for _, entry := range r.table {
		if strings.Contains(lower, entry.keyword) {
			return entry.response, nil
		}
	}
	return "I've noted that. Could you tell me a bit more about what you'd like me to do?", nil
}
