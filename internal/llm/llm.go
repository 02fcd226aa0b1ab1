// Package llm abstracts the text-generation backend LEONA runs on.
// The orchestrator and every handler talk to a Generator; the concrete
// backend is either a local Ollama instance or the rules table fallback.
package llm

import (
	"context"
	"fmt"
)

// DefaultPersona is the system prompt applied when a request does not carry
// its own. It defines LEONA's voice for open-ended conversation.
const DefaultPersona = `You are LEONA (Laudza's Executive One Call Away), an elegant and professional AI assistant.
You are supportive, proactive, and occasionally witty. You speak with warmth and sophistication.
Your responses are concise yet complete. You anticipate needs and offer helpful suggestions.
Your tagline is 'Always One Call Away.'`

// Request carries one generation call. MaxTokens and Temperature of zero
// mean backend defaults (512 tokens, 0.7).
type Request struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// Generator is the port every LEONA component generates text through.
// Implementations return *BackendError when the backend cannot be reached;
// callers are expected to catch it and degrade rather than propagate.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// BackendError indicates the generation backend failed or was unreachable.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (r Request) maxTokens() int {
	if r.MaxTokens <= 0 {
		return 512
	}
	return r.MaxTokens
}

func (r Request) temperature() float64 {
	if r.Temperature <= 0 {
		return 0.7
	}
	return r.Temperature
}

func (r Request) systemPrompt() string {
	if r.SystemPrompt == "" {
		return DefaultPersona
	}
	return r.SystemPrompt
}
