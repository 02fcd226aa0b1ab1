// Package orchestrator is LEONA's request pipeline: classify the input,
// dispatch it to a handler or fall back to open conversation, enrich the
// response with a proactive suggestion, and record the exchange.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/laudza/leona/internal/handler"
	"github.com/laudza/leona/internal/intent"
	"github.com/laudza/leona/internal/llm"
	"github.com/laudza/leona/internal/memory"
)

const (
	suggestTimeout  = 5 * time.Second
	fallbackTimeout = 30 * time.Second

	signOff       = " Always one call away."
	apologyCanned = "I'm having trouble thinking right now. Give me a moment and ask again. Always one call away."
)

// ConversationStore is the slice of the memory store the orchestrator needs.
type ConversationStore interface {
	StoreConversation(memory.Conversation) error
	Context(query string, limit int) (string, error)
}

// Result is one processed request: the response text plus which handler (if
// any) produced it.
type Result struct {
	Response string
	Handler  string
}

// Orchestrator routes user input through intent classification to a fixed
// handler registry, with open conversation as the fallback path.
type Orchestrator struct {
	generator  llm.Generator
	classifier *intent.Classifier
	store      ConversationStore
	handlers   map[string]handler.Handler
}

// New builds an Orchestrator over the given handlers. The registry is fixed
// at construction.
func New(g llm.Generator, store ConversationStore, handlers ...handler.Handler) *Orchestrator {
	byName := make(map[string]handler.Handler, len(handlers))
	purposes := make(map[string]string, len(handlers))
	for _, h := range handlers {
		byName[h.Name()] = h
		purposes[h.Name()] = h.Purpose()
	}
	return &Orchestrator{
		generator:  g,
		classifier: intent.NewClassifier(g, purposes),
		store:      store,
		handlers:   byName,
	}
}

// Process runs one request through the full pipeline and returns the final
// response. It never returns an error to the caller: every failure path
// degrades to a spoken reply.
func (o *Orchestrator) Process(ctx context.Context, input string) Result {
	input = strings.TrimSpace(input)
	if input == "" {
		return Result{Response: "I'm listening. What can I do for you?"}
	}

	it := o.classifier.Classify(ctx, input)

	var result Result
	if h, ok := o.handlers[it.Handler]; ok {
		response := o.execute(ctx, h, input, it.Parameters)
		result = Result{
			Response: o.enrich(ctx, input, response),
			Handler:  it.Handler,
		}
	} else {
		// The fallback reply already ends with the sign-off; no suggestion
		// is layered on top of it.
		result = Result{Response: o.converse(ctx, input)}
	}

	o.record(input, result)
	return result
}

// execute runs a handler, converting a panic into an apology so one broken
// handler never takes down the pipeline.
func (o *Orchestrator) execute(ctx context.Context, h handler.Handler, input string, params map[string]any) (response string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panicked", "handler", h.Name(), "panic", r)
			response = fmt.Sprintf("Something went wrong on my end while handling that (%s). I've noted it. What else can I do?", h.Name())
		}
	}()
	return h.Execute(ctx, input, params)
}

// converse is the open-conversation fallback: answer directly in persona,
// grounded in related past exchanges.
func (o *Orchestrator) converse(ctx context.Context, input string) string {
	ctx, cancel := context.WithTimeout(ctx, fallbackTimeout)
	defer cancel()

	prompt := input
	if related, err := o.store.Context(input, 3); err == nil && related != "" {
		prompt = related + "\nUser: " + input
	}

	reply, err := o.generator.Generate(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		slog.Warn("conversation fallback failed", "error", err)
		return apologyCanned
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return apologyCanned
	}
	if !strings.HasSuffix(reply, ".") && !strings.HasSuffix(reply, "!") && !strings.HasSuffix(reply, "?") {
		reply += "."
	}
	return reply + signOff
}

// enrich appends a one-line proactive suggestion when the model offers one,
// grounded in related past exchanges. Enrichment is best-effort: on any
// failure the response passes through untouched.
func (o *Orchestrator) enrich(ctx context.Context, input, response string) string {
	ctx, cancel := context.WithTimeout(ctx, suggestTimeout)
	defer cancel()

	prompt := fmt.Sprintf(`The user said: %s
You replied: %s

Suggest ONE short helpful follow-up the user might want next, in a single sentence. If nothing is worth suggesting, reply with exactly "none".`,
		input, firstLines(response, 5))
	if related, err := o.store.Context(input, 3); err == nil && related != "" {
		prompt = related + "\n" + prompt
	}

	suggestion, err := o.generator.Generate(ctx, llm.Request{
		Prompt:      prompt,
		MaxTokens:   80,
		Temperature: 0.5,
	})
	if err != nil {
		return response
	}

	suggestion = strings.TrimSpace(suggestion)
	if suggestion == "" || strings.EqualFold(suggestion, "none") || len(suggestion) > 200 {
		return response
	}
	return response + "\n\n💡 By the way, " + suggestion
}

// record persists the exchange. Storage failures are logged, never surfaced.
func (o *Orchestrator) record(input string, result Result) {
	err := o.store.StoreConversation(memory.Conversation{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		UserInput: input,
		Response:  result.Response,
		Context:   result.Handler,
	})
	if err != nil {
		slog.Warn("failed to store conversation", "error", err)
	}
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
