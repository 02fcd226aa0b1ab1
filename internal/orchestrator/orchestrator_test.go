package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/laudza/leona/internal/llm"
	"github.com/laudza/leona/internal/memory"
)

// scriptedGenerator returns queued responses in order, repeating the last
// one when the queue runs dry.
type scriptedGenerator struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	g.prompts = append(g.prompts, req.Prompt)
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return "", nil
	}
	i := g.calls - 1
	if i >= len(g.responses) {
		i = len(g.responses) - 1
	}
	return g.responses[i], nil
}

// fakeConvStore records stored conversations.
type fakeConvStore struct {
	stored  []memory.Conversation
	context string
	err     error
}

func (f *fakeConvStore) StoreConversation(c memory.Conversation) error {
	if f.err != nil {
		return f.err
	}
	f.stored = append(f.stored, c)
	return nil
}

func (f *fakeConvStore) Context(query string, limit int) (string, error) {
	return f.context, nil
}

// fakeHandler is a scripted handler.
type fakeHandler struct {
	name     string
	response string
	panics   bool
	gotInput string
}

func (f *fakeHandler) Name() string    { return f.name }
func (f *fakeHandler) Purpose() string { return "test handler" }
func (f *fakeHandler) Execute(ctx context.Context, input string, params map[string]any) string {
	f.gotInput = input
	if f.panics {
		panic("boom")
	}
	return f.response
}

// TestProcess_RoutesToHandlerAndStores covers the full pipeline: classify,
// dispatch, enrich, record.
func TestProcess_RoutesToHandlerAndStores(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"primary_agent":"scheduler","parameters":{}}`, // classify
		"none", // suggestion declined
	}}
	store := &fakeConvStore{}
	sched := &fakeHandler{name: "scheduler", response: "✅ Reminder set for tomorrow at 3:00 PM"}

	o := New(gen, store, sched)
	got := o.Process(context.Background(), "remind me to call Bob tomorrow at 3pm")

	if got.Handler != "scheduler" {
		t.Errorf("Handler = %q, want scheduler", got.Handler)
	}
	if !strings.Contains(got.Response, "Reminder set") {
		t.Errorf("response = %q", got.Response)
	}
	if sched.gotInput != "remind me to call Bob tomorrow at 3pm" {
		t.Errorf("handler input = %q", sched.gotInput)
	}
	if len(store.stored) != 1 || store.stored[0].Response != got.Response {
		t.Errorf("stored = %+v", store.stored)
	}
	if store.stored[0].Context != "scheduler" {
		t.Errorf("stored context = %q", store.stored[0].Context)
	}
}

func TestProcess_EnrichmentAppendsSuggestion(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"primary_agent":"scheduler","parameters":{}}`,
		"you could also block travel time before the call",
	}}
	o := New(gen, &fakeConvStore{}, &fakeHandler{name: "scheduler", response: "Done."})

	got := o.Process(context.Background(), "schedule it")
	if !strings.Contains(got.Response, "💡 By the way, you could also block travel time") {
		t.Errorf("suggestion missing: %q", got.Response)
	}
}

func TestProcess_EnrichmentUsesStoredContext(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"primary_agent":"scheduler","parameters":{}}`,
		"none",
	}}
	store := &fakeConvStore{context: "Previous related conversations:\nUser: when is my dentist visit?\nLEONA: Thursday at 10.\n---\n"}
	o := New(gen, store, &fakeHandler{name: "scheduler", response: "Done."})

	o.Process(context.Background(), "anything else that week")
	if len(gen.prompts) < 2 || !strings.Contains(gen.prompts[1], "Previous related conversations") {
		t.Errorf("context not injected into suggestion prompt: %v", gen.prompts)
	}
}

func TestProcess_EnrichmentDeclinedLeavesResponseAlone(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"primary_agent":"scheduler","parameters":{}}`,
		"none",
	}}
	o := New(gen, &fakeConvStore{}, &fakeHandler{name: "scheduler", response: "Done."})

	got := o.Process(context.Background(), "schedule it")
	if strings.Contains(got.Response, "💡") {
		t.Errorf("declined suggestion still appended: %q", got.Response)
	}
}

// TestProcess_FallbackConversation pins the fallback formatting: terminal
// punctuation is ensured, the sign-off appended, and nothing after it. The
// sign-off is the final text; no suggestion call is made on this path.
func TestProcess_FallbackConversation(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"primary_agent": null, "parameters": {}}`,
		"The sky looks blue because of Rayleigh scattering",
		"check the weather before your walk", // would-be suggestion, must not be requested
	}}
	o := New(gen, &fakeConvStore{})

	got := o.Process(context.Background(), "why is the sky blue")
	if got.Handler != "" {
		t.Errorf("Handler = %q, want empty", got.Handler)
	}
	want := "The sky looks blue because of Rayleigh scattering. Always one call away."
	if got.Response != want {
		t.Errorf("response = %q, want %q", got.Response, want)
	}
	if gen.calls != 2 {
		t.Errorf("model called %d times, want 2 (classify + converse)", gen.calls)
	}
}

func TestProcess_FallbackKeepsExistingPunctuation(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"primary_agent": null, "parameters": {}}`,
		"Happy to help!",
	}}
	o := New(gen, &fakeConvStore{})

	got := o.Process(context.Background(), "thanks")
	if got.Response != "Happy to help! Always one call away." {
		t.Errorf("response = %q", got.Response)
	}
}

func TestProcess_FallbackUsesStoredContext(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"primary_agent": null, "parameters": {}}`,
		"As we discussed, it rains tomorrow.",
	}}
	store := &fakeConvStore{context: "Previous related conversations:\nUser: weather?\nLEONA: sunny\n---\n"}
	o := New(gen, store)

	o.Process(context.Background(), "what about tomorrow")
	if len(gen.prompts) < 2 || !strings.Contains(gen.prompts[1], "Previous related conversations") {
		t.Errorf("context not injected into fallback prompt: %v", gen.prompts)
	}
}

// TestProcess_BackendDownIsCannedApology covers total model outage: classify
// fails, fallback fails, enrichment fails, yet the user still gets a reply.
func TestProcess_BackendDownIsCannedApology(t *testing.T) {
	gen := &scriptedGenerator{err: &llm.BackendError{Backend: "ollama", Err: errors.New("connection refused")}}
	store := &fakeConvStore{}
	o := New(gen, store)

	got := o.Process(context.Background(), "hello")
	if !strings.Contains(got.Response, "trouble thinking") {
		t.Errorf("response = %q", got.Response)
	}
	if len(store.stored) != 1 {
		t.Errorf("exchange not recorded on outage")
	}
}

// TestProcess_HandlerPanicIsContained pins the recover path: a panicking
// handler produces an apology, not a crash.
func TestProcess_HandlerPanicIsContained(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"primary_agent":"file","parameters":{}}`,
		"none",
	}}
	o := New(gen, &fakeConvStore{}, &fakeHandler{name: "file", panics: true})

	got := o.Process(context.Background(), "organize my files")
	if !strings.Contains(got.Response, "Something went wrong") {
		t.Errorf("response = %q", got.Response)
	}
	if got.Handler != "file" {
		t.Errorf("Handler = %q", got.Handler)
	}
}

func TestProcess_EmptyInput(t *testing.T) {
	gen := &scriptedGenerator{}
	o := New(gen, &fakeConvStore{})

	got := o.Process(context.Background(), "   ")
	if !strings.Contains(got.Response, "I'm listening") {
		t.Errorf("response = %q", got.Response)
	}
	if gen.calls != 0 {
		t.Errorf("model called %d times for empty input", gen.calls)
	}
}

func TestProcess_StoreFailureDoesNotSurface(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"primary_agent":"scheduler","parameters":{}}`,
		"none",
	}}
	store := &fakeConvStore{err: errors.New("disk full")}
	o := New(gen, store, &fakeHandler{name: "scheduler", response: "Done."})

	got := o.Process(context.Background(), "schedule it")
	if !strings.Contains(got.Response, "Done.") {
		t.Errorf("storage failure leaked into response: %q", got.Response)
	}
}
