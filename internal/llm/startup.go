package llm

import (
	"context"
	"fmt"
	"io"
	"time"
)

// EnsureReady checks that Ollama is running and the configured model is
// available, pulling it automatically with progress output written to w.
// After the model is available it is warmed up so the first user request
// doesn't pay the cold-load penalty.
// Returns a non-nil error if Ollama is unreachable.
func EnsureReady(ctx context.Context, o *Ollama, w io.Writer) error {
	if !o.IsRunning(ctx) {
		return fmt.Errorf("Ollama is not running. Start it with: ollama serve")
	}

	if o.HasModel(ctx, o.model) {
		fmt.Fprintf(w, "model %s: ready\n", o.model)
	} else {
		fmt.Fprintf(w, "model %s: pulling...\n", o.model)
		err := o.PullModel(ctx, o.model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", o.model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", o.model)
	}

	// Warm up by sending a trivial request so the model stays loaded in
	// memory for low-latency intent classification.
	fmt.Fprintf(w, "model %s: warming up...\n", o.model)
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := o.Generate(warmCtx, Request{Prompt: "ping", MaxTokens: 8}); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", o.model, err)
	} else {
		fmt.Fprintf(w, "model %s: warm\n", o.model)
	}

	return nil
}
