// Package handler contains LEONA's domain handlers: scheduling, automation,
// smart home, files, system control, and web lookup. Each handler parses its
// own sub-commands from free text through the language model and performs a
// bounded unit of work.
package handler

import (
	"context"
	"time"
)

// Handler is a domain-specific request processor. Execute must not panic and
// must not surface internal errors: expected failures are converted into a
// user-facing apology string naming the problem and a next step.
type Handler interface {
	Name() string
	Purpose() string
	Execute(ctx context.Context, input string, params map[string]any) string
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
