package stage

import (
	"context"

	"radiodigest/internal/store"
)

// Handler describes the contract the workflow manager needs from each task type.
type Handler interface {
	Execute(context.Context, *store.Task) Outcome
	HealthCheck(context.Context) Health
}

// HandlerFunc adapts a function into a Handler that always reports healthy.
type HandlerFunc func(context.Context, *store.Task) Outcome

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, task *store.Task) Outcome {
	return f(ctx, task)
}

// HealthCheck reports the function handler as ready.
func (f HandlerFunc) HealthCheck(context.Context) Health {
	return Healthy("func")
}

// Health is what a handler reports about its collaborators (summarizer, mailer,
// transcriber) in the worker status snapshot.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy reports name as ready.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy reports name as not ready because of detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Detail: detail}
}
