package llm

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout bounds every Generate call on m by d. A non-positive d returns m
// unchanged.
func WithTimeout(m Model, d time.Duration) Model {
	if d <= 0 {
		return m
	}
	return &timeoutModel{next: m, timeout: d}
}

type timeoutModel struct {
	next    Model
	timeout time.Duration
}

func (t *timeoutModel) Generate(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := t.next.Generate(ctx, req)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return Response{}, fmt.Errorf("model call exceeded %s: %w", t.timeout, err)
	}
	return resp, err
}

// Func adapts a function to the Model interface.
type Func func(ctx context.Context, req Request) (Response, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
