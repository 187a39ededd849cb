package worker

import (
	"context"
	"time"
)

// Executor runs a single tool invocation for a job's input payload. Any
// returned error marks the job failed with the error text captured verbatim.
type Executor interface {
	Execute(ctx context.Context, input map[string]any) (any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, input map[string]any) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, input map[string]any) (any, error) {
	return f(ctx, input)
}

// EchoExecutor echoes the input back as the result. Used when no tool API is
// configured, mirroring the placeholder behavior of the original tool wrapper.
func EchoExecutor() Executor {
	return ExecutorFunc(func(_ context.Context, input map[string]any) (any, error) {
		return map[string]any{
			"input_received": input,
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
		}, nil
	})
}
