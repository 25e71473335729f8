package extract

import (
	"context"

	"github.com/mattsoldo/email-extractor-sub001/email"
	"github.com/mattsoldo/email-extractor-sub001/prompt"
)

// Invoker runs one extraction call. Timeouts and provider retries are the
// invoker's business; callers treat a returned error as final for that
// record.
type Invoker interface {
	Extract(ctx context.Context, rec email.Record, modelID string, p prompt.Prompt) (*Result, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, rec email.Record, modelID string, p prompt.Prompt) (*Result, error)

// Extract calls f.
func (f InvokerFunc) Extract(ctx context.Context, rec email.Record, modelID string, p prompt.Prompt) (*Result, error) {
	return f(ctx, rec, modelID, p)
}
