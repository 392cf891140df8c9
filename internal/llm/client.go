package llm

import "context"

// Client sends one prompt to a language model and returns its raw text.
// Callers parse the text themselves; no vendor structured-output feature
// is relied on.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
