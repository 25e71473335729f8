package extract

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/mattsoldo/email-extractor-sub001/ai/openrouter"
	"github.com/mattsoldo/email-extractor-sub001/email"
	"github.com/mattsoldo/email-extractor-sub001/errors"
	"github.com/mattsoldo/email-extractor-sub001/prompt"
)

// ChatClient is the part of the OpenRouter client the invoker needs.
type ChatClient interface {
	Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error)
}

// LLMInvoker extracts transactions by sending the prompt and email to a
// chat model and parsing its JSON answer.
type LLMInvoker struct {
	client       ChatClient
	maxBodyChars int
	logger       *zap.SugaredLogger
}

// NewLLMInvoker creates an invoker. maxBodyChars <= 0 disables truncation.
func NewLLMInvoker(client ChatClient, maxBodyChars int, logger *zap.SugaredLogger) *LLMInvoker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LLMInvoker{client: client, maxBodyChars: maxBodyChars, logger: logger}
}

// Extract implements Invoker.
func (i *LLMInvoker) Extract(ctx context.Context, rec email.Record, modelID string, p prompt.Prompt) (*Result, error) {
	req := openrouter.ChatRequest{
		SystemPrompt:   p.Content,
		UserPrompt:     i.userPrompt(rec),
		ResponseFormat: responseFormat(p),
	}
	if modelID != "" {
		req.Model = &modelID
	}

	start := time.Now()
	resp, err := i.client.Chat(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "api call failed for email %s", rec.ID)
	}

	result, err := ParseResult(resp.Content)
	if err != nil {
		return nil, errors.WithDetailf(err, "model: %s", resp.Model)
	}

	i.logger.Debugw("Extraction call finished",
		"email_id", rec.ID,
		"model_id", modelID,
		"duration_ms", time.Since(start).Milliseconds(),
		"total_tokens", resp.Usage.TotalTokens,
		"candidates", len(result.Transactions),
	)
	return result, nil
}

func (i *LLMInvoker) userPrompt(rec email.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", rec.Subject)
	fmt.Fprintf(&b, "From: %s\n", rec.Sender)
	if rec.ReceivedAt != nil {
		fmt.Fprintf(&b, "Date: %s\n", rec.ReceivedAt.UTC().Format(time.RFC1123Z))
	}
	b.WriteString("\n")
	b.WriteString(truncate(rec.Body, i.maxBodyChars))
	return b.String()
}

func responseFormat(p prompt.Prompt) *openrouter.ResponseFormat {
	if len(p.OutputSchema) == 0 {
		return &openrouter.ResponseFormat{Type: "json_object"}
	}
	return &openrouter.ResponseFormat{
		Type: "json_schema",
		JSONSchema: &openrouter.JSONSchema{
			Name:   "extraction_result",
			Strict: true,
			Schema: p.OutputSchema,
		},
	}
}

// truncate cuts s to at most max runes.
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "\n[truncated]"
}
