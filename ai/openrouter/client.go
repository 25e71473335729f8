// Package openrouter is a minimal client for the OpenRouter chat
// completions API.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mattsoldo/email-extractor-sub001/errors"
)

const (
	// DefaultModel is the fallback model when none is specified
	DefaultModel = "openai/gpt-4o-mini"
	// DefaultBaseURL is the public OpenRouter endpoint
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	// maxRetries covers transport failures and 429s; other HTTP errors are returned as is
	maxRetries = 3
)

// Client represents an OpenRouter.ai API client
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	config     Config
	logger     *zap.SugaredLogger
}

// Config holds AI client configuration
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	Temperature       *float64 // nil = use default (0)
	MaxTokens         *int     // nil = use default (4000)
	Timeout           time.Duration
	RequestsPerMinute int                // 0 = unlimited
	Logger            *zap.SugaredLogger // nil = nop logger
}

// NewClient creates a new OpenRouter.ai client with defaults applied
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Temperature == nil {
		defaultTemp := 0.0
		config.Temperature = &defaultTemp
	}
	if config.MaxTokens == nil {
		defaultTokens := 4000
		config.MaxTokens = &defaultTokens
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var limiter *rate.Limiter
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(config.RequestsPerMinute)/60.0), 1)
	}

	return &Client{
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    limiter,
		config:     config,
		logger:     logger,
	}
}

// ResponseFormat asks the model for structured output
type ResponseFormat struct {
	Type       string      `json:"type"` // "json_object" or "json_schema"
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

// JSONSchema is the strict schema variant of ResponseFormat
type JSONSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// ChatCompletionRequest represents a request to the chat completions endpoint
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatRequest represents a high-level request to the AI
type ChatRequest struct {
	SystemPrompt   string
	UserPrompt     string
	Temperature    *float64 // Override default temperature
	MaxTokens      *int     // Override default max tokens
	Model          *string  // Override default model
	ResponseFormat *ResponseFormat
}

// ChatResponse represents the AI response
type ChatResponse struct {
	Content string
	Model   string
	Usage   Usage
}

// Message represents a message in a chat completion
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse represents the response from chat completions
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError is a non-200 response from the API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 500 {
		body = body[:500] + "..."
	}
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, body)
}

// CreateChatCompletion sends a chat completion request to OpenRouter
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-Title", "emx")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WithStack(&APIError{StatusCode: resp.StatusCode, Body: string(respBody)})
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}

	return &chatResp, nil
}

// Chat sends a chat completion request, retrying transport failures
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.config.APIKey == "" {
		return nil, errors.WithHint(errors.New("OpenRouter API key not configured"),
			"set EMX_OPENROUTER_API_KEY or openrouter.api_key in emx.toml")
	}

	temperature := *c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := *c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	model := c.config.Model
	if req.Model != nil && *req.Model != "" {
		model = *req.Model
	}

	messages := []Message{{Role: "user", Content: req.UserPrompt}}
	if req.SystemPrompt != "" {
		messages = append([]Message{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}

	openrouterReq := ChatCompletionRequest{
		Model:          model,
		Messages:       messages,
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		ResponseFormat: req.ResponseFormat,
	}

	var resp *ChatCompletionResponse
	var err error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * time.Second
			c.logger.Debugw("Retrying OpenRouter request", "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "OpenRouter request cancelled")
			case <-time.After(delay):
			}
		}

		if c.limiter != nil {
			if waitErr := c.limiter.Wait(ctx); waitErr != nil {
				return nil, errors.Wrap(waitErr, "rate limiter wait")
			}
		}

		resp, err = c.CreateChatCompletion(ctx, openrouterReq)
		if err == nil {
			break
		}

		c.logger.Warnw("OpenRouter API error",
			"attempt", attempt+1, "max_retries", maxRetries,
			"error", err, "model", model)

		if !isRetryableError(err) || ctx.Err() != nil {
			return nil, errors.Wrap(err, "OpenRouter API error")
		}
	}

	if err != nil {
		return nil, errors.Wrapf(err, "OpenRouter API error after %d retries", maxRetries)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("no response choices from OpenRouter")
	}

	responseText := resp.Choices[0].Message.Content
	c.logger.Debugw("OpenRouter response",
		"model", resp.Model,
		"content_length", len(responseText),
		"total_tokens", resp.Usage.TotalTokens,
	)

	return &ChatResponse{
		Content: strings.TrimSpace(responseText),
		Model:   resp.Model,
		Usage:   resp.Usage,
	}, nil
}

// isRetryableError checks if an error is worth retrying (network-related)
func isRetryableError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var errno syscall.Errno
		if errors.As(opErr.Err, &errno) {
			switch errno {
			case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
				return true
			}
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection reset by peer",
		"connection refused",
		"temporary failure",
		"network is unreachable",
		"i/o timeout",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// IsConfigured returns true if the client has a valid API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// SetHTTPClient allows overriding the HTTP client for testing
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
