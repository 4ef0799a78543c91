package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"radiodigest/internal/services"
)

const (
	jsonResponseType      = "json_object"
	defaultEndpoint       = "https://openrouter.ai/api/v1/chat/completions"
	defaultHTTPTimeout    = 120 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryAttempts  = 3
)

// Config captures the runtime settings required to talk to the LLM.
type Config struct {
	APIKey  string
	BaseURL string
	// Models is the ordered fallback chain; the first entry is the primary model.
	Models            []string
	Referer           string
	Title             string
	TimeoutSeconds    int
	RequestsPerMinute int
}

// Client wraps an OpenAI-compatible chat completion API with a model fallback chain.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the per-model retry count.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs an LLM client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	models := make([]string, 0, len(cfg.Models))
	for _, model := range cfg.Models {
		if trimmed := strings.TrimSpace(model); trimmed != "" {
			models = append(models, trimmed)
		}
	}
	client := &Client{
		cfg: Config{
			APIKey:            strings.TrimSpace(cfg.APIKey),
			BaseURL:           strings.TrimSpace(cfg.BaseURL),
			Models:            models,
			Referer:           strings.TrimSpace(cfg.Referer),
			Title:             strings.TrimSpace(cfg.Title),
			TimeoutSeconds:    cfg.TimeoutSeconds,
			RequestsPerMinute: cfg.RequestsPerMinute,
		},
		httpClient:       &http.Client{Timeout: timeout},
		limiter:          newLimiter(cfg.RequestsPerMinute),
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = defaultEndpoint
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}
	return client
}

// newLimiter returns nil (unlimited) when requestsPerMinute is not positive.
func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

// Models returns the configured fallback chain.
func (c *Client) Models() []string {
	return append([]string(nil), c.cfg.Models...)
}

// Request is one chat completion call.
type Request struct {
	Op          string
	System      string
	User        string
	JSON        bool
	Temperature float64
}

// Completion is the content returned by the first model in the chain that answered.
type Completion struct {
	Content string
	Model   string
}

// Complete walks the model chain, retrying each model on transient errors, and
// returns the first successful completion. The returned error carries a services
// marker: configuration for rejected credentials, permanent when the last model
// refused the request with a 4xx status, transient otherwise.
func (c *Client) Complete(ctx context.Context, req Request) (Completion, error) {
	op := req.Op
	if op == "" {
		op = "llm complete"
	}
	if strings.TrimSpace(req.System) == "" || strings.TrimSpace(req.User) == "" {
		return Completion{}, services.Wrap(services.ErrValidation, "llm", op, "system and user prompts are required", nil)
	}
	if c.cfg.APIKey == "" {
		return Completion{}, services.Wrap(services.ErrConfiguration, "llm", op, "api key required", nil)
	}
	if len(c.cfg.Models) == 0 {
		return Completion{}, services.Wrap(services.ErrConfiguration, "llm", op, "no models configured", nil)
	}

	var (
		lastErr error
		failed  []string
	)
	for _, model := range c.cfg.Models {
		payload := chatCompletionRequest{
			Model: model,
			Messages: []chatMessage{
				{Role: "system", Content: strings.TrimSpace(req.System)},
				{Role: "user", Content: strings.TrimSpace(req.User)},
			},
			Temperature: req.Temperature,
		}
		if req.JSON {
			payload.ResponseFormat = map[string]string{"type": jsonResponseType}
		}
		content, err := c.completionContentWithRetry(ctx, payload, op)
		if err == nil {
			return Completion{Content: content, Model: model}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Completion{}, services.Wrap(services.ErrTimeout, "llm", op, "request cancelled", ctxErr)
		}
		if isAuthError(err) {
			return Completion{}, services.Wrap(services.ErrConfiguration, "llm", op, "credentials rejected", err)
		}
		lastErr = err
		failed = append(failed, model)
	}

	message := fmt.Sprintf("all models failed (%s)", strings.Join(failed, ", "))
	if isRefusal(lastErr) {
		return Completion{}, services.Wrap(services.ErrPermanent, "llm", op, message, lastErr)
	}
	return Completion{}, services.Wrap(services.ErrTransient, "llm", op, message, lastErr)
}

// CompleteJSON issues a JSON-only chat completion request with the supplied prompts.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (Completion, error) {
	return c.Complete(ctx, Request{Op: "llm complete json", System: systemPrompt, User: userPrompt, JSON: true})
}

// CompleteText issues a free-form chat completion request with the supplied prompts.
func (c *Client) CompleteText(ctx context.Context, systemPrompt, userPrompt string) (Completion, error) {
	return c.Complete(ctx, Request{Op: "llm complete text", System: systemPrompt, User: userPrompt, Temperature: 0.2})
}

// HealthCheck issues a fast ping against the primary model.
func (c *Client) HealthCheck(ctx context.Context) error {
	completion, err := c.Complete(ctx, Request{
		Op:     "llm health",
		System: "You must respond with JSON only.",
		User:   "Respond with {\"ok\":true}",
		JSON:   true,
	})
	if err != nil {
		return err
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeLLMJSON(completion.Content, &parsed); err != nil {
		return fmt.Errorf("llm health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("llm health: unexpected response")
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}
