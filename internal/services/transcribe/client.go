package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"radiodigest/internal/services"
)

const (
	defaultBaseURL        = "https://api.openai.com/v1"
	defaultHTTPTimeout    = 10 * time.Minute
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 2 * time.Second
	responseFormat        = "verbose_json"
)

// Config captures the runtime settings required to talk to the speech-to-text API.
type Config struct {
	APIKey            string
	BaseURL           string
	Models            []string
	Language          string
	TimeoutSeconds    int
	RequestsPerMinute int
}

// Segment is one timestamped span of the transcript.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Transcript is the decoded verbose_json response.
type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Segments []Segment `json:"segments"`
	Model    string    `json:"model,omitempty"`
}

// Speakers returns the number of distinct speaker labels in the segments.
func (t Transcript) Speakers() int {
	seen := make(map[string]struct{})
	for _, segment := range t.Segments {
		if label := strings.TrimSpace(segment.Speaker); label != "" {
			seen[label] = struct{}{}
		}
	}
	return len(seen)
}

// Transcriber converts an audio file into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (Transcript, error)
}

// Client implements Transcriber over HTTP.
type Client struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	attempts   int
	baseDelay  time.Duration
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

// WithRetry overrides the per-model attempt count and base backoff.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.baseDelay = baseDelay
	}
}

// NewClient constructs a speech-to-text client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	endpoint, err := url.JoinPath(base, "audio", "transcriptions")
	if err != nil {
		return nil, fmt.Errorf("transcription endpoint: %w", err)
	}
	client := &Client{
		cfg:        cfg,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		attempts:   defaultRetryAttempts,
		baseDelay:  defaultRetryBaseDelay,
	}
	if cfg.RequestsPerMinute > 0 {
		client.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.attempts <= 0 {
		client.attempts = 1
	}
	return client, nil
}

type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	body := strings.Join(strings.Fields(e.Body), " ")
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("transcription request: http %d: %s", e.StatusCode, body)
}

// Transcribe uploads audioPath and returns the first successful model's transcript.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (Transcript, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return Transcript{}, services.Wrap(services.ErrConfiguration, "transcribe", "upload", "api key required", nil)
	}
	if len(c.cfg.Models) == 0 {
		return Transcript{}, services.Wrap(services.ErrConfiguration, "transcribe", "upload", "no models configured", nil)
	}
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return Transcript{}, services.Wrap(services.ErrValidation, "transcribe", "read audio", audioPath, err)
	}
	if len(audio) == 0 {
		return Transcript{}, services.Wrap(services.ErrValidation, "transcribe", "read audio", "audio file is empty", nil)
	}

	var lastErr error
	for _, model := range c.cfg.Models {
		transcript, err := c.transcribeWithRetry(ctx, model, filepath.Base(audioPath), audio)
		if err == nil {
			transcript.Model = model
			return transcript, nil
		}
		if ctx.Err() != nil {
			return Transcript{}, services.Wrap(services.ErrTimeout, "transcribe", "upload", "request cancelled", ctx.Err())
		}
		var statusErr *statusError
		if errors.As(err, &statusErr) &&
			(statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden) {
			return Transcript{}, services.Wrap(services.ErrConfiguration, "transcribe", "upload", "credentials rejected", err)
		}
		lastErr = err
	}
	if retryable(lastErr) {
		return Transcript{}, services.Wrap(services.ErrTransient, "transcribe", "upload", "all models failed", lastErr)
	}
	return Transcript{}, services.Wrap(services.ErrPermanent, "transcribe", "upload", "all models failed", lastErr)
}

func (c *Client) transcribeWithRetry(ctx context.Context, model, filename string, audio []byte) (Transcript, error) {
	var lastErr error
	delay := c.baseDelay
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return Transcript{}, err
			}
		}
		transcript, err := c.upload(ctx, model, filename, audio)
		if err == nil {
			return transcript, nil
		}
		lastErr = err
		if attempt == c.attempts || !retryable(err) {
			break
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Transcript{}, ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}
	}
	return Transcript{}, lastErr
}

func (c *Client) upload(ctx context.Context, model, filename string, audio []byte) (Transcript, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return Transcript{}, fmt.Errorf("multipart file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return Transcript{}, fmt.Errorf("multipart write: %w", err)
	}
	fields := map[string]string{
		"model":           model,
		"response_format": responseFormat,
	}
	if language := strings.TrimSpace(c.cfg.Language); language != "" {
		fields["language"] = language
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return Transcript{}, fmt.Errorf("multipart field %s: %w", key, err)
		}
	}
	if err := writer.WriteField("timestamp_granularities[]", "segment"); err != nil {
		return Transcript{}, fmt.Errorf("multipart field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Transcript{}, fmt.Errorf("multipart close: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcription read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return Transcript{}, &statusError{StatusCode: resp.StatusCode, Body: string(payload)}
	}
	var transcript Transcript
	if err := json.Unmarshal(payload, &transcript); err != nil {
		return Transcript{}, fmt.Errorf("transcription decode: %w", err)
	}
	transcript.Text = strings.TrimSpace(transcript.Text)
	if transcript.Text == "" && len(transcript.Segments) == 0 {
		return Transcript{}, errors.New("transcription returned no text")
	}
	return transcript, nil
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode
		return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	// Transport errors, client timeouts, decode failures, and empty results are retried.
	return true
}
