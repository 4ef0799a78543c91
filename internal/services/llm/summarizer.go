package llm

import (
	"context"
	"fmt"
	"strings"

	"radiodigest/internal/services"
)

// Summary formats.
const (
	FormatStructured = "structured"
	FormatPlain      = "plain"
)

// Summarizer produces per-block and per-digest summaries.
type Summarizer interface {
	SummarizeBlock(ctx context.Context, req BlockRequest) (Summary, error)
	SummarizeDigest(ctx context.Context, req DigestRequest) (Summary, error)
}

// BlockRequest carries one block transcript.
type BlockRequest struct {
	ProgramName string
	BlockCode   string
	Date        string
	Transcript  string
	// Speakers is the speaker count detected by transcription, used when the model
	// does not report participants.
	Speakers int
}

// DigestRequest carries the ordered block summaries of a reporting unit.
type DigestRequest struct {
	ProgramName string
	Date        string
	Blocks      []BlockDigest
}

// BlockDigest is one block's contribution to a digest.
type BlockDigest struct {
	Code    string
	Summary string
}

// Summary is the rendered result of a summarization call.
type Summary struct {
	Text         string
	Headline     string
	KeyPoints    []string
	Participants int
	Format       string
	Model        string
}

type structuredSummary struct {
	Headline     string   `json:"headline"`
	Summary      string   `json:"summary"`
	KeyPoints    []string `json:"key_points"`
	Participants []string `json:"participants"`
}

// ClientSummarizer implements Summarizer on top of Client. Structured output is
// requested first; a refused request or an unparseable answer falls back to a
// plain-text completion.
type ClientSummarizer struct {
	client *Client
}

// NewSummarizer wraps client.
func NewSummarizer(client *Client) *ClientSummarizer {
	return &ClientSummarizer{client: client}
}

// SummarizeBlock summarizes one block transcript.
func (s *ClientSummarizer) SummarizeBlock(ctx context.Context, req BlockRequest) (Summary, error) {
	transcript := strings.TrimSpace(req.Transcript)
	if transcript == "" {
		return Summary{}, services.Wrap(services.ErrValidation, "llm", "summarize block", "transcript is empty", nil)
	}
	user := fmt.Sprintf("Program: %s\nDate: %s\nBlock: %s\n\nTranscript:\n%s",
		req.ProgramName, req.Date, req.BlockCode, transcript)

	summary, err := s.structured(ctx, BlockSummaryPrompt, user)
	if err == nil {
		if summary.Participants == 0 {
			summary.Participants = req.Speakers
		}
		return summary, nil
	}
	if !fallbackAllowed(err) {
		return Summary{}, err
	}
	plain, err := s.plain(ctx, BlockPlainPrompt, user)
	if err != nil {
		return Summary{}, err
	}
	plain.Participants = req.Speakers
	return plain, nil
}

// SummarizeDigest summarizes the ordered block summaries of a unit.
func (s *ClientSummarizer) SummarizeDigest(ctx context.Context, req DigestRequest) (Summary, error) {
	if len(req.Blocks) == 0 {
		return Summary{}, services.Wrap(services.ErrValidation, "llm", "summarize digest", "no block summaries", nil)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Program: %s\nDate: %s\n", req.ProgramName, req.Date)
	for _, block := range req.Blocks {
		fmt.Fprintf(&b, "\nBlock %s:\n%s\n", block.Code, strings.TrimSpace(block.Summary))
	}
	user := b.String()

	summary, err := s.structured(ctx, DigestSummaryPrompt, user)
	if err == nil {
		return summary, nil
	}
	if !fallbackAllowed(err) {
		return Summary{}, err
	}
	return s.plain(ctx, DigestPlainPrompt, user)
}

func (s *ClientSummarizer) structured(ctx context.Context, system, user string) (Summary, error) {
	completion, err := s.client.CompleteJSON(ctx, system, user)
	if err != nil {
		return Summary{}, err
	}
	var parsed structuredSummary
	if err := DecodeLLMJSON(completion.Content, &parsed); err != nil {
		return Summary{}, services.Wrap(services.ErrValidation, "llm", "decode summary", "structured output unparseable", err)
	}
	body := strings.TrimSpace(parsed.Summary)
	if body == "" {
		return Summary{}, services.Wrap(services.ErrValidation, "llm", "decode summary", "structured output has no summary", nil)
	}
	points := make([]string, 0, len(parsed.KeyPoints))
	for _, point := range parsed.KeyPoints {
		if trimmed := strings.TrimSpace(point); trimmed != "" {
			points = append(points, trimmed)
		}
	}
	summary := Summary{
		Headline:     strings.TrimSpace(parsed.Headline),
		KeyPoints:    points,
		Participants: countDistinct(parsed.Participants),
		Format:       FormatStructured,
		Model:        completion.Model,
	}
	summary.Text = renderStructured(summary.Headline, body, points)
	return summary, nil
}

func (s *ClientSummarizer) plain(ctx context.Context, system, user string) (Summary, error) {
	completion, err := s.client.CompleteText(ctx, system, user)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Text:   strings.TrimSpace(stripCodeFence(completion.Content)),
		Format: FormatPlain,
		Model:  completion.Model,
	}, nil
}

// fallbackAllowed reports whether a structured failure should be retried as plain
// text right away. Transient and credential failures go back to the task queue.
func fallbackAllowed(err error) bool {
	return services.IsPermanent(err) && !isConfigurationError(err)
}

func renderStructured(headline, body string, points []string) string {
	var b strings.Builder
	if headline != "" {
		b.WriteString(headline)
		b.WriteString("\n\n")
	}
	b.WriteString(body)
	if len(points) > 0 {
		b.WriteString("\n")
		for _, point := range points {
			b.WriteString("\n- ")
			b.WriteString(point)
		}
	}
	return b.String()
}

func countDistinct(values []string) int {
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		key := strings.ToLower(strings.TrimSpace(value))
		if key == "" {
			continue
		}
		seen[key] = struct{}{}
	}
	return len(seen)
}
