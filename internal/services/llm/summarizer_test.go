package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"radiodigest/internal/services"
)

func newTestSummarizer(t *testing.T, handler http.HandlerFunc) *ClientSummarizer {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(Config{APIKey: "k", BaseURL: server.URL, Models: []string{"m"}}, WithSleeper(noSleep))
	return NewSummarizer(client)
}

func TestSummarizeBlockStructured(t *testing.T) {
	summarizer := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		var payload chatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload.ResponseFormat["type"] != jsonResponseType {
			t.Errorf("expected json response format, got %v", payload.ResponseFormat)
		}
		_ = json.NewEncoder(w).Encode(chatResponse(
			`{"headline":"Traffic update","summary":"Roads are busy.","key_points":["A1 closed",""],"participants":["Host","host","Reporter"]}`,
		))
	})

	summary, err := summarizer.SummarizeBlock(context.Background(), BlockRequest{
		ProgramName: "Morning Show", BlockCode: "A", Date: "2026-03-02", Transcript: "hello", Speakers: 5,
	})
	if err != nil {
		t.Fatalf("SummarizeBlock: %v", err)
	}
	if summary.Format != FormatStructured || summary.Participants != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if !strings.HasPrefix(summary.Text, "Traffic update\n\nRoads are busy.") || !strings.Contains(summary.Text, "- A1 closed") {
		t.Fatalf("unexpected rendering %q", summary.Text)
	}
}

func TestSummarizeBlockFallsBackToPlain(t *testing.T) {
	var calls int
	summarizer := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var payload chatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload.ResponseFormat != nil {
			_ = json.NewEncoder(w).Encode(chatResponse("I cannot produce JSON today."))
			return
		}
		_ = json.NewEncoder(w).Encode(chatResponse("A plain summary."))
	})

	summary, err := summarizer.SummarizeBlock(context.Background(), BlockRequest{Transcript: "hello", Speakers: 3})
	if err != nil {
		t.Fatalf("SummarizeBlock: %v", err)
	}
	if summary.Format != FormatPlain || summary.Text != "A plain summary." || summary.Participants != 3 {
		t.Fatalf("unexpected fallback summary %+v", summary)
	}
	if calls != 2 {
		t.Fatalf("expected structured then plain call, got %d", calls)
	}
}

func TestSummarizeBlockTransientErrorDoesNotFallBack(t *testing.T) {
	var calls int
	summarizer := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := summarizer.SummarizeBlock(context.Background(), BlockRequest{Transcript: "hello"})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls != defaultRetryAttempts {
		t.Fatalf("expected only structured attempts, got %d calls", calls)
	}
}

func TestSummarizeRejectsEmptyInput(t *testing.T) {
	summarizer := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	if _, err := summarizer.SummarizeBlock(context.Background(), BlockRequest{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := summarizer.SummarizeDigest(context.Background(), DigestRequest{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSummarizeDigestIncludesBlocksInOrder(t *testing.T) {
	summarizer := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		var payload chatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&payload)
		user := payload.Messages[1].Content
		if strings.Index(user, "Block A") > strings.Index(user, "Block B") {
			t.Errorf("blocks out of order in prompt: %q", user)
		}
		_ = json.NewEncoder(w).Encode(chatResponse(`{"headline":"Day","summary":"All good.","key_points":["x"]}`))
	})

	summary, err := summarizer.SummarizeDigest(context.Background(), DigestRequest{
		ProgramName: "Morning Show",
		Date:        "2026-03-02",
		Blocks:      []BlockDigest{{Code: "A", Summary: "first"}, {Code: "B", Summary: "second"}},
	})
	if err != nil {
		t.Fatalf("SummarizeDigest: %v", err)
	}
	if summary.Headline != "Day" || summary.Format != FormatStructured {
		t.Fatalf("unexpected digest summary %+v", summary)
	}
}
