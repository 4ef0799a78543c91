package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"radiodigest/internal/services"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "A.mp3")
	if err := os.WriteFile(path, []byte("ID3fake-audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func TestTranscribeUploadsMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("unexpected model %q", got)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("unexpected response_format %q", got)
		}
		if got := r.FormValue("language"); got != "pt" {
			t.Errorf("unexpected language %q", got)
		}
		if _, header, err := r.FormFile("file"); err != nil || header.Filename != "A.mp3" {
			t.Errorf("unexpected file part: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":     " Good morning. ",
			"language": "pt",
			"segments": []map[string]any{
				{"start": 0.0, "end": 1.5, "text": "Good", "speaker": "S1"},
				{"start": 1.5, "end": 3.0, "text": "morning", "speaker": "S2"},
				{"start": 3.0, "end": 4.0, "text": "again", "speaker": "S1"},
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: server.URL + "/v1", Models: []string{"whisper-1"}, Language: "pt"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	transcript, err := client.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if transcript.Text != "Good morning." || len(transcript.Segments) != 3 || transcript.Model != "whisper-1" {
		t.Fatalf("unexpected transcript %+v", transcript)
	}
	if transcript.Speakers() != 2 {
		t.Fatalf("expected 2 speakers, got %d", transcript.Speakers())
	}
}

func TestTranscribeFallsBackAcrossModels(t *testing.T) {
	var models []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		model := r.FormValue("model")
		models = append(models, model)
		if model == "primary" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "ok"})
	}))
	defer server.Close()

	client, _ := NewClient(Config{APIKey: "k", BaseURL: server.URL, Models: []string{"primary", "secondary"}}, WithRetry(3, 0))
	transcript, err := client.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if transcript.Model != "secondary" {
		t.Fatalf("expected secondary model, got %q", transcript.Model)
	}
	if len(models) != 2 {
		t.Fatalf("400 should not be retried on the same model, calls=%v", models)
	}
}

func TestTranscribeErrorMarkers(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, services.ErrConfiguration},
		{"bad request", http.StatusBadRequest, services.ErrPermanent},
		{"unavailable", http.StatusServiceUnavailable, services.ErrTransient},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			client, _ := NewClient(Config{APIKey: "k", BaseURL: server.URL, Models: []string{"m"}}, WithRetry(2, 0))
			_, err := client.Transcribe(context.Background(), writeAudio(t))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestTranscribeMissingAudioIsValidationError(t *testing.T) {
	client, _ := NewClient(Config{APIKey: "k", Models: []string{"m"}})
	_, err := client.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDocumentSaveLoad(t *testing.T) {
	path := DocumentPath(t.TempDir(), "morning-show", "2026-03-02", "B")
	want := Transcript{
		Text:     "hello there",
		Segments: []Segment{{Start: 0, End: 1.5, Text: "hello there", Speaker: "S1"}},
		Model:    "whisper-1",
	}
	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Text != want.Text || len(got.Segments) != 1 || got.Speakers() != 1 {
		t.Fatalf("unexpected transcript: %+v", got)
	}
}
