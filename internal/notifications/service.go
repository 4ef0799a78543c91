package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"radiodigest/internal/config"
)

const userAgent = "radiodigest/0.1.0"

// Event enumerates operator notification types.
type Event string

const (
	// EventTaskFailed fires when a task fails permanently or exhausts its attempts.
	EventTaskFailed Event = "task_failed"
	// EventDigestOrphaned fires when the sweep finds a stale building digest.
	EventDigestOrphaned Event = "digest_orphaned"
	// EventDigestSent fires after a digest email is delivered.
	EventDigestSent Event = "digest_sent"
	// EventTest is emitted by the test-notify command.
	EventTest Event = "test"
)

// Payload carries event-specific values. Keys are documented per event in format.
type Payload map[string]any

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventTaskFailed:     cfg.Notifications.Failures,
			EventDigestOrphaned: cfg.Notifications.Orphans,
			EventDigestSent:     cfg.Notifications.DigestSent,
			EventTest:           true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	unit := strings.TrimSpace(fmt.Sprintf("%s/%s", str(payload, "program"), str(payload, "date")))
	if unit == "/" {
		unit = ""
	}
	switch event {
	case EventTaskFailed:
		body := fmt.Sprintf("Task #%v (%s) failed", payload["taskID"], str(payload, "taskType"))
		if unit != "" {
			body += " for " + unit
		}
		if reason := str(payload, "error"); reason != "" {
			body += ": " + reason
		}
		return message{
			title:    "Radio Digest - Task Failed",
			body:     body,
			tags:     []string{"radiodigest", "task", "failed"},
			priority: "high",
		}, true
	case EventDigestOrphaned:
		body := fmt.Sprintf("Digest %s stuck in building since %s", unit, str(payload, "claimedAt"))
		if action := str(payload, "action"); action != "" {
			body += " (" + action + ")"
		}
		return message{
			title:    "Radio Digest - Orphaned Digest",
			body:     body,
			tags:     []string{"radiodigest", "digest", "orphan"},
			priority: "high",
		}, true
	case EventDigestSent:
		return message{
			title: "Radio Digest - Digest Sent",
			body:  fmt.Sprintf("Digest %s sent to %v recipient(s)", unit, payload["recipients"]),
			tags:  []string{"radiodigest", "digest", "sent"},
		}, true
	case EventTest:
		return message{
			title:    "Radio Digest - Test",
			body:     "Notification system test",
			tags:     []string{"radiodigest", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func str(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
