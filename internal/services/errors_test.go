package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"radiodigest/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "transcribe", "upload", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"transcribe", "upload", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestIsPermanent(t *testing.T) {
	permanent := []error{
		services.Wrap(services.ErrValidation, "blocks", "create", "unknown program", nil),
		services.Wrap(services.ErrConfiguration, "llm", "init", "missing key", nil),
		services.Wrap(services.ErrNotFound, "digest", "load", "no row", nil),
		fmt.Errorf("outer: %w", services.Wrap(services.ErrPermanent, "stt", "upload", "unsupported", nil)),
	}
	for _, err := range permanent {
		if !services.IsPermanent(err) {
			t.Fatalf("expected permanent classification for %v", err)
		}
	}

	transient := []error{
		nil,
		errors.New("plain"),
		services.Wrap(services.ErrTimeout, "llm", "complete", "deadline", nil),
		services.Wrap(services.ErrExternalTool, "smtp", "send", "421", nil),
	}
	for _, err := range transient {
		if services.IsPermanent(err) {
			t.Fatalf("expected transient classification for %v", err)
		}
	}
}
