package stage

import (
	"errors"
	"testing"
	"time"

	"radiodigest/internal/services"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Success},
		{"plain", errors.New("connection reset"), TransientFailure},
		{"transient", services.Wrap(services.ErrTransient, "llm", "chat", "rate limited", nil), TransientFailure},
		{"timeout", services.Wrap(services.ErrTimeout, "stt", "upload", "deadline", nil), TransientFailure},
		{"validation", services.Wrap(services.ErrValidation, "blocks", "load", "missing audio", nil), PermanentFailure},
		{"configuration", services.Wrap(services.ErrConfiguration, "llm", "auth", "bad key", nil), PermanentFailure},
		{"not found", services.Wrap(services.ErrNotFound, "digest", "load", "gone", nil), PermanentFailure},
	}
	for _, tc := range tests {
		if got := Classify(tc.err).Kind; got != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestDecide(t *testing.T) {
	policy := RetryPolicy{Base: time.Second, Max: 10 * time.Second}

	if got := policy.Decide(Succeed(), 1, 3); got.Action != ActionComplete {
		t.Fatalf("success: %+v", got)
	}
	if got := policy.Decide(Transient(nil), 1, 3); got.Action != ActionRetry || got.Delay != time.Second {
		t.Fatalf("first transient: %+v", got)
	}
	if got := policy.Decide(Transient(nil), 3, 3); got.Action != ActionFail {
		t.Fatalf("final transient: %+v", got)
	}
	if got := policy.Decide(Permanent(nil), 1, 3); got.Action != ActionFail {
		t.Fatalf("permanent: %+v", got)
	}
	if got := policy.Decide(TransientAfter(nil, time.Minute), 1, 3); got.Action != ActionRetry || got.Delay != time.Minute {
		t.Fatalf("transient with retry-after: %+v", got)
	}
	if got := policy.Decide(TransientAfter(nil, time.Millisecond), 2, 3); got.Delay != 2*time.Second {
		t.Fatalf("backoff should win over a shorter retry-after: %+v", got)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	policy := RetryPolicy{Base: time.Second, Max: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, expected := range want {
		if got := policy.Backoff(i + 1); got != expected {
			t.Fatalf("attempt %d: got %s want %s", i+1, got, expected)
		}
	}
	if got := (RetryPolicy{}).Backoff(4); got != 0 {
		t.Fatalf("zero policy should not delay, got %s", got)
	}
}
