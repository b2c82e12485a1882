package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid json"), false},
		{"explicit", NewTransientError(errors.New("boom"), 502), true},
		{"wrapped explicit", eris.Wrap(NewTransientError(errors.New("boom"), 429), "extract: call"), true},
		{"conn reset", fmt.Errorf("dial: %w", syscall.ECONNRESET), true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"pattern", errors.New("read tcp: i/o timeout"), true},
		{"canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404, 413} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be permanent", code)
		}
	}
}

func TestRetryAfterHint(t *testing.T) {
	if _, ok := RetryAfterHint(errors.New("x")); ok {
		t.Error("expected no hint on plain error")
	}
	err := eris.Wrap(NewTransientError(errors.New("429"), 429).WithRetryAfter(7*time.Second), "telegram: send")
	d, ok := RetryAfterHint(err)
	if !ok || d != 7*time.Second {
		t.Errorf("expected 7s hint, got %s (ok=%v)", d, ok)
	}
}

func TestClassify(t *testing.T) {
	if got := Classify(NewTransientError(errors.New("db down"), 0)); got != Redeliver {
		t.Errorf("expected redeliver, got %s", got)
	}
	if got := Classify(errors.New("bad payload")); got != Drop {
		t.Errorf("expected drop, got %s", got)
	}
}
