// Package extract turns free-text field reports into raw records by calling
// an LLM. The output is untrusted; internal/pipeline coerces and validates it.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sells-group/fieldrelay/internal/model"
	"github.com/sells-group/fieldrelay/internal/resilience"
)

// Extractor returns zero or more raw records for a report text.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]model.RawRecord, error)
}

// Kind classifies an extraction failure.
type Kind string

// Extraction failure kinds.
const (
	KindTimeout     Kind = "timeout"
	KindMalformed   Kind = "malformed"
	KindRateLimited Kind = "rate_limited"
	KindUpstream    Kind = "upstream"
)

// Error is returned by every Extractor in this package.
type Error struct {
	Kind     Kind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract: %s %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of an extraction error, or "" if err is not one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// classify wraps a provider call failure. statusCode is the HTTP status when
// known.
func classify(provider string, err error, statusCode int) *Error {
	kind := KindUpstream
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case statusCode == http.StatusTooManyRequests:
		kind = KindRateLimited
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		kind = KindTimeout
	}
	return &Error{Kind: kind, Provider: provider, Err: err}
}

func malformed(provider string, err error) *Error {
	return &Error{Kind: KindMalformed, Provider: provider, Err: err}
}

// retryable reports whether a provider status deserves another attempt.
// 529 is Anthropic's "overloaded".
func retryable(statusCode int) bool {
	return statusCode == 529 || resilience.IsTransientHTTPStatus(statusCode)
}
