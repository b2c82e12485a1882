package extract

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/sells-group/fieldrelay/internal/model"
)

// Limited throttles calls to an inner Extractor.
type Limited struct {
	inner   Extractor
	limiter *rate.Limiter
}

// NewLimited allows at most rps extractions per second. A non-positive rps
// disables the limit.
func NewLimited(inner Extractor, rps float64) *Limited {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Limited{inner: inner, limiter: rate.NewLimiter(limit, 1)}
}

// Extract waits for a token, then delegates.
func (l *Limited) Extract(ctx context.Context, text string) ([]model.RawRecord, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTimeout, Provider: "limiter", Err: err}
	}
	return l.inner.Extract(ctx, text)
}
