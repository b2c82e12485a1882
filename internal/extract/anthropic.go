package extract

import (
	"context"
	"time"

	"github.com/sells-group/fieldrelay/internal/model"
	"github.com/sells-group/fieldrelay/internal/resilience"
	"github.com/sells-group/fieldrelay/internal/vocab"
	"github.com/sells-group/fieldrelay/pkg/anthropic"
)

// AnthropicExtractor extracts records with a Claude model.
type AnthropicExtractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	system    []anthropic.SystemBlock
	retry     resilience.RetryConfig
}

// AnthropicConfig configures an AnthropicExtractor.
type AnthropicConfig struct {
	Model     string
	MaxTokens int64
	Timeout   time.Duration
	Retry     *resilience.RetryConfig
}

// NewAnthropic builds an extractor whose system prompt lists v's terms.
func NewAnthropic(client anthropic.Client, v *vocab.Vocabulary, cfg AnthropicConfig) *AnthropicExtractor {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	retry := resilience.DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	retry.ShouldRetry = func(err error) bool {
		return retryable(anthropic.StatusCode(err)) || resilience.IsTransient(err)
	}
	retry.OnRetry = resilience.RetryLogger("anthropic", "extract")

	return &AnthropicExtractor{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		system:    anthropic.CachedSystem(SystemPrompt(v)),
		retry:     retry,
	}
}

// Extract implements Extractor.
func (e *AnthropicExtractor) Extract(ctx context.Context, text string) ([]model.RawRecord, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		System:      e.system,
		Messages:    []anthropic.Message{{Role: "user", Content: UserPrompt(text)}},
		Temperature: &temp,
	}

	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, classify("anthropic", err, anthropic.StatusCode(err))
	}
	resp.Usage.LogUsage(e.model)

	records, err := ParseResponse(resp.Text())
	if err != nil {
		return nil, malformed("anthropic", err)
	}
	return records, nil
}
