package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fieldrelay/internal/model"
	"github.com/sells-group/fieldrelay/internal/resilience"
	"github.com/sells-group/fieldrelay/internal/vocab"
)

const defaultMistralBaseURL = "https://api.mistral.ai/v1"

// MistralExtractor extracts records through the Mistral chat completions API.
type MistralExtractor struct {
	apiKey  string
	model   string
	baseURL string
	timeout time.Duration
	system  string
	client  *http.Client
	retry   resilience.RetryConfig
}

// MistralOption configures a MistralExtractor.
type MistralOption func(*MistralExtractor)

// WithMistralBaseURL overrides the API base URL.
func WithMistralBaseURL(u string) MistralOption {
	return func(m *MistralExtractor) { m.baseURL = strings.TrimRight(u, "/") }
}

// WithMistralHTTPClient sets the HTTP client.
func WithMistralHTTPClient(c *http.Client) MistralOption {
	return func(m *MistralExtractor) { m.client = c }
}

// WithMistralTimeout bounds each extraction.
func WithMistralTimeout(d time.Duration) MistralOption {
	return func(m *MistralExtractor) { m.timeout = d }
}

// WithMistralRetry replaces the default retry policy.
func WithMistralRetry(cfg resilience.RetryConfig) MistralOption {
	return func(m *MistralExtractor) { m.retry = cfg }
}

// NewMistral creates a MistralExtractor.
func NewMistral(apiKey, model string, v *vocab.Vocabulary, opts ...MistralOption) *MistralExtractor {
	if model == "" {
		model = "mistral-large-latest"
	}
	m := &MistralExtractor{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultMistralBaseURL,
		system:  SystemPrompt(v),
		client:  &http.Client{},
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(m)
	}
	m.retry.OnRetry = resilience.RetryLogger("mistral", "extract")
	return m
}

type mistralChatRequest struct {
	Model          string               `json:"model"`
	Messages       []mistralChatMessage `json:"messages"`
	Temperature    float64              `json:"temperature"`
	ResponseFormat *mistralFormat       `json:"response_format,omitempty"`
}

type mistralChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type mistralFormat struct {
	Type string `json:"type"`
}

type mistralChatResponse struct {
	Choices []struct {
		Message mistralChatMessage `json:"message"`
	} `json:"choices"`
}

// Extract implements Extractor.
func (m *MistralExtractor) Extract(ctx context.Context, text string) ([]model.RawRecord, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	body, err := json.Marshal(mistralChatRequest{
		Model: m.model,
		Messages: []mistralChatMessage{
			{Role: "system", Content: m.system},
			{Role: "user", Content: UserPrompt(text)},
		},
		ResponseFormat: &mistralFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, &Error{Kind: KindUpstream, Provider: "mistral", Err: eris.Wrap(err, "marshal request")}
	}

	content, err := resilience.DoVal(ctx, m.retry, func(ctx context.Context) (string, error) {
		return m.complete(ctx, body)
	})
	if err != nil {
		status := 0
		var se *statusError
		if errors.As(err, &se) {
			status = se.code
		}
		return nil, classify("mistral", err, status)
	}

	records, err := ParseResponse(content)
	if err != nil {
		return nil, malformed("mistral", err)
	}
	return records, nil
}

// statusError is a non-retryable HTTP failure.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return "mistral API returned " + strconv.Itoa(e.code) + ": " + e.body
}

func (m *MistralExtractor) complete(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "mistral: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "mistral: API call")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "mistral: read response")
	}

	if resp.StatusCode != http.StatusOK {
		se := &statusError{code: resp.StatusCode, body: truncate(string(respBody), 512)}
		if retryable(resp.StatusCode) {
			te := resilience.NewTransientError(se, resp.StatusCode)
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				te.WithRetryAfter(time.Duration(secs) * time.Second)
			}
			return "", te
		}
		return "", se
	}

	var chat mistralChatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return "", eris.Wrap(err, "mistral: unmarshal response")
	}
	if len(chat.Choices) == 0 {
		return "", eris.New("mistral: response has no choices")
	}
	return chat.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
