package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fieldrelay/internal/resilience"
	"github.com/sells-group/fieldrelay/internal/vocab"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func chatReply(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
	})
	return b
}

func newMistralServer(t *testing.T, handler http.HandlerFunc) *MistralExtractor {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewMistral("test-key", "mistral-large-latest", vocab.Default(),
		WithMistralBaseURL(ts.URL),
		WithMistralRetry(fastRetry()),
	)
}

func TestMistral_Extract(t *testing.T) {
	var req mistralChatRequest
	m := newMistralServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Write(chatReply(`{"operations":[{"date":"27.10","subdivision":"АОР","operation":"Уборка","crop":"Свекла сахарная","daily_area":45}]}`)) //nolint:errcheck
	})

	recs, err := m.Extract(context.Background(), "Уборка свеклы 27.10.день")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Уборка", recs[0]["operation"])
	assert.InDelta(t, 45.0, recs[0]["daily_area"], 0.001)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "СП Коломейцево")
	assert.Contains(t, req.Messages[1].Content, "Уборка свеклы 27.10.день")
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, "json_object", req.ResponseFormat.Type)
}

func TestMistral_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	m := newMistralServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(chatReply(`[]`)) //nolint:errcheck
	})

	recs, err := m.Extract(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMistral_ErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		content string
		want    Kind
		calls   int32
	}{
		{"rate limited", http.StatusTooManyRequests, "", KindRateLimited, 3},
		{"bad request", http.StatusBadRequest, "", KindUpstream, 1},
		{"malformed", http.StatusOK, "this is not json", KindMalformed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			m := newMistralServer(t, func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				if tt.status != http.StatusOK {
					w.WriteHeader(tt.status)
					w.Write([]byte(`{"message":"nope"}`)) //nolint:errcheck
					return
				}
				w.Write(chatReply(tt.content)) //nolint:errcheck
			})

			_, err := m.Extract(context.Background(), "x")
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
			assert.Equal(t, tt.calls, calls.Load())
		})
	}
}

func TestMistral_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(ts.Close)

	m := NewMistral("k", "", vocab.Default(),
		WithMistralBaseURL(ts.URL),
		WithMistralTimeout(50*time.Millisecond),
		WithMistralRetry(fastRetry()),
	)
	_, err := m.Extract(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
}
