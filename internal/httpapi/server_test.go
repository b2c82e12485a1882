package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fieldrelay/internal/model"
)

type fakeArtifacts struct {
	blobs map[string][]byte
	days  []model.Day
	err   error
}

func (f *fakeArtifacts) GetArtifact(_ context.Context, id string, day model.Day) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.blobs[id+"/"+day.String()], nil
}

func (f *fakeArtifacts) ListArtifactDays(context.Context, string) ([]model.Day, error) {
	return f.days, f.err
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth_OK(t *testing.T) {
	s := NewServer("worker", map[string]Check{
		"store": func(context.Context) error { return nil },
	}, nil, nil)

	rec := get(t, s.Router(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "worker", body["role"])
	assert.Equal(t, map[string]any{"store": "ok"}, body["checks"])
}

func TestHealth_Degraded(t *testing.T) {
	s := NewServer("bot", map[string]Check{
		"store": func(context.Context) error { return nil },
		"nats":  func(context.Context) error { return errors.New("nats: disconnected") },
	}, nil, nil)

	rec := get(t, s.Router(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "nats: disconnected")
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("fieldrelay_messages_ingested_total 3\n"))
	})
	rec := get(t, NewServer("bot", nil, metrics, nil).Router(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "messages_ingested_total")

	rec = get(t, NewServer("bot", nil, nil, nil).Router(), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportRoutes(t *testing.T) {
	day := model.Day{Year: 2024, Month: time.October, Date: 27}
	arts := &fakeArtifacts{
		blobs: map[string][]byte{"-100123/2024-10-27": []byte("PK")},
		days:  []model.Day{day},
	}
	h := NewServer("worker", nil, nil, arts).Router()

	rec := get(t, h, "/v1/conversations/-100123/days")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"conversation_id":"-100123","days":["2024-10-27"]}`, rec.Body.String())

	rec = get(t, h, "/v1/conversations/-100123/reports/2024-10-27")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PK", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "-100123_2024-10-27.xlsx")

	assert.Equal(t, http.StatusNotFound, get(t, h, "/v1/conversations/-100123/reports/2024-10-28").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/v1/conversations/-100123/reports/yesterday").Code)
}

func TestReportRoutes_StoreError(t *testing.T) {
	h := NewServer("worker", nil, nil, &fakeArtifacts{err: errors.New("postgres: down")}).Router()
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/v1/conversations/1/days").Code)
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/v1/conversations/1/reports/2024-10-27").Code)
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ListenAndServe(ctx, 0, http.NotFoundHandler()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRouter_CORS(t *testing.T) {
	h := NewServer("worker", nil, nil, &fakeArtifacts{}).AllowOrigins("https://ops.example.com").Router()

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/1/days", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/conversations/1/days", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
