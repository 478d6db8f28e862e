package kiroku

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockServer creates an httptest server that mimics the Kiroku API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: serverURL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestIngestSpans(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/spans": func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Spans []SpanInput `json:"spans"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Len(t, req.Spans, 2)

			writeJSON(w, http.StatusCreated, map[string]any{
				"data": IngestResponse{TraceIDs: []string{"T1"}, SpanCount: 2},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	resp, err := c.IngestSpans(context.Background(), []SpanInput{
		{SpanID: "A", TraceID: "T1", Name: "root", StartedAt: time.Now()},
		{SpanID: "B", TraceID: "T1", Name: "child", StartedAt: time.Now()},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, resp.TraceIDs)
	assert.Equal(t, 2, resp.SpanCount)
}

func TestIngestSpansBatchRejected(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/spans": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error": map[string]any{
					"code":    "BATCH_REJECTED",
					"message": "batch rejected",
					"details": []Violation{
						{Index: 1, SpanID: "G", TraceID: "T1", Kind: "circular_reference", Message: "parent link would create a cycle"},
					},
				},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	_, err := c.IngestSpans(context.Background(), []SpanInput{{SpanID: "F", TraceID: "T1"}})
	require.Error(t, err)
	assert.True(t, IsBatchRejected(err))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	require.Len(t, apiErr.Violations, 1)
	assert.Equal(t, "circular_reference", apiErr.Violations[0].Kind)
}

func TestGetTrace(t *testing.T) {
	root := "A"
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/traces/{trace_id}": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "T1", r.PathValue("trace_id"))
			writeJSON(w, http.StatusOK, map[string]any{
				"data": TraceView{TraceID: "T1", RootSpanID: &root, SpanCount: 1},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	view, err := c.GetTrace(context.Background(), "T1")
	require.NoError(t, err)
	require.NotNil(t, view.RootSpanID)
	assert.Equal(t, "A", *view.RootSpanID)
}

func TestGetTraceNotFound(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/traces/{trace_id}": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error": map[string]any{"code": "NOT_FOUND", "message": "trace not found"},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	_, err := c.GetTrace(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestSpanExists(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/traces/{trace_id}/spans/{span_id}/exists": func(w http.ResponseWriter, r *http.Request) {
			exists := r.PathValue("span_id") == "A"
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]bool{"exists": exists}})
		},
	})

	c := newTestClient(t, srv.URL)
	exists, err := c.SpanExists(context.Background(), "T1", "A")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.SpanExists(context.Background(), "T1", "B")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDeleteTrace(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"DELETE /v1/traces/{trace_id}": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": DeleteTraceResponse{TraceID: "T1", SpansDeleted: 3},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	resp, err := c.DeleteTrace(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.SpansDeleted)
}

func TestListTraces(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/traces": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "2", r.URL.Query().Get("limit"))
			writeJSON(w, http.StatusOK, map[string]any{
				"data":     []TraceSummary{{TraceID: "T1", SpanCount: 2}, {TraceID: "T2", SpanCount: 1}},
				"has_more": true,
				"limit":    2,
				"offset":   0,
			})
		},
	})

	c := newTestClient(t, srv.URL)
	page, err := c.ListTraces(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	require.Len(t, page.Traces, 2)
	assert.Equal(t, "T1", page.Traces[0].TraceID)
}

func TestTransientCommitFailure(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/spans": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error": map[string]any{"code": "TRANSIENT_FAILURE", "message": "commit failed, resubmit the batch"},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	_, err := c.IngestSpans(context.Background(), []SpanInput{{SpanID: "A", TraceID: "T1"}})
	assert.True(t, IsTransient(err))
}

func TestHealth(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Health{Status: "healthy", Version: "1.0.0", Storage: "postgres: connected"},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
}
