package kiroku

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Kiroku server (e.g. "http://localhost:8080").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Kiroku trace ingestion API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("kiroku: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
	}, nil
}

// IngestSpans submits one batch of spans. The batch commits atomically: on a
// rejection (IsBatchRejected) every span was refused and the returned Error
// carries the violations.
func (c *Client) IngestSpans(ctx context.Context, spans []SpanInput) (*IngestResponse, error) {
	body := map[string]any{"spans": spans}
	var resp IngestResponse
	if err := c.post(ctx, "/v1/spans", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTrace fetches the assembled tree for a trace.
func (c *Client) GetTrace(ctx context.Context, traceID string) (*TraceView, error) {
	var resp TraceView
	if err := c.get(ctx, "/v1/traces/"+url.PathEscape(traceID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSpan fetches one committed span.
func (c *Client) GetSpan(ctx context.Context, traceID, spanID string) (*Span, error) {
	path := "/v1/traces/" + url.PathEscape(traceID) + "/spans/" + url.PathEscape(spanID)
	var resp Span
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SpanExists reports whether a committed span exists for the given identity.
func (c *Client) SpanExists(ctx context.Context, traceID, spanID string) (bool, error) {
	path := "/v1/traces/" + url.PathEscape(traceID) + "/spans/" + url.PathEscape(spanID) + "/exists"
	var resp existsResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// DeleteTrace removes a trace and all of its spans.
func (c *Client) DeleteTrace(ctx context.Context, traceID string) (*DeleteTraceResponse, error) {
	var resp DeleteTraceResponse
	if err := c.doDelete(ctx, "/v1/traces/"+url.PathEscape(traceID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListTraces returns one page of trace summaries, newest first.
func (c *Client) ListTraces(ctx context.Context, limit, offset int) (*TracePage, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	path := "/v1/traces"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("kiroku: create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kiroku: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kiroku: read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// List responses carry pagination fields next to "data".
	var envelope listEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return nil, fmt.Errorf("kiroku: decode response envelope: %w", err)
	}
	page := &TracePage{HasMore: envelope.HasMore}
	if err := json.Unmarshal(envelope.Data, &page.Traces); err != nil {
		return nil, fmt.Errorf("kiroku: decode trace summaries: %w", err)
	}
	return page, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var resp Health
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kiroku: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("kiroku: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kiroku: create request: %w", err)
	}
	return c.doRequest(req, dest)
}

func (c *Client) doDelete(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kiroku: create request: %w", err)
	}
	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kiroku: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kiroku: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("kiroku: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return json.Unmarshal(bodyBytes, dest)
	}
	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope struct {
		Error struct {
			Code    string          `json:"code"`
			Message string          `json:"message"`
			Details json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		if len(envelope.Error.Details) > 0 {
			// Details are violations on batch rejection; tolerate other shapes.
			_ = json.Unmarshal(envelope.Error.Details, &apiErr.Violations)
		}
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
