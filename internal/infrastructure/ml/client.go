package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/ports"
)

const (
	endpointMachine = "predictive-maintenance"
	endpointFleet   = "full-request"
	maxBodyBytes    = 8 << 20
	excerptLimit    = 300
)

// Client talks to the external ML prediction service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	metrics ports.Metrics
}

var _ ports.Predictor = (*Client)(nil)

// NewClient creates a reusable HTTP client. A nil metrics sink is replaced with a no-op.
func NewClient(baseURL, apiKey string, timeout time.Duration, metrics ports.Metrics) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		metrics: metrics,
	}
}

// PredictMachine requests a fresh prediction for one machine.
func (c *Client) PredictMachine(ctx context.Context, machineID string) (json.RawMessage, error) {
	const op = "ml.PredictMachine"

	body, status, err := c.post(ctx, endpointMachine, "/"+endpointMachine+"/"+url.PathEscape(machineID))
	if err != nil {
		return nil, domain.Upstream(op, describeTransportError(err), err)
	}
	if status == http.StatusNotFound {
		return nil, domain.NotFound(op, "machine %s not found", machineID)
	}
	if status < 200 || status > 299 {
		return nil, domain.Upstream(op, fmt.Sprintf("HTTP %d: %s", status, excerpt(body)), nil)
	}
	if !json.Valid(body) {
		return nil, domain.Validation(op, "prediction service returned malformed JSON", excerpt(body))
	}
	return json.RawMessage(body), nil
}

// PredictFleet requests predictions for the whole fleet in one call.
func (c *Client) PredictFleet(ctx context.Context) ([]json.RawMessage, error) {
	const op = "ml.PredictFleet"

	body, status, err := c.post(ctx, endpointFleet, "/"+endpointFleet)
	if err != nil {
		return nil, domain.Upstream(op, describeTransportError(err), err)
	}
	if status < 200 || status > 299 {
		return nil, domain.Upstream(op, fmt.Sprintf("HTTP %d: %s", status, excerpt(body)), nil)
	}

	items, err := unwrapFleet(body)
	if err != nil {
		return nil, domain.Validation(op, err.Error())
	}
	if len(items) == 0 {
		return nil, domain.Validation(op, "prediction service returned an empty fleet")
	}
	return items, nil
}

func (c *Client) post(ctx context.Context, endpoint, path string) ([]byte, int, error) {
	start := time.Now()
	body, status, err := c.do(ctx, path)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "transport_error"
	case status < 200 || status > 299:
		outcome = fmt.Sprintf("http_%d", status)
	}
	c.metrics.UpstreamCall(endpoint, outcome, time.Since(start))
	return body, status, err
}

func (c *Client) do(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("ngrok-skip-browser-warning", "true")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if closeErr := resp.Body.Close(); closeErr != nil && readErr == nil {
		readErr = fmt.Errorf("close response body: %w", closeErr)
	}
	if readErr != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", readErr)
	}
	return body, resp.StatusCode, nil
}

func describeTransportError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection refused: prediction service is not running or the URL is wrong"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "request timeout: prediction service did not respond in time"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	default:
		return "no response received"
	}
}

// unwrapFleet accepts a bare array, {data:[...]}, {machines:[...]}, an object
// with any array-valued key, or a single object.
func unwrapFleet(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("prediction service returned an empty body")
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode fleet array: %w", err)
		}
		return items, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("prediction service returned malformed JSON: %s", excerpt(trimmed))
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		if k != "data" && k != "machines" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	keys = append([]string{"data", "machines"}, keys...)

	for _, k := range keys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		v = bytes.TrimSpace(v)
		if len(v) == 0 || v[0] != '[' {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(v, &items); err != nil {
			return nil, fmt.Errorf("decode fleet %q: %w", k, err)
		}
		return items, nil
	}

	return []json.RawMessage{json.RawMessage(trimmed)}, nil
}

// excerpt shortens a response body for error messages; HTML pages are reduced to their title.
func excerpt(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "empty body"
	}
	if looksLikeHTML(trimmed) {
		if title := htmlTitle(trimmed); title != "" {
			return "html page: " + title
		}
	}
	s := strings.Join(strings.Fields(string(trimmed)), " ")
	if len(s) > excerptLimit {
		cut := excerptLimit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}

func looksLikeHTML(body []byte) bool {
	prefix := strings.ToLower(string(body[:min(len(body), 64)]))
	return strings.HasPrefix(prefix, "<!doctype html") || strings.HasPrefix(prefix, "<html") || strings.Contains(prefix, "<head")
}

func htmlTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	for _, sel := range []string{"title", "h1", "h2"} {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return strings.Join(strings.Fields(text), " ")
		}
	}
	return ""
}
