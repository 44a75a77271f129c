package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"health-companion/internal/apperr"
	"health-companion/internal/metrics"
)

// Envelope is the status wrapper every record service response carries.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Reason returns whatever explanation the remote attached to a failure.
func (e Envelope) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Error != "" {
		return e.Error
	}
	return "remote reported failure"
}

// Client talks JSON over HTTP to the record service endpoints.
type Client struct {
	httpClient *http.Client
	metrics    *metrics.Collectors
}

func NewClient(timeout time.Duration, m *metrics.Collectors) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: m,
	}
}

// Get issues GET endpoint?query and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, op, endpoint string, query url.Values, out any) error {
	target := endpoint
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		target = endpoint + sep + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &apperr.TransportError{Op: op, Err: err}
	}
	return c.do(op, req, out)
}

// Post sends body as JSON and decodes the response into out. A nil out
// treats the call as acknowledge-only.
func (c *Client) Post(ctx context.Context, op, endpoint string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return &apperr.TransportError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return &apperr.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) (err error) {
	started := time.Now()
	defer func() { c.metrics.ObserveRemote(op, started, err) }()

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &apperr.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &apperr.TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(bodyBytes))),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &apperr.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
