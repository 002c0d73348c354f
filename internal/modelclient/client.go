// Package modelclient speaks the job protocol served by a model container:
// GET / for status, POST / to submit a job, POST /terminate to shut down.
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/modelharness/internal/domain"
)

const maxErrorBody = 4 << 10

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("model server error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("model server error (status=%d): %s", e.StatusCode, body)
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the model server at baseURL. requestTimeout
// bounds each individual call.
func New(baseURL string, requestTimeout time.Duration) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("model base url is required")
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/",
		http:    &http.Client{Timeout: requestTimeout},
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Probe checks the server is listening. The returned status is nil when the
// server answered without a decodable status body.
func (c *Client) Probe(ctx context.Context) (*domain.ExecutionStatus, error) {
	raw, err := c.do(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, err
	}
	var status domain.ExecutionStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, nil
	}
	return &status, nil
}

// Submit posts the job request. Any non-2xx answer wraps domain.ErrSubmission.
func (c *Client) Submit(ctx context.Context, req domain.JobRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode job request: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPost, c.baseURL, body); err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			return fmt.Errorf("%w: %v", domain.ErrSubmission, httpErr)
		}
		return fmt.Errorf("%w: %v", domain.ErrSubmission, err)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (domain.ExecutionStatus, error) {
	raw, err := c.do(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return domain.ExecutionStatus{}, err
	}
	var status domain.ExecutionStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return domain.ExecutionStatus{}, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}

// Terminate asks the model server to shut down within timeout.
func (c *Client) Terminate(ctx context.Context, timeout time.Duration) error {
	body, err := json.Marshal(map[string]float64{"timeout": timeout.Seconds()})
	if err != nil {
		return err
	}
	if _, err := c.do(ctx, http.MethodPost, c.baseURL+"terminate", body); err != nil {
		return fmt.Errorf("terminate: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}
