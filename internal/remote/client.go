package remote

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

	"github.com/Domenick1991/checkin/config"
)

var ErrEventNotFound = errors.New("remote: event not found")

// APIError is returned for non-2xx replies that carry no business status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote api: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote api: status %d: %s", e.StatusCode, e.Message)
}

type requestIDKey struct{}

// WithRequestID tags outgoing calls made with ctx with an X-Request-ID header.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type Client struct {
	// baseURL is the ticketing API root, without trailing slash.
	baseURL string

	// accessToken is sent as a bearer token on every call.
	accessToken string

	hc *http.Client
}

func NewClient(cfg config.APIConfig) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		accessToken: cfg.AccessToken,
		hc:          &http.Client{Timeout: timeout},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	if id := requestIDFrom(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	return req, nil
}

// errorMessage pulls a human readable message out of an error body. The API
// uses both {"message": ...} and {"error": ...} envelopes.
func errorMessage(body []byte) string {
	var reply struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return strings.TrimSpace(string(body))
	}
	if reply.Message != "" {
		return reply.Message
	}
	return reply.Error
}
