package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
)

// StatusError is a non-2xx acknowledgement from the remote endpoint
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("Sync failed: %d", e.StatusCode)
	}
	return fmt.Sprintf("Sync failed: %d %s", e.StatusCode, e.Body)
}

// endpointURL resolves endpoint against BaseURL unless it is already absolute
func (c *Client) endpointURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

// Push sends one JSON body to endpoint. Any 2xx response acknowledges it.
func (c *Client) Push(ctx context.Context, endpoint, method string, body []byte) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "cloud: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpointURL(endpoint), bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "cloud: create request")
	}

	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("X-API-Key", c.config.APIKey)
	}
	if c.config.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.config.DeviceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return eris.Wrap(err, "cloud: send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
