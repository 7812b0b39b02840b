package cloud

import (
	"context"
	"net/http"
	"time"
)

// Probe checks connectivity with a HEAD request. Any response, whatever
// its status, means the network path is up.
type Probe struct {
	URL     string
	Timeout time.Duration
	client  *http.Client
}

// NewProbe creates a probe for url. An empty url always reports online.
func NewProbe(url string, timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Probe{URL: url, Timeout: timeout, client: &http.Client{Timeout: timeout}}
}

// Online reports whether URL answered within the timeout
func (p *Probe) Online(ctx context.Context) bool {
	if p.URL == "" {
		return ctx.Err() == nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
