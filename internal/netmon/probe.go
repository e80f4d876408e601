package netmon

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// ProbeProvider considers the device online when GET <baseURL>/healthz
// answers 2xx
type ProbeProvider struct {
	url      string
	interval time.Duration
	client   *http.Client
}

// NewProbeProvider probes baseURL every interval (default 15s) with the given
// per-request timeout (default 5s)
func NewProbeProvider(baseURL string, interval, timeout time.Duration) *ProbeProvider {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ProbeProvider{
		url:      strings.TrimRight(baseURL, "/") + "/healthz",
		interval: interval,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *ProbeProvider) Current(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (p *ProbeProvider) Watch(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				online := p.Current(ctx)
				select {
				case ch <- online:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}
