package replay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"shadowrunner/capture"
)

const maxReplayBodyBytes = 10 << 20

// Headers the transport owns; replaying captured values for these breaks
// the reissued request.
var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"content-length":      {},
	"host":                {},
}

// HTTPExecutor reissues captured HTTP interactions against a base URL.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
}

func NewHTTPExecutor(baseURL string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, ix *capture.CapturedInteraction) (int, error) {
	var body io.Reader
	if ix.Request.Body != "" {
		body = strings.NewReader(ix.Request.Body)
	}

	req, err := http.NewRequestWithContext(ctx, ix.Request.Method, e.baseURL+ix.Request.Path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range ix.Request.Headers {
		if _, skip := hopByHopHeaders[strings.ToLower(key)]; skip {
			continue
		}
		req.Header.Set(key, value)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused; the body itself is not
	// compared.
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxReplayBodyBytes)); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, nil
}
