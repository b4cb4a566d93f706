package proxy

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shadowrunner/capture"
)

const defaultMaxBodyCapture = 10 << 20 // 10MB per body kept in a capture

// Hop-by-hop headers are stripped before forwarding; Go's transport manages
// its own connection state.
var hopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"content-length":      true,
}

// HTTPProxy forwards plain HTTP traffic to a single upstream and feeds every
// round trip through the pipeline. Pass-through is unconditional: a request
// the filter discards is still answered from the upstream.
type HTTPProxy struct {
	base     string
	pipeline *Pipeline
	client   *http.Client
	// stream has no overall deadline; event streams stay open until the
	// peer closes. Header arrival is still bounded.
	stream  *http.Client
	maxBody int64
}

func NewHTTPProxy(target string, pipeline *Pipeline) (*HTTPProxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream target %q: %w", target, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream target %q must include scheme and host", target)
	}

	// Redirects belong to the caller, not the proxy.
	noRedirect := func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			DisableCompression:  true,
			MaxIdleConnsPerHost: 10,
		},
		CheckRedirect: noRedirect,
	}

	stream := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			DisableCompression:    true,
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: 30 * time.Second,
		},
		CheckRedirect: noRedirect,
	}

	return &HTTPProxy{
		base:     strings.TrimRight(target, "/"),
		pipeline: pipeline,
		client:   client,
		stream:   stream,
		maxBody:  defaultMaxBodyCapture,
	}, nil
}

func (p *HTTPProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqBody, rest, err := tapBody(r.Body, p.maxBody)
	if err != nil {
		log.Printf("proxy: failed to read request body: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	r.Body = rest

	targetPath := r.URL.Path
	if r.URL.RawQuery != "" {
		targetPath += "?" + r.URL.RawQuery
	}
	targetURL := p.base + targetPath

	observed := &capture.CapturedRequest{
		Method:    r.Method,
		Path:      r.URL.Path,
		URL:       targetURL,
		Headers:   flattenHeader(r.Header),
		Body:      reqBody,
		Timestamp: time.Now(),
		Protocol:  capture.ProtocolHTTP,
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, r.Body)
	if err != nil {
		log.Printf("proxy: failed to build upstream request: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	copyHeader(outReq.Header, r.Header)

	client := p.client
	if wantsEventStream(r.Header.Get("Accept")) {
		client = p.stream
	}

	start := time.Now()
	resp, err := client.Do(outReq)
	if err != nil {
		log.Printf("proxy: upstream %s %s failed: %v", r.Method, targetURL, err)
		// Record the request as pending; the upstream never answered.
		p.pipeline.Observe(observed, nil)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	latency := time.Since(start).Milliseconds()

	if IsEventStream(resp.Header.Get("Content-Type")) {
		p.relayEventStream(w, resp, observed, latency)
		return
	}

	respBody, restResp, err := tapBody(resp.Body, p.maxBody)
	if err != nil {
		log.Printf("proxy: failed to read upstream response body: %v", err)
		p.pipeline.Observe(observed, nil)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	p.pipeline.Observe(observed, &capture.CapturedResponse{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Headers:    flattenHeader(resp.Header),
		LatencyMS:  latency,
	})

	for key, values := range resp.Header {
		if hopHeaders[strings.ToLower(key)] {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, restResp); err != nil {
		log.Printf("proxy: failed to relay response body: %v", err)
	}
}

// relayEventStream forwards an event stream as it arrives, flushing at
// event boundaries. The interaction is logged when the stream opens; its
// body stays empty because the stream has no defined end.
func (p *HTTPProxy) relayEventStream(w http.ResponseWriter, resp *http.Response, observed *capture.CapturedRequest, latency int64) {
	p.pipeline.Observe(observed, &capture.CapturedResponse{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeader(resp.Header),
		LatencyMS:  latency,
	})

	for key, values := range resp.Header {
		if hopHeaders[strings.ToLower(key)] {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	if err := copyEvents(w, flusher, resp.Body); err != nil {
		log.Printf("proxy: event stream %s ended: %v", observed.Path, err)
	}
}

// tapBody drains rc and hands back the captured text plus a replacement
// reader carrying the full payload. The capture is truncated at limit; the
// replacement never is.
func tapBody(rc io.ReadCloser, limit int64) (string, io.ReadCloser, error) {
	if rc == nil {
		return "", http.NoBody, nil
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read body: %w", err)
	}
	rc.Close()

	captured := data
	if int64(len(captured)) > limit {
		captured = captured[:limit]
	}
	return string(captured), io.NopCloser(bytes.NewReader(data)), nil
}

func flattenHeader(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	headers := make(map[string]string, len(h))
	for key, values := range h {
		headers[key] = strings.Join(values, ", ")
	}
	return headers
}

func copyHeader(dst, src http.Header) {
	for key, values := range src {
		if hopHeaders[strings.ToLower(key)] {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
