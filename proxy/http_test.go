package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPProxyForwardsAndCaptures(t *testing.T) {
	var upstreamSaw *http.Request
	var upstreamBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamSaw = r.Clone(r.Context())
		body, _ := io.ReadAll(r.Body)
		upstreamBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Served-By", "upstream")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"queued": true}`))
	}))
	defer upstream.Close()

	p, ic, _ := newTestPipeline(t, PipelineOptions{})
	hp, err := NewHTTPProxy(upstream.URL, p)
	if err != nil {
		t.Fatalf("Failed to create proxy: %v", err)
	}

	front := httptest.NewServer(hp)
	defer front.Close()

	req, _ := http.NewRequest("POST", front.URL+"/api/jobs?priority=high", strings.NewReader(`{"job": "sync"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connection", "keep-alive")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("Expected 202, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Served-By") != "upstream" {
		t.Error("Upstream headers should reach the client")
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"queued": true}` {
		t.Errorf("Client saw body %s", body)
	}

	if upstreamSaw == nil {
		t.Fatal("Upstream never saw the request")
	}
	if upstreamSaw.URL.Path != "/api/jobs" || upstreamSaw.URL.RawQuery != "priority=high" {
		t.Errorf("Upstream saw %s?%s", upstreamSaw.URL.Path, upstreamSaw.URL.RawQuery)
	}
	if upstreamBody != `{"job": "sync"}` {
		t.Errorf("Upstream saw body %s", upstreamBody)
	}

	logged := ic.Interactions()
	if len(logged) != 1 {
		t.Fatalf("Expected 1 captured interaction, got %d", len(logged))
	}
	ix := logged[0]
	if ix.Request.Path != "/api/jobs" {
		t.Errorf("Captured path %s", ix.Request.Path)
	}
	if !strings.Contains(ix.Request.URL, "priority=high") {
		t.Errorf("Captured URL should keep the query, got %s", ix.Request.URL)
	}
	if ix.Response == nil || ix.Response.StatusCode != http.StatusAccepted {
		t.Error("Expected captured 202 response")
	}
	if ix.Response.Body != `{"queued": true}` {
		t.Errorf("Captured response body %s", ix.Response.Body)
	}
}

func TestHTTPProxyUpstreamDownRecordsPending(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close() // nothing is listening anymore

	p, ic, _ := newTestPipeline(t, PipelineOptions{})
	hp, err := NewHTTPProxy(upstream.URL, p)
	if err != nil {
		t.Fatalf("Failed to create proxy: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/users", nil)
	hp.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", rec.Code)
	}

	logged := ic.Interactions()
	if len(logged) != 1 {
		t.Fatalf("Expected the failed round trip to be logged, got %d", len(logged))
	}
	if !logged[0].Pending() {
		t.Error("Failed round trip should stay pending")
	}
}

func TestHTTPProxyDoesNotFollowRedirects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer upstream.Close()

	p, _, _ := newTestPipeline(t, PipelineOptions{})
	hp, err := NewHTTPProxy(upstream.URL, p)
	if err != nil {
		t.Fatalf("Failed to create proxy: %v", err)
	}

	rec := httptest.NewRecorder()
	hp.ServeHTTP(rec, httptest.NewRequest("GET", "/api/old", nil))

	if rec.Code != http.StatusFound {
		t.Errorf("Redirects should pass through, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/elsewhere" {
		t.Errorf("Location header = %s", loc)
	}
}

func TestNewHTTPProxyRejectsBadTargets(t *testing.T) {
	p, _, _ := newTestPipeline(t, PipelineOptions{})

	for _, target := range []string{"", "not a url", "localhost:8080", "/just/a/path"} {
		if _, err := NewHTTPProxy(target, p); err == nil {
			t.Errorf("Expected error for target %q", target)
		}
	}
}
