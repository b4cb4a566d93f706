package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shadowrunner/capture"
	"shadowrunner/filter"
	"shadowrunner/proxy"
	"shadowrunner/session"
)

func newTestServer(t *testing.T) (*Server, *capture.Interceptor, *session.Recorder, *httptest.Server) {
	t.Helper()

	ic := capture.NewInterceptor()
	ic.Start()
	sf := filter.NewSmartFilter(filter.NewDefaultEngine(), 0)
	st, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	rec := session.NewRecorder(st, time.Hour)

	srv := NewServer(NewHub(), ic, rec, sf)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ic, rec, ts
}

func addSessionInteraction(t *testing.T, rec *session.Recorder, user, path string) *session.Session {
	t.Helper()
	s := rec.StartSession(user)
	ok := rec.AddInteraction(s.ID, &capture.CapturedInteraction{
		ID:             "ix-" + path,
		SequenceNumber: 1,
		Request: &capture.CapturedRequest{
			Method:    "GET",
			Path:      path,
			Timestamp: time.Now(),
			Protocol:  capture.ProtocolHTTP,
		},
		Response: &capture.CapturedResponse{StatusCode: 200},
	})
	if !ok {
		t.Fatalf("Failed to add interaction to session %s", s.ID)
	}
	return s
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode %s response: %v", url, err)
		}
	}
	return resp
}

func TestSessionsEndpoint(t *testing.T) {
	_, _, rec, ts := newTestServer(t)

	active := addSessionInteraction(t, rec, "alice", "/api/users")
	closed := addSessionInteraction(t, rec, "bob", "/api/orders")
	if _, err := rec.EndSession(closed.ID); err != nil {
		t.Fatalf("Failed to end session: %v", err)
	}

	var resp sessionsResponse
	getJSON(t, ts.URL+"/api/sessions", &resp)

	if len(resp.Active) != 1 || resp.Active[0].ID != active.ID {
		t.Fatalf("Expected one active session %s, got %+v", active.ID, resp.Active)
	}
	if resp.Active[0].UserID != "alice" || resp.Active[0].Interactions != 1 {
		t.Errorf("Unexpected summary %+v", resp.Active[0])
	}
	if len(resp.Saved) != 1 || resp.Saved[0] != closed.ID {
		t.Errorf("Expected saved session %s, got %v", closed.ID, resp.Saved)
	}
}

func TestSessionDetailEndpoint(t *testing.T) {
	_, _, rec, ts := newTestServer(t)

	active := addSessionInteraction(t, rec, "alice", "/api/users")
	closed := addSessionInteraction(t, rec, "bob", "/api/orders")
	if _, err := rec.EndSession(closed.ID); err != nil {
		t.Fatalf("Failed to end session: %v", err)
	}

	var doc session.Document
	getJSON(t, ts.URL+"/api/sessions/"+active.ID, &doc)
	if doc.SessionID != active.ID || len(doc.Interactions) != 1 {
		t.Errorf("Active session detail = %+v", doc)
	}

	var saved session.Document
	getJSON(t, ts.URL+"/api/sessions/"+closed.ID, &saved)
	if saved.SessionID != closed.ID || saved.EndTime == nil {
		t.Errorf("Saved session detail = %+v", saved)
	}

	resp := getJSON(t, ts.URL+"/api/sessions/no-such-session", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown session, got %d", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, ic, rec, ts := newTestServer(t)

	addSessionInteraction(t, rec, "alice", "/api/users")
	ic.CaptureRequest(&capture.CapturedRequest{
		Method: "GET", Path: "/api/users", Timestamp: time.Now(), Protocol: capture.ProtocolHTTP,
	})
	srv.filter.RecordInteraction(&capture.CapturedInteraction{
		Request: &capture.CapturedRequest{Method: "GET", Path: "/api/users"},
	})

	var resp statsResponse
	getJSON(t, ts.URL+"/api/stats", &resp)

	if !resp.Capture.Enabled {
		t.Error("Capture should report enabled")
	}
	if resp.Capture.Logged != 1 || resp.Capture.Pending != 1 {
		t.Errorf("Capture stats = %+v", resp.Capture)
	}
	if resp.Capture.ActiveSessions != 1 {
		t.Errorf("Expected 1 active session, got %d", resp.Capture.ActiveSessions)
	}
	if resp.Capture.TotalObserved != 1 || resp.Capture.EndpointCounts["GET /api/users"] != 1 {
		t.Errorf("Frequency stats = %+v", resp.Capture)
	}
	if resp.Sessions == nil {
		t.Fatal("Expected session statistics")
	}
}

func TestFiltersEndpoint(t *testing.T) {
	_, ic, _, ts := newTestServer(t)

	ic.CaptureRequest(&capture.CapturedRequest{
		Method: "GET", Path: "/health", Timestamp: time.Now(), Protocol: capture.ProtocolHTTP,
	})
	ic.CaptureResponse(&capture.CapturedResponse{StatusCode: 200})

	var resp filtersResponse
	getJSON(t, ts.URL+"/api/filters", &resp)

	if len(resp.Rules) != 4 {
		t.Fatalf("Expected the 4 stock rules, got %d", len(resp.Rules))
	}
	if resp.Rules[0].Name != "exclude-infra-paths" {
		t.Errorf("Rules should come back priority-ordered, got %s first", resp.Rules[0].Name)
	}
	if resp.Audit.Total != 1 || resp.Audit.Excluded != 1 {
		t.Errorf("Audit = %+v", resp.Audit)
	}
	if resp.Audit.RuleMatches["exclude-infra-paths"] != 1 {
		t.Errorf("Expected the infra rule to match, got %+v", resp.Audit.RuleMatches)
	}
}

func TestCaptureToggleEndpoint(t *testing.T) {
	_, ic, _, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/capture", "application/json", strings.NewReader(`{"enabled": false}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if ic.Enabled() {
		t.Error("Capture should be stopped")
	}

	var state captureToggle
	getJSON(t, ts.URL+"/api/capture", &state)
	if state.Enabled {
		t.Error("GET should report stopped capture")
	}

	resp, err = http.Post(ts.URL+"/api/capture", "application/json", strings.NewReader(`{"enabled": true}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if !ic.Enabled() {
		t.Error("Capture should be running again")
	}
}

func TestHubPublishWithoutClients(t *testing.T) {
	hub := NewHub()
	// No pump, no clients: publishing must not block.
	for i := 0; i < 200; i++ {
		hub.Publish(proxy.Event{Type: proxy.EventCaptured, Path: "/api/users"})
	}
	if hub.ClientCount() != 0 {
		t.Errorf("Expected no clients, got %d", hub.ClientCount())
	}
}
