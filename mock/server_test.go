package mock

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shadowrunner/capture"
	"shadowrunner/session"
)

func recordedInteraction(id string, seq int64, method, path string, status int, body string) *capture.CapturedInteraction {
	return &capture.CapturedInteraction{
		ID:             id,
		SequenceNumber: seq,
		Request: &capture.CapturedRequest{
			Method:    method,
			Path:      path,
			Timestamp: time.Now(),
			Protocol:  capture.ProtocolHTTP,
		},
		Response: &capture.CapturedResponse{
			StatusCode: status,
			Body:       body,
			Headers:    map[string]string{"Content-Type": "application/json"},
		},
	}
}

func mockSession(ixs ...*capture.CapturedInteraction) *session.Session {
	return &session.Session{
		ID:           "mock-session",
		UserID:       "alice",
		StartTime:    time.Now(),
		Interactions: ixs,
	}
}

func TestMockServesExactMatch(t *testing.T) {
	srv := NewServer([]*session.Session{mockSession(
		recordedInteraction("ix-1", 1, "GET", "/api/users", 200, `{"users": []}`),
	)})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/users", nil))

	if rec.Code != 200 {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != `{"users": []}` {
		t.Errorf("Body = %s", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Error("Recorded headers should replay")
	}
	if rec.Header().Get(MockHeader) != "ix-1" {
		t.Errorf("Mock header = %s", rec.Header().Get(MockHeader))
	}
}

func TestMockRotatesResponses(t *testing.T) {
	srv := NewServer([]*session.Session{mockSession(
		recordedInteraction("ix-2", 2, "GET", "/api/status", 200, "second"),
		recordedInteraction("ix-1", 1, "GET", "/api/status", 200, "first"),
		recordedInteraction("ix-3", 3, "GET", "/api/status", 503, "third"),
	)})

	var bodies []string
	var statuses []int
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", nil))
		bodies = append(bodies, rec.Body.String())
		statuses = append(statuses, rec.Code)
	}

	// Capture order, then wrap around.
	want := []string{"first", "second", "third", "first"}
	for i := range want {
		if bodies[i] != want[i] {
			t.Errorf("Call %d body = %s, want %s", i, bodies[i], want[i])
		}
	}
	if statuses[2] != 503 {
		t.Errorf("Recorded error statuses should replay too, got %d", statuses[2])
	}
}

func TestMockFuzzyMatchesIDSegments(t *testing.T) {
	srv := NewServer([]*session.Session{mockSession(
		recordedInteraction("ix-1", 1, "GET", "/api/users/42", 200, `{"id": 42}`),
	)})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/users/99", nil))
	if rec.Code != 200 {
		t.Errorf("Numeric segments should wildcard, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/users/alice", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Non-id segments should not wildcard, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/users/99", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Method must still match exactly, got %d", rec.Code)
	}
}

func TestMockFuzzyMatchesUUIDSegments(t *testing.T) {
	srv := NewServer([]*session.Session{mockSession(
		recordedInteraction("ix-1", 1, "DELETE", "/api/orders/0c39b3a4-61b2-4b55-90dc-2a1799d4a0a5", 204, ""),
	)})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/orders/f7f9fc45-5289-4340-9e1e-b618b4ab2a4f", nil))
	if rec.Code != 204 {
		t.Errorf("UUID segments should wildcard, got %d", rec.Code)
	}
}

func TestMockUnmatchedReturnsJSONError(t *testing.T) {
	srv := NewServer(nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Not-found body should be JSON: %v", err)
	}
	if body["error"] == "" {
		t.Error("Expected an error message")
	}
}

func TestMockSkipsPendingInteractions(t *testing.T) {
	pending := &capture.CapturedInteraction{
		ID:             "ix-pending",
		SequenceNumber: 1,
		Request: &capture.CapturedRequest{
			Method: "GET", Path: "/api/slow", Timestamp: time.Now(), Protocol: capture.ProtocolHTTP,
		},
	}
	srv := NewServer([]*session.Session{mockSession(pending)})

	if srv.EndpointCount() != 0 {
		t.Errorf("Pending interactions should not be indexed, have %d endpoints", srv.EndpointCount())
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/slow", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for pending-only endpoint, got %d", rec.Code)
	}
}

func TestMockMergesSessions(t *testing.T) {
	first := mockSession(recordedInteraction("ix-1", 5, "GET", "/api/items", 200, "from-first"))
	second := &session.Session{
		ID:        "other-session",
		UserID:    "bob",
		StartTime: time.Now(),
		Interactions: []*capture.CapturedInteraction{
			recordedInteraction("ix-2", 2, "GET", "/api/items", 200, "from-second"),
		},
	}

	srv := NewServer([]*session.Session{first, second})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/items", nil))
	if rec.Body.String() != "from-second" {
		t.Errorf("Lower sequence should serve first, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/items", nil))
	if rec.Body.String() != "from-first" {
		t.Errorf("Rotation should cross sessions, got %s", rec.Body.String())
	}
}
