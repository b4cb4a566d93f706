package capture

import (
	"testing"
	"time"
)

func testRequest(method, path string) *CapturedRequest {
	return &CapturedRequest{
		Method:    method,
		Path:      path,
		URL:       "http://localhost:8080" + path,
		Headers:   map[string]string{"Accept": "application/json"},
		Timestamp: time.Now(),
		Protocol:  ProtocolHTTP,
	}
}

func TestCaptureRequestDisabled(t *testing.T) {
	ic := NewInterceptor()

	if ix := ic.CaptureRequest(testRequest("GET", "/api/users")); ix != nil {
		t.Fatalf("expected nil interaction while disabled, got %+v", ix)
	}
	if ic.Len() != 0 {
		t.Errorf("expected empty log, got %d interactions", ic.Len())
	}
}

func TestSequenceNumbersStrictlyIncreasing(t *testing.T) {
	ic := NewInterceptor()
	ic.Start()

	paths := []string{"/a", "/b", "/c", "/d", "/e"}
	for _, p := range paths {
		ic.CaptureRequest(testRequest("GET", p))
	}

	ixs := ic.Interactions()
	if len(ixs) != len(paths) {
		t.Fatalf("expected %d interactions, got %d", len(paths), len(ixs))
	}
	seen := make(map[int64]bool)
	var last int64
	for i, ix := range ixs {
		if ix.SequenceNumber <= last {
			t.Errorf("interaction %d: sequence %d not greater than previous %d", i, ix.SequenceNumber, last)
		}
		if seen[ix.SequenceNumber] {
			t.Errorf("duplicate sequence number %d", ix.SequenceNumber)
		}
		seen[ix.SequenceNumber] = true
		last = ix.SequenceNumber
	}
}

func TestCaptureResponseAttachesToMostRecentPending(t *testing.T) {
	ic := NewInterceptor()
	ic.Start()

	first := ic.CaptureRequest(testRequest("GET", "/first"))
	second := ic.CaptureRequest(testRequest("GET", "/second"))

	got := ic.CaptureResponse(&CapturedResponse{StatusCode: 200, LatencyMS: 12})
	if got == nil {
		t.Fatal("expected response to attach")
	}
	if got.ID != second.ID {
		t.Errorf("response attached to %s, want most recent pending %s", got.ID, second.ID)
	}
	if !first.Pending() {
		t.Error("first interaction should still be pending")
	}
	if second.Pending() {
		t.Error("second interaction should no longer be pending")
	}
}

func TestOrphanedResponseDropped(t *testing.T) {
	ic := NewInterceptor()
	ic.Start()

	if got := ic.CaptureResponse(&CapturedResponse{StatusCode: 200}); got != nil {
		t.Fatalf("expected orphaned response to be dropped, got %+v", got)
	}
	if ic.Len() != 0 {
		t.Errorf("orphaned response must not create interactions, log has %d", ic.Len())
	}
}

func TestStopKeepsCapturedData(t *testing.T) {
	ic := NewInterceptor()
	ic.Start()

	ic.CaptureRequest(testRequest("GET", "/one"))
	ic.CaptureRequest(testRequest("POST", "/two"))
	ic.Stop()

	if ic.Enabled() {
		t.Error("interceptor should be disabled after Stop")
	}
	if ix := ic.CaptureRequest(testRequest("GET", "/three")); ix != nil {
		t.Error("capture after Stop should be a no-op")
	}
	if ic.Len() != 2 {
		t.Errorf("Stop should keep captured data, got %d interactions", ic.Len())
	}
}

func TestResponseAfterStopNotAttached(t *testing.T) {
	ic := NewInterceptor()
	ic.Start()

	ix := ic.CaptureRequest(testRequest("GET", "/slow"))
	ic.Stop()

	if got := ic.CaptureResponse(&CapturedResponse{StatusCode: 200}); got != nil {
		t.Fatal("response captured after Stop should be dropped")
	}
	if !ix.Pending() {
		t.Error("interaction should stay pending when capture stopped before the response")
	}
}

func TestResetStartsNewRun(t *testing.T) {
	ic := NewInterceptor()
	ic.Start()

	ic.CaptureRequest(testRequest("GET", "/a"))
	ic.CaptureRequest(testRequest("GET", "/b"))
	ic.Reset()

	if ic.Len() != 0 {
		t.Fatalf("expected empty log after Reset, got %d", ic.Len())
	}
	ix := ic.CaptureRequest(testRequest("GET", "/c"))
	if ix == nil {
		t.Fatal("Reset must not disable capturing")
	}
	if ix.SequenceNumber != 1 {
		t.Errorf("sequence numbering should restart at 1, got %d", ix.SequenceNumber)
	}
}

func TestInteractionsReturnsSnapshot(t *testing.T) {
	ic := NewInterceptor()
	ic.Start()
	ic.CaptureRequest(testRequest("GET", "/a"))

	snap := ic.Interactions()
	snap = append(snap, &CapturedInteraction{ID: "bogus"})
	_ = snap

	if ic.Len() != 1 {
		t.Errorf("appending to the snapshot must not grow the log, got %d", ic.Len())
	}
}

func TestCloneIsDeep(t *testing.T) {
	ic := NewInterceptor()
	ic.Start()
	ix := ic.CaptureRequest(testRequest("POST", "/api/orders"))
	ic.CaptureResponse(&CapturedResponse{
		StatusCode: 201,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       `{"id":1}`,
		LatencyMS:  40,
	})

	dup := ix.Clone()
	dup.Request.Headers["Accept"] = "text/plain"
	dup.Response.Headers["Content-Type"] = "text/plain"
	dup.Tags = append(dup.Tags, "edited")

	if ix.Request.Headers["Accept"] != "application/json" {
		t.Error("clone mutated the original request headers")
	}
	if ix.Response.Headers["Content-Type"] != "application/json" {
		t.Error("clone mutated the original response headers")
	}
	if len(ix.Tags) != 0 {
		t.Error("clone mutated the original tags")
	}
	if dup.ID != ix.ID || dup.SequenceNumber != ix.SequenceNumber {
		t.Error("clone must keep identity and sequence number")
	}
}
