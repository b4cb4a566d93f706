package capture

import (
	"strings"
	"time"
)

// Transport protocols an interaction can be observed on.
const (
	ProtocolHTTP = "http"
	ProtocolGRPC = "grpc"
)

// CapturedRequest is one observed request. Fields are fixed at capture time
// and never rewritten afterwards.
type CapturedRequest struct {
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Protocol  string            `json:"protocol,omitempty"`
}

// Endpoint returns the "METHOD path" key used for grouping and frequency
// accounting.
func (r *CapturedRequest) Endpoint() string {
	return r.Method + " " + r.Path
}

// Header returns the value for name, matching case-insensitively.
func (r *CapturedRequest) Header(name string) string {
	return headerValue(r.Headers, name)
}

// CapturedResponse is the observed response half of an interaction.
type CapturedResponse struct {
	StatusCode int               `json:"status_code"`
	Body       string            `json:"body,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	LatencyMS  int64             `json:"latency_ms"`
}

// Header returns the value for name, matching case-insensitively.
func (r *CapturedResponse) Header(name string) string {
	return headerValue(r.Headers, name)
}

// CapturedInteraction pairs a request with its response. Response stays nil
// while the interaction is pending (no response observed yet). SessionID is
// a back-reference only; sessions own their interaction lists.
type CapturedInteraction struct {
	ID             string            `json:"id"`
	SequenceNumber int64             `json:"sequence_number"`
	SessionID      string            `json:"session_id,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Request        *CapturedRequest  `json:"request"`
	Response       *CapturedResponse `json:"response"`
}

// Pending reports whether the interaction is still waiting for its response.
func (ix *CapturedInteraction) Pending() bool {
	return ix.Response == nil
}

// ContentType returns the response content type when present, falling back
// to the request content type.
func (ix *CapturedInteraction) ContentType() string {
	if ix.Response != nil {
		if ct := ix.Response.Header("Content-Type"); ct != "" {
			return ct
		}
	}
	if ix.Request != nil {
		return ix.Request.Header("Content-Type")
	}
	return ""
}

// Clone returns a deep copy sharing no maps or slices with the original.
// The copy keeps the same identifier and sequence number.
func (ix *CapturedInteraction) Clone() *CapturedInteraction {
	if ix == nil {
		return nil
	}
	dup := &CapturedInteraction{
		ID:             ix.ID,
		SequenceNumber: ix.SequenceNumber,
		SessionID:      ix.SessionID,
	}
	if len(ix.Tags) > 0 {
		dup.Tags = append([]string(nil), ix.Tags...)
	}
	if ix.Request != nil {
		req := *ix.Request
		req.Headers = cloneHeaders(ix.Request.Headers)
		dup.Request = &req
	}
	if ix.Response != nil {
		resp := *ix.Response
		resp.Headers = cloneHeaders(ix.Response.Headers)
		dup.Response = &resp
	}
	return dup
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	dup := make(map[string]string, len(h))
	for k, v := range h {
		dup[k] = v
	}
	return dup
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
