package archive

import (
	"encoding/json"
	"fmt"
	"time"

	"shadowrunner/capture"
)

// CaptureRun is one recording window, usually a single serve invocation.
type CaptureRun struct {
	ID        int64     `json:"id"`
	Label     string    `json:"label"`
	StartedAt time.Time `json:"started_at"`
}

// StoredInteraction is one archived interaction row. Header maps are kept
// as JSON strings; a zero ResponseStatus means the interaction was still
// pending when archived.
type StoredInteraction struct {
	ID              int64     `json:"id"`
	RunID           int64     `json:"run_id"`
	InteractionID   string    `json:"interaction_id"`
	SessionID       string    `json:"session_id,omitempty"`
	Protocol        string    `json:"protocol"`
	Method          string    `json:"method"`
	Path            string    `json:"path"`
	RequestHeaders  string    `json:"request_headers,omitempty"`
	RequestBody     string    `json:"request_body,omitempty"`
	ResponseStatus  int       `json:"response_status,omitempty"`
	ResponseHeaders string    `json:"response_headers,omitempty"`
	ResponseBody    string    `json:"response_body,omitempty"`
	LatencyMS       int64     `json:"latency_ms,omitempty"`
	SequenceNumber  int64     `json:"sequence_number"`
	CreatedAt       time.Time `json:"created_at"`
}

func fromCaptured(runID int64, ix *capture.CapturedInteraction) (*StoredInteraction, error) {
	if ix == nil || ix.Request == nil {
		return nil, fmt.Errorf("interaction has no request")
	}
	requestHeaders, err := marshalHeaders(ix.Request.Headers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request headers: %w", err)
	}
	row := &StoredInteraction{
		RunID:          runID,
		InteractionID:  ix.ID,
		SessionID:      ix.SessionID,
		Protocol:       ix.Request.Protocol,
		Method:         ix.Request.Method,
		Path:           ix.Request.Path,
		RequestHeaders: requestHeaders,
		RequestBody:    ix.Request.Body,
		SequenceNumber: ix.SequenceNumber,
		CreatedAt:      ix.Request.Timestamp,
	}
	if ix.Response != nil {
		responseHeaders, err := marshalHeaders(ix.Response.Headers)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response headers: %w", err)
		}
		row.ResponseStatus = ix.Response.StatusCode
		row.ResponseHeaders = responseHeaders
		row.ResponseBody = ix.Response.Body
		row.LatencyMS = ix.Response.LatencyMS
	}
	return row, nil
}

// ToCaptured rebuilds the pipeline-shaped interaction, primarily so
// archived history can feed offline noise learning.
func (s *StoredInteraction) ToCaptured() *capture.CapturedInteraction {
	ix := &capture.CapturedInteraction{
		ID:             s.InteractionID,
		SequenceNumber: s.SequenceNumber,
		SessionID:      s.SessionID,
		Request: &capture.CapturedRequest{
			Method:    s.Method,
			Path:      s.Path,
			Headers:   unmarshalHeaders(s.RequestHeaders),
			Body:      s.RequestBody,
			Timestamp: s.CreatedAt,
			Protocol:  s.Protocol,
		},
	}
	if s.ResponseStatus != 0 {
		ix.Response = &capture.CapturedResponse{
			StatusCode: s.ResponseStatus,
			Body:       s.ResponseBody,
			Headers:    unmarshalHeaders(s.ResponseHeaders),
			LatencyMS:  s.LatencyMS,
		}
	}
	return ix
}

func marshalHeaders(headers map[string]string) (string, error) {
	if len(headers) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(headers)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalHeaders(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(raw), &headers); err != nil {
		return nil
	}
	return headers
}
