package proxy

import (
	"encoding/base64"
	"log"
	"sync"
	"time"

	"shadowrunner/archive"
	"shadowrunner/capture"
	"shadowrunner/filter"
	"shadowrunner/sanitize"
	"shadowrunner/session"
)

const previewLimit = 256

// Event types published to live observers.
const (
	EventCaptured       = "captured"
	EventFiltered       = "filtered"
	EventSessionStarted = "session_started"
)

// Event is the wire form of one observed interaction, published to the live
// feed. Previews carry truncated bodies for HTTP and field sketches for gRPC
// so the feed never ships raw payload blobs.
type Event struct {
	Type            string    `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	InteractionID   string    `json:"interaction_id,omitempty"`
	Sequence        int64     `json:"sequence,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
	UserID          string    `json:"user_id,omitempty"`
	Protocol        string    `json:"protocol,omitempty"`
	Method          string    `json:"method,omitempty"`
	Path            string    `json:"path,omitempty"`
	Status          int       `json:"status,omitempty"`
	LatencyMS       int64     `json:"latency_ms,omitempty"`
	RequestPreview  string    `json:"request_preview,omitempty"`
	ResponsePreview string    `json:"response_preview,omitempty"`
}

// EventSink receives pipeline events. Implementations must not block; slow
// consumers are expected to drop.
type EventSink interface {
	Publish(ev Event)
}

// Pipeline runs every observed interaction through the same stages
// regardless of transport: ordered capture, noise filtering, redaction,
// session assignment, archival, and the live event feed. Transport drivers
// build the request/response pair and hand it to Observe.
type Pipeline struct {
	interceptor *capture.Interceptor
	filter      *filter.SmartFilter
	sanitizer   *sanitize.Sanitizer
	recorder    *session.Recorder

	archive    *archive.Archive
	runID      int64
	sink       EventSink
	userHeader string

	mu       sync.Mutex
	sessions map[string]string // user id -> active session id
}

// PipelineOptions carries the optional stages. Archive and Events may be
// nil; UserHeader defaults to X-User-ID.
type PipelineOptions struct {
	Archive    *archive.Archive
	RunID      int64
	Events     EventSink
	UserHeader string
}

func NewPipeline(ic *capture.Interceptor, sf *filter.SmartFilter, sz *sanitize.Sanitizer, rec *session.Recorder, opts PipelineOptions) *Pipeline {
	userHeader := opts.UserHeader
	if userHeader == "" {
		userHeader = "X-User-ID"
	}
	return &Pipeline{
		interceptor: ic,
		filter:      sf,
		sanitizer:   sz,
		recorder:    rec,
		archive:     opts.Archive,
		runID:       opts.RunID,
		sink:        opts.Events,
		userHeader:  userHeader,
		sessions:    make(map[string]string),
	}
}

// Observe appends one interaction to the capture log and runs the
// post-capture stages. A nil resp records the request as pending, for round
// trips the upstream never answered. The request and response are appended
// under one lock so concurrent observers cannot interleave their pairs.
// Returns the raw logged interaction, or nil when capture is stopped.
func (p *Pipeline) Observe(req *capture.CapturedRequest, resp *capture.CapturedResponse) *capture.CapturedInteraction {
	p.mu.Lock()
	ix := p.interceptor.CaptureRequest(req)
	if ix == nil {
		p.mu.Unlock()
		return nil
	}
	if resp != nil {
		p.interceptor.CaptureResponse(resp)
	}
	p.mu.Unlock()

	keep := p.filter.ShouldCapture(ix)

	// Downstream consumers only ever see the redacted clone; the in-memory
	// log keeps the raw interaction.
	clean := p.sanitizer.Sanitize(ix)

	if keep {
		p.assignSession(clean)
	}

	// The archive stores everything, filtered or not, so offline
	// calibration sees true endpoint frequencies.
	if p.archive != nil {
		if err := p.archive.RecordInteraction(p.runID, clean); err != nil {
			log.Printf("pipeline: failed to archive interaction %s: %v", clean.ID, err)
		}
	}

	if keep {
		p.publish(EventCaptured, clean)
	} else {
		p.publish(EventFiltered, clean)
	}
	return ix
}

// assignSession routes the interaction to the observing user's active
// session, starting one on first sight. A stale mapping (session closed by
// cleanup or shutdown) is replaced with a fresh session.
func (p *Pipeline) assignSession(ix *capture.CapturedInteraction) {
	user := "anonymous"
	if v := ix.Request.Header(p.userHeader); v != "" {
		user = v
	}

	p.mu.Lock()
	if sid, ok := p.sessions[user]; ok {
		if p.recorder.AddInteraction(sid, ix) {
			p.mu.Unlock()
			return
		}
	}
	s := p.recorder.StartSession(user)
	p.sessions[user] = s.ID
	p.recorder.AddInteraction(s.ID, ix)
	p.mu.Unlock()

	if p.sink != nil {
		p.sink.Publish(Event{
			Type:      EventSessionStarted,
			Timestamp: time.Now(),
			SessionID: s.ID,
			UserID:    user,
		})
	}
}

func (p *Pipeline) publish(kind string, ix *capture.CapturedInteraction) {
	if p.sink == nil {
		return
	}
	ev := Event{
		Type:          kind,
		Timestamp:     time.Now(),
		InteractionID: ix.ID,
		Sequence:      ix.SequenceNumber,
		SessionID:     ix.SessionID,
		Protocol:      ix.Request.Protocol,
		Method:        ix.Request.Method,
		Path:          ix.Request.Path,
	}
	ev.RequestPreview = bodyPreview(ix.Request.Protocol, ix.Request.Body)
	if ix.Response != nil {
		ev.Status = ix.Response.StatusCode
		ev.LatencyMS = ix.Response.LatencyMS
		ev.ResponsePreview = bodyPreview(ix.Request.Protocol, ix.Response.Body)
	}
	p.sink.Publish(ev)
}

// bodyPreview keeps event payloads small: gRPC bodies are base64 raw frames
// and render as field sketches, HTTP bodies are truncated verbatim.
func bodyPreview(protocol, body string) string {
	if body == "" {
		return ""
	}
	if protocol == capture.ProtocolGRPC {
		raw, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return opaqueSketch([]byte(body))
		}
		return SketchMessage(raw)
	}
	if len(body) > previewLimit {
		return body[:previewLimit] + "..."
	}
	return body
}
