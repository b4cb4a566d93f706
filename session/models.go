package session

import (
	"time"

	"shadowrunner/capture"
)

// Session groups captured interactions attributed to one user or flow.
// A session is active (held in memory, accepting interactions) until it is
// closed; closing stamps the end time and the session never mutates again.
type Session struct {
	ID           string
	UserID       string
	StartTime    time.Time
	EndTime      *time.Time
	Interactions []*capture.CapturedInteraction
	Metadata     map[string]string
	Tags         []string
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	return s.EndTime != nil
}

// Duration returns the session length, measured up to now while active.
func (s *Session) Duration() time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}

// PathSet returns the distinct request paths touched by the session.
func (s *Session) PathSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Interactions))
	for _, ix := range s.Interactions {
		if ix.Request != nil {
			set[ix.Request.Path] = struct{}{}
		}
	}
	return set
}

// Document is the persisted form of a session, one JSON file per session.
type Document struct {
	SessionID    string                `json:"session_id" validate:"required"`
	UserID       string                `json:"user_id,omitempty"`
	StartTime    time.Time             `json:"start_time"`
	EndTime      *time.Time            `json:"end_time"`
	Interactions []InteractionDocument `json:"interactions"`
	Metadata     map[string]string     `json:"metadata,omitempty"`
	Tags         []string              `json:"tags,omitempty"`
}

// InteractionDocument is one interaction inside a Document. The owning
// session id is implicit and not repeated per interaction.
type InteractionDocument struct {
	ID             string                    `json:"id"`
	SequenceNumber int64                     `json:"sequence_number"`
	Tags           []string                  `json:"tags,omitempty"`
	Request        *capture.CapturedRequest  `json:"request"`
	Response       *capture.CapturedResponse `json:"response"`
}

// ToDocument converts a session to its persisted shape.
func ToDocument(s *Session) *Document {
	doc := &Document{
		SessionID:    s.ID,
		UserID:       s.UserID,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
		Interactions: make([]InteractionDocument, 0, len(s.Interactions)),
		Metadata:     s.Metadata,
		Tags:         s.Tags,
	}
	for _, ix := range s.Interactions {
		doc.Interactions = append(doc.Interactions, InteractionDocument{
			ID:             ix.ID,
			SequenceNumber: ix.SequenceNumber,
			Tags:           ix.Tags,
			Request:        ix.Request,
			Response:       ix.Response,
		})
	}
	return doc
}

// FromDocument rebuilds a session from its persisted shape, restoring the
// session back-reference on every interaction.
func FromDocument(doc *Document) *Session {
	s := &Session{
		ID:        doc.SessionID,
		UserID:    doc.UserID,
		StartTime: doc.StartTime,
		EndTime:   doc.EndTime,
		Metadata:  doc.Metadata,
		Tags:      doc.Tags,
	}
	for i := range doc.Interactions {
		d := &doc.Interactions[i]
		s.Interactions = append(s.Interactions, &capture.CapturedInteraction{
			ID:             d.ID,
			SequenceNumber: d.SequenceNumber,
			SessionID:      doc.SessionID,
			Tags:           d.Tags,
			Request:        d.Request,
			Response:       d.Response,
		})
	}
	return s
}
