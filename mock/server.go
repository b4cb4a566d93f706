package mock

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"

	"shadowrunner/capture"
	"shadowrunner/session"
)

// MockHeader marks every stubbed response with the id of the recorded
// interaction that produced it.
const MockHeader = "X-Shadowrunner-Mock"

// Headers set by the mock itself rather than copied from the recording.
var skipReplayHeaders = map[string]bool{
	"content-length":    true,
	"transfer-encoding": true,
	"connection":        true,
	"date":              true,
}

type endpoint struct {
	method   string
	segments []string
	key      string
}

// Server replays recorded session traffic as canned responses. Lookups go
// by exact method and path first, then fall back to fuzzy matching where
// numeric and uuid path segments act as wildcards. Multiple recordings for
// one endpoint rotate in capture order.
type Server struct {
	byEndpoint map[string][]*capture.CapturedInteraction
	endpoints  []endpoint

	mu     sync.Mutex
	cursor map[string]int
}

// NewServer indexes the completed interactions of the given sessions.
// Pending interactions have nothing to serve and are skipped.
func NewServer(sessions []*session.Session) *Server {
	s := &Server{
		byEndpoint: make(map[string][]*capture.CapturedInteraction),
		cursor:     make(map[string]int),
	}

	for _, sess := range sessions {
		if sess == nil {
			continue
		}
		for _, ix := range sess.Interactions {
			if ix == nil || ix.Request == nil || ix.Response == nil {
				continue
			}
			key := ix.Request.Endpoint()
			if _, seen := s.byEndpoint[key]; !seen {
				s.endpoints = append(s.endpoints, endpoint{
					method:   ix.Request.Method,
					segments: splitPath(ix.Request.Path),
					key:      key,
				})
			}
			s.byEndpoint[key] = append(s.byEndpoint[key], ix)
		}
	}

	// Responses rotate in capture order regardless of which session
	// contributed them.
	for key := range s.byEndpoint {
		list := s.byEndpoint[key]
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].SequenceNumber < list[j].SequenceNumber
		})
	}
	sort.Slice(s.endpoints, func(i, j int) bool { return s.endpoints[i].key < s.endpoints[j].key })

	return s
}

// EndpointCount returns how many distinct endpoints have recordings.
func (s *Server) EndpointCount() int {
	return len(s.endpoints)
}

// nextRecorded resolves method+path to a recording and advances the
// rotation cursor. Returns nil when nothing was recorded for the endpoint.
func (s *Server) nextRecorded(method, path string) (ix *capture.CapturedInteraction, idx, total int) {
	key := method + " " + path
	list := s.byEndpoint[key]
	if list == nil {
		key, list = s.fuzzyLookup(method, path)
	}
	if list == nil {
		return nil, 0, 0
	}

	s.mu.Lock()
	idx = s.cursor[key] % len(list)
	s.cursor[key]++
	s.mu.Unlock()

	return list[idx], idx, len(list)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ix, idx, total := s.nextRecorded(r.Method, r.URL.Path)
	if ix == nil {
		log.Printf("[MOCK] %s %s -> no recording", r.Method, r.URL.Path)
		s.writeNotFound(w, r)
		return
	}
	for name, value := range ix.Response.Headers {
		if skipReplayHeaders[strings.ToLower(name)] {
			continue
		}
		w.Header().Set(name, value)
	}
	w.Header().Set(MockHeader, ix.ID)
	w.WriteHeader(ix.Response.StatusCode)
	if ix.Response.Body != "" {
		if _, err := w.Write([]byte(ix.Response.Body)); err != nil {
			log.Printf("[MOCK] failed to write response body: %v", err)
		}
	}

	log.Printf("[MOCK] %s %s -> %d (recording %d of %d)", r.Method, r.URL.Path, ix.Response.StatusCode, idx+1, total)
}

// fuzzyLookup finds a recorded endpoint whose path matches with numeric and
// uuid segments wildcarded. Both the request segment and the recorded
// segment must look like identifiers to count as a wildcard match.
func (s *Server) fuzzyLookup(method, path string) (string, []*capture.CapturedInteraction) {
	segments := splitPath(path)
	for _, ep := range s.endpoints {
		if ep.method != method {
			continue
		}
		if segmentsMatch(segments, ep.segments) {
			return ep.key, s.byEndpoint[ep.key]
		}
	}
	return "", nil
}

func segmentsMatch(got, recorded []string) bool {
	if len(got) != len(recorded) {
		return false
	}
	for i := range got {
		if got[i] == recorded[i] {
			continue
		}
		if !isNumericOrUUID(got[i]) || !isNumericOrUUID(recorded[i]) {
			return false
		}
	}
	return true
}

func splitPath(path string) []string {
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}

func isNumericOrUUID(s string) bool {
	if len(s) == 36 && strings.Count(s, "-") == 4 {
		return true
	}
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (s *Server) writeNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	body := map[string]string{
		"error": "no recorded interaction for " + r.Method + " " + r.URL.Path,
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[MOCK] failed to encode not-found response: %v", err)
	}
}
