package proxy

import (
	"bytes"
	"log"
	"net/http"
	"time"

	"shadowrunner/capture"
)

// Middleware wraps next so every request it serves flows through the
// pipeline, for embedding capture directly in a service instead of fronting
// it with the proxy. The wrapped handler's behavior is unchanged.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, rest, err := tapBody(r.Body, defaultMaxBodyCapture)
		if err != nil {
			log.Printf("middleware: failed to read request body: %v", err)
			next.ServeHTTP(w, r)
			return
		}
		r.Body = rest

		observed := &capture.CapturedRequest{
			Method:    r.Method,
			Path:      r.URL.Path,
			URL:       r.URL.String(),
			Headers:   flattenHeader(r.Header),
			Body:      body,
			Timestamp: time.Now(),
			Protocol:  capture.ProtocolHTTP,
		}

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK, limit: defaultMaxBodyCapture}
		start := time.Now()
		next.ServeHTTP(rec, r)

		p.Observe(observed, &capture.CapturedResponse{
			StatusCode: rec.status,
			Body:       rec.body.String(),
			Headers:    flattenHeader(rec.Header()),
			LatencyMS:  time.Since(start).Milliseconds(),
		})
	})
}

// responseRecorder tees the response while it streams to the client,
// keeping at most limit bytes of body.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
	limit       int64
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if int64(r.body.Len()) < r.limit {
		room := r.limit - int64(r.body.Len())
		if room >= int64(len(b)) {
			r.body.Write(b)
		} else {
			r.body.Write(b[:room])
		}
	}
	return r.ResponseWriter.Write(b)
}

// Flush keeps streaming responses streaming through the recorder.
func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
