package proxy

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strings"
)

// IsEventStream reports whether a content type denotes a server-sent event
// stream.
func IsEventStream(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/event-stream")
}

func wantsEventStream(accept string) bool {
	return strings.Contains(strings.ToLower(accept), "text/event-stream")
}

// copyEvents relays an event stream line by line, flushing at each blank
// line so every completed event reaches the client immediately. Returns
// nil on a clean upstream close.
func copyEvents(dst io.Writer, flusher http.Flusher, src io.Reader) error {
	reader := bufio.NewReader(src)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := dst.Write(line); werr != nil {
				return werr
			}
			// A blank line terminates one event.
			if flusher != nil && len(bytes.TrimSpace(line)) == 0 {
				flusher.Flush()
			}
		}
		if err != nil {
			if flusher != nil {
				flusher.Flush()
			}
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
