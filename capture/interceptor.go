package capture

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Interceptor records paired request/response observations as an ordered,
// append-only log. It does no filtering and no persistence; downstream
// stages decide what captured traffic is worth keeping.
//
// Sequence numbers are scoped to one capture run, strictly increasing and
// unique, and are the only ordering authority. Wall-clock timestamps can
// collide and are never used for ordering.
type Interceptor struct {
	mu           sync.RWMutex
	enabled      bool
	interactions []*CapturedInteraction
	nextSeq      int64
}

// NewInterceptor returns an interceptor with capturing disabled. Call Start
// to begin recording.
func NewInterceptor() *Interceptor {
	return &Interceptor{}
}

// Start enables capturing.
func (i *Interceptor) Start() {
	i.mu.Lock()
	i.enabled = true
	i.mu.Unlock()
}

// Stop disables capturing. Already-captured interactions are kept.
func (i *Interceptor) Stop() {
	i.mu.Lock()
	i.enabled = false
	i.mu.Unlock()
}

// Enabled reports whether capturing is active.
func (i *Interceptor) Enabled() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.enabled
}

// CaptureRequest appends a new pending interaction for req and returns it.
// When capturing is disabled, nothing is recorded and nil is returned.
func (i *Interceptor) CaptureRequest(req *CapturedRequest) *CapturedInteraction {
	if req == nil {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.enabled {
		return nil
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	i.nextSeq++
	ix := &CapturedInteraction{
		ID:             uuid.New().String(),
		SequenceNumber: i.nextSeq,
		Request:        req,
	}
	i.interactions = append(i.interactions, ix)
	return ix
}

// CaptureResponse attaches resp to the most recently captured pending
// interaction and returns it. Responses arriving while capturing is
// disabled, or with no pending request to pair with, are dropped.
func (i *Interceptor) CaptureResponse(resp *CapturedResponse) *CapturedInteraction {
	if resp == nil {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.enabled {
		return nil
	}
	for idx := len(i.interactions) - 1; idx >= 0; idx-- {
		if i.interactions[idx].Response == nil {
			i.interactions[idx].Response = resp
			return i.interactions[idx]
		}
	}
	log.Printf("capture: dropping orphaned response (status %d), no pending request", resp.StatusCode)
	return nil
}

// Interactions returns the captured log ordered by sequence number. The
// returned slice is a snapshot; appending to it does not affect the log.
func (i *Interceptor) Interactions() []*CapturedInteraction {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]*CapturedInteraction, len(i.interactions))
	copy(out, i.interactions)
	return out
}

// Len returns the number of captured interactions.
func (i *Interceptor) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.interactions)
}

// PendingCount returns how many interactions still lack a response.
func (i *Interceptor) PendingCount() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	n := 0
	for _, ix := range i.interactions {
		if ix.Response == nil {
			n++
		}
	}
	return n
}

// Reset discards the captured log and restarts sequence numbering. It marks
// the boundary of a new capture run; the enabled flag is left as is.
func (i *Interceptor) Reset() {
	i.mu.Lock()
	i.interactions = nil
	i.nextSeq = 0
	i.mu.Unlock()
}
