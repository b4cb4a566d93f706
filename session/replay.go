package session

import (
	"context"
	"sort"
	"time"

	"shadowrunner/capture"
)

// ReplayStep is one interaction surfaced during replay, with its zero-based
// position in the replayed order.
type ReplayStep struct {
	Index       int
	Interaction *capture.CapturedInteraction
}

// ReplayOptions tune a replay.
type ReplayOptions struct {
	// StepDelay is a fixed pause inserted before every step after the
	// first. Zero disables pacing.
	StepDelay time.Duration
}

// Replay walks a persisted session's interactions in ascending
// sequence-number order, pulling one step at a time:
//
//	rep := recorder.ReplaySession(ctx, id, session.ReplayOptions{})
//	for rep.Next() {
//		step := rep.Step()
//		// drive step.Interaction
//	}
//	if err := rep.Err(); err != nil { ... }
//
// Cancelling the context stops iteration; Err reports the cause.
type Replay struct {
	ctx   context.Context
	steps []*capture.CapturedInteraction
	delay time.Duration
	pos   int
	cur   ReplayStep
	err   error
}

// ReplaySession loads a persisted session and returns a step iterator over
// its interactions. Ordering always follows sequence numbers, regardless of
// how interactions were stored on disk. Unknown ids return nil.
func (r *Recorder) ReplaySession(ctx context.Context, id string, opts ReplayOptions) *Replay {
	sess := r.store.Load(id)
	if sess == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	steps := make([]*capture.CapturedInteraction, len(sess.Interactions))
	copy(steps, sess.Interactions)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].SequenceNumber < steps[j].SequenceNumber
	})
	return &Replay{ctx: ctx, steps: steps, delay: opts.StepDelay}
}

// Next advances to the next step, honoring the inter-step delay and context
// cancellation. It returns false once the replay is exhausted, cancelled,
// or failed.
func (rep *Replay) Next() bool {
	if rep.err != nil || rep.pos >= len(rep.steps) {
		return false
	}
	if rep.pos > 0 && rep.delay > 0 {
		timer := time.NewTimer(rep.delay)
		select {
		case <-rep.ctx.Done():
			timer.Stop()
			rep.err = rep.ctx.Err()
			return false
		case <-timer.C:
		}
	} else {
		select {
		case <-rep.ctx.Done():
			rep.err = rep.ctx.Err()
			return false
		default:
		}
	}
	rep.cur = ReplayStep{Index: rep.pos, Interaction: rep.steps[rep.pos]}
	rep.pos++
	return true
}

// Step returns the step produced by the last successful Next call.
func (rep *Replay) Step() ReplayStep {
	return rep.cur
}

// Err returns the error that stopped iteration, if any.
func (rep *Replay) Err() error {
	return rep.err
}

// Len returns the total number of steps in the replay.
func (rep *Replay) Len() int {
	return len(rep.steps)
}
