package replay

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"shadowrunner/capture"
	"shadowrunner/session"
)

// ValidationMode selects how a replayed response is judged.
type ValidationMode string

const (
	// ValidateStatus compares the replayed status code against the
	// captured one.
	ValidateStatus ValidationMode = "status"
	// ValidateNone records outcomes without judging them.
	ValidateNone ValidationMode = "none"
)

// ParseValidationMode maps a CLI/config string onto a mode.
func ParseValidationMode(s string) (ValidationMode, error) {
	switch mode := ValidationMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case ValidateStatus, ValidateNone:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown validation mode %q", s)
	}
}

// StepResult is the outcome of one replayed interaction.
type StepResult struct {
	Index          int    `json:"index"`
	Name           string `json:"name"`
	ExpectedStatus int    `json:"expected_status,omitempty"`
	ActualStatus   int    `json:"actual_status,omitempty"`
	LatencyMS      int64  `json:"latency_ms"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

// Report summarizes one replayed session.
type Report struct {
	SessionID    string        `json:"session_id"`
	TotalSteps   int           `json:"total_steps"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	Steps        []StepResult  `json:"steps"`
}

// Executor reissues one captured interaction against a live target and
// returns the observed status code.
type Executor interface {
	Execute(ctx context.Context, ix *capture.CapturedInteraction) (int, error)
}

// Options tune a Runner.
type Options struct {
	Validation ValidationMode
	// StepDelay paces the underlying session iterator.
	StepDelay time.Duration
	// StepTimeout bounds each reissued call. Zero means no per-step bound
	// beyond the executor's own limits.
	StepTimeout time.Duration
}

// Runner drives persisted sessions against a live target, one executor
// per transport protocol. A failing step is recorded and the run
// continues; only context cancellation stops a replay early.
type Runner struct {
	recorder  *session.Recorder
	executors map[string]Executor
	opts      Options
}

func NewRunner(recorder *session.Recorder, executors map[string]Executor, opts Options) *Runner {
	if opts.Validation == "" {
		opts.Validation = ValidateStatus
	}
	return &Runner{recorder: recorder, executors: executors, opts: opts}
}

// Run replays one session and reports per-step outcomes.
func (r *Runner) Run(ctx context.Context, sessionID string) (*Report, error) {
	rep := r.recorder.ReplaySession(ctx, sessionID, session.ReplayOptions{StepDelay: r.opts.StepDelay})
	if rep == nil {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}

	report := &Report{
		SessionID:  sessionID,
		TotalSteps: rep.Len(),
		StartTime:  time.Now(),
	}
	log.Printf("replay: starting session %s (%d steps)", sessionID, rep.Len())

	for rep.Next() {
		result := r.runStep(ctx, rep.Step())
		report.Steps = append(report.Steps, result)
		if result.Success {
			report.SuccessCount++
		} else {
			report.FailureCount++
			log.Printf("replay: step %d (%s) failed: %s", result.Index, result.Name, result.Error)
		}
	}
	report.Duration = time.Since(report.StartTime)

	if err := rep.Err(); err != nil {
		return report, fmt.Errorf("replay interrupted: %w", err)
	}
	log.Printf("replay: session %s done, %d/%d successful",
		sessionID, report.SuccessCount, report.TotalSteps)
	return report, nil
}

func (r *Runner) runStep(ctx context.Context, step session.ReplayStep) StepResult {
	ix := step.Interaction
	result := StepResult{Index: step.Index}

	if ix == nil || ix.Request == nil {
		result.Error = "interaction has no request"
		return result
	}
	result.Name = ix.Request.Endpoint()
	if ix.Response != nil {
		result.ExpectedStatus = ix.Response.StatusCode
	}

	executor := r.executors[ix.Request.Protocol]
	if executor == nil {
		result.Error = fmt.Sprintf("no executor for protocol %q", ix.Request.Protocol)
		return result
	}

	stepCtx := ctx
	if r.opts.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, r.opts.StepTimeout)
		defer cancel()
	}

	start := time.Now()
	status, err := executor.Execute(stepCtx, ix)
	result.LatencyMS = time.Since(start).Milliseconds()
	result.ActualStatus = status
	if err != nil {
		result.Error = err.Error()
		return result
	}

	switch r.opts.Validation {
	case ValidateNone:
		result.Success = true
	default:
		if ix.Response == nil || status == ix.Response.StatusCode {
			result.Success = true
		} else {
			result.Error = fmt.Sprintf("status mismatch: expected %d, got %d", ix.Response.StatusCode, status)
		}
	}
	return result
}
