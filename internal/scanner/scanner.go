// Package scanner implements the QR check-in unit: it owns a camera for the
// lifetime of a scanning session, captures one still frame per request,
// submits it for server-side decoding, and keeps a short-lived history of
// confirmations.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"eventdash/internal/metrics"
	"eventdash/internal/remote"
)

// State of the scanning session.
type State string

const (
	// StateStreaming: camera acquired, ready to capture.
	StateStreaming State = "streaming"
	// StateSubmitting: one capture is being decoded; further captures are
	// rejected until it resolves.
	StateSubmitting State = "submitting"
	// StateUnavailable: the camera could not be acquired. Terminal for the
	// session; capture is a no-op and manual entry is the only path left.
	StateUnavailable State = "unavailable"
	// StateClosed: the session was torn down and the camera released.
	StateClosed State = "closed"
)

// ErrScanInFlight rejects a capture while a submission is pending.
var ErrScanInFlight = errors.New("scan already in flight")

// Validator is the slice of the backend client the scanner submits through.
type Validator interface {
	ValidateQR(ctx context.Context, image []byte) (*remote.AttendanceRecord, error)
	ValidateCode(ctx context.Context, code string) (*remote.AttendanceRecord, error)
}

// Result is a confirmed registration.
type Result struct {
	Record *remote.AttendanceRecord `json:"record"`
	Event  ScanEvent                `json:"event"`
	// AutoClose is the delay after which the manual-entry flow closes its
	// dialog. Zero for camera scans, which keep the session open.
	AutoClose time.Duration `json:"autoCloseMs,omitempty"`
}

// manualAutoClose mirrors the manual-entry dialog delay of the UI.
const manualAutoClose = 2 * time.Second

// Scanner is the per-session state machine.
type Scanner struct {
	api     Validator
	history *History

	mu       sync.Mutex
	state    State
	cam      Camera
	errMsg   string
	errTimer *time.Timer
	errClear time.Duration
}

// New creates a scanner. A nil camera puts the session directly in
// Unavailable: capture is disabled but manual entry still works. errClear is
// the transient error display window.
func New(cam Camera, api Validator, history *History, errClear time.Duration) *Scanner {
	if errClear <= 0 {
		errClear = 3 * time.Second
	}
	s := &Scanner{api: api, history: history, errClear: errClear, cam: cam, state: StateStreaming}
	if cam == nil {
		s.state = StateUnavailable
	}
	return s
}

// State reports the current session state.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the transient error message, empty once auto-cleared.
func (s *Scanner) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// History exposes the visible scan confirmations.
func (s *Scanner) History() []ScanEvent {
	return s.history.Visible()
}

// CaptureAndScan grabs the current frame and submits it. Outside Streaming it
// performs no capture and no network call: Unavailable and Closed report
// ErrCameraUnavailable, a pending submission reports ErrScanInFlight.
func (s *Scanner) CaptureAndScan(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	switch s.state {
	case StateUnavailable, StateClosed:
		s.mu.Unlock()
		return nil, ErrCameraUnavailable
	case StateSubmitting:
		s.mu.Unlock()
		return nil, ErrScanInFlight
	}
	cam := s.cam
	s.state = StateSubmitting
	s.mu.Unlock()

	// Capture is synchronous; a grab failure surfaces through the same
	// transient-error path as a decode failure.
	frame, err := cam.Grab(ctx)
	if err != nil {
		s.finish(StateStreaming)
		s.setTransientError(fmt.Sprintf("capture failed: %v", err))
		metrics.Scans.WithLabelValues("error").Inc()
		return nil, err
	}

	rec, err := s.api.ValidateQR(ctx, frame)
	s.finish(StateStreaming)
	if err != nil {
		s.reportScanError(err)
		return nil, err
	}

	metrics.Scans.WithLabelValues("ok").Inc()
	return &Result{Record: rec, Event: s.history.Add(rec)}, nil
}

// SubmitCode is the manual fallback: the attendee's code is typed instead of
// scanned. It shares the single-submission rule with CaptureAndScan and works
// even when the camera is unavailable.
func (s *Scanner) SubmitCode(ctx context.Context, code string) (*Result, error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil, ErrCameraUnavailable
	case StateSubmitting:
		s.mu.Unlock()
		return nil, ErrScanInFlight
	}
	prev := s.state
	s.state = StateSubmitting
	s.mu.Unlock()

	rec, err := s.api.ValidateCode(ctx, code)
	s.finish(prev)
	if err != nil {
		s.reportScanError(err)
		return nil, err
	}

	metrics.Scans.WithLabelValues("ok").Inc()
	return &Result{Record: rec, Event: s.history.Add(rec), AutoClose: manualAutoClose}, nil
}

// Close tears the session down from any state: pending timers stop and the
// camera is released unconditionally. Idempotent.
func (s *Scanner) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.errMsg = ""
	if s.errTimer != nil {
		s.errTimer.Stop()
		s.errTimer = nil
	}
	cam := s.cam
	s.cam = nil
	s.mu.Unlock()

	s.history.Stop()
	if cam != nil {
		return cam.Close()
	}
	return nil
}

// finish returns the machine to the given state unless the session was
// closed while the submission was in flight.
func (s *Scanner) finish(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = state
	}
}

// reportScanError turns the backend outcome into the user-legible transient
// message. The duplicate case gets its own wording; it is the one domain
// error the operator must recognize at a glance.
func (s *Scanner) reportScanError(err error) {
	switch {
	case errors.Is(err, remote.ErrAlreadyRegistered):
		metrics.Scans.WithLabelValues("conflict").Inc()
		s.setTransientError("attendance already registered for this code")
	case errors.Is(err, remote.ErrRecordNotFound):
		metrics.Scans.WithLabelValues("not_found").Inc()
		s.setTransientError("no attendance matches this code")
	default:
		metrics.Scans.WithLabelValues("error").Inc()
		s.setTransientError(fmt.Sprintf("scan failed: %v", err))
	}
}

func (s *Scanner) setTransientError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.errMsg = msg
	if s.errTimer != nil {
		s.errTimer.Stop()
	}
	s.errTimer = time.AfterFunc(s.errClear, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.errMsg = ""
		s.errTimer = nil
	})
}
