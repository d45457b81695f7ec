// Package reconcile applies confirmed backend outcomes onto the session view
// model. It owns all view-model writes: presentation reads snapshots, the
// backend stays authoritative, and a failed call leaves the rows exactly as
// they were.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"eventdash/internal/metrics"
	"eventdash/internal/queue"
	"eventdash/internal/remote"
	"eventdash/internal/viewmodel"
)

var (
	// ErrUnknownEvent means no session has been loaded for the event yet.
	ErrUnknownEvent = errors.New("event not loaded")
	// ErrStaleRow means the participant is unknown to the current view
	// model; the UI is stale and the operation is a deliberate no-op.
	ErrStaleRow = errors.New("participant not in view model")
)

// RecordAPI is the slice of the backend client the reconciler mutates through.
type RecordAPI interface {
	UpdateStatus(ctx context.Context, participantID, eventID int64, attended bool) (*remote.AttendanceRecord, error)
	CreateRecord(ctx context.Context, participantID, eventID int64) (*remote.AttendanceRecord, error)
	Import(ctx context.Context, eventID int64, filename string, file io.Reader) (*remote.ImportResult, error)
}

// RowLoader rebuilds the joined row set for an event.
type RowLoader interface {
	Load(ctx context.Context, eventID int64) ([]viewmodel.AttendeeRow, error)
}

// ChangeEvent is the notification published after a confirmed mutation.
type ChangeEvent struct {
	ParticipantID int64     `json:"participantId"`
	EventID       int64     `json:"eventId"`
	RecordID      int64     `json:"recordId"`
	Attended      bool      `json:"attended"`
	Source        string    `json:"source"`
	At            time.Time `json:"at"`
}

// MessageType tags attendance-change queue messages.
const MessageType = "attendance-change"

// Dashboard coordinates per-event sessions.
type Dashboard struct {
	api    RecordAPI
	loader RowLoader
	q      queue.Queue

	mu       sync.Mutex
	sessions map[int64]*session
}

// session is the view model of one event plus the per-row serialization
// locks for same-row operations.
type session struct {
	store *viewmodel.Store

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func (s *session) rowLock(participantID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[participantID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[participantID] = l
	}
	return l
}

// NewDashboard creates the reconciler. The queue may be nil when change
// fan-out is not wanted (tests).
func NewDashboard(api RecordAPI, loader RowLoader, q queue.Queue) *Dashboard {
	return &Dashboard{
		api:      api,
		loader:   loader,
		q:        q,
		sessions: make(map[int64]*session),
	}
}

// Open loads (or reloads) the session for an event and returns the full row
// set. A load failure leaves any previous session untouched.
func (d *Dashboard) Open(ctx context.Context, eventID int64) ([]viewmodel.AttendeeRow, error) {
	rows, err := d.loader.Load(ctx, eventID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	s, ok := d.sessions[eventID]
	if !ok {
		s = &session{store: viewmodel.NewStore(), locks: make(map[int64]*sync.Mutex)}
		d.sessions[eventID] = s
	}
	d.mu.Unlock()

	s.store.Replace(rows)
	return rows, nil
}

func (d *Dashboard) session(eventID int64) (*session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[eventID]
	if !ok {
		return nil, ErrUnknownEvent
	}
	return s, nil
}

// Rows returns the filtered projection plus its tally.
func (d *Dashboard) Rows(eventID int64, q viewmodel.Query) ([]viewmodel.AttendeeRow, viewmodel.Tally, error) {
	s, err := d.session(eventID)
	if err != nil {
		return nil, viewmodel.Tally{}, err
	}
	rows := viewmodel.Filter(s.store.Snapshot(), q)
	return rows, viewmodel.Counts(rows), nil
}

// Toggle flips one row's attendance through the backend. There is no
// optimistic write: the view model changes only after the backend confirms,
// and with the server's record, not the desired value. Same-row calls are
// serialized; exactly one backend call is made per invocation.
func (d *Dashboard) Toggle(ctx context.Context, participantID, eventID int64) (viewmodel.AttendeeRow, error) {
	s, err := d.session(eventID)
	if err != nil {
		return viewmodel.AttendeeRow{}, err
	}

	l := s.rowLock(participantID)
	l.Lock()
	defer l.Unlock()

	row, ok := s.store.Get(participantID)
	if !ok {
		// Stale UI: the row vanished from the session. Not user-actionable.
		log.Printf("toggle for unknown participant %d in event %d ignored", participantID, eventID)
		metrics.Toggles.WithLabelValues("stale").Inc()
		return viewmodel.AttendeeRow{}, ErrStaleRow
	}

	desired := row.Status != viewmodel.StatusPresent
	rec, err := d.api.UpdateStatus(ctx, participantID, eventID, desired)
	if err != nil {
		metrics.Toggles.WithLabelValues("failed").Inc()
		return viewmodel.AttendeeRow{}, fmt.Errorf("toggle attendance: %w", err)
	}

	status := viewmodel.StatusAbsent
	if rec.Attended {
		status = viewmodel.StatusPresent
	}
	s.store.Apply(participantID, status, rec.CheckInTime)
	metrics.Toggles.WithLabelValues("confirmed").Inc()
	d.publish(ctx, ChangeEvent{
		ParticipantID: participantID,
		EventID:       eventID,
		RecordID:      rec.ID,
		Attended:      rec.Attended,
		Source:        "toggle",
		At:            time.Now().UTC(),
	})

	updated, _ := s.store.Get(participantID)
	return updated, nil
}

// ApplyScan patches the scanned participant to present. QR success implies
// presence; there is no scan path that marks absence. Returns the patched row
// and whether the session knew the participant.
func (d *Dashboard) ApplyScan(ctx context.Context, rec *remote.AttendanceRecord) (viewmodel.AttendeeRow, bool) {
	s, err := d.session(rec.EventID)
	if err != nil {
		return viewmodel.AttendeeRow{}, false
	}
	if !s.store.Apply(rec.ParticipantID, viewmodel.StatusPresent, rec.CheckInTime) {
		log.Printf("scan for unknown participant %d in event %d ignored", rec.ParticipantID, rec.EventID)
		return viewmodel.AttendeeRow{}, false
	}
	d.publish(ctx, ChangeEvent{
		ParticipantID: rec.ParticipantID,
		EventID:       rec.EventID,
		RecordID:      rec.ID,
		Attended:      true,
		Source:        "scan",
		At:            time.Now().UTC(),
	})
	row, _ := s.store.Get(rec.ParticipantID)
	return row, true
}

// Register creates the zero-state record for a newly associated participant
// and reloads the session so the new row appears.
func (d *Dashboard) Register(ctx context.Context, participantID, eventID int64) (*remote.AttendanceRecord, error) {
	rec, err := d.api.CreateRecord(ctx, participantID, eventID)
	if err != nil {
		return nil, err
	}
	if _, err := d.Open(ctx, eventID); err != nil {
		log.Printf("reload after register failed: %v", err)
	}
	return rec, nil
}

// Import uploads the workbook and, on success, reloads the session so the
// view model reflects server-side truth. The file contents are opaque here.
func (d *Dashboard) Import(ctx context.Context, eventID int64, filename string, file io.Reader) (*remote.ImportResult, error) {
	res, err := d.api.Import(ctx, eventID, filename, file)
	if err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	if _, err := d.Open(ctx, eventID); err != nil {
		return res, fmt.Errorf("reload after import: %w", err)
	}
	return res, nil
}

func (d *Dashboard) publish(ctx context.Context, evt ChangeEvent) {
	if d.q == nil {
		return
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := d.q.Publish(ctx, queue.Message{Type: MessageType, Body: raw}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}
