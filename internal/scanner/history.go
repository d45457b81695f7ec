package scanner

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"eventdash/internal/remote"
)

// ScanEvent is one successful decode+registration, kept only for the display
// window and then dropped regardless of further scans.
type ScanEvent struct {
	ID            string    `json:"id"`
	RecordID      int64     `json:"recordId"`
	ParticipantID int64     `json:"participantId"`
	At            time.Time `json:"at"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// History is the capped, self-expiring list of recent scan confirmations.
type History struct {
	mu     sync.Mutex
	events []ScanEvent
	timers map[string]*time.Timer
	cap    int
	window time.Duration
	now    func() time.Time
}

// NewHistory creates a history holding at most cap events, each visible for
// the given window.
func NewHistory(cap int, window time.Duration) *History {
	if cap <= 0 {
		cap = 10
	}
	if window <= 0 {
		window = 3 * time.Second
	}
	return &History{
		timers: make(map[string]*time.Timer),
		cap:    cap,
		window: window,
		now:    time.Now,
	}
}

// Add appends a confirmation for the given record and schedules its expiry.
// The oldest entry is dropped when the cap is reached.
func (h *History) Add(rec *remote.AttendanceRecord) ScanEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	at := h.now()
	evt := ScanEvent{
		ID:            uuid.NewString(),
		RecordID:      rec.ID,
		ParticipantID: rec.ParticipantID,
		At:            at,
		ExpiresAt:     at.Add(h.window),
	}
	if len(h.events) >= h.cap {
		h.dropLocked(h.events[0].ID)
	}
	h.events = append(h.events, evt)
	h.timers[evt.ID] = time.AfterFunc(h.window, func() { h.remove(evt.ID) })
	return evt
}

// Visible returns the events whose display window has not elapsed.
func (h *History) Visible() []ScanEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	out := make([]ScanEvent, 0, len(h.events))
	for _, evt := range h.events {
		if now.Before(evt.ExpiresAt) {
			out = append(out, evt)
		}
	}
	return out
}

// Stop cancels all pending expiries. Called when the scanner is torn down.
func (h *History) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, t := range h.timers {
		t.Stop()
		delete(h.timers, id)
	}
	h.events = nil
}

func (h *History) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(id)
}

func (h *History) dropLocked(id string) {
	if t, ok := h.timers[id]; ok {
		t.Stop()
		delete(h.timers, id)
	}
	for i, evt := range h.events {
		if evt.ID == id {
			h.events = append(h.events[:i], h.events[i+1:]...)
			return
		}
	}
}
