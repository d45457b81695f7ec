package viewmodel

import (
	"sync"
	"time"
)

// Store guards the current row set of one dashboard session. Presentation
// reads snapshots; only the reconciler writes, and only with
// server-confirmed state.
type Store struct {
	mu   sync.RWMutex
	rows []AttendeeRow
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Replace swaps in a freshly loaded row set.
func (s *Store) Replace(rows []AttendeeRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
}

// Snapshot returns a copy of the current rows.
func (s *Store) Snapshot() []AttendeeRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AttendeeRow, len(s.rows))
	copy(out, s.rows)
	return out
}

// Get returns the row for a participant, if the session knows it.
func (s *Store) Get(participantID int64) (AttendeeRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.rows {
		if row.ParticipantID == participantID {
			return row, true
		}
	}
	return AttendeeRow{}, false
}

// Apply patches a single row with confirmed state. Returns false when the
// participant is unknown to the session; the store is left untouched then.
func (s *Store) Apply(participantID int64, status string, checkInTime *time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ParticipantID == participantID {
			s.rows = Patch(s.rows, participantID, status, checkInTime)
			return true
		}
	}
	return false
}
