package viewmodel

import (
	"context"
	"errors"
	"testing"
	"time"

	"eventdash/internal/remote"
)

type fakeCatalog struct {
	participants []remote.Participant
	listErr      error
	records      map[int64]*remote.AttendanceRecord
	recordErrs   map[int64]error
}

func (f *fakeCatalog) ListParticipants(ctx context.Context, eventID int64) ([]remote.Participant, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.participants, nil
}

func (f *fakeCatalog) GetRecord(ctx context.Context, participantID, eventID int64) (*remote.AttendanceRecord, error) {
	if err, ok := f.recordErrs[participantID]; ok {
		return nil, err
	}
	if rec, ok := f.records[participantID]; ok {
		return rec, nil
	}
	return nil, remote.ErrRecordNotFound
}

func TestLoadJoinsRecords(t *testing.T) {
	when := time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC)
	catalog := &fakeCatalog{
		participants: []remote.Participant{
			{ID: 7, Names: "Juan", PaternalSurname: "Garcia", Email: "juan@gmail.com", Role: "ASISTENTE"},
			{ID: 9, Names: "Ana", PaternalSurname: "Torres", Email: "ana@gmail.com", Role: "PONENTE"},
			{ID: 11, Names: "Luz", PaternalSurname: "Quispe", Email: "luz@gmail.com", Role: "ASISTENTE"},
		},
		records: map[int64]*remote.AttendanceRecord{
			7: {ID: 70, ParticipantID: 7, EventID: 3, Attended: true, CheckInTime: &when},
		},
		recordErrs: map[int64]error{
			11: errors.New("connection reset"),
		},
	}

	rows, err := NewLoader(catalog).Load(context.Background(), 3)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Load() returned %d rows, want 3", len(rows))
	}

	// Rows keep catalog order regardless of lookup completion order.
	if rows[0].ParticipantID != 7 || rows[1].ParticipantID != 9 || rows[2].ParticipantID != 11 {
		t.Fatalf("row order = %d,%d,%d", rows[0].ParticipantID, rows[1].ParticipantID, rows[2].ParticipantID)
	}
	if rows[0].Status != StatusPresent {
		t.Errorf("participant 7 status = %q, want present", rows[0].Status)
	}
	// No record on the server: the row defaults to absent instead of
	// failing the load.
	if rows[1].Status != StatusAbsent {
		t.Errorf("participant 9 status = %q, want absent", rows[1].Status)
	}
	// A transport failure on one lookup must not discard the load either.
	if rows[2].Status != StatusAbsent {
		t.Errorf("participant 11 status = %q, want absent", rows[2].Status)
	}
}

func TestLoadCatalogFailureIsBlocking(t *testing.T) {
	catalog := &fakeCatalog{listErr: errors.New("event not found")}
	if _, err := NewLoader(catalog).Load(context.Background(), 3); err == nil {
		t.Fatal("Load() should fail when the participant catalog fails")
	}
}

func TestStoreApply(t *testing.T) {
	s := NewStore()
	s.Replace(sampleRows())

	if ok := s.Apply(99, StatusPresent, nil); ok {
		t.Error("Apply with unknown participant should report false")
	}
	if ok := s.Apply(2, StatusPresent, nil); !ok {
		t.Fatal("Apply with known participant should report true")
	}
	row, ok := s.Get(2)
	if !ok || row.Status != StatusPresent {
		t.Errorf("row 2 after apply = %+v", row)
	}

	// Snapshots are copies: mutating one must not leak into the store.
	snap := s.Snapshot()
	snap[0].Status = "corrupted"
	row, _ = s.Get(snap[0].ParticipantID)
	if row.Status == "corrupted" {
		t.Error("snapshot mutation leaked into the store")
	}
}
