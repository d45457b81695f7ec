package viewmodel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"eventdash/internal/remote"
)

// Catalog is the slice of the backend client the loader needs.
type Catalog interface {
	ListParticipants(ctx context.Context, eventID int64) ([]remote.Participant, error)
	GetRecord(ctx context.Context, participantID, eventID int64) (*remote.AttendanceRecord, error)
}

// Loader builds the joined row set for an event.
type Loader struct {
	catalog Catalog
}

// NewLoader creates a loader over the backend catalog.
func NewLoader(catalog Catalog) *Loader {
	return &Loader{catalog: catalog}
}

// Load fetches the participant catalog and joins each participant with its
// attendance record. Record lookups run concurrently and are all collected
// before Load returns. A participant without a record (or whose lookup
// fails) joins as an absent row; only a catalog failure aborts the load.
func (l *Loader) Load(ctx context.Context, eventID int64) ([]AttendeeRow, error) {
	participants, err := l.catalog.ListParticipants(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event %d: %w", eventID, err)
	}

	rows := make([]AttendeeRow, len(participants))
	var wg sync.WaitGroup
	for i, p := range participants {
		wg.Add(1)
		go func(i int, p remote.Participant) {
			defer wg.Done()
			rec, err := l.catalog.GetRecord(ctx, p.ID, eventID)
			if err != nil {
				if !errors.Is(err, remote.ErrRecordNotFound) {
					log.Printf("record lookup failed for participant %d: %v", p.ID, err)
				}
				rec = nil
			}
			rows[i] = RowFromRecord(p, rec)
		}(i, p)
	}
	wg.Wait()
	return rows, nil
}
