// Package viewmodel holds the session-local projection of an event's
// attendee list. Rows are values; Filter and Patch are pure so the
// presentation-facing logic stays testable without any I/O.
package viewmodel

import (
	"strings"
	"time"

	"eventdash/internal/remote"
)

// Attendance display status, derived one-to-one from the record's boolean.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
)

// Tab categories derived from the participant role.
const (
	TabPonentes   = "ponentes"
	TabVirtual    = "virtual"
	TabPresencial = "presencial"
)

// Search field selectors.
const (
	FieldName  = "name"
	FieldDNI   = "dni"
	FieldEmail = "email"
)

// AttendeeRow is the canonical joined row: one participant profile snapshot
// plus its attendance state for the session's event. Richer profile fields
// ride along as plain attributes rather than separate row shapes.
type AttendeeRow struct {
	ParticipantID int64      `json:"participantId"`
	RecordID      int64      `json:"recordId"`
	FullName      string     `json:"fullName"`
	DNI           string     `json:"dni"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone,omitempty"`
	City          string     `json:"city,omitempty"`
	Role          string     `json:"role"`
	Category      string     `json:"category"`
	Status        string     `json:"status"`
	CheckInTime   *time.Time `json:"checkInTime,omitempty"`
}

// Query is the conjunction of the three presentation predicates.
type Query struct {
	Tab        string `form:"tab"`
	SearchTerm string `form:"search"`
	// SearchField selects what SearchTerm matches against: name, dni or
	// email. Empty means name.
	SearchField string `form:"field"`
	// Attendance is one of "all", "present", "absent". Empty means all.
	Attendance string `form:"attendance"`
}

// CategoryFor maps a participant role onto its dashboard tab. Speakers get
// their own tab; online roles land on the virtual tab; everyone else is
// presencial.
func CategoryFor(role string) string {
	r := strings.ToLower(role)
	switch {
	case strings.Contains(r, "ponente") || strings.Contains(r, "speaker"):
		return TabPonentes
	case strings.Contains(r, "virtual") || strings.Contains(r, "online"):
		return TabVirtual
	default:
		return TabPresencial
	}
}

// RowFromRecord joins a participant profile with its attendance record. A nil
// record means the backend has no entry yet; the row defaults to absent.
func RowFromRecord(p remote.Participant, rec *remote.AttendanceRecord) AttendeeRow {
	row := AttendeeRow{
		ParticipantID: p.ID,
		FullName:      p.FullName(),
		DNI:           p.DNI,
		Email:         p.Email,
		Phone:         p.Phone,
		City:          p.City,
		Role:          p.Role,
		Category:      CategoryFor(p.Role),
		Status:        StatusAbsent,
	}
	if rec != nil {
		row.RecordID = rec.ID
		row.CheckInTime = rec.CheckInTime
		if rec.Attended {
			row.Status = StatusPresent
		}
	}
	return row
}

// Filter returns the rows matching every predicate of q. The three predicates
// are ANDed; no match yields an empty slice, never an error.
func Filter(rows []AttendeeRow, q Query) []AttendeeRow {
	term := strings.ToLower(q.SearchTerm)
	out := make([]AttendeeRow, 0, len(rows))
	for _, row := range rows {
		if q.Tab != "" && row.Category != q.Tab {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(searchTarget(row, q.SearchField)), term) {
			continue
		}
		switch q.Attendance {
		case "", "all":
		default:
			if row.Status != q.Attendance {
				continue
			}
		}
		out = append(out, row)
	}
	return out
}

func searchTarget(row AttendeeRow, field string) string {
	switch field {
	case FieldDNI:
		return row.DNI
	case FieldEmail:
		return row.Email
	default:
		return row.FullName
	}
}

// Patch returns a new row set in which exactly the row for participantID has
// its status (and check-in time) replaced; every other row is unchanged.
func Patch(rows []AttendeeRow, participantID int64, status string, checkInTime *time.Time) []AttendeeRow {
	out := make([]AttendeeRow, len(rows))
	copy(out, rows)
	for i := range out {
		if out[i].ParticipantID == participantID {
			out[i].Status = status
			out[i].CheckInTime = checkInTime
			break
		}
	}
	return out
}

// Tally is the present/absent counter pair shown above the table.
type Tally struct {
	Total   int `json:"total"`
	Present int `json:"present"`
	Absent  int `json:"absent"`
}

// Counts tallies the given rows.
func Counts(rows []AttendeeRow) Tally {
	t := Tally{Total: len(rows)}
	for _, row := range rows {
		if row.Status == StatusPresent {
			t.Present++
		} else {
			t.Absent++
		}
	}
	return t
}
