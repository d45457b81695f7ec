package viewmodel

import (
	"reflect"
	"testing"
	"time"

	"eventdash/internal/remote"
)

func sampleRows() []AttendeeRow {
	return []AttendeeRow{
		{ParticipantID: 1, FullName: "Becerra Soto Fernando", DNI: "40128733", Email: "fernando@gmail.com", Role: "ASISTENTE", Category: TabPresencial, Status: StatusPresent},
		{ParticipantID: 2, FullName: "Alvarez Rios Marcio", DNI: "71520984", Email: "marcio@gmail.com", Role: "ASISTENTE", Category: TabPresencial, Status: StatusAbsent},
		{ParticipantID: 3, FullName: "Ruiz Vega Carlos", DNI: "09571126", Email: "carlos@gmail.com", Role: "PONENTE", Category: TabPonentes, Status: StatusAbsent},
		{ParticipantID: 4, FullName: "Lopez Diaz Maria", DNI: "48662101", Email: "maria@gmail.com", Role: "ASISTENTE VIRTUAL", Category: TabVirtual, Status: StatusPresent},
	}
}

func TestCategoryFor(t *testing.T) {
	tests := []struct {
		role string
		want string
	}{
		{"PONENTE", TabPonentes},
		{"ponente invitado", TabPonentes},
		{"Speaker", TabPonentes},
		{"ASISTENTE VIRTUAL", TabVirtual},
		{"online", TabVirtual},
		{"ASISTENTE", TabPresencial},
		{"APOYADOR", TabPresencial},
		{"", TabPresencial},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			if got := CategoryFor(tt.role); got != tt.want {
				t.Errorf("CategoryFor(%q) = %q, want %q", tt.role, got, tt.want)
			}
		})
	}
}

func TestFilterConjunction(t *testing.T) {
	rows := sampleRows()
	tests := []struct {
		name    string
		query   Query
		wantIDs []int64
	}{
		{
			name:    "tab only",
			query:   Query{Tab: TabPonentes},
			wantIDs: []int64{3},
		},
		{
			name:    "tab plus search can only shrink",
			query:   Query{Tab: TabPonentes, SearchTerm: "zzz"},
			wantIDs: []int64{},
		},
		{
			name:    "search by name case-insensitive",
			query:   Query{SearchTerm: "BECERRA"},
			wantIDs: []int64{1},
		},
		{
			name:    "search by dni",
			query:   Query{SearchTerm: "7152", SearchField: FieldDNI},
			wantIDs: []int64{2},
		},
		{
			name:    "search by email",
			query:   Query{SearchTerm: "maria@", SearchField: FieldEmail},
			wantIDs: []int64{4},
		},
		{
			name:    "attendance present",
			query:   Query{Attendance: StatusPresent},
			wantIDs: []int64{1, 4},
		},
		{
			name:    "attendance absent within tab",
			query:   Query{Tab: TabPresencial, Attendance: StatusAbsent},
			wantIDs: []int64{2},
		},
		{
			name:    "all three predicates",
			query:   Query{Tab: TabPresencial, SearchTerm: "alvarez", Attendance: StatusAbsent},
			wantIDs: []int64{2},
		},
		{
			name:    "empty query returns everything",
			query:   Query{},
			wantIDs: []int64{1, 2, 3, 4},
		},
		{
			name:    "no match is empty, not an error",
			query:   Query{SearchTerm: "nobody"},
			wantIDs: []int64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(rows, tt.query)
			ids := make([]int64, 0, len(got))
			for _, row := range got {
				ids = append(ids, row.ParticipantID)
			}
			if !reflect.DeepEqual(ids, tt.wantIDs) {
				t.Errorf("Filter() ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}
}

func TestFilterDoesNotMutateInput(t *testing.T) {
	rows := sampleRows()
	want := sampleRows()
	Filter(rows, Query{Tab: TabPonentes, SearchTerm: "x", Attendance: StatusPresent})
	if !reflect.DeepEqual(rows, want) {
		t.Error("Filter mutated its input")
	}
}

func TestPatchIsolation(t *testing.T) {
	rows := sampleRows()
	when := time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)
	got := Patch(rows, 2, StatusPresent, &when)

	for i, row := range got {
		if row.ParticipantID == 2 {
			if row.Status != StatusPresent {
				t.Errorf("patched row status = %q, want %q", row.Status, StatusPresent)
			}
			if row.CheckInTime == nil || !row.CheckInTime.Equal(when) {
				t.Errorf("patched row check-in = %v, want %v", row.CheckInTime, when)
			}
			continue
		}
		if !reflect.DeepEqual(row, rows[i]) {
			t.Errorf("row %d changed: %+v != %+v", row.ParticipantID, row, rows[i])
		}
	}
	if rows[1].Status != StatusAbsent {
		t.Error("Patch mutated its input")
	}
}

func TestPatchUnknownParticipant(t *testing.T) {
	rows := sampleRows()
	got := Patch(rows, 99, StatusPresent, nil)
	if !reflect.DeepEqual(got, rows) {
		t.Error("Patch with unknown id changed rows")
	}
}

func TestRowFromRecord(t *testing.T) {
	p := remote.Participant{
		ID:              7,
		Names:           "Davy",
		PaternalSurname: "Rodriguez",
		MaternalSurname: "Paz",
		DNI:             "12345678",
		Email:           "davy@gmail.com",
		Role:            "ASISTENTE",
	}

	t.Run("no record defaults to absent", func(t *testing.T) {
		row := RowFromRecord(p, nil)
		if row.Status != StatusAbsent {
			t.Errorf("status = %q, want absent", row.Status)
		}
		if row.FullName != "Rodriguez Paz Davy" {
			t.Errorf("full name = %q", row.FullName)
		}
		if row.RecordID != 0 || row.CheckInTime != nil {
			t.Error("record fields should be zero without a record")
		}
	})

	t.Run("attended record is present with check-in", func(t *testing.T) {
		when := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
		row := RowFromRecord(p, &remote.AttendanceRecord{ID: 41, ParticipantID: 7, EventID: 3, Attended: true, CheckInTime: &when})
		if row.Status != StatusPresent {
			t.Errorf("status = %q, want present", row.Status)
		}
		if row.RecordID != 41 {
			t.Errorf("record id = %d, want 41", row.RecordID)
		}
		if row.CheckInTime == nil || !row.CheckInTime.Equal(when) {
			t.Errorf("check-in = %v, want %v", row.CheckInTime, when)
		}
	})
}

func TestCounts(t *testing.T) {
	got := Counts(sampleRows())
	want := Tally{Total: 4, Present: 2, Absent: 2}
	if got != want {
		t.Errorf("Counts() = %+v, want %+v", got, want)
	}
	if (Counts(nil) != Tally{}) {
		t.Error("Counts(nil) should be zero")
	}
}
