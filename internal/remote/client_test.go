package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(h http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(h)
	return New(srv.URL, 2*time.Second), srv
}

func TestListParticipants(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/participants" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("eventId") != "3" {
			t.Errorf("eventId = %q, want 3", r.URL.Query().Get("eventId"))
		}
		_ = json.NewEncoder(w).Encode([]Participant{
			{ID: 7, Names: "Juan", PaternalSurname: "Garcia", MaternalSurname: "Lopez", DNI: "40128733", Email: "juan@gmail.com", Role: "ASISTENTE"},
		})
	})
	defer srv.Close()

	got, err := c.ListParticipants(context.Background(), 3)
	if err != nil {
		t.Fatalf("ListParticipants() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != 7 {
		t.Fatalf("participants = %+v", got)
	}
	if got[0].FullName() != "Garcia Lopez Juan" {
		t.Errorf("FullName() = %q", got[0].FullName())
	}
}

func TestGetRecordNotFound(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no record", http.StatusNotFound)
	})
	defer srv.Close()

	_, err := c.GetRecord(context.Background(), 9, 3)
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("error = %v, want ErrRecordNotFound", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	when := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %q, want PATCH", r.Method)
		}
		q := r.URL.Query()
		if q.Get("participantId") != "7" || q.Get("eventId") != "3" {
			t.Errorf("query = %v", q)
		}
		var body struct {
			Attended bool `json:"attended"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.Attended {
			t.Errorf("body attended = %v, err = %v", body.Attended, err)
		}
		_ = json.NewEncoder(w).Encode(AttendanceRecord{ID: 41, ParticipantID: 7, EventID: 3, Attended: true, CheckInTime: &when})
	})
	defer srv.Close()

	rec, err := c.UpdateStatus(context.Background(), 7, 3, true)
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if !rec.Attended || rec.CheckInTime == nil || !rec.CheckInTime.Equal(when) {
		t.Errorf("record = %+v", rec)
	}
}

func TestCreateRecordConflict(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "exists", http.StatusConflict)
	})
	defer srv.Close()

	_, err := c.CreateRecord(context.Background(), 7, 3)
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("error = %v, want ErrAlreadyRegistered", err)
	}
}

func TestCreateRecordDefaultsAbsent(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ParticipantID int64 `json:"participantId"`
			EventID       int64 `json:"eventId"`
			Attended      bool  `json:"attended"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Attended {
			t.Error("create must send attended=false")
		}
		_ = json.NewEncoder(w).Encode(AttendanceRecord{ID: 50, ParticipantID: body.ParticipantID, EventID: body.EventID})
	})
	defer srv.Close()

	rec, err := c.CreateRecord(context.Background(), 7, 3)
	if err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	if rec.Attended {
		t.Error("new record must be absent")
	}
}

func TestValidateQR(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"success", http.StatusOK, nil},
		{"no matching code", http.StatusNotFound, ErrRecordNotFound},
		{"already registered", http.StatusConflict, ErrAlreadyRegistered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/attendance/qr-validate" {
					t.Errorf("path = %q", r.URL.Path)
				}
				if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
					t.Errorf("content type = %q", r.Header.Get("Content-Type"))
				}
				file, _, err := r.FormFile("image")
				if err != nil {
					t.Fatalf("image field: %v", err)
				}
				file.Close()
				if tt.status != http.StatusOK {
					http.Error(w, "nope", tt.status)
					return
				}
				_ = json.NewEncoder(w).Encode(AttendanceRecord{ID: 41, ParticipantID: 7, EventID: 3, Attended: true})
			})
			defer srv.Close()

			rec, err := c.ValidateQR(context.Background(), []byte("jpeg-bytes"))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateQR() error = %v", err)
			}
			if rec.ParticipantID != 7 {
				t.Errorf("record = %+v", rec)
			}
		})
	}
}

func TestImport(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.FormValue("eventId") != "3" {
			t.Errorf("eventId = %q", r.FormValue("eventId"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("file field: %v", err)
		}
		file.Close()
		if header.Filename != "roster.xlsx" {
			t.Errorf("filename = %q", header.Filename)
		}
		_ = json.NewEncoder(w).Encode(ImportResult{Success: true, Inserted: 12, Message: "ok"})
	})
	defer srv.Close()

	res, err := c.Import(context.Background(), 3, "roster.xlsx", strings.NewReader("sheet-bytes"))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if !res.Success || res.Inserted != 12 {
		t.Errorf("result = %+v", res)
	}
}

func TestUpdateStatusServerError(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	defer srv.Close()

	_, err := c.UpdateStatus(context.Background(), 7, 3, true)
	if err == nil {
		t.Fatal("expected error on 500")
	}
	if errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("500 must not map to a domain sentinel: %v", err)
	}
}
