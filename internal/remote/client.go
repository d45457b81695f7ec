// Package remote is the client for the authoritative attendance backend.
// Participants, events and attendance records live there; this process only
// reads them and asks for confirmed mutations.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"eventdash/internal/metrics"
)

// Sentinel errors for the two backend responses the UI must tell apart.
var (
	// ErrRecordNotFound maps the backend's 404: no attendance record (or no
	// QR match) for the requested pair.
	ErrRecordNotFound = errors.New("attendance record not found")
	// ErrAlreadyRegistered maps the backend's 409: the record already exists
	// or the scanned code was already marked present.
	ErrAlreadyRegistered = errors.New("attendance already registered")
)

// Participant is a profile row from the participant catalog.
type Participant struct {
	ID              int64  `json:"id"`
	Names           string `json:"names"`
	PaternalSurname string `json:"paternalSurname"`
	MaternalSurname string `json:"maternalSurname"`
	DNI             string `json:"dni"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	City            string `json:"city"`
	Role            string `json:"role"`
}

// FullName joins the surname-first display form used across the dashboard.
func (p Participant) FullName() string {
	return strings.TrimSpace(strings.Join([]string{p.PaternalSurname, p.MaternalSurname, p.Names}, " "))
}

// AttendanceRecord is the authoritative (participant, event) attendance state.
type AttendanceRecord struct {
	ID            int64      `json:"id"`
	ParticipantID int64      `json:"participantId"`
	EventID       int64      `json:"eventId"`
	Attended      bool       `json:"attended"`
	CheckInTime   *time.Time `json:"checkInTime"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// ImportResult is the backend's summary of a bulk workbook import.
type ImportResult struct {
	Success  bool   `json:"success"`
	Inserted int    `json:"inserted"`
	Message  string `json:"message"`
}

// Client calls the attendance backend.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client with a bounded request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// ListParticipants returns the participant catalog for an event.
func (c *Client) ListParticipants(ctx context.Context, eventID int64) ([]Participant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/participants?eventId="+strconv.FormatInt(eventID, 10), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		metrics.RemoteFailures.WithLabelValues("participants").Inc()
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		metrics.RemoteFailures.WithLabelValues("participants").Inc()
		return nil, statusError(resp)
	}

	var out []Participant
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

// GetRecord fetches the attendance record for one (participant, event) pair.
// Returns ErrRecordNotFound when the backend has no record for the pair.
func (c *Client) GetRecord(ctx context.Context, participantID, eventID int64) (*AttendanceRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.recordURL(participantID, eventID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		metrics.RemoteFailures.WithLabelValues("get_record").Inc()
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrRecordNotFound
	}
	if resp.StatusCode >= 300 {
		metrics.RemoteFailures.WithLabelValues("get_record").Inc()
		return nil, statusError(resp)
	}
	return decodeRecord(resp.Body)
}

// UpdateStatus asks the backend to set attended for the pair and returns the
// confirmed record. The call is idempotent on the backend side; a present
// transition also sets the check-in time there, which is why callers must
// patch with the response rather than the desired value.
func (c *Client) UpdateStatus(ctx context.Context, participantID, eventID int64, attended bool) (*AttendanceRecord, error) {
	body, _ := json.Marshal(map[string]bool{"attended": attended})
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.recordURL(participantID, eventID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		metrics.RemoteFailures.WithLabelValues("update_status").Inc()
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrRecordNotFound
	}
	if resp.StatusCode >= 300 {
		metrics.RemoteFailures.WithLabelValues("update_status").Inc()
		return nil, statusError(resp)
	}
	return decodeRecord(resp.Body)
}

// CreateRecord registers a zero-state (absent) record for the pair. The
// backend guarantees at most one record per pair; a second creation comes
// back as ErrAlreadyRegistered.
func (c *Client) CreateRecord(ctx context.Context, participantID, eventID int64) (*AttendanceRecord, error) {
	body, _ := json.Marshal(map[string]any{
		"participantId": participantID,
		"eventId":       eventID,
		"attended":      false,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/attendance", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		metrics.RemoteFailures.WithLabelValues("create_record").Inc()
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil, ErrAlreadyRegistered
	}
	if resp.StatusCode >= 300 {
		metrics.RemoteFailures.WithLabelValues("create_record").Inc()
		return nil, statusError(resp)
	}
	return decodeRecord(resp.Body)
}

// ValidateQR uploads a still frame; the backend decodes the QR code and marks
// the matching record present. 404 means no record matched the decoded code,
// 409 means the code was valid but the record is already present.
func (c *Client) ValidateQR(ctx context.Context, image []byte) (*AttendanceRecord, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/attendance/qr-validate", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		metrics.RemoteFailures.WithLabelValues("qr_validate").Inc()
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrRecordNotFound
	case resp.StatusCode == http.StatusConflict:
		return nil, ErrAlreadyRegistered
	case resp.StatusCode >= 300:
		metrics.RemoteFailures.WithLabelValues("qr_validate").Inc()
		return nil, statusError(resp)
	}
	return decodeRecord(resp.Body)
}

// ValidateCode submits a manually entered code through the same registration
// path as a decoded QR image.
func (c *Client) ValidateCode(ctx context.Context, code string) (*AttendanceRecord, error) {
	body, _ := json.Marshal(map[string]string{"code": code})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/attendance/qr-validate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		metrics.RemoteFailures.WithLabelValues("qr_validate").Inc()
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrRecordNotFound
	case resp.StatusCode == http.StatusConflict:
		return nil, ErrAlreadyRegistered
	case resp.StatusCode >= 300:
		metrics.RemoteFailures.WithLabelValues("qr_validate").Inc()
		return nil, statusError(resp)
	}
	return decodeRecord(resp.Body)
}

// Import uploads a structured workbook for server-side row extraction. The
// file contents are opaque to this client.
func (c *Client) Import(ctx context.Context, eventID int64, filename string, file io.Reader) (*ImportResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, err
	}
	if err := w.WriteField("eventId", strconv.FormatInt(eventID, 10)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/import", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		metrics.RemoteFailures.WithLabelValues("import").Inc()
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		metrics.RemoteFailures.WithLabelValues("import").Inc()
		return nil, statusError(resp)
	}

	var out ImportResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// Health checks whether the backend is reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("backend unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("backend unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) recordURL(participantID, eventID int64) string {
	q := url.Values{}
	q.Set("participantId", strconv.FormatInt(participantID, 10))
	q.Set("eventId", strconv.FormatInt(eventID, 10))
	return c.BaseURL + "/attendance?" + q.Encode()
}

func decodeRecord(r io.Reader) (*AttendanceRecord, error) {
	var rec AttendanceRecord
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &rec, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("backend error %s: %s", resp.Status, string(body))
}
