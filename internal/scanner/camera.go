package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrCameraUnavailable is terminal for a scanning session: the device could
// not be acquired, or the scanner no longer owns one.
var ErrCameraUnavailable = errors.New("camera unavailable")

// Camera produces still frames. The scanner owns the camera exclusively from
// acquisition until Close; Close must be safe from any state and idempotent.
type Camera interface {
	// Grab captures the current frame as an encoded image.
	Grab(ctx context.Context) ([]byte, error)
	// Close releases the device.
	Close() error
}

// SnapshotCamera captures frames from an HTTP still-frame endpoint (the
// usual kiosk setup: an IP camera exposing a JPEG snapshot URL).
type SnapshotCamera struct {
	url  string
	http *http.Client

	mu     sync.Mutex
	closed bool
}

// maxFrameBytes bounds a single snapshot read.
const maxFrameBytes = 8 << 20

// OpenSnapshotCamera acquires the camera by probing the snapshot endpoint.
// Any probe failure is reported as ErrCameraUnavailable; the caller gets no
// handle and nothing to release.
func OpenSnapshotCamera(ctx context.Context, snapshotURL string, timeout time.Duration) (*SnapshotCamera, error) {
	if snapshotURL == "" {
		return nil, fmt.Errorf("no camera configured: %w", ErrCameraUnavailable)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cam := &SnapshotCamera{url: snapshotURL, http: &http.Client{Timeout: timeout}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, snapshotURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrCameraUnavailable)
	}
	resp, err := cam.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrCameraUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("camera returned %s: %w", resp.Status, ErrCameraUnavailable)
	}
	return cam, nil
}

// Grab fetches one frame.
func (c *SnapshotCamera) Grab(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrCameraUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("frame capture failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("frame capture failed: %s", resp.Status)
	}
	frame, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return nil, fmt.Errorf("frame read failed: %w", err)
	}
	return frame, nil
}

// Close releases the camera. Safe to call more than once.
func (c *SnapshotCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
