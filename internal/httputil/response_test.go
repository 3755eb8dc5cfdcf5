package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/umrr-bridge/internal/radar"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "test error")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "test error" {
		t.Errorf("error = %s, want 'test error'", resp["error"])
	}
}

func TestWriteJSONOK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"count": 42})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["count"] != 42 {
		t.Errorf("count = %d, want 42", resp["count"])
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: 11", radar.ErrUnknownSlot), http.StatusNotFound},
		{fmt.Errorf("%w: bad", radar.ErrConfiguration), http.StatusBadRequest},
		{radar.ErrDuplicateClient, http.StatusConflict},
		{radar.ErrShuttingDown, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHelpers(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		write func(http.ResponseWriter)
		want  int
	}{
		{MethodNotAllowed, http.StatusMethodNotAllowed},
		{func(w http.ResponseWriter) { BadRequest(w, "x") }, http.StatusBadRequest},
		{func(w http.ResponseWriter) { NotFound(w, "x") }, http.StatusNotFound},
		{func(w http.ResponseWriter) { WriteError(w, radar.ErrShuttingDown) }, http.StatusServiceUnavailable},
	} {
		rec := httptest.NewRecorder()
		tc.write(rec)
		if rec.Code != tc.want {
			t.Errorf("status = %d, want %d", rec.Code, tc.want)
		}
	}
}
