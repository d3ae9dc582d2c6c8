package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReadinessReportsServiceUnavailableUntilReady(t *testing.T) {
	r := NewReadiness()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.handle(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before SetReady", rec.Code)
	}

	r.SetReady(true)
	rec = httptest.NewRecorder()
	r.handle(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 after SetReady(true)", rec.Code)
	}

	r.SetReady(false)
	rec = httptest.NewRecorder()
	r.handle(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 after SetReady(false)", rec.Code)
	}
}
