package httpadmin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeReloader struct {
	rules int
	err   error
}

func (f fakeReloader) ReloadRules() (int, error) {
	return f.rules, f.err
}

type fakeCooldowns struct {
	resets int
}

func (f *fakeCooldowns) Reset() { f.resets++ }

func TestServerReloadSuccess(t *testing.T) {
	srv := New(fakeReloader{rules: 7}, nil)

	mux := http.NewServeMux()
	srv.Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/admin/rules/reload", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("expected content-type application/json; charset=utf-8, got %q", ct)
	}

	var payload struct {
		Status   string `json:"status"`
		Reloaded bool   `json:"reloaded"`
		Rules    int    `json:"rules"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if payload.Status != "ok" || !payload.Reloaded || payload.Rules != 7 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestServerReloadError(t *testing.T) {
	srv := New(fakeReloader{err: errors.New("boom")}, nil)

	mux := http.NewServeMux()
	srv.Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/admin/rules/reload", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}

	if body := rec.Body.String(); body != "reload failed: boom\n" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestServerReloadRejectsGet(t *testing.T) {
	mux := http.NewServeMux()
	New(fakeReloader{}, nil).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/rules/reload", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestServerCooldownReset(t *testing.T) {
	cd := &fakeCooldowns{}
	mux := http.NewServeMux()
	New(fakeReloader{}, cd).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/cooldowns/reset", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cd.resets != 1 {
		t.Fatalf("expected one reset, got %d", cd.resets)
	}
}
