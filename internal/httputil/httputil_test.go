package httputil

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFailWritesJSON(t *testing.T) {
	w := httptest.NewRecorder()
	FailKind(discard(), w, "conflict", "busy", nil, http.StatusConflict)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d", w.Code)
	}
	var body ErrorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "busy" || body.Kind != "conflict" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestValidationError(t *testing.T) {
	type request struct {
		Reference string `json:"reference" validate:"required"`
	}
	err := Validator.Struct(&request{})
	if err == nil {
		t.Fatal("expected validation error")
	}

	w := httptest.NewRecorder()
	ValidationError(discard(), w, err)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
	var body ErrorBody
	_ = json.NewDecoder(w.Body).Decode(&body)
	if body.Error != "reference is required" {
		t.Errorf("unexpected message %q", body.Error)
	}
}

func TestRecovererReturns500(t *testing.T) {
	h := Recoverer(discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	w := httptest.NewRecorder()
	HealthHandler(discard())(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("unexpected response %d %q", w.Code, w.Body.String())
	}
}
