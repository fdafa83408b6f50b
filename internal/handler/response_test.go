package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/freeeve/axis-battle/api/internal/service"
	"github.com/freeeve/axis-battle/api/pkg/battle"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]string{"site": "Ukraine"})

	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type=application/json, got %s", ct)
	}
	var result map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result["site"] != "Ukraine" {
		t.Errorf("unexpected body: %v", result)
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusBadRequest, "missing field")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	var result map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result["error"] != "missing field" {
		t.Errorf("expected error=missing field, got %s", result["error"])
	}
}

func TestDecodeJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"units":[1,2],"route":{"start":"Poland","steps":["Ukraine"]}}`))
	var mv battle.MoveRequest
	if err := decodeJSON(req, &mv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(mv.Units) != 2 || mv.Route.End() != "Ukraine" {
		t.Errorf("unexpected move: %+v", mv)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	if err := decodeJSON(req, &mv); err == nil {
		t.Error("expected error for truncated body")
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrGameNotFound, http.StatusNotFound},
		{service.ErrBattleNotFound, http.StatusNotFound},
		{service.ErrNotYourPlayer, http.StatusForbidden},
		{service.ErrNotYourQuery, http.StatusForbidden},
		{service.ErrGameBusy, http.StatusConflict},
		{service.ErrMovesLocked, http.StatusConflict},
		{service.ErrBattlesPending, http.StatusConflict},
		{service.ErrCanOnlyUndoLast, http.StatusConflict},
		{fmt.Errorf("%w: Italians", service.ErrUnknownPlayer), http.StatusBadRequest},
		{fmt.Errorf("%w: bad json", service.ErrInvalidScenario), http.StatusBadRequest},
		{battle.ErrIllegalBombard, http.StatusBadRequest},
		{service.ErrIllegalMove, http.StatusUnprocessableEntity},
		{service.ErrQueryTimeout, http.StatusGatewayTimeout},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteServiceErrorHidesInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, errors.New("pq: password authentication failed"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Errorf("internal error leaked: %s", rec.Body.String())
	}
}
