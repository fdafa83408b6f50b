package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/axis-battle/api/internal/service"
	"github.com/freeeve/axis-battle/api/pkg/battle"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error encoding response")
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads and decodes JSON from a request body.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// errorStatus maps a service error to its HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrGameNotFound),
		errors.Is(err, service.ErrBattleNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotYourPlayer),
		errors.Is(err, service.ErrNotYourQuery):
		return http.StatusForbidden
	case errors.Is(err, service.ErrGameBusy),
		errors.Is(err, service.ErrGameNotActive),
		errors.Is(err, service.ErrNotYourTurn),
		errors.Is(err, service.ErrMovesLocked),
		errors.Is(err, service.ErrBattlesPending),
		errors.Is(err, service.ErrNoBattles),
		errors.Is(err, service.ErrQueryNotPending),
		errors.Is(err, service.ErrNothingToUndo),
		errors.Is(err, service.ErrCanOnlyUndoLast):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidScenario),
		errors.Is(err, service.ErrInvalidAnswer),
		errors.Is(err, service.ErrUnknownPlayer),
		errors.Is(err, battle.ErrIllegalBombard):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrIllegalMove):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrQueryTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeServiceError writes err with the status it maps to. Unmapped errors
// are logged and hidden behind a generic message.
func writeServiceError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}
