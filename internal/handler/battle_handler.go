package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/freeeve/axis-battle/api/internal/auth"
	"github.com/freeeve/axis-battle/api/internal/service"
	"github.com/freeeve/axis-battle/api/pkg/battle"
)

// BattleHandler serves games, moves, battles and queries.
type BattleHandler struct {
	svc *service.BattleService
}

// NewBattleHandler creates a BattleHandler.
func NewBattleHandler(svc *service.BattleService) *BattleHandler {
	return &BattleHandler{svc: svc}
}

type createGameRequest struct {
	Name     string            `json:"name"`
	Scenario json.RawMessage   `json:"scenario"`
	Seats    map[string]string `json:"seats,omitempty"`
}

// CreateGame handles POST /games.
func (h *BattleHandler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Scenario) == 0 {
		writeError(w, http.StatusBadRequest, "scenario is required")
		return
	}
	game, err := h.svc.CreateGame(r.Context(), req.Name, auth.UserIDFromContext(r.Context()), req.Scenario, req.Seats)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, game)
}

// GetGame handles GET /games/{id}.
func (h *BattleHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	game, err := h.svc.GetGame(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

// FinishGame handles POST /games/{id}/finish.
func (h *BattleHandler) FinishGame(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.FinishGame(r.Context(), mux.Vars(r)["id"], auth.UserIDFromContext(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "finished"})
}

type moveRequest struct {
	Player string `json:"player"`
	battle.MoveRequest
}

func decodeMove(w http.ResponseWriter, r *http.Request) (*moveRequest, bool) {
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if req.Player == "" || len(req.Units) == 0 || req.Route.Start == "" {
		writeError(w, http.StatusBadRequest, "player, units and route are required")
		return nil, false
	}
	return &req, true
}

// moveResponse is a validation result in wire form.
type moveResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func newMoveResponse(res *battle.MoveValidationResult) moveResponse {
	if res.IsMoveValid() {
		return moveResponse{Valid: true}
	}
	return moveResponse{Reason: res.String()}
}

// ValidateMove handles POST /games/{id}/moves/validate.
func (h *BattleHandler) ValidateMove(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMove(w, r)
	if !ok {
		return
	}
	res, err := h.svc.ValidateMove(r.Context(), mux.Vars(r)["id"], battle.Player(req.Player), req.MoveRequest)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMoveResponse(res))
}

// SubmitMove handles POST /games/{id}/moves.
func (h *BattleHandler) SubmitMove(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMove(w, r)
	if !ok {
		return
	}
	res, err := h.svc.SubmitMove(r.Context(), mux.Vars(r)["id"], auth.UserIDFromContext(r.Context()), battle.Player(req.Player), req.MoveRequest)
	if errors.Is(err, service.ErrIllegalMove) && res != nil {
		writeJSON(w, http.StatusUnprocessableEntity, newMoveResponse(res))
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMoveResponse(res))
}

// UndoMove handles DELETE /games/{id}/moves/{index}.
func (h *BattleHandler) UndoMove(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid move index")
		return
	}
	if err := h.svc.UndoMove(r.Context(), vars["id"], auth.UserIDFromContext(r.Context()), index); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FightBattles handles POST /games/{id}/battles/fight. With ?async=true
// the battles run in the background and the call returns at once.
func (h *BattleHandler) FightBattles(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	userID := auth.UserIDFromContext(r.Context())
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if err := h.svc.StartFight(r.Context(), gameID, userID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "fighting"})
		return
	}
	res, err := h.svc.FightBattles(r.Context(), gameID, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetBattle handles GET /games/{id}/battles/{site}.
func (h *BattleHandler) GetBattle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	view, err := h.svc.GetBattle(r.Context(), vars["id"], vars["site"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CancelBattle handles POST /games/{id}/battles/{site}/cancel.
func (h *BattleHandler) CancelBattle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.svc.CancelBattle(r.Context(), vars["id"], auth.UserIDFromContext(r.Context()), vars["site"]); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// Bombard handles POST /games/{id}/battles/{site}/bombard.
func (h *BattleHandler) Bombard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ships []battle.UnitID `json:"ships"`
	}
	if err := decodeJSON(r, &req); err != nil || len(req.Ships) == 0 {
		writeError(w, http.StatusBadRequest, "ships are required")
		return
	}
	vars := mux.Vars(r)
	if err := h.svc.Bombard(r.Context(), vars["id"], auth.UserIDFromContext(r.Context()), vars["site"], req.Ships); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "bombarding"})
}

// AnswerQuery handles POST /games/{id}/queries/answer.
func (h *BattleHandler) AnswerQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueryID string          `json:"query_id"`
		Answer  json.RawMessage `json:"answer"`
	}
	if err := decodeJSON(r, &req); err != nil || req.QueryID == "" {
		writeError(w, http.StatusBadRequest, "query_id is required")
		return
	}
	if err := h.svc.AnswerQuery(r.Context(), mux.Vars(r)["id"], auth.UserIDFromContext(r.Context()), req.QueryID, req.Answer); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "answered"})
}

// ListRecords handles GET /games/{id}/records.
func (h *BattleHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListRecords(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if records == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// ListHistory handles GET /games/{id}/history?after=.
func (h *BattleHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	var after int64
	if s := r.URL.Query().Get("after"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after parameter")
			return
		}
		after = n
	}
	entries, err := h.svc.ListHistory(r.Context(), mux.Vars(r)["id"], after)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Route handles GET /games/{id}/route?player=&from=&to=&units=1,2.
func (h *BattleHandler) Route(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	player, from, to := q.Get("player"), q.Get("from"), q.Get("to")
	if player == "" || from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "player, from and to are required")
		return
	}
	var units []battle.UnitID
	if s := q.Get("units"); s != "" {
		for _, part := range strings.Split(s, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid unit id "+part)
				return
			}
			units = append(units, battle.UnitID(id))
		}
	}

	route, ok, err := h.svc.Route(r.Context(), mux.Vars(r)["id"], battle.Player(player), from, to, units)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no route")
		return
	}
	writeJSON(w, http.StatusOK, route)
}

// EndTurn handles POST /games/{id}/turn/end.
func (h *BattleHandler) EndTurn(w http.ResponseWriter, r *http.Request) {
	game, err := h.svc.EndTurn(r.Context(), mux.Vars(r)["id"], auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}
