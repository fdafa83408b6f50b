package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/freeeve/axis-battle/api/internal/auth"
	"github.com/freeeve/axis-battle/api/internal/middleware"
)

// Handlers groups what the router serves.
type Handlers struct {
	Auth   *AuthHandler
	Battle *BattleHandler
	WS     *WSHandler
}

// NewRouter builds the HTTP routes. Everything under /api/v1 except the
// WebSocket endpoint requires a bearer token. CORS wraps the router so
// preflight requests are answered before route matching.
func NewRouter(h Handlers, jwtMgr *auth.JWTManager, corsOrigins string) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Logger, middleware.Recover)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/auth/refresh", h.Auth.RefreshToken).Methods(http.MethodPost)
	r.HandleFunc("/auth/dev", h.Auth.DevLogin).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/ws", h.WS.ServeWS).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(auth.Middleware(jwtMgr), middleware.JSON)

	b := h.Battle
	api.HandleFunc("/games", b.CreateGame).Methods(http.MethodPost)
	api.HandleFunc("/games/{id}", b.GetGame).Methods(http.MethodGet)
	api.HandleFunc("/games/{id}/finish", b.FinishGame).Methods(http.MethodPost)
	api.HandleFunc("/games/{id}/moves/validate", b.ValidateMove).Methods(http.MethodPost)
	api.HandleFunc("/games/{id}/moves", b.SubmitMove).Methods(http.MethodPost)
	api.HandleFunc("/games/{id}/moves/{index:[0-9]+}", b.UndoMove).Methods(http.MethodDelete)
	api.HandleFunc("/games/{id}/battles/fight", b.FightBattles).Methods(http.MethodPost)
	api.HandleFunc("/games/{id}/battles/{site}", b.GetBattle).Methods(http.MethodGet)
	api.HandleFunc("/games/{id}/battles/{site}/cancel", b.CancelBattle).Methods(http.MethodPost)
	api.HandleFunc("/games/{id}/battles/{site}/bombard", b.Bombard).Methods(http.MethodPost)
	api.HandleFunc("/games/{id}/queries/answer", b.AnswerQuery).Methods(http.MethodPost)
	api.HandleFunc("/games/{id}/records", b.ListRecords).Methods(http.MethodGet)
	api.HandleFunc("/games/{id}/history", b.ListHistory).Methods(http.MethodGet)
	api.HandleFunc("/games/{id}/route", b.Route).Methods(http.MethodGet)
	api.HandleFunc("/games/{id}/turn/end", b.EndTurn).Methods(http.MethodPost)

	return middleware.CORS(corsOrigins)(r)
}
