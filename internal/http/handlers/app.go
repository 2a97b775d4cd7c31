// Package handlers carries the HTTP layer: request decoding, auth context,
// response shaping. All generation semantics live in internal/dispatch.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"mediaforge/internal/credits"
	"mediaforge/internal/dispatch"
	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
	"mediaforge/internal/middleware"
)

// Dispatcher is the orchestrator surface the generate handler needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, req domain.GenerationRequest, em dispatch.Emitter) (*dispatch.Result, error)
}

type App struct {
	SQL        infra.SQLExecutor
	Ledger     *credits.Ledger
	Dispatcher Dispatcher
	Logger     infra.Logger
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}
