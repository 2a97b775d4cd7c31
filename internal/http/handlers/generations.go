package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
	"mediaforge/internal/sqlinline"
)

const defaultHistoryLimit = 20

func (a *App) GetGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid generation id")
		return
	}

	row := a.SQL.QueryRow(r.Context(), sqlinline.QSelectGeneration, id, userID)
	gen, err := scanGeneration(row)
	if err != nil {
		if infra.IsNoRows(err) {
			a.error(w, http.StatusNotFound, "not_found", "generation not found")
			return
		}
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("handlers: load generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load generation")
		return
	}
	a.json(w, http.StatusOK, viewOf(gen))
}

func (a *App) ListGenerations(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}

	rows, err := a.SQL.Query(r.Context(), sqlinline.QSelectRecentGenerations, userID, limit)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("handlers: list generations failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list generations")
		return
	}
	defer rows.Close()

	views := make([]generationView, 0, limit)
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			a.Logger.Error().Err(err).Msg("handlers: scan generation failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to list generations")
			return
		}
		views = append(views, viewOf(gen))
	}
	a.json(w, http.StatusOK, map[string]any{"generations": views})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row rowScanner) (*domain.Generation, error) {
	var g domain.Generation
	var mediaType, status string
	if err := row.Scan(
		&g.ID,
		&g.UserID,
		&g.Prompt,
		&g.Model,
		&mediaType,
		&status,
		&g.TaskID,
		&g.OutputURL,
		&g.CreditsUsed,
		&g.ProviderEndpoint,
		&g.ErrorMessage,
		&g.CreatedAt,
		&g.UpdatedAt,
	); err != nil {
		return nil, err
	}
	g.MediaType = domain.MediaType(mediaType)
	g.Status = domain.GenerationStatus(status)
	return &g, nil
}
