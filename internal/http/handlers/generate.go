package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"mediaforge/internal/dispatch"
	"mediaforge/internal/domain"
)

type generateRequest struct {
	Prompt             string   `json:"prompt"`
	Type               string   `json:"type"`
	Model              string   `json:"model"`
	NegativePrompt     string   `json:"negativePrompt"`
	AspectRatio        string   `json:"aspectRatio"`
	Quality            string   `json:"quality"`
	Duration           int      `json:"duration"`
	ImageURL           string   `json:"imageUrl"`
	ReferenceImageURL  string   `json:"referenceImageUrl"`
	ReferenceImageURLs []string `json:"referenceImageUrls"`
	Lyrics             string   `json:"lyrics"`
	Instrumental       bool     `json:"instrumental"`
	VocalGender        string   `json:"vocalGender"`
	Weirdness          *int     `json:"weirdness"`
	StyleInfluence     *int     `json:"styleInfluence"`
	Title              string   `json:"title"`
	Stream             bool     `json:"stream"`
	Background         bool     `json:"background"`
}

type generationView struct {
	ID          string `json:"id"`
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	TaskID      string `json:"task_id"`
	OutputURL   string `json:"output_url,omitempty"`
	CreditsUsed int    `json:"credits_used"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func viewOf(g *domain.Generation) generationView {
	v := generationView{
		ID:          g.ID,
		Prompt:      g.Prompt,
		Model:       g.Model,
		Type:        string(g.MediaType),
		Status:      string(g.Status),
		TaskID:      g.TaskID,
		OutputURL:   g.OutputURL,
		CreditsUsed: g.CreditsUsed,
	}
	if !g.CreatedAt.IsZero() {
		v.CreatedAt = g.CreatedAt.Format(time.RFC3339)
	}
	return v
}

// Generate is the dispatch entry point. Three legacy reference-image fields
// are merged into one ordered list; the first entry is the primary reference.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	dreq := domain.GenerationRequest{
		UserID:         userID,
		MediaType:      domain.MediaType(strings.TrimSpace(req.Type)),
		Model:          strings.TrimSpace(req.Model),
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		AspectRatio:    req.AspectRatio,
		Quality:        req.Quality,
		Duration:       req.Duration,
		ReferenceURLs:  mergeReferences(req.ImageURL, req.ReferenceImageURL, req.ReferenceImageURLs),
		Lyrics:         req.Lyrics,
		Instrumental:   req.Instrumental,
		VocalGender:    req.VocalGender,
		Weirdness:      sliderOrDefault(req.Weirdness),
		StyleInfluence: sliderOrDefault(req.StyleInfluence),
		Title:          req.Title,
		Stream:         req.Stream,
		Background:     req.Background,
	}

	if req.Stream {
		if em := dispatch.NewSSEEmitter(w); em != nil {
			a.generateStream(w, r, dreq, em)
			return
		}
		// The connection cannot flush; fall through to the JSON response.
	}

	res, err := a.Dispatcher.Dispatch(r.Context(), dreq, dispatch.NopEmitter{})
	if err != nil {
		a.generateError(w, err)
		return
	}
	a.generateSuccess(w, res)
}

// generateStream runs the dispatch with events going straight to the SSE
// stream. Terminal outcomes were already emitted as frames; only rejections
// that happen before any provider contact need a frame from here.
func (a *App) generateStream(w http.ResponseWriter, r *http.Request, dreq domain.GenerationRequest, em *dispatch.SSEEmitter) {
	res, err := a.Dispatcher.Dispatch(r.Context(), dreq, em)
	if err != nil && (res == nil || res.State == dispatch.StateRejected) {
		em.Emit("error", map[string]any{"message": err.Error()})
	}
}

func (a *App) generateSuccess(w http.ResponseWriter, res *dispatch.Result) {
	if res.State == dispatch.StateTimedOutPending {
		body := map[string]any{
			"success": true,
			"pending": true,
			"taskId":  res.TaskID,
		}
		if res.Generation != nil {
			body["generation"] = viewOf(res.Generation)
		}
		a.json(w, http.StatusOK, body)
		return
	}
	mediaType := ""
	if res.Generation != nil {
		mediaType = string(res.Generation.MediaType)
	}
	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"result": map[string]any{
			"type":       mediaType,
			"output_url": res.OutputURL,
		},
		"credits_remaining": res.CreditsRemaining,
	})
}

func (a *App) generateError(w http.ResponseWriter, err error) {
	var insufficient *dispatch.InsufficientCreditsError
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
	case errors.As(err, &insufficient):
		a.json(w, http.StatusPaymentRequired, map[string]any{
			"error": map[string]any{
				"code":      "insufficient_credits",
				"message":   "insufficient credits",
				"required":  insufficient.Required,
				"available": insufficient.Available,
			},
		})
	case errors.Is(err, domain.ErrEmptyPrompt):
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is required")
	case errors.Is(err, domain.ErrUnknownModel):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "profile not found")
	case errors.Is(err, domain.ErrProviderFailure):
		a.error(w, http.StatusInternalServerError, "provider_failure", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("handlers: generate failed")
		a.error(w, http.StatusInternalServerError, "internal", "generation failed")
	}
}

func mergeReferences(imageURL, referenceURL string, list []string) []string {
	out := make([]string, 0, len(list)+2)
	seen := make(map[string]struct{}, len(list)+2)
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	add(imageURL)
	add(referenceURL)
	for _, u := range list {
		add(u)
	}
	return out
}

// sliderOrDefault centers an absent 0-100 slider.
func sliderOrDefault(v *int) int {
	if v == nil {
		return 50
	}
	return *v
}
