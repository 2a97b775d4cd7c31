package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"mediaforge/internal/domain"
)

type creditsWebhookRequest struct {
	UserID      string `json:"user_id"`
	Amount      int    `json:"amount"`
	Type        string `json:"type"`
	ReferenceID string `json:"reference_id"`
}

// CreditsWebhook grants subscription or renewal credits. Unlike every other
// endpoint it acknowledges with a success shape even when the grant fails
// internally: a non-2xx here would trigger the sender's retry storm, and the
// referenceID dedup already makes redelivery safe.
func (a *App) CreditsWebhook(w http.ResponseWriter, r *http.Request) {
	ack := func() { a.json(w, http.StatusOK, map[string]any{"received": true}) }

	var req creditsWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.Logger.Warn().Err(err).Msg("handlers: credits webhook payload invalid")
		ack()
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.ReferenceID = strings.TrimSpace(req.ReferenceID)
	if req.UserID == "" || req.ReferenceID == "" || req.Amount <= 0 {
		a.Logger.Warn().Str("user_id", req.UserID).Str("reference_id", req.ReferenceID).Int("amount", req.Amount).Msg("handlers: credits webhook missing fields")
		ack()
		return
	}

	txType := domain.TxSubscription
	if req.Type == string(domain.TxRenewal) {
		txType = domain.TxRenewal
	}
	if err := a.Ledger.GrantOnce(r.Context(), req.UserID, req.Amount, txType, req.ReferenceID); err != nil {
		a.Logger.Error().Err(err).Str("user_id", req.UserID).Str("reference_id", req.ReferenceID).Msg("handlers: credits grant failed")
	}
	ack()
}
