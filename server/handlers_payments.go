package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cliptgg/clipt-server/payments"
	"github.com/cliptgg/clipt-server/telemetry"
)

// HandlePaymentsCheckout creates a subscription checkout session.
// POST /payments/checkout {"tier": "...", "priceId": "...", "streamerUsername": "..."}
func (h *Handlers) HandlePaymentsCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	var body struct {
		Tier             string `json:"tier"`
		PriceID          string `json:"priceId"`
		StreamerUsername string `json:"streamerUsername"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	sess, err := h.payments.CreateCheckoutSession(r.Context(), body.Tier, body.PriceID, body.StreamerUsername)
	switch {
	case errors.Is(err, payments.ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	case errors.Is(err, payments.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "payments_unconfigured", "stripe not configured")
		return
	case err != nil:
		telemetry.LoggerWithCorr(r.Context()).Error("checkout session failed", "err", err)
		writeError(w, http.StatusInternalServerError, "checkout_failed", "could not create checkout session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// HandlePaymentsConnect creates a streamer payout account and onboarding link.
// POST /payments/connect {"streamerId": "...", "streamerEmail": "...", "streamerName": "..."}
func (h *Handlers) HandlePaymentsConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	var body struct {
		StreamerID    string `json:"streamerId"`
		StreamerEmail string `json:"streamerEmail"`
		StreamerName  string `json:"streamerName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	acct, err := h.payments.CreateConnectAccount(r.Context(), body.StreamerID, body.StreamerEmail, body.StreamerName)
	switch {
	case errors.Is(err, payments.ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	case errors.Is(err, payments.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "payments_unconfigured", "stripe not configured")
		return
	case err != nil:
		telemetry.LoggerWithCorr(r.Context()).Error("connect account failed", "err", err)
		writeError(w, http.StatusInternalServerError, "connect_failed", "could not create payout account")
		return
	}
	writeJSON(w, http.StatusOK, acct)
}
