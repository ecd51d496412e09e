package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
	"github.com/alanyoungcy/sealedsettle/internal/service"
	"github.com/alanyoungcy/sealedsettle/internal/settlement"
)

// SettlementService is what the settlement handler needs from the service
// layer.
type SettlementService interface {
	Encode(ctx context.Context, ref string, side domain.Side, secret string) (service.EncodeResult, error)
	Finalize(ctx context.Context, ref string) (service.FinalizeResult, error)
	CheckClaim(ctx context.Context, ref, participantID string) (settlement.ClaimDecision, error)
	ExecuteClaim(ctx context.Context, ref, participantID string) (service.ClaimResult, error)
}

// SettlementHandler serves encode, finalize and claim endpoints.
type SettlementHandler struct {
	svc    SettlementService
	logger *slog.Logger
}

func NewSettlementHandler(svc SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{svc: svc, logger: logger}
}

type encodeRequest struct {
	Side          sideValue `json:"side"`
	BindingSecret string    `json:"bindingSecret"`
}

// Encode seals a side choice for the market.
// POST /api/markets/{market}/encode
func (h *SettlementHandler) Encode(w http.ResponseWriter, r *http.Request) {
	var req encodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, publicMessage(err))
		return
	}
	res, err := h.svc.Encode(r.Context(), r.PathValue("market"), domain.Side(req.Side), req.BindingSecret)
	if err != nil {
		writeServiceError(w, r, h.logger, "encode", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Finalize tallies the market and closes it on the ledger.
// POST /api/markets/{market}/finalize
func (h *SettlementHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Finalize(r.Context(), r.PathValue("market"))
	if err != nil {
		writeServiceError(w, r, h.logger, "finalize", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type claimRequest struct {
	ParticipantID string `json:"participantId"`
}

// CheckClaim reports what a participant could claim.
// POST /api/markets/{market}/claim/check
func (h *SettlementHandler) CheckClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, publicMessage(err))
		return
	}
	d, err := h.svc.CheckClaim(r.Context(), r.PathValue("market"), req.ParticipantID)
	if err != nil {
		writeServiceError(w, r, h.logger, "check claim", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Claim pays a participant's claim.
// POST /api/markets/{market}/claim
func (h *SettlementHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, publicMessage(err))
		return
	}
	res, err := h.svc.ExecuteClaim(r.Context(), r.PathValue("market"), req.ParticipantID)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
