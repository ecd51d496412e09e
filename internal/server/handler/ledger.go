package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

// LedgerHandler exposes the purchase side of the reference ledgers.
type LedgerHandler struct {
	admin  domain.LedgerAdmin
	logger *slog.Logger
}

func NewLedgerHandler(admin domain.LedgerAdmin, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{admin: admin, logger: logger}
}

// CreateMarket opens a ledger market.
// POST /api/ledger/markets
func (h *LedgerHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var spec domain.MarketSpec
	if err := decodeJSON(w, r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, publicMessage(err))
		return
	}
	m, err := h.admin.CreateMarket(r.Context(), spec)
	if err != nil {
		writeServiceError(w, r, h.logger, "create ledger market", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type buyTicketsRequest struct {
	ParticipantID string `json:"participantId"`
	EncodedChoice string `json:"encodedChoice"`
	TicketCount   uint64 `json:"ticketCount"`
}

// BuyTickets records a purchase with an encoded choice.
// POST /api/ledger/markets/{market}/tickets
func (h *LedgerHandler) BuyTickets(w http.ResponseWriter, r *http.Request) {
	var req buyTicketsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, publicMessage(err))
		return
	}
	acct, err := h.admin.BuyTickets(r.Context(), r.PathValue("market"), req.ParticipantID, req.EncodedChoice, req.TicketCount)
	if err != nil {
		writeServiceError(w, r, h.logger, "buy tickets", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}
