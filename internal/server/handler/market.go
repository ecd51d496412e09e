package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
	"github.com/alanyoungcy/sealedsettle/internal/service"
)

// MarketService is what the market handler needs from the service layer.
type MarketService interface {
	RegisterMarket(ctx context.Context, in service.RegisterInput) (domain.MarketMeta, error)
	MarketView(ctx context.Context, ref string) (service.MarketView, error)
	AuditBundle(ctx context.Context, ref string) (domain.Blob, error)
}

// MarketHandler serves market registration and lookup.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

// Register binds a market to its encryption key. The key is never echoed.
// POST /api/markets
func (h *MarketHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, publicMessage(err))
		return
	}
	meta, err := h.markets.RegisterMarket(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, h.logger, "register market", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "meta": meta})
}

// GetMarket returns the market's meta and ledger state.
// GET /api/markets/{market}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	view, err := h.markets.MarketView(r.Context(), r.PathValue("market"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// AuditBundle streams the finalize bundle. The stored checksum, when
// present, is exposed as X-Bundle-Sha256.
// GET /api/markets/{market}/audit
func (h *MarketHandler) AuditBundle(w http.ResponseWriter, r *http.Request) {
	blob, err := h.markets.AuditBundle(r.Context(), r.PathValue("market"))
	if err != nil {
		writeServiceError(w, r, h.logger, "audit bundle", err)
		return
	}
	defer blob.Body.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if blob.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(blob.Size, 10))
	}
	if sum := blob.Metadata[domain.BundleMetaSHA256]; sum != "" {
		w.Header().Set("X-Bundle-Sha256", sum)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, blob.Body); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.WarnContext(r.Context(), "handler: audit bundle stream interrupted",
			slog.String("error", err.Error()),
		)
	}
}
