package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
	"github.com/alanyoungcy/sealedsettle/internal/settlement"
)

// StatsService is what the stats handler needs from the service layer.
type StatsService interface {
	Stats(ctx context.Context, ref string, page, pageSize int) (domain.StatsPage, error)
}

// StatsHandler serves the settlement leaderboard.
type StatsHandler struct {
	stats  StatsService
	logger *slog.Logger
}

func NewStatsHandler(stats StatsService, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{stats: stats, logger: logger}
}

// Stats returns one page of ranked participants. A missing, malformed or
// non-positive page or pageSize falls back to its default instead of a 400.
// GET /api/markets/{market}/stats?page=1&pageSize=20
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	page := intQuery(r, "page", 1)
	size := intQuery(r, "pageSize", settlement.DefaultPageSize)

	res, err := h.stats.Stats(r.Context(), r.PathValue("market"), page, size)
	if err != nil {
		writeServiceError(w, r, h.logger, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
