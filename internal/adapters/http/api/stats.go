package api

import (
	"context"
	"net/http"
)

// StatsProvider defines the interface for getting service statistics.
type StatsProvider interface {
	GetStats(ctx context.Context) map[string]any
}

// TotalsReader exposes cumulative rate limiter decisions.
type TotalsReader interface {
	Totals(ctx context.Context) (allowed, denied int64, err error)
}

// StatsHandler handles stats requests.
type StatsHandler struct {
	statsProvider StatsProvider
	totals        TotalsReader
}

// NewStatsHandler creates a new stats handler. totals may be nil.
func NewStatsHandler(statsProvider StatsProvider, totals TotalsReader) *StatsHandler {
	return &StatsHandler{statsProvider: statsProvider, totals: totals}
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{}
	if h.statsProvider != nil {
		if s := h.statsProvider.GetStats(r.Context()); s != nil {
			stats = s
		}
	}
	if h.totals != nil {
		if allowed, denied, err := h.totals.Totals(r.Context()); err == nil {
			stats["rateLimit"] = map[string]int64{"allowed": allowed, "denied": denied}
		}
	}
	writeJSON(w, http.StatusOK, stats)
}
