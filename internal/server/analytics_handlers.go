package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/analytics/correlation"
	"github.com/aristath/vantage/internal/analytics/exposure"
	"github.com/aristath/vantage/internal/analytics/snapshot"
	"github.com/aristath/vantage/internal/analytics/stress"
	"github.com/aristath/vantage/internal/analytics/valuation"
	"github.com/aristath/vantage/internal/portfolio"
)

// AnalyticsHandlers serves the quality-aware read endpoints. Every response
// is 200 with {available, reason?, data_quality, ...}: absence of data is an
// answer, not an error.
type AnalyticsHandlers struct {
	positions    *portfolio.PositionRepository
	exposures    *exposure.Repository
	correlations *correlation.Repository
	stress       *stress.Repository
	valuations   *valuation.Repository
	snapshots    *snapshot.Repository
	log          zerolog.Logger
}

// NewAnalyticsHandlers creates the analytics read handlers.
func NewAnalyticsHandlers(
	positions *portfolio.PositionRepository,
	exposures *exposure.Repository,
	correlations *correlation.Repository,
	stressRepo *stress.Repository,
	valuations *valuation.Repository,
	snapshots *snapshot.Repository,
	log zerolog.Logger,
) *AnalyticsHandlers {
	return &AnalyticsHandlers{
		positions:    positions,
		exposures:    exposures,
		correlations: correlations,
		stress:       stressRepo,
		valuations:   valuations,
		snapshots:    snapshots,
		log:          log.With().Str("handler", "analytics").Logger(),
	}
}

// RegisterRoutes registers the analytics read routes.
func (h *AnalyticsHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/api/analytics/{portfolioID}", func(r chi.Router) {
		r.Get("/exposures", h.HandleGetExposures)
		r.Get("/correlations", h.HandleGetCorrelations)
		r.Get("/diversification", h.HandleGetDiversification)
		r.Get("/stress", h.HandleGetStress)
		r.Get("/valuation", h.HandleGetValuation)
		r.Get("/history", h.HandleGetHistory)
	})
}

func requestDate(r *http.Request) string {
	if date := r.URL.Query().Get("date"); date != "" {
		return date
	}
	return time.Now().UTC().Format("2006-01-02")
}

// currentQuality recomputes data quality from the portfolio's positions as
// they are now, so reads never echo a stale record.
func (h *AnalyticsHandlers) currentQuality(portfolioID string) analytics.DataQuality {
	positions, err := h.positions.GetByPortfolio(portfolioID)
	if err != nil {
		h.log.Error().Err(err).Str("portfolio", portfolioID).Msg("Failed to load positions for quality assessment")
		return analytics.DataQuality{Flag: analytics.FlagOK}
	}
	return analytics.AssessPositions(positions)
}

// mergeQuality layers stored run facts (window length, history warnings) onto
// the freshly recomputed position counts.
func mergeQuality(stored analytics.DataQuality, hasStored bool, current analytics.DataQuality) analytics.DataQuality {
	if !hasStored {
		return current
	}
	merged := current
	merged.DataDays = stored.DataDays
	if merged.Flag == analytics.FlagOK && stored.Flag != analytics.FlagOK {
		merged.Flag = stored.Flag
		merged.Message = stored.Message
	}
	return merged
}

// HandleGetExposures returns factor betas for a portfolio and date.
// GET /api/analytics/{portfolioID}/exposures?date=YYYY-MM-DD
func (h *AnalyticsHandlers) HandleGetExposures(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")
	date := requestDate(r)

	portfolioBetas, err := h.exposures.GetPortfolioBetas(portfolioID, date)
	if err != nil {
		writeJSON(w, h.log, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	stored, hasStored, err := h.exposures.GetRunQuality(portfolioID, date)
	if err != nil {
		writeJSON(w, h.log, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	quality := mergeQuality(stored, hasStored, h.currentQuality(portfolioID))

	if len(portfolioBetas) == 0 {
		reason := "factor exposures not computed for this date"
		if hasStored && stored.Message != "" {
			reason = stored.Message
		}
		writeJSON(w, h.log, http.StatusOK, envelope(map[string]interface{}{
			"available":    false,
			"reason":       reason,
			"data_quality": quality,
		}))
		return
	}

	positionBetas, err := h.exposures.GetPositionBetas(portfolioID, date)
	if err != nil {
		writeJSON(w, h.log, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, h.log, http.StatusOK, envelope(map[string]interface{}{
		"available":      true,
		"factor_betas":   portfolioBetas,
		"position_betas": positionBetas,
		"data_quality":   quality,
	}))
}

// HandleGetCorrelations returns the pairwise correlation matrix.
// GET /api/analytics/{portfolioID}/correlations?date=YYYY-MM-DD
func (h *AnalyticsHandlers) HandleGetCorrelations(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")
	date := requestDate(r)

	_, stored, complete, err := h.correlations.GetDiversification(portfolioID, date)
	if err != nil {
		writeJSON(w, h.log, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	hasStored := stored.Flag != ""
	quality := mergeQuality(stored, hasStored, h.currentQuality(portfolioID))

	if !complete {
		reason := "correlations not computed for this date"
		if hasStored && stored.Message != "" {
			reason = stored.Message
		}
		writeJSON(w, h.log, http.StatusOK, envelope(map[string]interface{}{
			"available":    false,
			"reason":       reason,
			"data_quality": quality,
		}))
		return
	}

	pairs, err := h.correlations.GetPairs(portfolioID, date)
	if err != nil {
		writeJSON(w, h.log, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, h.log, http.StatusOK, envelope(map[string]interface{}{
		"available":    true,
		"correlations": pairs,
		"data_quality": quality,
	}))
}

// HandleGetDiversification returns the diversification score.
// GET /api/analytics/{portfolioID}/diversification?date=YYYY-MM-DD
func (h *AnalyticsHandlers) HandleGetDiversification(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")
	date := requestDate(r)

	score, stored, complete, err := h.correlations.GetDiversification(portfolioID, date)
	if err != nil {
		writeJSON(w, h.log, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	hasStored := stored.Flag != ""
	quality := mergeQuality(stored, hasStored, h.currentQuality(portfolioID))

	if !complete {
		reason := "diversification score not computed for this date"
		if hasStored && stored.Message != "" {
			reason = stored.Message
		}
		writeJSON(w, h.log, http.StatusOK, envelope(map[string]interface{}{
			"available":    false,
			"reason":       reason,
			"data_quality": quality,
		}))
		return
	}

	writeJSON(w, h.log, http.StatusOK, envelope(map[string]interface{}{
		"available":             true,
		"diversification_score": score,
		"data_quality":          quality,
	}))
}

// HandleGetStress returns the stress scenario impacts.
// GET /api/analytics/{portfolioID}/stress?date=YYYY-MM-DD
func (h *AnalyticsHandlers) HandleGetStress(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")
	date := requestDate(r)

	impacts, err := h.stress.GetImpacts(portfolioID, date)
	if err != nil {
		writeJSON(w, h.log, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	stored, hasStored, err := h.exposures.GetRunQuality(portfolioID, date)
	if err != nil {
		writeJSON(w, h.log, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	quality := mergeQuality(stored, hasStored, h.currentQuality(portfolioID))

	if len(impacts) == 0 {
		writeJSON(w, h.log, http.StatusOK, envelope(map[string]interface{}{
			"available":    false,
			"reason":       "no stress results: factor exposures missing for this date",
			"data_quality": quality,
		}))
		return
	}

	writeJSON(w, h.log, http.StatusOK, envelope(map[string]interface{}{
		"available":    true,
		"scenarios":    impacts,
		"data_quality": quality,
	}))
}

// HandleGetValuation returns the stored valuation.
// GET /api/analytics/{portfolioID}/valuation?date=YYYY-MM-DD
func (h *AnalyticsHandlers) HandleGetValuation(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")
	date := requestDate(r)

	val, found, err := h.valuations.GetValuation(portfolioID, date)
	if err != nil {
		writeJSON(w, h.log, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	quality := h.currentQuality(portfolioID)
	if !found {
		writeJSON(w, h.log, http.StatusOK, envelope(map[string]interface{}{
			"available":    false,
			"reason":       "valuation not computed for this date",
			"data_quality": quality,
		}))
		return
	}

	writeJSON(w, h.log, http.StatusOK, envelope(map[string]interface{}{
		"available":    true,
		"valuation":    val,
		"data_quality": quality,
	}))
}

// HandleGetHistory returns the portfolio's snapshot history.
// GET /api/analytics/{portfolioID}/history?limit=N
func (h *AnalyticsHandlers) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, h.log, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	history, err := h.snapshots.GetHistory(portfolioID, limit)
	if err != nil {
		writeJSON(w, h.log, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, h.log, http.StatusOK, envelope(map[string]interface{}{
		"available": len(history) > 0,
		"history":   history,
	}))
}
