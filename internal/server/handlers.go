package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/frontieralpha/quant/internal/modules/attribution"
	"github.com/frontieralpha/quant/internal/modules/factors"
	"github.com/frontieralpha/quant/internal/modules/marketdata"
	"github.com/frontieralpha/quant/internal/modules/optimization"
	"github.com/frontieralpha/quant/internal/modules/statistics"
	"github.com/frontieralpha/quant/internal/modules/walkforward"
	"github.com/frontieralpha/quant/internal/reliability"
)

const dateLayout = "2006-01-02"

// reportUploader is the archiving surface the handlers need; satisfied
// by reliability.ReportArchiver.
type reportUploader interface {
	Upload(key, contentType string, body []byte) error
}

// Handlers bundles the API handlers and their service dependencies.
type Handlers struct {
	store       *marketdata.Store
	optimizer   *optimization.Optimizer
	attribution *attribution.Engine
	validator   *walkforward.Validator
	factors     *factors.Calculator
	archiver    reportUploader // nil when archiving is disabled
	log         zerolog.Logger
}

func NewHandlers(
	store *marketdata.Store,
	optimizer *optimization.Optimizer,
	attributionEngine *attribution.Engine,
	validator *walkforward.Validator,
	factorCalc *factors.Calculator,
	archiver *reliability.ReportArchiver,
	log zerolog.Logger,
) *Handlers {
	h := &Handlers{
		store:       store,
		optimizer:   optimizer,
		attribution: attributionEngine,
		validator:   validator,
		factors:     factorCalc,
		log:         log.With().Str("component", "handlers").Logger(),
	}
	// A nil *ReportArchiver must stay a nil interface, or the nil check
	// in the report handler would pass and panic on Upload.
	if archiver != nil {
		h.archiver = archiver
	}
	return h
}

// OptimizeRequest selects symbols, a price history range, and the
// optimization configuration.
type OptimizeRequest struct {
	Symbols   []string            `json:"symbols"`
	StartDate string              `json:"startDate"`
	EndDate   string              `json:"endDate"`
	Config    optimization.Config `json:"config"`
}

// OptimizeResponse wraps the optimization result with a parametric CVaR
// cross-check of the bootstrap tail estimate.
type OptimizeResponse struct {
	Result           *optimization.Result `json:"result"`
	ParametricCVaR95 float64              `json:"parametricCvar95"`
}

// HandleOptimize runs a portfolio optimization over stored price history.
func (h *Handlers) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	prices, err := h.loadPrices(req.Symbols, start, end)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load price history")
		return
	}

	result, err := h.optimizer.Optimize(req.Symbols, prices, req.Config)
	if err != nil {
		h.respondCoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, OptimizeResponse{
		Result:           result,
		ParametricCVaR95: optimization.ParametricCVaR(result.ExpectedReturn, result.ExpectedVolatility, 0.95),
	})
}

// AttributionRequest either supplies exposures and factor returns
// directly, or names symbols plus a date range so both are derived from
// stored history.
type AttributionRequest struct {
	PortfolioReturn float64            `json:"portfolioReturn"`
	Exposures       map[string]float64 `json:"factorExposures"`
	FactorReturns   map[string]float64 `json:"factorReturns"`
	Weights         map[string]float64 `json:"weights"`
	Symbols         []string           `json:"symbols"`
	StartDate       string             `json:"startDate"`
	EndDate         string             `json:"endDate"`
}

func (h *Handlers) resolveAttribution(req *AttributionRequest) (*attribution.Result, error) {
	if len(req.Exposures) == 0 && len(req.Symbols) > 0 {
		if err := h.deriveFactors(req); err != nil {
			return nil, err
		}
	}
	return h.attribution.Calculate(req.PortfolioReturn, req.Exposures, req.FactorReturns), nil
}

// deriveFactors fills exposures and factor returns from price history
// when the caller only names symbols.
func (h *Handlers) deriveFactors(req *AttributionRequest) error {
	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		return err
	}
	prices, err := h.loadPrices(req.Symbols, start, end)
	if err != nil {
		return err
	}

	weights := req.Weights
	if len(weights) == 0 {
		weights = make(map[string]float64, len(req.Symbols))
		for _, symbol := range req.Symbols {
			weights[symbol] = 1.0 / float64(len(req.Symbols))
		}
	}

	exposures, factorReturns, err := h.factors.Decompose(req.Symbols, prices, weights)
	if err != nil {
		return err
	}
	req.Exposures = exposures
	req.FactorReturns = factorReturns
	return nil
}

// HandleAttribution decomposes a realized return into factor
// contributions.
func (h *Handlers) HandleAttribution(w http.ResponseWriter, r *http.Request) {
	var req AttributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.resolveAttribution(&req)
	if err != nil {
		h.respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// HandleAttributionWaterfall renders the attribution waterfall as PNG.
func (h *Handlers) HandleAttributionWaterfall(w http.ResponseWriter, r *http.Request) {
	var req AttributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.resolveAttribution(&req)
	if err != nil {
		h.respondCoreError(w, err)
		return
	}

	png, err := attribution.RenderWaterfallPNG(result)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to render chart")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// WalkForwardRequest configures one walk-forward validation run.
type WalkForwardRequest struct {
	Symbols           []string `json:"symbols"`
	StartDate         string   `json:"startDate"`
	EndDate           string   `json:"endDate"`
	InSampleMonths    int      `json:"inSampleMonths"`
	OutOfSampleMonths int      `json:"outOfSampleMonths"`
	StepMonths        int      `json:"stepMonths"`
	AnchoredStart     bool     `json:"anchoredStart"`
	Objective         string   `json:"objective"`
	TargetVolatility  float64  `json:"targetVolatility"`
	RiskFreeRate      float64  `json:"riskFreeRate"`
}

func (h *Handlers) runWalkForward(req WalkForwardRequest) (*walkforward.Result, error) {
	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}

	prices, err := h.loadPrices(req.Symbols, start, end)
	if err != nil {
		return nil, err
	}

	return h.validator.Run(prices, walkforward.Config{
		Symbols:           req.Symbols,
		StartDate:         start,
		EndDate:           end,
		InSampleMonths:    req.InSampleMonths,
		OutOfSampleMonths: req.OutOfSampleMonths,
		StepMonths:        req.StepMonths,
		AnchoredStart:     req.AnchoredStart,
		Objective:         req.Objective,
		TargetVolatility:  req.TargetVolatility,
		RiskFreeRate:      req.RiskFreeRate,
	})
}

// HandleWalkForward runs a walk-forward validation and returns the full
// result.
func (h *Handlers) HandleWalkForward(w http.ResponseWriter, r *http.Request) {
	var req WalkForwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.runWalkForward(req)
	if err != nil {
		h.respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// HandleWalkForwardReport returns the box-drawing text report, archiving
// a copy when an archiver is configured.
func (h *Handlers) HandleWalkForwardReport(w http.ResponseWriter, r *http.Request) {
	var req WalkForwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.runWalkForward(req)
	if err != nil {
		h.respondCoreError(w, err)
		return
	}

	report := walkforward.GenerateReport(result)

	// Synchronous so a server drain never abandons an in-flight upload;
	// the archiver bounds the call with its own timeout.
	if h.archiver != nil {
		key := fmt.Sprintf("walkforward/%s-%s.txt", req.Objective, time.Now().UTC().Format("20060102-150405"))
		if err := h.archiver.Upload(key, "text/plain; charset=utf-8", []byte(report)); err != nil {
			h.log.Warn().Err(err).Str("key", key).Msg("Report archive upload failed")
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(report))
}

// HandleWalkForwardEquityChart renders the stitched equity curve as PNG.
func (h *Handlers) HandleWalkForwardEquityChart(w http.ResponseWriter, r *http.Request) {
	var req WalkForwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.runWalkForward(req)
	if err != nil {
		h.respondCoreError(w, err)
		return
	}

	png, err := walkforward.RenderEquityCurvePNG(result)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "no equity curve to render")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// HandleSavePrices upserts daily candles for one symbol.
func (h *Handlers) HandleSavePrices(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	var candles marketdata.PriceSeries
	if err := json.NewDecoder(r.Body).Decode(&candles); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.store.SaveDailyPrices(symbol, candles); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"saved":  len(candles),
	})
}

// HandleGetPrices returns stored candles for one symbol in a date range.
func (h *Handlers) HandleGetPrices(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	start, end, err := parseRange(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	series, err := h.store.GetPriceSeries(symbol, start, end)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load price history")
		return
	}
	respondJSON(w, http.StatusOK, series)
}

// HandleListSymbols lists symbols with stored prices.
func (h *Handlers) HandleListSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.store.ListSymbols()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list symbols")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"symbols": symbols})
}

func (h *Handlers) loadPrices(symbols []string, start, end time.Time) (map[string]marketdata.PriceSeries, error) {
	prices := make(map[string]marketdata.PriceSeries, len(symbols))
	for _, symbol := range symbols {
		series, err := h.store.GetPriceSeries(symbol, start, end)
		if err != nil {
			return nil, err
		}
		prices[symbol] = series
	}
	return prices, nil
}

// respondCoreError maps the core error taxonomy onto HTTP statuses:
// malformed configs are 400s, data sufficiency problems 422s.
func (h *Handlers) respondCoreError(w http.ResponseWriter, err error) {
	var cfgErr *optimization.InvalidConfigError
	if errors.As(err, &cfgErr) {
		respondError(w, http.StatusBadRequest, cfgErr.Error())
		return
	}

	var dataErr *statistics.InsufficientDataError
	if errors.As(err, &dataErr) {
		respondError(w, http.StatusUnprocessableEntity, dataErr.Error())
		return
	}

	h.log.Error().Err(err).Msg("Request failed")
	respondError(w, http.StatusInternalServerError, err.Error())
}

func parseRange(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid startDate %q, expected YYYY-MM-DD", startStr)
	}
	end, err := time.Parse(dateLayout, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid endDate %q, expected YYYY-MM-DD", endStr)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("endDate must be after startDate")
	}
	return start, end, nil
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
