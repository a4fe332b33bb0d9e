package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontieralpha/quant/internal/database"
	"github.com/frontieralpha/quant/internal/modules/attribution"
	"github.com/frontieralpha/quant/internal/modules/factors"
	"github.com/frontieralpha/quant/internal/modules/marketdata"
	"github.com/frontieralpha/quant/internal/modules/optimization"
	"github.com/frontieralpha/quant/internal/modules/walkforward"
)

func setupHandlers(t *testing.T, name string) (*Handlers, *marketdata.Store) {
	t.Helper()

	logger := zerolog.New(nil).Level(zerolog.Disabled)
	db, err := database.New(database.Config{
		Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		Name: name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := marketdata.NewStore(db.Conn(), logger)
	require.NoError(t, store.Init())

	cache := marketdata.NewCache(logger)
	factorCalc := factors.NewCalculator(logger)
	optimizer := optimization.NewOptimizer(factorCalc, cache, logger)
	engine := attribution.NewEngine(attribution.Config{}, logger)
	validator := walkforward.NewValidator(logger)

	return NewHandlers(store, optimizer, engine, validator, factorCalc, nil, logger), store
}

// seedPrices stores a synthetic daily series with a mild drift and a
// deterministic wobble so covariance is well conditioned.
func seedPrices(t *testing.T, store *marketdata.Store, symbol string, start time.Time, days int, drift float64) {
	t.Helper()

	series := make(marketdata.PriceSeries, 0, days)
	price := 100.0
	for i := 0; i < days; i++ {
		price *= 1 + drift + 0.004*math.Sin(float64(i)*0.7)
		series = append(series, marketdata.Candle{
			Date:   start.AddDate(0, 0, i),
			Open:   price * 0.999,
			High:   price * 1.004,
			Low:    price * 0.996,
			Close:  price,
			Volume: 10000,
		})
	}
	require.NoError(t, store.SaveDailyPrices(symbol, series))
}

func postJSON(handler http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	bodyBytes, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(bodyBytes))
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestHandleOptimize(t *testing.T) {
	handlers, store := setupHandlers(t, "handlers_optimize")
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	seedPrices(t, store, "AAA", start, 300, 0.0008)
	seedPrices(t, store, "BBB", start, 300, 0.0003)

	w := postJSON(handlers.HandleOptimize, "/api/optimize", OptimizeRequest{
		Symbols:   []string{"AAA", "BBB"},
		StartDate: "2023-01-01",
		EndDate:   "2024-01-01",
		Config: optimization.Config{
			Objective:   optimization.ObjectiveMaxSharpe,
			Simulations: 500,
			Seed:        42,
		},
	})

	assert.Equal(t, http.StatusOK, w.Code)

	var response OptimizeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.NotNil(t, response.Result)

	sum := 0.0
	for _, weight := range response.Result.Weights {
		assert.GreaterOrEqual(t, weight, 0.0)
		sum += weight
	}
	assert.InDelta(t, 1.0, sum+response.Result.CashWeight, 1e-6)
	assert.NotNil(t, response.Result.MonteCarlo)
	assert.NotEmpty(t, response.Result.Explanation)
}

func TestHandleOptimizeInvalidConfig(t *testing.T) {
	handlers, store := setupHandlers(t, "handlers_invalid_config")
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	seedPrices(t, store, "AAA", start, 100, 0.0005)
	seedPrices(t, store, "BBB", start, 100, 0.0002)

	w := postJSON(handlers.HandleOptimize, "/api/optimize", OptimizeRequest{
		Symbols:   []string{"AAA", "BBB"},
		StartDate: "2023-01-01",
		EndDate:   "2023-06-01",
		Config: optimization.Config{
			Objective:        optimization.ObjectiveTargetVolatility,
			TargetVolatility: -0.1,
		},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleOptimizeInsufficientData(t *testing.T) {
	handlers, _ := setupHandlers(t, "handlers_no_data")

	w := postJSON(handlers.HandleOptimize, "/api/optimize", OptimizeRequest{
		Symbols:   []string{"MISSING"},
		StartDate: "2023-01-01",
		EndDate:   "2023-06-01",
		Config:    optimization.Config{Objective: optimization.ObjectiveMaxSharpe},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandleOptimizeBadDateRange(t *testing.T) {
	handlers, _ := setupHandlers(t, "handlers_bad_dates")

	w := postJSON(handlers.HandleOptimize, "/api/optimize", OptimizeRequest{
		Symbols:   []string{"AAA"},
		StartDate: "not-a-date",
		EndDate:   "2023-06-01",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Contains(t, response["error"], "startDate")
}

func TestHandleAttributionDirectInputs(t *testing.T) {
	handlers, _ := setupHandlers(t, "handlers_attribution")

	w := postJSON(handlers.HandleAttribution, "/api/attribution", AttributionRequest{
		PortfolioReturn: 0.05,
		Exposures:       map[string]float64{"market": 1.0, "momentum": 0.5},
		FactorReturns:   map[string]float64{"market": 0.04, "momentum": 0.008},
	})

	assert.Equal(t, http.StatusOK, w.Code)

	var result attribution.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))

	assert.InDelta(t, 0.05, result.TotalReturn, 1e-9)
	assert.InDelta(t, 0.044, result.FactorReturn, 1e-9)
	assert.Len(t, result.Factors, 2)
	assert.NotEmpty(t, result.Waterfall)
	assert.Equal(t, attribution.BarTotal, result.Waterfall[len(result.Waterfall)-1].Type)
}

func TestHandleAttributionWaterfallPNG(t *testing.T) {
	handlers, _ := setupHandlers(t, "handlers_waterfall")

	w := postJSON(handlers.HandleAttributionWaterfall, "/api/attribution/waterfall.png", AttributionRequest{
		PortfolioReturn: 0.05,
		Exposures:       map[string]float64{"market": 1.0},
		FactorReturns:   map[string]float64{"market": 0.04},
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	require.Greater(t, w.Body.Len(), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, w.Body.Bytes()[:4])
}

func TestHandleWalkForward(t *testing.T) {
	handlers, store := setupHandlers(t, "handlers_walkforward")
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	seedPrices(t, store, "AAA", start, 1100, 0.0006)
	seedPrices(t, store, "BBB", start, 1100, 0.0002)

	w := postJSON(handlers.HandleWalkForward, "/api/walkforward", WalkForwardRequest{
		Symbols:           []string{"AAA", "BBB"},
		StartDate:         "2020-01-01",
		EndDate:           "2023-01-01",
		InSampleMonths:    12,
		OutOfSampleMonths: 3,
		StepMonths:        3,
		Objective:         optimization.ObjectiveMaxSharpe,
		RiskFreeRate:      0.02,
	})

	assert.Equal(t, http.StatusOK, w.Code)

	var result walkforward.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.NotEmpty(t, result.Windows)
	assert.NotEmpty(t, result.EquityCurve)
	for _, window := range result.Windows {
		sum := 0.0
		for _, weight := range window.Weights {
			sum += weight
		}
		assert.InDelta(t, 1.0, sum, 1e-6)
	}
}

func TestHandleWalkForwardReport(t *testing.T) {
	handlers, store := setupHandlers(t, "handlers_report")
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	seedPrices(t, store, "AAA", start, 1100, 0.0006)
	seedPrices(t, store, "BBB", start, 1100, 0.0002)

	w := postJSON(handlers.HandleWalkForwardReport, "/api/walkforward/report", WalkForwardRequest{
		Symbols:           []string{"AAA", "BBB"},
		StartDate:         "2020-01-01",
		EndDate:           "2023-01-01",
		InSampleMonths:    12,
		OutOfSampleMonths: 3,
		StepMonths:        3,
		Objective:         optimization.ObjectiveMaxSharpe,
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.True(t, len(body) > 0)
	assert.Equal(t, '╔', []rune(body)[0])
}

func TestHandleSaveAndGetPrices(t *testing.T) {
	handlers, _ := setupHandlers(t, "handlers_prices")

	series := marketdata.PriceSeries{
		{Date: time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000},
		{Date: time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC), Open: 100.5, High: 102, Low: 100, Close: 101.2, Volume: 1200},
	}
	bodyBytes, _ := json.Marshal(series)

	req := httptest.NewRequest("POST", "/api/prices/AAA", bytes.NewReader(bodyBytes))
	req = withURLParam(req, "symbol", "AAA")
	w := httptest.NewRecorder()
	handlers.HandleSavePrices(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var saveResponse map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&saveResponse))
	assert.Equal(t, "AAA", saveResponse["symbol"])
	assert.Equal(t, float64(2), saveResponse["saved"])

	req = httptest.NewRequest("GET", "/api/prices/AAA?start=2023-01-01&end=2023-02-01", nil)
	req = withURLParam(req, "symbol", "AAA")
	w = httptest.NewRecorder()
	handlers.HandleGetPrices(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var loaded marketdata.PriceSeries
	require.NoError(t, json.NewDecoder(w.Body).Decode(&loaded))
	require.Len(t, loaded, 2)
	assert.InDelta(t, 100.5, loaded[0].Close, 1e-9)
}

func TestHandleSavePricesRejectsUnsortedSeries(t *testing.T) {
	handlers, _ := setupHandlers(t, "handlers_unsorted")

	series := marketdata.PriceSeries{
		{Date: time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC), Close: 101},
		{Date: time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), Close: 100},
	}
	bodyBytes, _ := json.Marshal(series)

	req := httptest.NewRequest("POST", "/api/prices/AAA", bytes.NewReader(bodyBytes))
	req = withURLParam(req, "symbol", "AAA")
	w := httptest.NewRecorder()
	handlers.HandleSavePrices(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleListSymbols(t *testing.T) {
	handlers, store := setupHandlers(t, "handlers_symbols")
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	seedPrices(t, store, "AAA", start, 5, 0.001)
	seedPrices(t, store, "BBB", start, 5, 0.001)

	req := httptest.NewRequest("GET", "/api/symbols", nil)
	w := httptest.NewRecorder()
	handlers.HandleListSymbols(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Symbols []string `json:"symbols"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.ElementsMatch(t, []string{"AAA", "BBB"}, response.Symbols)
}

type recordingUploader struct {
	keys []string
}

func (u *recordingUploader) Upload(key, contentType string, body []byte) error {
	u.keys = append(u.keys, key)
	return nil
}

func TestHandleWalkForwardReportArchivesBeforeResponding(t *testing.T) {
	handlers, store := setupHandlers(t, "handlers_archive")
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	seedPrices(t, store, "AAA", start, 1100, 0.0006)
	seedPrices(t, store, "BBB", start, 1100, 0.0002)

	uploader := &recordingUploader{}
	handlers.archiver = uploader

	w := postJSON(handlers.HandleWalkForwardReport, "/api/walkforward/report", WalkForwardRequest{
		Symbols:           []string{"AAA", "BBB"},
		StartDate:         "2020-01-01",
		EndDate:           "2023-01-01",
		InSampleMonths:    12,
		OutOfSampleMonths: 3,
		StepMonths:        3,
		Objective:         optimization.ObjectiveMaxSharpe,
	})

	assert.Equal(t, http.StatusOK, w.Code)

	// The upload completes before the handler returns, so shutdown can
	// never abandon it.
	require.Len(t, uploader.keys, 1)
	assert.Contains(t, uploader.keys[0], "walkforward/max_sharpe-")
}

func TestHandleWalkForwardTargetVolatility(t *testing.T) {
	handlers, store := setupHandlers(t, "handlers_wf_targetvol")
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	seedPrices(t, store, "AAA", start, 1100, 0.0006)
	seedPrices(t, store, "BBB", start, 1100, 0.0002)

	req := WalkForwardRequest{
		Symbols:           []string{"AAA", "BBB"},
		StartDate:         "2020-01-01",
		EndDate:           "2023-01-01",
		InSampleMonths:    12,
		OutOfSampleMonths: 3,
		StepMonths:        3,
		Objective:         optimization.ObjectiveTargetVolatility,
	}

	// Missing target is rejected up front, not swallowed per window.
	w := postJSON(handlers.HandleWalkForward, "/api/walkforward", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req.TargetVolatility = 0.10
	w = postJSON(handlers.HandleWalkForward, "/api/walkforward", req)
	assert.Equal(t, http.StatusOK, w.Code)

	var result walkforward.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.NotEmpty(t, result.Windows)
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}
