package optimization

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/frontieralpha/quant/internal/modules/marketdata"
	"github.com/frontieralpha/quant/internal/modules/statistics"
)

// ExposureProvider attaches factor exposures to an optimized portfolio.
// Implementations live outside this package; a nil provider leaves
// FactorExposures empty.
type ExposureProvider interface {
	Exposures(symbols []string, prices map[string]marketdata.PriceSeries, weights map[string]float64) (map[string]float64, error)
}

// Optimizer is the public entry point for portfolio optimization. It is
// stateless between calls; every call computes fresh matrices.
type Optimizer struct {
	exposures ExposureProvider
	cache     *marketdata.Cache
	log       zerolog.Logger
}

func NewOptimizer(exposures ExposureProvider, cache *marketdata.Cache, log zerolog.Logger) *Optimizer {
	return &Optimizer{
		exposures: exposures,
		cache:     cache,
		log:       log.With().Str("component", "optimizer").Logger(),
	}
}

// Optimize computes target weights for the requested symbols under the
// configured objective, validates them with a bootstrap Monte Carlo, and
// assembles an annualized result.
func (o *Optimizer) Optimize(symbols []string, prices map[string]marketdata.PriceSeries, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, &InvalidConfigError{Field: "symbols", Reason: "at least one symbol required"}
	}

	started := time.Now()

	returns, err := statistics.ReturnsMatrix(prices, symbols)
	if err != nil {
		return nil, err
	}
	returns = statistics.Align(returns)
	means := statistics.MeanReturns(returns)

	sigma, err := o.shrunkCovariance(returns, symbols, cfg.ShrinkageDelta)
	if err != nil {
		return nil, err
	}

	mu := make([]float64, len(symbols))
	for i, symbol := range symbols {
		mu[i] = means[symbol]
	}

	strategy := NewStrategy(cfg)
	weightVec, err := strategy.Solve(mu, sigma, Constraints{
		MinWeight: cfg.MinWeight,
		MaxWeight: cfg.MaxWeight,
	})
	if err != nil {
		return nil, err
	}

	weights := make(map[string]float64, len(symbols))
	var invested float64
	for i, symbol := range symbols {
		weights[symbol] = weightVec[i]
		invested += weightVec[i]
	}

	dailyReturn := dot(weightVec, mu)
	dailyVol := math.Sqrt(portfolioVariance(weightVec, sigma))

	annReturn := dailyReturn * TradingDaysPerYear
	annVol := AnnualizedVolatility(dailyVol)

	var sharpe float64
	if annVol > 0 {
		sharpe = (annReturn - cfg.RiskFreeRate) / annVol
	}

	simulator := NewMonteCarloSimulator(cfg.Simulations, cfg.Seed)
	monteCarlo, err := simulator.Run(PortfolioReturns(weightVec, symbols, returns))
	if err != nil {
		return nil, fmt.Errorf("monte carlo validation failed: %w", err)
	}

	var exposures map[string]float64
	if o.exposures != nil {
		exposures, err = o.exposures.Exposures(symbols, prices, weights)
		if err != nil {
			// Exposures enrich the result but are not load-bearing.
			o.log.Warn().Err(err).Msg("Factor exposure calculation failed, continuing without")
			exposures = nil
		}
	}

	result := &Result{
		ID:                 uuid.New().String(),
		Objective:          strategy.Name(),
		Weights:            weights,
		CashWeight:         math.Max(0, 1-invested),
		ExpectedReturn:     annReturn,
		ExpectedVolatility: annVol,
		SharpeRatio:        sharpe,
		FactorExposures:    exposures,
		MonteCarlo:         monteCarlo,
		CreatedAt:          time.Now().UTC(),
	}
	result.Explanation = buildExplanation(result, cfg)

	o.log.Info().
		Str("objective", result.Objective).
		Int("symbols", len(symbols)).
		Float64("sharpe", sharpe).
		Dur("elapsed", time.Since(started)).
		Msg("Optimization complete")

	return result, nil
}

// shrunkCovariance computes (or reuses) the shrinkage-adjusted covariance
// for an aligned returns map. The cache key covers the symbol set and
// sample length; the matrix itself is cheap enough that staleness across
// identical shapes is acceptable within the TTL.
func (o *Optimizer) shrunkCovariance(returns map[string][]float64, symbols []string, delta float64) ([][]float64, error) {
	compute := func() (interface{}, error) {
		sigma, err := statistics.Covariance(returns, symbols)
		if err != nil {
			return nil, err
		}
		return statistics.ShrinkCovariance(sigma, delta), nil
	}

	if o.cache == nil {
		sigma, err := compute()
		if err != nil {
			return nil, err
		}
		return sigma.([][]float64), nil
	}

	sample := 0
	if len(symbols) > 0 {
		sample = len(returns[symbols[0]])
	}
	key := fmt.Sprintf("cov:%s:%d:%g", strings.Join(symbols, ","), sample, delta)

	var sigma [][]float64
	if err := o.cache.Do(key, marketdata.TTLCovariance, &sigma, compute); err != nil {
		return nil, err
	}
	return sigma, nil
}

// buildExplanation summarizes top holdings and factor tilts in a human
// readable sentence or two.
func buildExplanation(r *Result, cfg Config) string {
	type holding struct {
		symbol string
		weight float64
	}
	holdings := make([]holding, 0, len(r.Weights))
	for symbol, w := range r.Weights {
		holdings = append(holdings, holding{symbol, w})
	}
	sort.Slice(holdings, func(i, j int) bool {
		if holdings[i].weight != holdings[j].weight {
			return holdings[i].weight > holdings[j].weight
		}
		return holdings[i].symbol < holdings[j].symbol
	})

	var b strings.Builder
	fmt.Fprintf(&b, "%s portfolio: expected return %.1f%%, volatility %.1f%%, Sharpe %.2f.",
		r.Objective, r.ExpectedReturn*100, r.ExpectedVolatility*100, r.SharpeRatio)

	top := holdings
	if len(top) > 3 {
		top = top[:3]
	}
	parts := make([]string, 0, len(top))
	for _, h := range top {
		parts = append(parts, fmt.Sprintf("%s %.1f%%", h.symbol, h.weight*100))
	}
	fmt.Fprintf(&b, " Top holdings: %s.", strings.Join(parts, ", "))

	if r.CashWeight > 1e-9 {
		fmt.Fprintf(&b, " Cash residual %.1f%% from volatility targeting.", r.CashWeight*100)
	}

	if len(r.FactorExposures) > 0 {
		topFactor, topValue := "", 0.0
		for factor, value := range r.FactorExposures {
			if math.Abs(value) > math.Abs(topValue) || topFactor == "" {
				topFactor, topValue = factor, value
			}
		}
		fmt.Fprintf(&b, " Largest factor tilt: %s (%.2f).", topFactor, topValue)
	}

	if r.MonteCarlo != nil && exceedsCVaRLimit(r.MonteCarlo.CVaR95, cfg.MaxCVaR) {
		fmt.Fprintf(&b, " Warning: simulated CVaR95 %.1f%% breaches the %.1f%% loss cap.",
			r.MonteCarlo.CVaR95*100, cfg.MaxCVaR*100)
	}

	return b.String()
}
