// Package walkforward stress-tests the optimization procedure
// out-of-sample: it re-optimizes on rolling or anchored in-sample
// windows, applies the weights unchanged to the following out-of-sample
// period, and stitches the results into one continuous equity curve with
// overfitting diagnostics.
package walkforward

import (
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/frontieralpha/quant/internal/modules/marketdata"
	"github.com/frontieralpha/quant/internal/modules/optimization"
	"github.com/frontieralpha/quant/internal/modules/statistics"
)

const tradingDaysPerYear = optimization.TradingDaysPerYear

// Validator runs walk-forward analysis. It reuses the optimizer's
// strategy objects for the per-window solve, with a reduced iteration
// budget, so in-sample weights come from the exact same objective
// definitions the live optimizer uses.
type Validator struct {
	log zerolog.Logger
}

func NewValidator(log zerolog.Logger) *Validator {
	return &Validator{
		log: log.With().Str("component", "walkforward").Logger(),
	}
}

// Run executes the full walk-forward pipeline. A date range too short for
// even one window returns an all-zero result, not an error.
func (v *Validator) Run(prices map[string]marketdata.PriceSeries, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	windows := generateWindows(cfg)
	result := &Result{Objective: cfg.Objective, Windows: []Window{}}
	if len(windows) == 0 {
		v.log.Warn().
			Time("start", cfg.StartDate).
			Time("end", cfg.EndDate).
			Msg("Date range too short for any walk-forward window")
		return result, nil
	}

	strategy := optimization.NewStrategy(optimization.Config{
		Objective:        cfg.Objective,
		TargetVolatility: cfg.TargetVolatility,
		RiskFreeRate:     cfg.RiskFreeRate,
		Iterations:       windowIterations,
	})

	equity := []EquityPoint{}
	value := 1.0
	var stitchedReturns []float64
	var prevWeights map[string]float64

	for _, window := range windows {
		w, oosDaily, ok := v.evaluateWindow(window, prices, cfg, strategy, prevWeights)
		if !ok {
			continue
		}

		for i, r := range oosDaily.returns {
			value *= 1 + r
			equity = append(equity, EquityPoint{Date: oosDaily.dates[i], Value: value})
			stitchedReturns = append(stitchedReturns, r)
		}

		prevWeights = w.Weights
		w.ID = len(result.Windows) + 1
		result.Windows = append(result.Windows, w)
	}

	result.EquityCurve = equity
	v.aggregate(result, stitchedReturns, cfg.RiskFreeRate)

	v.log.Info().
		Str("objective", cfg.Objective).
		Int("windows", len(result.Windows)).
		Float64("totalReturn", result.TotalReturn).
		Float64("overfitRatio", result.OverfitRatio).
		Msg("Walk-forward run complete")

	return result, nil
}

type dailySlice struct {
	dates   []time.Time
	returns []float64
}

// evaluateWindow optimizes on the in-sample slice and replays the weights
// on the out-of-sample slice. Windows whose slices are too thin to
// compute returns are skipped.
func (v *Validator) evaluateWindow(
	window Window,
	prices map[string]marketdata.PriceSeries,
	cfg Config,
	strategy optimization.Strategy,
	prevWeights map[string]float64,
) (Window, dailySlice, bool) {
	inSample, ok := v.sliceReturns(prices, cfg.Symbols, window.InSample)
	if !ok {
		return window, dailySlice{}, false
	}
	outOfSample, ok := v.sliceReturns(prices, cfg.Symbols, window.OutOfSample)
	if !ok {
		return window, dailySlice{}, false
	}

	means := statistics.MeanReturns(inSample.returns)
	sigma, err := statistics.Covariance(inSample.returns, cfg.Symbols)
	if err != nil {
		v.log.Debug().Err(err).Int("window", window.ID).Msg("Skipping window, covariance failed")
		return window, dailySlice{}, false
	}
	sigma = statistics.ShrinkCovariance(sigma, statistics.DefaultShrinkageDelta)

	mu := make([]float64, len(cfg.Symbols))
	for i, symbol := range cfg.Symbols {
		mu[i] = means[symbol]
	}

	weightVec, err := strategy.Solve(mu, sigma, optimization.Constraints{})
	if err != nil {
		v.log.Debug().Err(err).Int("window", window.ID).Msg("Skipping window, solve failed")
		return window, dailySlice{}, false
	}

	weights := make(map[string]float64, len(cfg.Symbols))
	for i, symbol := range cfg.Symbols {
		weights[symbol] = weightVec[i]
	}

	isDaily := optimization.PortfolioReturns(weightVec, cfg.Symbols, inSample.returns)
	oosDaily := optimization.PortfolioReturns(weightVec, cfg.Symbols, outOfSample.returns)

	window.Weights = weights
	window.InSampleReturn = cumulate(isDaily)
	window.OutOfSampleReturn = cumulate(oosDaily)
	window.InSampleSharpe = sharpe(isDaily, cfg.RiskFreeRate)
	window.OutOfSampleSharpe = sharpe(oosDaily, cfg.RiskFreeRate)
	window.ParameterStability = parameterStability(weights, prevWeights)

	return window, dailySlice{dates: outOfSample.dates, returns: oosDaily}, true
}

type alignedReturns struct {
	dates   []time.Time
	returns map[string][]float64
}

// sliceReturns cuts each symbol's prices to the window range and builds
// an aligned returns map. Returns false when any symbol lacks the two
// observations needed for a return.
func (v *Validator) sliceReturns(prices map[string]marketdata.PriceSeries, symbols []string, r DateRange) (alignedReturns, bool) {
	sliced := make(map[string]marketdata.PriceSeries, len(symbols))
	for _, symbol := range symbols {
		sliced[symbol] = prices[symbol].Slice(r.Start, r.End)
	}

	returns, err := statistics.ReturnsMatrix(sliced, symbols)
	if err != nil {
		return alignedReturns{}, false
	}
	returns = statistics.Align(returns)

	// Dates follow the first symbol's sliced series, skipping the first
	// observation just like the returns do.
	length := len(returns[symbols[0]])
	series := sliced[symbols[0]]
	dates := make([]time.Time, 0, length)
	for _, candle := range series[len(series)-length:] {
		dates = append(dates, candle.Date)
	}

	return alignedReturns{dates: dates, returns: returns}, true
}

// aggregate fills the result's diagnostics from the stitched curve and
// the window list. With zero windows everything stays at its zero value.
func (v *Validator) aggregate(result *Result, stitched []float64, riskFreeRate float64) {
	if len(result.Windows) == 0 || len(stitched) == 0 {
		return
	}

	final := result.EquityCurve[len(result.EquityCurve)-1].Value
	result.TotalReturn = final - 1

	days := float64(len(stitched))
	result.AnnualizedReturn = math.Pow(final, tradingDaysPerYear/days) - 1

	if len(stitched) > 1 {
		result.Volatility = stat.StdDev(stitched, nil) * math.Sqrt(tradingDaysPerYear)
	}
	if result.Volatility > 0 {
		result.SharpeRatio = (result.AnnualizedReturn - riskFreeRate) / result.Volatility
	}
	result.MaxDrawdown = maxDrawdown(result.EquityCurve)

	var stabilitySum, isSharpeSum, oosSharpeSum float64
	isReturns := make([]float64, len(result.Windows))
	oosReturns := make([]float64, len(result.Windows))
	for i, w := range result.Windows {
		stabilitySum += w.ParameterStability
		isSharpeSum += w.InSampleSharpe
		oosSharpeSum += w.OutOfSampleSharpe
		isReturns[i] = w.InSampleReturn
		oosReturns[i] = w.OutOfSampleReturn
	}

	n := float64(len(result.Windows))
	result.AvgParameterStability = stabilitySum / n

	meanOOSSharpe := oosSharpeSum / n
	if meanOOSSharpe == 0 {
		result.OverfitRatio = OverfitSentinel
	} else {
		result.OverfitRatio = (isSharpeSum / n) / meanOOSSharpe
	}

	result.InformationDecay = informationDecay(isReturns, oosReturns)
}

// parameterStability is 1 - sqrt(sum((w_curr - w_prev)^2)); the first
// window has no prior and scores 1.
func parameterStability(current, previous map[string]float64) float64 {
	if previous == nil {
		return 1.0
	}
	var sumSq float64
	for symbol, w := range current {
		d := w - previous[symbol]
		sumSq += d * d
	}
	for symbol, w := range previous {
		if _, ok := current[symbol]; !ok {
			sumSq += w * w
		}
	}
	return 1 - math.Sqrt(sumSq)
}

// informationDecay is 1 - correlation(inSampleReturns, outOfSampleReturns)
// across windows. With fewer than two windows, or a degenerate (zero
// variance) series, there is no measurable decay.
func informationDecay(inSample, outOfSample []float64) float64 {
	if len(inSample) < 2 {
		return 0
	}
	corr := stat.Correlation(inSample, outOfSample, nil)
	if math.IsNaN(corr) {
		return 0
	}
	return 1 - corr
}

// maxDrawdown is the largest peak-to-trough decline over the curve, as a
// positive fraction.
func maxDrawdown(curve []EquityPoint) float64 {
	peak, worst := 0.0, 0.0
	for _, p := range curve {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			dd := (peak - p.Value) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func cumulate(returns []float64) float64 {
	growth := 1.0
	for _, r := range returns {
		growth *= 1 + r
	}
	return growth - 1
}

// sharpe annualizes the ratio of excess mean daily return to daily
// volatility. Zero volatility yields zero, never a division error.
func sharpe(daily []float64, riskFreeRate float64) float64 {
	if len(daily) < 2 {
		return 0
	}
	mean := stat.Mean(daily, nil)
	sd := stat.StdDev(daily, nil)
	if sd == 0 {
		return 0
	}
	return (mean - riskFreeRate/tradingDaysPerYear) / sd * math.Sqrt(tradingDaysPerYear)
}
