package walkforward

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontieralpha/quant/internal/modules/marketdata"
	"github.com/frontieralpha/quant/internal/modules/optimization"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// dailyPrices builds a weekday-agnostic daily series between start and
// end with deterministic drift plus wobble.
func dailyPrices(start, end time.Time, drift float64, phase int) marketdata.PriceSeries {
	var series marketdata.PriceSeries
	price := 100.0
	for d, i := start, 0; d.Before(end); d, i = d.AddDate(0, 0, 1), i+1 {
		wobble := 0.003 * float64((i+phase)%7-3) / 3
		price *= 1 + drift + wobble
		series = append(series, marketdata.Candle{
			Date: d, Open: price, High: price, Low: price, Close: price, Volume: 1000,
		})
	}
	return series
}

func testPrices(start, end time.Time) map[string]marketdata.PriceSeries {
	return map[string]marketdata.PriceSeries{
		"AAA": dailyPrices(start, end, 0.0004, 0),
		"BBB": dailyPrices(start, end, 0.0002, 3),
		"CCC": dailyPrices(start, end, 0.0001, 5),
	}
}

func baseConfig() Config {
	return Config{
		Symbols:           []string{"AAA", "BBB", "CCC"},
		StartDate:         date(2020, 1, 1),
		EndDate:           date(2023, 1, 1),
		InSampleMonths:    12,
		OutOfSampleMonths: 3,
		StepMonths:        3,
		Objective:         optimization.ObjectiveMaxSharpe,
		RiskFreeRate:      0.02,
	}
}

func TestGenerateRollingWindows(t *testing.T) {
	windows := generateWindows(baseConfig())

	// 36 months of data, 12+3 month windows stepping 3: starts at months
	// 0,3,...,21 -> 8 windows.
	require.Len(t, windows, 8)

	first := windows[0]
	assert.Equal(t, date(2020, 1, 1), first.InSample.Start)
	assert.Equal(t, date(2021, 1, 1), first.InSample.End)
	assert.Equal(t, date(2021, 1, 1), first.OutOfSample.Start)
	assert.Equal(t, date(2021, 4, 1), first.OutOfSample.End)

	second := windows[1]
	assert.Equal(t, date(2020, 4, 1), second.InSample.Start)
	assert.Equal(t, date(2021, 4, 1), second.InSample.End)

	last := windows[len(windows)-1]
	assert.False(t, last.OutOfSample.End.After(date(2023, 1, 1)))
}

func TestGenerateAnchoredWindows(t *testing.T) {
	cfg := baseConfig()
	cfg.AnchoredStart = true
	windows := generateWindows(cfg)
	require.Len(t, windows, 8)

	// Every in-sample start stays pinned; the end expands by the step.
	for i, w := range windows {
		assert.Equal(t, date(2020, 1, 1), w.InSample.Start, "window %d", i)
	}
	assert.Equal(t, date(2021, 1, 1), windows[0].InSample.End)
	assert.Equal(t, date(2021, 4, 1), windows[1].InSample.End)
}

func TestZeroWindowsYieldsZeroResult(t *testing.T) {
	cfg := baseConfig()
	cfg.StartDate = date(2020, 1, 1)
	cfg.EndDate = date(2021, 1, 1)
	// 12-month in-sample leaves no room for a 3-month out-of-sample
	// inside a 12-month range.

	v := NewValidator(zerolog.Nop())
	result, err := v.Run(testPrices(date(2020, 1, 1), date(2021, 1, 1)), cfg)
	require.NoError(t, err)

	assert.Empty(t, result.Windows)
	assert.Empty(t, result.EquityCurve)
	assert.Zero(t, result.TotalReturn)
	assert.Zero(t, result.AnnualizedReturn)
	assert.Zero(t, result.Volatility)
	assert.Zero(t, result.SharpeRatio)
	assert.Zero(t, result.MaxDrawdown)
	assert.Zero(t, result.AvgParameterStability)
	assert.Zero(t, result.OverfitRatio)
	assert.Zero(t, result.InformationDecay)
}

func TestRunFullPipeline(t *testing.T) {
	cfg := baseConfig()
	prices := testPrices(date(2019, 12, 1), date(2023, 1, 1))

	v := NewValidator(zerolog.Nop())
	result, err := v.Run(prices, cfg)
	require.NoError(t, err)
	require.Len(t, result.Windows, 8)

	// First window has no prior to compare against.
	assert.Equal(t, 1.0, result.Windows[0].ParameterStability)

	for i, w := range result.Windows {
		assert.Equal(t, i+1, w.ID)

		var sum float64
		for _, weight := range w.Weights {
			assert.GreaterOrEqual(t, weight, 0.0)
			sum += weight
		}
		assert.InDelta(t, 1.0, sum, 1e-6, "window %d weights", i)
	}

	// The stitched curve is continuous and chronological.
	require.NotEmpty(t, result.EquityCurve)
	for i := 1; i < len(result.EquityCurve); i++ {
		assert.True(t, result.EquityCurve[i].Date.After(result.EquityCurve[i-1].Date))
	}

	final := result.EquityCurve[len(result.EquityCurve)-1].Value
	assert.InDelta(t, final-1, result.TotalReturn, 1e-12)
	assert.GreaterOrEqual(t, result.MaxDrawdown, 0.0)
	assert.Greater(t, result.AvgParameterStability, 0.0)
}

func TestRunTargetVolatilityObjective(t *testing.T) {
	cfg := baseConfig()
	cfg.Objective = optimization.ObjectiveTargetVolatility
	cfg.TargetVolatility = 0.10
	prices := testPrices(date(2019, 12, 1), date(2023, 1, 1))

	v := NewValidator(zerolog.Nop())
	result, err := v.Run(prices, cfg)
	require.NoError(t, err)

	// The target is passed through to the per-window solver, so windows
	// are evaluated like any other objective instead of being skipped.
	require.Len(t, result.Windows, 8)
	require.NotEmpty(t, result.EquityCurve)

	for i, w := range result.Windows {
		var sum float64
		for _, weight := range w.Weights {
			assert.GreaterOrEqual(t, weight, 0.0)
			sum += weight
		}
		// Scaling down to hit the target can leave a cash residual.
		assert.Greater(t, sum, 0.0, "window %d weights", i)
		assert.LessOrEqual(t, sum, 1.0+1e-6, "window %d weights", i)
	}
}

func TestRunTargetVolatilityRequiresTarget(t *testing.T) {
	cfg := baseConfig()
	cfg.Objective = optimization.ObjectiveTargetVolatility

	v := NewValidator(zerolog.Nop())
	_, err := v.Run(testPrices(date(2019, 12, 1), date(2023, 1, 1)), cfg)
	require.Error(t, err)

	var cfgErr *optimization.InvalidConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestRunValidation(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	cfg := baseConfig()
	cfg.Symbols = nil
	_, err := v.Run(nil, cfg)
	assert.Error(t, err)

	cfg = baseConfig()
	cfg.InSampleMonths = 0
	_, err = v.Run(nil, cfg)
	assert.Error(t, err)

	cfg = baseConfig()
	cfg.EndDate = cfg.StartDate
	_, err = v.Run(nil, cfg)
	assert.Error(t, err)
}

func TestParameterStability(t *testing.T) {
	assert.Equal(t, 1.0, parameterStability(map[string]float64{"AAA": 0.5}, nil))

	// Identical weights: perfectly stable.
	w := map[string]float64{"AAA": 0.5, "BBB": 0.5}
	assert.InDelta(t, 1.0, parameterStability(w, w), 1e-12)

	// Full swap between two assets: distance sqrt(0.5), stability ~0.29.
	prev := map[string]float64{"AAA": 1.0, "BBB": 0.0}
	curr := map[string]float64{"AAA": 0.5, "BBB": 0.5}
	assert.InDelta(t, 1-0.7071, parameterStability(curr, prev), 1e-3)
}

func TestMaxDrawdown(t *testing.T) {
	curve := []EquityPoint{
		{Value: 1.0}, {Value: 1.2}, {Value: 0.9}, {Value: 1.1},
	}
	assert.InDelta(t, 0.25, maxDrawdown(curve), 1e-12)
	assert.Zero(t, maxDrawdown(nil))
}

func TestInformationDecay(t *testing.T) {
	// Perfectly correlated: no decay.
	assert.InDelta(t, 0.0, informationDecay([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-12)
	// Perfectly anti-correlated: maximal decay.
	assert.InDelta(t, 2.0, informationDecay([]float64{1, 2, 3}, []float64{3, 2, 1}), 1e-12)
	// Degenerate inputs.
	assert.Zero(t, informationDecay([]float64{1}, []float64{2}))
	assert.Zero(t, informationDecay([]float64{1, 1}, []float64{2, 3}))
}

func TestGenerateReport(t *testing.T) {
	cfg := baseConfig()
	prices := testPrices(date(2019, 12, 1), date(2023, 1, 1))

	v := NewValidator(zerolog.Nop())
	result, err := v.Run(prices, cfg)
	require.NoError(t, err)

	report := GenerateReport(result)
	assert.True(t, strings.HasPrefix(report, "╔"))
	assert.Contains(t, report, "WALK-FORWARD VALIDATION REPORT")
	assert.Contains(t, report, "MAX_SHARPE")
	assert.Contains(t, report, "Overfit ratio")
	assert.Contains(t, report, "#1 ")

	// Every line starts with a box-drawing border character.
	for _, line := range strings.Split(strings.TrimSpace(report), "\n") {
		require.NotEmpty(t, line)
		assert.Contains(t, "╔╠╚║", string([]rune(line)[0]))
	}
}

func TestRenderEquityCurvePNG(t *testing.T) {
	cfg := baseConfig()
	prices := testPrices(date(2019, 12, 1), date(2023, 1, 1))

	v := NewValidator(zerolog.Nop())
	result, err := v.Run(prices, cfg)
	require.NoError(t, err)

	png, err := RenderEquityCurvePNG(result)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])

	_, err = RenderEquityCurvePNG(&Result{})
	assert.Error(t, err)
}
