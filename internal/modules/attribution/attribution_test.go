package attribution

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(cfg Config) *Engine {
	return NewEngine(cfg, zerolog.Nop())
}

func TestCalculateFiveFactorScenario(t *testing.T) {
	exposures := map[string]float64{
		"market": 1.05, "size": -0.20, "value": 0.15, "momentum": 0.30, "quality": 0.25,
	}
	returns := map[string]float64{
		"market": 0.03, "size": -0.01, "value": 0.005, "momentum": 0.02, "quality": 0.015,
	}

	result := newTestEngine(Config{}).Calculate(0.05, exposures, returns)

	assert.InDelta(t, 0.044, result.FactorReturn, 1e-9)
	assert.InDelta(t, 0.006, result.ResidualReturn, 1e-9)
	require.NotEmpty(t, result.Factors)
	assert.Equal(t, "market", result.Factors[0].Factor)
}

func TestGradientImportanceMatchesFactorReturn(t *testing.T) {
	exposures := map[string]float64{"market": 1.1, "size": -0.3}
	returns := map[string]float64{"market": 0.025, "size": -0.012}

	result := newTestEngine(Config{}).Calculate(0.03, exposures, returns)

	for _, c := range result.Factors {
		assert.InDelta(t, math.Abs(c.FactorReturn), c.GradientImportance, 1e-6,
			"gradient for %s", c.Factor)
	}
}

func TestShapleyValuesEqualDirectContributions(t *testing.T) {
	exposures := map[string]float64{"market": 0.9, "value": 0.4, "momentum": -0.2}
	returns := map[string]float64{"market": 0.02, "value": 0.01, "momentum": 0.03}

	result := newTestEngine(Config{}).Calculate(0.04, exposures, returns)

	var shapleySum float64
	for _, c := range result.Factors {
		assert.InDelta(t, c.Contribution, c.ShapleyValue, 1e-8, "shapley for %s", c.Factor)
		shapleySum += c.ShapleyValue
	}
	assert.InDelta(t, result.FactorReturn, shapleySum, 1e-8)
}

func TestMissingFactorReturnContributesZero(t *testing.T) {
	exposures := map[string]float64{"market": 1.0, "unlisted": 0.5}
	returns := map[string]float64{"market": 0.02}

	result := newTestEngine(Config{}).Calculate(0.02, exposures, returns)

	for _, c := range result.Factors {
		if c.Factor == "unlisted" {
			assert.Equal(t, 0.0, c.Contribution)
			assert.Equal(t, 0.0, c.FactorReturn)
		}
	}
	assert.InDelta(t, 0.02, result.FactorReturn, 1e-12)
}

func TestEmptyFactorsIsAllResidual(t *testing.T) {
	result := newTestEngine(Config{}).Calculate(0.05, map[string]float64{}, map[string]float64{})

	assert.Equal(t, 0.0, result.FactorReturn)
	assert.InDelta(t, 0.05, result.ResidualReturn, 1e-12)
	assert.Empty(t, result.Factors)

	// Waterfall still has residual + total bars.
	require.Len(t, result.Waterfall, 2)
	assert.Equal(t, BarResidual, result.Waterfall[0].Type)
	assert.Equal(t, BarTotal, result.Waterfall[1].Type)
}

func TestWaterfallContiguity(t *testing.T) {
	exposures := map[string]float64{
		"market": 1.05, "size": -0.20, "value": 0.15, "momentum": 0.30, "quality": 0.25,
	}
	returns := map[string]float64{
		"market": 0.03, "size": -0.01, "value": 0.005, "momentum": 0.02, "quality": 0.015,
	}

	result := newTestEngine(Config{}).Calculate(0.05, exposures, returns)
	bars := result.Waterfall
	require.GreaterOrEqual(t, len(bars), 3)

	// Factor and residual bars are contiguous; the trailing total bar
	// restarts at zero and spans the full return.
	preTotal := bars[:len(bars)-1]
	for i := 1; i < len(preTotal); i++ {
		assert.InDelta(t, preTotal[i-1].End, preTotal[i].Start, 1e-12, "bar %d", i)
	}
	assert.InDelta(t, 0.05, preTotal[len(preTotal)-1].End, 1e-12)

	total := bars[len(bars)-1]
	assert.Equal(t, 0.0, total.Start)
	assert.InDelta(t, 0.05, total.End, 1e-12)
}

func TestWaterfallCapTruncatesIntoResidual(t *testing.T) {
	exposures := map[string]float64{}
	returns := map[string]float64{}
	for _, name := range []string{"f1", "f2", "f3", "f4"} {
		exposures[name] = 1.0
		returns[name] = 0.01
	}

	result := newTestEngine(Config{MaxWaterfallFactors: 2}).Calculate(0.05, exposures, returns)

	factorBars := 0
	for _, bar := range result.Waterfall {
		if bar.Type == BarFactor {
			factorBars++
		}
	}
	assert.Equal(t, 2, factorBars)

	// Residual absorbs the two truncated factors plus the unexplained
	// return: 0.05 - 0.02 shown = 0.03.
	residual := result.Waterfall[len(result.Waterfall)-2]
	assert.Equal(t, BarResidual, residual.Type)
	assert.InDelta(t, 0.03, residual.Value, 1e-12)
}

func TestMinContributionFilter(t *testing.T) {
	exposures := map[string]float64{"market": 1.0, "noise": 0.01}
	returns := map[string]float64{"market": 0.03, "noise": 0.0001}

	result := newTestEngine(Config{MinContribution: 0.001}).Calculate(0.03, exposures, returns)

	require.Len(t, result.Factors, 1)
	assert.Equal(t, "market", result.Factors[0].Factor)
	assert.Equal(t, 1, result.Summary.FactorsDropped)
	// Factor return still counts the filtered factor.
	assert.InDelta(t, 0.030001, result.FactorReturn, 1e-9)
}

func TestSummaryDirectionsAndTops(t *testing.T) {
	exposures := map[string]float64{"market": 1.0, "size": 1.0, "value": 1.0}
	returns := map[string]float64{"market": 0.03, "size": -0.02, "value": 0.001}

	result := newTestEngine(Config{}).Calculate(0.02, exposures, returns)
	s := result.Summary

	assert.Equal(t, 2, s.PositiveCount)
	assert.Equal(t, 1, s.NegativeCount)
	assert.InDelta(t, 0.031, s.PositiveSum, 1e-12)
	assert.InDelta(t, -0.02, s.NegativeSum, 1e-12)
	assert.Equal(t, "market", s.TopPositive)
	assert.Equal(t, "size", s.TopNegative)
}

func TestRSquaredConventions(t *testing.T) {
	assert.Equal(t, 1.0, rSquaredProxy(0, 0))
	assert.Equal(t, 0.0, rSquaredProxy(0, 0.01))
	assert.InDelta(t, 0.88, rSquaredProxy(0.05, 0.044), 1e-9)
	// Wildly wrong model clamps to zero.
	assert.Equal(t, 0.0, rSquaredProxy(0.01, 0.5))
}

func TestRenderWaterfallPNG(t *testing.T) {
	exposures := map[string]float64{"market": 1.0, "size": -0.2}
	returns := map[string]float64{"market": 0.03, "size": -0.01}

	result := newTestEngine(Config{}).Calculate(0.04, exposures, returns)

	png, err := RenderWaterfallPNG(result)
	require.NoError(t, err)
	assert.NotEmpty(t, png)
	// PNG magic bytes.
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestRenderWaterfallPNGEmpty(t *testing.T) {
	_, err := RenderWaterfallPNG(&Result{})
	assert.Error(t, err)
}
