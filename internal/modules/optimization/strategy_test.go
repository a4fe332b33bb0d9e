package optimization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontieralpha/quant/internal/modules/statistics"
)

// Two uncorrelated assets: the first has double the return at the same
// risk, so max-Sharpe should prefer it.
func twoAssetInputs() ([]float64, [][]float64) {
	mu := []float64{0.0008, 0.0004}
	sigma := [][]float64{
		{0.0001, 0},
		{0, 0.0001},
	}
	return mu, sigma
}

func assertValidWeights(t *testing.T, weights []float64) {
	t.Helper()
	var sum float64
	for _, w := range weights {
		assert.GreaterOrEqual(t, w, 0.0)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestMaxSharpePrefersHigherReturn(t *testing.T) {
	mu, sigma := twoAssetInputs()

	strategy := NewStrategy(Config{Objective: ObjectiveMaxSharpe, RiskFreeRate: 0.05})
	weights, err := strategy.Solve(mu, sigma, Constraints{})
	require.NoError(t, err)

	assertValidWeights(t, weights)
	assert.Greater(t, weights[0], weights[1])
}

func TestMinVolatilityPrefersLowerVariance(t *testing.T) {
	// Asset 1 has a quarter of asset 0's variance at the same return.
	mu := []float64{0.0005, 0.0005}
	sigma := [][]float64{
		{0.0004, 0},
		{0, 0.0001},
	}

	strategy := NewStrategy(Config{Objective: ObjectiveMinVolatility})
	weights, err := strategy.Solve(mu, sigma, Constraints{})
	require.NoError(t, err)

	assertValidWeights(t, weights)
	assert.Greater(t, weights[1], weights[0])
}

func TestRiskParityEqualizesRiskContributions(t *testing.T) {
	mu := []float64{0.0005, 0.0005, 0.0005}
	sigma := [][]float64{
		{0.0009, 0, 0},
		{0, 0.0004, 0},
		{0, 0, 0.0001},
	}

	strategy := NewStrategy(Config{Objective: ObjectiveRiskParity})
	weights, err := strategy.Solve(mu, sigma, Constraints{})
	require.NoError(t, err)
	assertValidWeights(t, weights)

	// With uncorrelated assets, risk parity overweights low-vol assets.
	assert.Greater(t, weights[2], weights[1])
	assert.Greater(t, weights[1], weights[0])

	// Each asset's risk contribution converges to 1/N.
	for _, rc := range RiskContributions(weights, sigma) {
		assert.InDelta(t, 1.0/3.0, rc, 0.02)
	}
}

func TestTargetVolatilityScalesDown(t *testing.T) {
	mu, sigma := twoAssetInputs()
	// Fully invested max-Sharpe annual vol here is around 10-16%; a 5%
	// target forces a scale-down with a cash residual.
	strategy := NewStrategy(Config{
		Objective:        ObjectiveTargetVolatility,
		TargetVolatility: 0.05,
		RiskFreeRate:     0.05,
	})
	weights, err := strategy.Solve(mu, sigma, Constraints{})
	require.NoError(t, err)

	var sum float64
	for _, w := range weights {
		assert.GreaterOrEqual(t, w, 0.0)
		sum += w
	}
	assert.Less(t, sum, 1.0)

	achieved := AnnualizedVolatility(math.Sqrt(portfolioVariance(weights, sigma)))
	assert.InDelta(t, 0.05, achieved, 1e-9)
}

func TestTargetVolatilityAlreadyBelowTarget(t *testing.T) {
	mu, sigma := twoAssetInputs()

	strategy := NewStrategy(Config{
		Objective:        ObjectiveTargetVolatility,
		TargetVolatility: 5.0, // Unreachably high
	})
	weights, err := strategy.Solve(mu, sigma, Constraints{})
	require.NoError(t, err)
	assertValidWeights(t, weights)
}

func TestUnknownObjectiveFallsBackToEqualWeight(t *testing.T) {
	mu, sigma := twoAssetInputs()

	strategy := NewStrategy(Config{Objective: "momentum_tilt"})
	assert.Equal(t, "equal_weight", strategy.Name())

	weights, err := strategy.Solve(mu, sigma, Constraints{})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, weights[0], 1e-12)
	assert.InDelta(t, 0.5, weights[1], 1e-12)
}

func TestMaxWeightConstraint(t *testing.T) {
	mu, sigma := twoAssetInputs()

	strategy := NewStrategy(Config{Objective: ObjectiveMaxSharpe})
	weights, err := strategy.Solve(mu, sigma, Constraints{MaxWeight: 0.6})
	require.NoError(t, err)
	assertValidWeights(t, weights)
	for _, w := range weights {
		assert.LessOrEqual(t, w, 0.6+1e-9)
	}
}

func TestZeroVarianceCovarianceIsNeutral(t *testing.T) {
	mu := []float64{0.0005, 0.0005}
	sigma := [][]float64{{0, 0}, {0, 0}}

	strategy := NewStrategy(Config{Objective: ObjectiveMaxSharpe})
	weights, err := strategy.Solve(mu, sigma, Constraints{})
	require.NoError(t, err)
	assertValidWeights(t, weights)
}

func TestConfigDefaultsShareShrinkageDelta(t *testing.T) {
	cfg := Config{}.withDefaults()

	// The solver shrinks with the same intensity the statistics package
	// defines, so covariance treatment is identical everywhere.
	assert.Equal(t, statistics.DefaultShrinkageDelta, cfg.ShrinkageDelta)
	assert.Equal(t, DefaultIterations, cfg.Iterations)
	assert.Equal(t, DefaultRiskFreeRate, cfg.RiskFreeRate)
}
