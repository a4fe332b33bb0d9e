package optimization

import (
	"math"
)

// Strategy solves for portfolio weights given daily mean returns and a
// covariance matrix. Implementations are stateless and safe for
// concurrent use.
//
// Returned weights are long-only and, except for TargetVolatility (which
// may leave a cash residual), sum to 1.
type Strategy interface {
	Name() string
	Solve(mu []float64, sigma [][]float64, constraints Constraints) ([]float64, error)
}

// NewStrategy maps an objective name to its strategy. Unrecognized
// objectives fall back to equal weight rather than failing.
func NewStrategy(cfg Config) Strategy {
	cfg = cfg.withDefaults()
	switch cfg.Objective {
	case ObjectiveMaxSharpe:
		return &MaxSharpe{
			RiskFreeRate: cfg.RiskFreeRate,
			Iterations:   cfg.Iterations,
			LearningRate: cfg.LearningRate,
			FDDelta:      cfg.FDDelta,
		}
	case ObjectiveMinVolatility:
		return &MinVolatility{
			Iterations:   cfg.Iterations,
			LearningRate: cfg.LearningRate,
			FDDelta:      cfg.FDDelta,
		}
	case ObjectiveRiskParity:
		return &RiskParity{
			Iterations:   cfg.Iterations,
			LearningRate: cfg.LearningRate,
		}
	case ObjectiveTargetVolatility:
		return &TargetVolatility{
			Target: cfg.TargetVolatility,
			Inner: &MaxSharpe{
				RiskFreeRate: cfg.RiskFreeRate,
				Iterations:   cfg.Iterations,
				LearningRate: cfg.LearningRate,
				FDDelta:      cfg.FDDelta,
			},
		}
	default:
		return &EqualWeight{}
	}
}

// EqualWeight assigns 1/N to every asset. Used directly and as the
// fallback for unrecognized objectives.
type EqualWeight struct{}

func (s *EqualWeight) Name() string { return "equal_weight" }

func (s *EqualWeight) Solve(mu []float64, sigma [][]float64, constraints Constraints) ([]float64, error) {
	n := len(mu)
	if n == 0 {
		return []float64{}, nil
	}
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1.0 / float64(n)
	}
	return weights, nil
}

// MaxSharpe maximizes the Sharpe ratio with a finite-difference projected
// gradient ascent. This is intentionally a simple numerical hill-climb:
// the long-only and per-asset bound constraints make the closed-form
// tangency solution inapplicable without a QP solver.
type MaxSharpe struct {
	RiskFreeRate float64 // Annualized
	Iterations   int
	LearningRate float64
	FDDelta      float64
}

func (s *MaxSharpe) Name() string { return ObjectiveMaxSharpe }

func (s *MaxSharpe) Solve(mu []float64, sigma [][]float64, constraints Constraints) ([]float64, error) {
	dailyRf := s.RiskFreeRate / TradingDaysPerYear
	objective := func(w []float64) float64 {
		vol := math.Sqrt(portfolioVariance(w, sigma))
		if vol == 0 {
			return 0
		}
		return (dot(w, mu) - dailyRf) / vol
	}
	return climb(objective, len(mu), s.Iterations, s.LearningRate, s.FDDelta, constraints, true), nil
}

// MinVolatility minimizes portfolio volatility with the same projected
// gradient scheme as MaxSharpe, descending instead of ascending.
type MinVolatility struct {
	Iterations   int
	LearningRate float64
	FDDelta      float64
}

func (s *MinVolatility) Name() string { return ObjectiveMinVolatility }

func (s *MinVolatility) Solve(mu []float64, sigma [][]float64, constraints Constraints) ([]float64, error) {
	objective := func(w []float64) float64 {
		return math.Sqrt(portfolioVariance(w, sigma))
	}
	return climb(objective, len(mu), s.Iterations, s.LearningRate, s.FDDelta, constraints, false), nil
}

// RiskParity equalizes risk contributions: each iteration nudges weights
// against the gap between the asset's risk contribution and 1/N, floors
// them at 1%, and renormalizes. Converges toward equal risk contribution,
// not equal weight.
type RiskParity struct {
	Iterations   int
	LearningRate float64
}

func (s *RiskParity) Name() string { return ObjectiveRiskParity }

func (s *RiskParity) Solve(mu []float64, sigma [][]float64, constraints Constraints) ([]float64, error) {
	n := len(mu)
	if n == 0 {
		return []float64{}, nil
	}

	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1.0 / float64(n)
	}

	target := 1.0 / float64(n)
	for iter := 0; iter < s.Iterations; iter++ {
		portVar := portfolioVariance(weights, sigma)
		if portVar <= 0 {
			break
		}

		marginal := matVec(sigma, weights)
		for i := 0; i < n; i++ {
			rc := weights[i] * marginal[i] / portVar
			weights[i] -= s.LearningRate * (rc - target)
			if weights[i] < riskParityWeightFloor {
				weights[i] = riskParityWeightFloor
			}
		}
		normalize(weights)
	}

	return weights, nil
}

// RiskContributions returns each asset's fraction of total portfolio
// variance. All zeros when the portfolio variance is zero.
func RiskContributions(weights []float64, sigma [][]float64) []float64 {
	n := len(weights)
	contributions := make([]float64, n)
	portVar := portfolioVariance(weights, sigma)
	if portVar <= 0 {
		return contributions
	}
	marginal := matVec(sigma, weights)
	for i := 0; i < n; i++ {
		contributions[i] = weights[i] * marginal[i] / portVar
	}
	return contributions
}

// TargetVolatility solves max-Sharpe weights, then scales exposure down
// when their annualized volatility exceeds the target. The scale-down
// leaves the weight vector summing to less than 1; the shortfall is an
// implicit cash allocation, reported explicitly as CashWeight on the
// result.
type TargetVolatility struct {
	Target float64 // Annualized
	Inner  *MaxSharpe
}

func (s *TargetVolatility) Name() string { return ObjectiveTargetVolatility }

func (s *TargetVolatility) Solve(mu []float64, sigma [][]float64, constraints Constraints) ([]float64, error) {
	if s.Target <= 0 {
		return nil, &InvalidConfigError{Field: "targetVolatility", Reason: "must be positive"}
	}

	weights, err := s.Inner.Solve(mu, sigma, constraints)
	if err != nil {
		return nil, err
	}

	achieved := math.Sqrt(portfolioVariance(weights, sigma)) * math.Sqrt(TradingDaysPerYear)
	if achieved <= s.Target {
		return weights, nil
	}

	scale := s.Target / achieved
	for i := range weights {
		weights[i] *= scale
	}
	return weights, nil
}

// climb runs the shared finite-difference projected gradient loop.
// maximize selects ascent vs descent. Each iteration estimates the
// gradient with a one-sided finite difference, steps, clips to the box
// constraints (long-only floor at minimum), and renormalizes to sum 1.
// Non-convergence is never detected; the last iterate is returned as-is.
func climb(objective func([]float64) float64, n, iterations int, lr, fdDelta float64, constraints Constraints, maximize bool) []float64 {
	if n == 0 {
		return []float64{}
	}

	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1.0 / float64(n)
	}

	direction := 1.0
	if !maximize {
		direction = -1.0
	}

	grad := make([]float64, n)
	probe := make([]float64, n)
	for iter := 0; iter < iterations; iter++ {
		base := objective(weights)
		for i := 0; i < n; i++ {
			copy(probe, weights)
			probe[i] += fdDelta
			grad[i] = (objective(probe) - base) / fdDelta
		}

		for i := 0; i < n; i++ {
			weights[i] += direction * lr * grad[i]
		}
		project(weights, constraints)
	}

	return weights
}

// project clips weights into the box constraints and renormalizes to
// sum 1. Mass cut by the upper bound is redistributed across uncapped
// assets; a few passes settle any newly-capped weights.
func project(weights []float64, constraints Constraints) {
	for i := range weights {
		if weights[i] < constraints.MinWeight {
			weights[i] = constraints.MinWeight
		}
		if weights[i] < 0 {
			weights[i] = 0
		}
	}
	normalize(weights)

	if constraints.MaxWeight <= 0 {
		return
	}
	for pass := 0; pass < 16; pass++ {
		var excess, free float64
		for i := range weights {
			if weights[i] > constraints.MaxWeight {
				excess += weights[i] - constraints.MaxWeight
				weights[i] = constraints.MaxWeight
			} else {
				free += weights[i]
			}
		}
		if excess <= 1e-12 || free <= 0 {
			return
		}
		scale := (free + excess) / free
		for i := range weights {
			if weights[i] < constraints.MaxWeight {
				weights[i] *= scale
			}
		}
	}
}

func normalize(weights []float64) {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		for i := range weights {
			weights[i] = 1.0 / float64(len(weights))
		}
		return
	}
	for i := range weights {
		weights[i] /= sum
	}
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// matVec computes sigma * w.
func matVec(sigma [][]float64, w []float64) []float64 {
	out := make([]float64, len(w))
	for i := range sigma {
		for j := range w {
			out[i] += sigma[i][j] * w[j]
		}
	}
	return out
}

func portfolioVariance(w []float64, sigma [][]float64) float64 {
	return dot(w, matVec(sigma, w))
}
