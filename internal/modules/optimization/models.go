package optimization

import (
	"fmt"
	"time"

	"github.com/frontieralpha/quant/internal/modules/statistics"
)

// Optimization objectives.
const (
	ObjectiveMaxSharpe        = "max_sharpe"
	ObjectiveMinVolatility    = "min_volatility"
	ObjectiveRiskParity       = "risk_parity"
	ObjectiveTargetVolatility = "target_volatility"
)

// Solver defaults. These match the fixed constants the numerical routines
// were tuned with; Config fields override them per call.
const (
	DefaultIterations     = 1000
	DefaultLearningRate   = 0.01
	DefaultFDDelta        = 1e-4
	DefaultRiskFreeRate   = 0.05
	DefaultSimulations    = 10000
	TradingDaysPerYear    = 252
	riskParityWeightFloor = 0.01
)

// Config describes one optimization request. Immutable per call.
type Config struct {
	Objective        string  `json:"objective"`
	RiskFreeRate     float64 `json:"riskFreeRate"`     // Annualized
	TargetVolatility float64 `json:"targetVolatility"` // Required for target_volatility
	MaxWeight        float64 `json:"maxWeight"`        // 0 = unbounded
	MinWeight        float64 `json:"minWeight"`
	MaxCVaR          float64 `json:"maxCvar"` // 0 = no CVaR check

	// Solver hyperparameters. Zero values fall back to the defaults above.
	Iterations     int     `json:"iterations"`
	LearningRate   float64 `json:"learningRate"`
	FDDelta        float64 `json:"fdDelta"`
	ShrinkageDelta float64 `json:"shrinkageDelta"`

	Simulations int   `json:"simulations"`
	Seed        int64 `json:"seed"` // 0 = time-derived seed
}

// withDefaults fills zero-valued hyperparameters.
func (c Config) withDefaults() Config {
	if c.RiskFreeRate == 0 {
		c.RiskFreeRate = DefaultRiskFreeRate
	}
	if c.Iterations == 0 {
		c.Iterations = DefaultIterations
	}
	if c.LearningRate == 0 {
		c.LearningRate = DefaultLearningRate
	}
	if c.FDDelta == 0 {
		c.FDDelta = DefaultFDDelta
	}
	if c.ShrinkageDelta == 0 {
		c.ShrinkageDelta = statistics.DefaultShrinkageDelta
	}
	if c.Simulations == 0 {
		c.Simulations = DefaultSimulations
	}
	return c
}

// Validate checks the configuration before any numerical work starts.
func (c Config) Validate() error {
	if c.Objective == ObjectiveTargetVolatility && c.TargetVolatility <= 0 {
		return &InvalidConfigError{
			Field:  "targetVolatility",
			Reason: fmt.Sprintf("must be positive for %s, got %v", ObjectiveTargetVolatility, c.TargetVolatility),
		}
	}
	if c.MaxWeight < 0 || c.MinWeight < 0 {
		return &InvalidConfigError{Field: "weights", Reason: "weight bounds must be non-negative"}
	}
	if c.MaxWeight > 0 && c.MinWeight > c.MaxWeight {
		return &InvalidConfigError{Field: "weights", Reason: "minWeight exceeds maxWeight"}
	}
	return nil
}

// InvalidConfigError indicates a malformed optimization configuration.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config field %s: %s", e.Field, e.Reason)
}

// Constraints are the box constraints passed to a Strategy. Weights are
// long-only; MaxWeight of 0 means no upper bound.
type Constraints struct {
	MinWeight float64
	MaxWeight float64
}

// MonteCarloResult summarizes a bootstrap of annualized portfolio returns.
type MonteCarloResult struct {
	Simulations  int     `json:"simulations"`
	VaR95        float64 `json:"var95"`
	CVaR95       float64 `json:"cvar95"`
	MedianReturn float64 `json:"medianReturn"`
	ProbPositive float64 `json:"probPositive"`
}

// Result is the read-only outcome of one optimize call. Never mutated
// after construction.
type Result struct {
	ID                 string             `json:"id"`
	Objective          string             `json:"objective"`
	Weights            map[string]float64 `json:"weights"`
	CashWeight         float64            `json:"cashWeight"` // 1 - sum(weights); nonzero only for target_volatility
	ExpectedReturn     float64            `json:"expectedReturn"`     // Annualized
	ExpectedVolatility float64            `json:"expectedVolatility"` // Annualized
	SharpeRatio        float64            `json:"sharpeRatio"`
	FactorExposures    map[string]float64 `json:"factorExposures,omitempty"`
	MonteCarlo         *MonteCarloResult  `json:"monteCarlo,omitempty"`
	Explanation        string             `json:"explanation"`
	CreatedAt          time.Time          `json:"createdAt"`
}
