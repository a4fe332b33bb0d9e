package walkforward

import (
	"fmt"
	"time"

	"github.com/frontieralpha/quant/internal/modules/optimization"
)

// OverfitSentinel is reported when the mean out-of-sample Sharpe is zero
// and the overfit ratio is therefore undefined.
const OverfitSentinel = 999.0

// Reduced iteration budget for the per-window optimizations: the solver
// runs once per window across many windows, so it trades a little
// precision for a large speedup over the full budget.
const windowIterations = 200

// Config describes one walk-forward run.
type Config struct {
	Symbols           []string  `json:"symbols"`
	StartDate         time.Time `json:"startDate"`
	EndDate           time.Time `json:"endDate"`
	InSampleMonths    int       `json:"inSampleMonths"`
	OutOfSampleMonths int       `json:"outOfSampleMonths"`
	StepMonths        int       `json:"stepMonths"`
	AnchoredStart     bool      `json:"anchoredStart"`
	Objective         string    `json:"objective"`
	TargetVolatility  float64   `json:"targetVolatility"` // Required for target_volatility
	RiskFreeRate      float64   `json:"riskFreeRate"`     // Annualized
}

// Validate rejects configurations that cannot define a window shape.
// A date range too short for any window is NOT an error; it yields a
// zero-window result.
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol required")
	}
	if c.InSampleMonths <= 0 || c.OutOfSampleMonths <= 0 || c.StepMonths <= 0 {
		return fmt.Errorf("window months must all be positive")
	}
	if !c.EndDate.After(c.StartDate) {
		return fmt.Errorf("endDate must be after startDate")
	}
	// Objective-specific constraints surface here, before any window is
	// evaluated, rather than as silent per-window skips.
	return optimization.Config{
		Objective:        c.Objective,
		TargetVolatility: c.TargetVolatility,
	}.Validate()
}

// DateRange is a half-open interval [Start, End).
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Window is one in-sample/out-of-sample pair. Immutable once appended to
// the result's window list.
type Window struct {
	ID                 int                `json:"windowId"`
	InSample           DateRange          `json:"inSampleRange"`
	OutOfSample        DateRange          `json:"outOfSampleRange"`
	InSampleReturn     float64            `json:"inSampleReturn"`
	OutOfSampleReturn  float64            `json:"outOfSampleReturn"`
	InSampleSharpe     float64            `json:"inSampleSharpe"`
	OutOfSampleSharpe  float64            `json:"outOfSampleSharpe"`
	Weights            map[string]float64 `json:"optimizedWeights"`
	ParameterStability float64            `json:"parameterStability"`
}

// EquityPoint is one day of the stitched out-of-sample equity curve.
type EquityPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Result aggregates all windows plus diagnostics computed from the
// stitched out-of-sample curve. A zero-window run yields the zero value
// of every metric, not an error.
type Result struct {
	Objective             string        `json:"objective"`
	Windows               []Window      `json:"windows"`
	EquityCurve           []EquityPoint `json:"equityCurve"`
	TotalReturn           float64       `json:"totalReturn"`
	AnnualizedReturn      float64       `json:"annualizedReturn"`
	Volatility            float64       `json:"volatility"`
	SharpeRatio           float64       `json:"sharpeRatio"`
	MaxDrawdown           float64       `json:"maxDrawdown"`
	AvgParameterStability float64       `json:"avgParameterStability"`
	OverfitRatio          float64       `json:"overfitRatio"`
	InformationDecay      float64       `json:"informationDecay"`
}
