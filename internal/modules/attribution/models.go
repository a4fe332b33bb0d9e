package attribution

// Defaults for the attribution engine.
const (
	DefaultEpsilon             = 1e-6
	DefaultMaxWaterfallFactors = 15
)

// Config tunes the attribution computation. Zero values fall back to the
// defaults above; MinContribution of 0 keeps every factor.
type Config struct {
	Epsilon             float64 `json:"epsilon"`
	MinContribution     float64 `json:"minContribution"`
	MaxWaterfallFactors int     `json:"maxWaterfallFactors"`
}

func (c Config) withDefaults() Config {
	if c.Epsilon == 0 {
		c.Epsilon = DefaultEpsilon
	}
	if c.MaxWaterfallFactors == 0 {
		c.MaxWaterfallFactors = DefaultMaxWaterfallFactors
	}
	return c
}

// FactorContribution is one factor's slice of the realized return.
type FactorContribution struct {
	Factor             string  `json:"factor"`
	Exposure           float64 `json:"exposure"`
	FactorReturn       float64 `json:"factorReturn"`
	Contribution       float64 `json:"contribution"`
	GradientImportance float64 `json:"gradientImportance"`
	ShapleyValue       float64 `json:"shapleyValue"`
	Direction          string  `json:"direction"` // "positive" or "negative"
	PercentOfTotal     float64 `json:"percentOfTotal"`
}

// Waterfall bar kinds.
const (
	BarFactor   = "factor"
	BarResidual = "residual"
	BarTotal    = "total"
)

// WaterfallBar is one segment of the cumulative attribution chart. Factor
// and residual bars are contiguous (each starts where the previous
// ended); the final total bar spans [0, portfolioReturn].
type WaterfallBar struct {
	Label string  `json:"label"`
	Type  string  `json:"type"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Value float64 `json:"value"`
}

// Summary aggregates the attribution for reporting.
type Summary struct {
	PositiveCount  int     `json:"positiveCount"`
	NegativeCount  int     `json:"negativeCount"`
	PositiveSum    float64 `json:"positiveSum"`
	NegativeSum    float64 `json:"negativeSum"`
	TopPositive    string  `json:"topPositive,omitempty"`
	TopNegative    string  `json:"topNegative,omitempty"`
	RSquared       float64 `json:"rSquared"`
	FactorsRanked  int     `json:"factorsRanked"`
	FactorsDropped int     `json:"factorsDropped"`
}

// Result decomposes a realized portfolio return into factor
// contributions. Read-only once built.
type Result struct {
	TotalReturn    float64              `json:"totalReturn"`
	FactorReturn   float64              `json:"factorReturn"`
	ResidualReturn float64              `json:"residualReturn"`
	Factors        []FactorContribution `json:"factors"`
	Waterfall      []WaterfallBar       `json:"waterfall"`
	Summary        Summary              `json:"summary"`
}
