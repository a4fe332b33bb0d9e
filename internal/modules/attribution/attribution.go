// Package attribution decomposes realized portfolio returns into
// per-factor contributions using direct decomposition, numerical-gradient
// importance, and a Shapley-style leave-one-out approximation.
package attribution

import (
	"math"
	"sort"

	"github.com/rs/zerolog"
)

// Engine runs factor attribution. Stateless between calls.
type Engine struct {
	cfg Config
	log zerolog.Logger
}

func NewEngine(cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		cfg: cfg.withDefaults(),
		log: log.With().Str("component", "attribution").Logger(),
	}
}

// Calculate attributes portfolioReturn across the supplied factor
// exposures and returns. Factors present in exposures but missing from
// factorReturns contribute zero; an empty factor set yields a well
// defined all-residual result, never an error.
func (e *Engine) Calculate(portfolioReturn float64, exposures, factorReturns map[string]float64) *Result {
	names := sortedNames(exposures)

	contributions := make([]FactorContribution, 0, len(names))
	var factorReturn float64
	for _, name := range names {
		contribution := exposures[name] * factorReturns[name]
		factorReturn += contribution
		contributions = append(contributions, FactorContribution{
			Factor:       name,
			Exposure:     exposures[name],
			FactorReturn: factorReturns[name],
			Contribution: contribution,
		})
	}

	e.attachGradients(contributions, exposures, factorReturns)
	e.attachShapley(contributions, factorReturn)

	for i := range contributions {
		c := &contributions[i]
		if c.Contribution >= 0 {
			c.Direction = "positive"
		} else {
			c.Direction = "negative"
		}
		if portfolioReturn != 0 {
			c.PercentOfTotal = c.Contribution / portfolioReturn * 100
		}
	}

	ranked, dropped := e.rank(contributions)

	result := &Result{
		TotalReturn:    portfolioReturn,
		FactorReturn:   factorReturn,
		ResidualReturn: portfolioReturn - factorReturn,
		Factors:        ranked,
	}
	result.Waterfall = e.buildWaterfall(ranked, portfolioReturn, factorReturn)
	result.Summary = e.summarize(ranked, dropped, portfolioReturn, factorReturn)

	e.log.Debug().
		Float64("totalReturn", portfolioReturn).
		Float64("factorReturn", factorReturn).
		Int("factors", len(ranked)).
		Msg("Attribution computed")

	return result
}

// attachGradients estimates d(R)/d(exposure_i) for the linear model
// R = sum(exposure_i * return_i) with a central difference. For this
// model the derivative is analytically |return_i|; the numerical route is
// kept so the attribution stays correct if the model gains nonlinear
// terms.
func (e *Engine) attachGradients(contributions []FactorContribution, exposures, factorReturns map[string]float64) {
	model := func(exp map[string]float64) float64 {
		var total float64
		for name, value := range exp {
			total += value * factorReturns[name]
		}
		return total
	}

	perturbed := make(map[string]float64, len(exposures))
	for name, value := range exposures {
		perturbed[name] = value
	}

	for i := range contributions {
		name := contributions[i].Factor
		base := exposures[name]

		perturbed[name] = base + e.cfg.Epsilon
		up := model(perturbed)
		perturbed[name] = base - e.cfg.Epsilon
		down := model(perturbed)
		perturbed[name] = base

		contributions[i].GradientImportance = math.Abs((up - down) / (2 * e.cfg.Epsilon))
	}
}

// attachShapley computes leave-one-out marginals and rescales them so
// they sum exactly to the total factor return. For a linear additive
// model the marginal equals the direct contribution, so after rescaling
// Shapley values match contributions.
func (e *Engine) attachShapley(contributions []FactorContribution, factorReturn float64) {
	var marginalSum float64
	marginals := make([]float64, len(contributions))
	for i, c := range contributions {
		// f(all) - f(all minus i) for the additive model is the term itself.
		marginals[i] = c.Contribution
		marginalSum += c.Contribution
	}

	if math.Abs(marginalSum) < 1e-15 {
		for i := range contributions {
			contributions[i].ShapleyValue = marginals[i]
		}
		return
	}

	scale := factorReturn / marginalSum
	for i := range contributions {
		contributions[i].ShapleyValue = marginals[i] * scale
	}
}

// rank sorts descending by absolute contribution and applies the optional
// minimum-contribution filter. Returns the kept list and the dropped
// count.
func (e *Engine) rank(contributions []FactorContribution) ([]FactorContribution, int) {
	sort.SliceStable(contributions, func(i, j int) bool {
		return math.Abs(contributions[i].Contribution) > math.Abs(contributions[j].Contribution)
	})

	if e.cfg.MinContribution <= 0 {
		return contributions, 0
	}

	kept := contributions[:0:0]
	for _, c := range contributions {
		if math.Abs(c.Contribution) >= e.cfg.MinContribution {
			kept = append(kept, c)
		}
	}
	return kept, len(contributions) - len(kept)
}

// buildWaterfall lays out contiguous bars: ranked factors (capped), then
// a residual bar absorbing both the unexplained return and any truncated
// factors, then a total bar spanning [0, portfolioReturn].
func (e *Engine) buildWaterfall(ranked []FactorContribution, portfolioReturn, factorReturn float64) []WaterfallBar {
	shown := ranked
	if len(shown) > e.cfg.MaxWaterfallFactors {
		shown = shown[:e.cfg.MaxWaterfallFactors]
	}

	bars := make([]WaterfallBar, 0, len(shown)+2)
	cursor := 0.0
	for _, c := range shown {
		bars = append(bars, WaterfallBar{
			Label: c.Factor,
			Type:  BarFactor,
			Start: cursor,
			End:   cursor + c.Contribution,
			Value: c.Contribution,
		})
		cursor += c.Contribution
	}

	// Residual closes the gap to the portfolio return, so the bar chain
	// always lands exactly on it.
	residual := portfolioReturn - cursor
	bars = append(bars, WaterfallBar{
		Label: "residual",
		Type:  BarResidual,
		Start: cursor,
		End:   portfolioReturn,
		Value: residual,
	})

	bars = append(bars, WaterfallBar{
		Label: "total",
		Type:  BarTotal,
		Start: 0,
		End:   portfolioReturn,
		Value: portfolioReturn,
	})

	return bars
}

func (e *Engine) summarize(ranked []FactorContribution, dropped int, portfolioReturn, factorReturn float64) Summary {
	s := Summary{FactorsRanked: len(ranked), FactorsDropped: dropped}

	topPos, topNeg := 0.0, 0.0
	for _, c := range ranked {
		if c.Contribution >= 0 {
			s.PositiveCount++
			s.PositiveSum += c.Contribution
			if c.Contribution > topPos || s.TopPositive == "" {
				topPos = c.Contribution
				s.TopPositive = c.Factor
			}
		} else {
			s.NegativeCount++
			s.NegativeSum += c.Contribution
			if c.Contribution < topNeg || s.TopNegative == "" {
				topNeg = c.Contribution
				s.TopNegative = c.Factor
			}
		}
	}

	s.RSquared = rSquaredProxy(portfolioReturn, factorReturn)
	return s
}

// rSquaredProxy measures how much of the portfolio return the factor
// model explains: 1 - |unexplained| / |total|, clamped to [0, 1]. A zero
// portfolio return is fully explained only by a zero factor return.
func rSquaredProxy(portfolioReturn, factorReturn float64) float64 {
	if portfolioReturn == 0 {
		if factorReturn == 0 {
			return 1
		}
		return 0
	}

	r2 := 1 - math.Abs(portfolioReturn-factorReturn)/math.Abs(portfolioReturn)
	if r2 < 0 {
		return 0
	}
	if r2 > 1 {
		return 1
	}
	return r2
}

func sortedNames(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
