package optimization

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// MonteCarloSimulator validates a weight vector by bootstrapping annual
// return paths from the historical daily portfolio-return series. Days
// are sampled with replacement from the portfolio series, not per-asset,
// so each draw embeds the realized cross-asset correlation structure.
type MonteCarloSimulator struct {
	Simulations int
	Horizon     int   // Trading days per path
	Seed        int64 // 0 = time-derived
}

func NewMonteCarloSimulator(simulations int, seed int64) *MonteCarloSimulator {
	if simulations <= 0 {
		simulations = DefaultSimulations
	}
	return &MonteCarloSimulator{
		Simulations: simulations,
		Horizon:     TradingDaysPerYear,
		Seed:        seed,
	}
}

// simulationShards is the fixed number of RNG streams a run is split
// into. It depends only on the simulation count, never on the worker
// count, so a seeded run produces identical outcomes on any machine.
const simulationShards = 32

// Run bootstraps annualized returns and summarizes the distribution.
// The simulations are split into a fixed set of shards, each owning a
// deterministic RNG derived from the base seed; workers only decide which
// shard runs where, so results are reproducible for a fixed seed
// regardless of scheduling or core count.
func (m *MonteCarloSimulator) Run(portfolioReturns []float64) (*MonteCarloResult, error) {
	if len(portfolioReturns) == 0 {
		return nil, fmt.Errorf("no portfolio returns to resample")
	}

	seed := m.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	outcomes := make([]float64, m.Simulations)

	shards := simulationShards
	if shards > m.Simulations {
		shards = m.Simulations
	}
	chunk := (m.Simulations + shards - 1) / shards

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for shard := 0; shard < shards; shard++ {
		start := shard * chunk
		end := start + chunk
		if end > m.Simulations {
			end = m.Simulations
		}
		if start >= end {
			break
		}

		rng := rand.New(rand.NewSource(seed + int64(shard)))
		g.Go(func() error {
			for i := start; i < end; i++ {
				outcomes[i] = m.samplePath(rng, portfolioReturns)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return summarize(outcomes), nil
}

// samplePath compounds one bootstrapped path into an annual return.
func (m *MonteCarloSimulator) samplePath(rng *rand.Rand, returns []float64) float64 {
	growth := 1.0
	for d := 0; d < m.Horizon; d++ {
		growth *= 1 + returns[rng.Intn(len(returns))]
	}
	return growth - 1
}

func summarize(outcomes []float64) *MonteCarloResult {
	n := len(outcomes)
	sorted := make([]float64, n)
	copy(sorted, outcomes)
	sort.Float64s(sorted)

	// Worst 5% tail, rounded up so small sample counts still have a tail.
	tail := int(math.Ceil(0.05 * float64(n)))
	if tail < 1 {
		tail = 1
	}

	var tailSum float64
	for _, v := range sorted[:tail] {
		tailSum += v
	}

	var positive int
	for _, v := range sorted {
		if v > 0 {
			positive++
		}
	}

	var median float64
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return &MonteCarloResult{
		Simulations:  n,
		VaR95:        sorted[tail-1], // 5th-percentile order statistic
		CVaR95:       tailSum / float64(tail),
		MedianReturn: median,
		ProbPositive: float64(positive) / float64(n),
	}
}

// PortfolioReturns dots the weight vector with each day's per-asset
// returns, producing the historical daily portfolio-return series. Series
// must be pre-aligned to equal length.
func PortfolioReturns(weights []float64, symbols []string, returns map[string][]float64) []float64 {
	if len(symbols) == 0 {
		return nil
	}

	length := len(returns[symbols[0]])
	daily := make([]float64, length)
	for t := 0; t < length; t++ {
		for i, symbol := range symbols {
			r := returns[symbol]
			if t < len(r) {
				daily[t] += weights[i] * r[t]
			}
		}
	}
	return daily
}
