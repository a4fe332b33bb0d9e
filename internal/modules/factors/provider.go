package factors

import (
	"github.com/frontieralpha/quant/internal/modules/marketdata"
	"github.com/frontieralpha/quant/internal/modules/statistics"
)

// perSymbolExposures aligns the return series and computes each symbol's
// loadings. Symbols with too little history for the exposure windows are
// skipped rather than failing the whole portfolio.
func (c *Calculator) perSymbolExposures(symbols []string, prices map[string]marketdata.PriceSeries) (map[string][]float64, map[string]Exposures, error) {
	returns, err := statistics.ReturnsMatrix(prices, symbols)
	if err != nil {
		return nil, nil, err
	}
	returns = statistics.Align(returns)
	composite := EqualWeightComposite(returns)

	perSymbol := make(map[string]Exposures, len(symbols))
	for _, symbol := range symbols {
		exp, err := c.SymbolExposures(prices[symbol].Closes(), returns[symbol], composite)
		if err != nil {
			c.log.Debug().Err(err).Str("symbol", symbol).Msg("Skipping factor exposures")
			continue
		}
		perSymbol[symbol] = exp
	}
	return returns, perSymbol, nil
}

// Exposures computes portfolio-level factor loadings from raw price
// series.
func (c *Calculator) Exposures(symbols []string, prices map[string]marketdata.PriceSeries, weights map[string]float64) (map[string]float64, error) {
	_, perSymbol, err := c.perSymbolExposures(symbols, prices)
	if err != nil {
		return nil, err
	}
	return c.PortfolioExposures(weights, perSymbol), nil
}

// Decompose returns portfolio-level loadings and realized factor returns
// from a single pass over the price history, for callers that need both.
func (c *Calculator) Decompose(symbols []string, prices map[string]marketdata.PriceSeries, weights map[string]float64) (map[string]float64, map[string]float64, error) {
	returns, perSymbol, err := c.perSymbolExposures(symbols, prices)
	if err != nil {
		return nil, nil, err
	}
	return c.PortfolioExposures(weights, perSymbol), c.FactorReturns(returns, perSymbol), nil
}
