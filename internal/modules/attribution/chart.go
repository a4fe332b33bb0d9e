package attribution

import (
	"fmt"

	"github.com/vicanso/go-charts/v2"
)

// RenderWaterfallPNG draws the attribution waterfall as a PNG bar chart.
// Each bar carries the contribution value; the residual and total bars
// come last, matching the waterfall ordering.
func RenderWaterfallPNG(result *Result) ([]byte, error) {
	if len(result.Waterfall) == 0 {
		return nil, fmt.Errorf("empty waterfall")
	}

	labels := make([]string, 0, len(result.Waterfall))
	values := make([]float64, 0, len(result.Waterfall))
	for _, bar := range result.Waterfall {
		labels = append(labels, bar.Label)
		values = append(values, bar.Value*100) // Percent units read better
	}

	painter, err := charts.BarRender(
		[][]float64{values},
		charts.TitleTextOptionFunc(fmt.Sprintf("Return attribution (total %.2f%%)", result.TotalReturn*100)),
		charts.XAxisDataOptionFunc(labels),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.HeightOptionFunc(400),
		charts.WidthOptionFunc(800),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render waterfall chart: %w", err)
	}

	return painter.Bytes()
}
