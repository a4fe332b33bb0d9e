package walkforward

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vicanso/go-charts/v2"
)

const reportWidth = 64

// GenerateReport renders the walk-forward result as box-drawing formatted
// text, suitable for terminals and log output.
func GenerateReport(result *Result) string {
	var b strings.Builder

	line := strings.Repeat("═", reportWidth-2)
	b.WriteString("╔" + line + "╗\n")
	writeCentered(&b, "WALK-FORWARD VALIDATION REPORT")
	writeCentered(&b, strings.ToUpper(result.Objective))
	b.WriteString("╠" + line + "╣\n")

	writeRow(&b, "Windows", fmt.Sprintf("%d", len(result.Windows)))
	writeRow(&b, "Total OOS return", fmt.Sprintf("%.2f%%", result.TotalReturn*100))
	writeRow(&b, "Annualized return", fmt.Sprintf("%.2f%%", result.AnnualizedReturn*100))
	writeRow(&b, "Volatility", fmt.Sprintf("%.2f%%", result.Volatility*100))
	writeRow(&b, "Sharpe ratio", fmt.Sprintf("%.2f", result.SharpeRatio))
	writeRow(&b, "Max drawdown", fmt.Sprintf("%.2f%%", result.MaxDrawdown*100))
	writeRow(&b, "Avg parameter stability", fmt.Sprintf("%.3f", result.AvgParameterStability))
	if result.OverfitRatio == OverfitSentinel {
		writeRow(&b, "Overfit ratio", "n/a (zero OOS Sharpe)")
	} else {
		writeRow(&b, "Overfit ratio", fmt.Sprintf("%.2f", result.OverfitRatio))
	}
	writeRow(&b, "Information decay", fmt.Sprintf("%.3f", result.InformationDecay))

	if len(result.Windows) > 0 {
		b.WriteString("╠" + line + "╣\n")
		writeCentered(&b, "PER-WINDOW RESULTS")
		for _, w := range result.Windows {
			writeRow(&b,
				fmt.Sprintf("#%d %s → %s", w.ID,
					w.InSample.Start.Format("2006-01"),
					w.OutOfSample.End.Format("2006-01")),
				fmt.Sprintf("IS %+6.2f%%  OOS %+6.2f%%", w.InSampleReturn*100, w.OutOfSampleReturn*100))
		}
	}

	b.WriteString("╚" + line + "╝\n")
	return b.String()
}

func writeCentered(b *strings.Builder, text string) {
	inner := reportWidth - 2
	width := utf8.RuneCountInString(text)
	if width > inner {
		text = string([]rune(text)[:inner])
		width = inner
	}
	pad := inner - width
	left := pad / 2
	b.WriteString("║" + strings.Repeat(" ", left) + text + strings.Repeat(" ", pad-left) + "║\n")
}

func writeRow(b *strings.Builder, label, value string) {
	inner := reportWidth - 4
	gap := inner - utf8.RuneCountInString(label) - utf8.RuneCountInString(value)
	if gap < 1 {
		gap = 1
	}
	b.WriteString("║ " + label + strings.Repeat(" ", gap) + value + " ║\n")
}

// RenderEquityCurvePNG draws the stitched out-of-sample equity curve.
func RenderEquityCurvePNG(result *Result) ([]byte, error) {
	if len(result.EquityCurve) == 0 {
		return nil, fmt.Errorf("empty equity curve")
	}

	values := make([]float64, len(result.EquityCurve))
	labels := make([]string, len(result.EquityCurve))
	for i, p := range result.EquityCurve {
		values[i] = p.Value
		labels[i] = p.Date.Format("2006-01-02")
	}

	painter, err := charts.LineRender(
		[][]float64{values},
		charts.TitleTextOptionFunc(fmt.Sprintf("Out-of-sample equity curve (%s)", result.Objective)),
		charts.XAxisOptionFunc(charts.XAxisOption{Data: labels, SplitNumber: 8, BoundaryGap: charts.FalseFlag()}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.HeightOptionFunc(400),
		charts.WidthOptionFunc(800),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render equity curve: %w", err)
	}

	return painter.Bytes()
}
