package valuation

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/internal/entity"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	chartWidth  = 960
	chartHeight = 360
	chartPad    = 40
)

var chartTemplate = template.Must(template.New("chart").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>SOK valuation</title>
<style>
body { background: #111; color: #ddd; font-family: sans-serif; }
table { border-collapse: collapse; margin-top: 16px; }
td, th { padding: 2px 10px; text-align: right; border-bottom: 1px solid #333; }
.floor { stroke: #3c3; stroke-dasharray: 4 3; }
.market { stroke: #39f; }
.treasury { fill: #fa8072; opacity: 0.5; }
</style>
</head>
<body>
<h2>Treasury-backed valuation and network health</h2>
<svg width="{{.Width}}" height="{{.Height}}" viewBox="0 0 {{.Width}} {{.Height}}">
{{- range .Bars}}
<rect class="treasury" x="{{.X}}" y="{{.Y}}" width="{{.W}}" height="{{.H}}"/>
{{- end}}
<polyline class="floor" fill="none" stroke-width="2" points="{{.FloorPoints}}"/>
<polyline class="market" fill="none" stroke-width="2" points="{{.MarketPoints}}"/>
</svg>
<table>
<tr><th>time</th><th>floor price (USD)</th><th>market price (USD)</th><th>treasury (USD)</th></tr>
{{- range .Rows}}
<tr><td>{{.Time}}</td><td>{{.Floor}}</td><td>{{.Market}}</td><td>{{.Treasury}}</td></tr>
{{- end}}
</table>
</body>
</html>
`))

type chartBar struct {
	X, Y, W, H string
}

type chartRow struct {
	Time     string
	Floor    string
	Market   string
	Treasury string
}

type chartView struct {
	Width        int
	Height       int
	FloorPoints  string
	MarketPoints string
	Bars         []chartBar
	Rows         []chartRow
}

// scale maps v from [0, top] onto the drawable height, top of the chart being zero.
func scale(v, top decimal.Decimal) float64 {
	if !top.IsPositive() {
		return chartHeight - chartPad
	}
	ratio := v.Div(top).InexactFloat64()
	return chartHeight - chartPad - ratio*(chartHeight-2*chartPad)
}

func points(xs []float64, values []decimal.Decimal, top decimal.Decimal) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.1f,%.1f", xs[i], scale(v, top))
	}
	return strings.Join(parts, " ")
}

// RenderChart draws prices and treasury of history as a standalone HTML page.
func RenderChart(history []entity.EconSnapshot) ([]byte, error) {
	if len(history) == 0 {
		return nil, errors.New("empty history")
	}

	floors := lo.Map(history, func(s entity.EconSnapshot, _ int) decimal.Decimal { return s.FloorPriceUSD })
	markets := lo.Map(history, func(s entity.EconSnapshot, _ int) decimal.Decimal { return s.MarketPriceUSD })
	treasuries := lo.Map(history, func(s entity.EconSnapshot, _ int) decimal.Decimal { return s.TreasuryValueUSD })
	priceTop := decimal.Max(decimal.Zero, append(floors, markets...)...)
	treasuryTop := decimal.Max(decimal.Zero, treasuries...)

	step := float64(chartWidth-2*chartPad) / float64(max(1, len(history)-1))
	xs := make([]float64, len(history))
	for i := range history {
		xs[i] = chartPad + float64(i)*step
	}

	view := chartView{
		Width:        chartWidth,
		Height:       chartHeight,
		FloorPoints:  points(xs, floors, priceTop),
		MarketPoints: points(xs, markets, priceTop),
	}
	barWidth := max(1, step*0.6)
	for i, s := range history {
		y := scale(s.TreasuryValueUSD, treasuryTop)
		view.Bars = append(view.Bars, chartBar{
			X: fmt.Sprintf("%.1f", xs[i]-barWidth/2),
			Y: fmt.Sprintf("%.1f", y),
			W: fmt.Sprintf("%.1f", barWidth),
			H: fmt.Sprintf("%.1f", chartHeight-chartPad-y),
		})
		view.Rows = append(view.Rows, chartRow{
			Time:     s.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			Floor:    s.FloorPriceUSD.StringFixed(8),
			Market:   s.MarketPriceUSD.StringFixed(8),
			Treasury: s.TreasuryValueUSD.StringFixed(2),
		})
	}

	var buf bytes.Buffer
	if err := chartTemplate.Execute(&buf, view); err != nil {
		return nil, errors.Wrap(err, "execute chart template")
	}
	return buf.Bytes(), nil
}
