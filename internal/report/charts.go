package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

var (
	colorWebhook   = drawing.ColorFromHex("81A1C1")
	colorReconcile = drawing.ColorFromHex("A3BE8C")
	colorBg        = drawing.ColorFromHex("2E3440")
	colorGrid      = drawing.ColorFromHex("3B4252")
	colorText      = drawing.ColorFromHex("D8DEE9")
)

// RenderChart draws the report as a PNG line chart, webhook writes
// against reconciliation fixes. Windows shorter than two days render
// as an annotation instead, since a single point has no x range.
func RenderChart(r *DriftReport, width, height int) ([]byte, error) {
	if r == nil || len(r.Days) == 0 {
		return renderEmptyChart(width, height, "No audit activity")
	}
	if len(r.Days) < 2 {
		return renderEmptyChart(width, height, "Not enough days to chart")
	}

	var xValues []time.Time
	var webhookY []float64
	var reconcileY []float64

	for _, d := range r.Days {
		xValues = append(xValues, d.Date)
		webhookY = append(webhookY, float64(d.WebhookWrites))
		reconcileY = append(reconcileY, float64(d.ReconciliationFixes))
	}

	graph := chart.Chart{
		Width:  width,
		Height: height,
		Background: chart.Style{
			FillColor: colorBg,
			Padding: chart.Box{
				Top:    20,
				Left:   20,
				Right:  20,
				Bottom: 20,
			},
		},
		Canvas: chart.Style{
			FillColor: colorBg,
		},
		XAxis: chart.XAxis{
			Style: chart.Style{
				StrokeColor: colorGrid,
				FontColor:   colorText,
				FontSize:    10,
			},
			ValueFormatter: chart.TimeDateValueFormatter,
			GridMajorStyle: chart.Style{
				StrokeColor: colorGrid,
				StrokeWidth: 1,
			},
		},
		YAxis: chart.YAxis{
			Style: chart.Style{
				StrokeColor: colorGrid,
				FontColor:   colorText,
				FontSize:    10,
			},
			GridMajorStyle: chart.Style{
				StrokeColor: colorGrid,
				StrokeWidth: 1,
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Webhook writes",
				XValues: xValues,
				YValues: webhookY,
				Style: chart.Style{
					StrokeColor: colorWebhook,
					StrokeWidth: 2,
					FillColor:   colorWebhook.WithAlpha(50),
				},
			},
			chart.TimeSeries{
				Name:    "Reconciliation fixes",
				XValues: xValues,
				YValues: reconcileY,
				Style: chart.Style{
					StrokeColor: colorReconcile,
					StrokeWidth: 2,
				},
			},
		},
	}

	graph.Elements = []chart.Renderable{
		chart.LegendThin(&graph, chart.Style{
			FillColor: colorBg,
			FontColor: colorText,
			FontSize:  10,
		}),
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render drift chart: %w", err)
	}
	return buf.Bytes(), nil
}

func renderEmptyChart(width, height int, message string) ([]byte, error) {
	graph := chart.Chart{
		Width:  width,
		Height: height,
		Background: chart.Style{
			FillColor: colorBg,
		},
		Canvas: chart.Style{
			FillColor: colorBg,
		},
		XAxis: chart.XAxis{
			Style: chart.Style{
				Hidden: true,
			},
			Range: &chart.ContinuousRange{
				Min: 0,
				Max: 100,
			},
		},
		YAxis: chart.YAxis{
			Style: chart.Style{
				Hidden: true,
			},
			Range: &chart.ContinuousRange{
				Min: 0,
				Max: 100,
			},
		},
		Series: []chart.Series{
			chart.AnnotationSeries{
				Annotations: []chart.Value2{
					{XValue: 50, YValue: 50, Label: message},
				},
				Style: chart.Style{
					FontColor: colorText,
					FontSize:  14,
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return renderBlank(width, height), nil
	}
	return buf.Bytes(), nil
}

// renderBlank produces a background-only PNG when even the annotation
// chart fails to render.
func renderBlank(width, height int) []byte {
	graph := chart.Chart{
		Width:  width,
		Height: height,
		Background: chart.Style{
			FillColor: colorBg,
		},
		Canvas: chart.Style{
			FillColor: colorBg,
		},
		XAxis: chart.XAxis{
			Style: chart.Style{
				Hidden: true,
			},
			Range: &chart.ContinuousRange{Min: 0, Max: 1},
		},
		YAxis: chart.YAxis{
			Style: chart.Style{
				Hidden: true,
			},
			Range: &chart.ContinuousRange{Min: 0, Max: 1},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				XValues: []float64{0, 1},
				YValues: []float64{0, 0},
				Style: chart.Style{
					Hidden: true,
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		// Last resort: a 1x1 transparent PNG
		return []byte{
			0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A,
			0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52,
			0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
			0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4, 0x89,
			0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41, 0x54,
			0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00, 0x05, 0x00, 0x01,
			0x0D, 0x0A, 0x2D, 0xB4,
			0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44,
			0xAE, 0x42, 0x60, 0x82,
		}
	}
	return buf.Bytes()
}
