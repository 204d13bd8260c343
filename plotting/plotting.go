// Package plotting renders a binned power spectrum or a bispectrum
// diagonal slice to PNG. Grounded on plotFuncs.go's MakeCameraResponsePlot:
// the same plot.New() + Liberation-font + StepTicks + plotter.NewLinePoints
// + p.Save("...png") pipeline, ported from "relative response vs.
// wavelength" to "P(k) vs. k".
package plotting

import (
	"errors"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	_ "gonum.org/v1/plot/font/liberation"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/cosmicflow/polyspectra/binning"
)

// ErrEmpty is returned when a binning has no populated bins to plot.
var ErrEmpty = errors.New("plotting: binning has no populated bins")

// StepTicks lays out evenly spaced tick labels, ported verbatim from
// plotFuncs.go's StepTicks.
type StepTicks struct {
	Step   float64
	Format string
}

func (t StepTicks) Ticks(min, max float64) []plot.Tick {
	var ticks []plot.Tick
	start := stepCeil(min, t.Step) * t.Step
	for v := start; v <= max; v += t.Step {
		ticks = append(ticks, plot.Tick{Value: v, Label: fmt.Sprintf(t.Format, v)})
	}
	return ticks
}

func stepCeil(x, step float64) float64 {
	n := x / step
	if n != float64(int64(n)) && n > 0 {
		return float64(int64(n) + 1)
	}
	return float64(int64(n))
}

func stylize(p *plot.Plot) {
	p.Title.TextStyle.Font.Typeface = "Liberation"
	p.Title.TextStyle.Font.Variant = "Sans"
	p.Title.TextStyle.Font.Size = vg.Points(12)

	p.X.Label.TextStyle.Font.Typeface = "Liberation"
	p.X.Label.TextStyle.Font.Variant = "Sans"
	p.X.Label.TextStyle.Font.Size = vg.Points(12)

	p.Y.Label.TextStyle.Font.Typeface = "Liberation"
	p.Y.Label.TextStyle.Font.Variant = "Sans"
	p.Y.Label.TextStyle.Font.Size = vg.Points(12)

	p.X.Tick.Label.Font.Typeface = "Liberation"
	p.X.Tick.Label.Font.Variant = "Sans"
	p.X.Tick.Label.Font.Size = vg.Points(10)

	p.Y.Tick.Label.Font.Typeface = "Liberation"
	p.Y.Tick.Label.Font.Variant = "Sans"
	p.Y.Tick.Label.Font.Size = vg.Points(10)
}

// PowerSpectrum renders b's k-binned P(k) as a blue line-plus-points series
// to filename (a PNG path), matching MakeCameraResponsePlot's line-and-dot
// style for a single series.
func PowerSpectrum(b *binning.PowerSpectrumBinning, title, filename string) error {
	pts, err := populatedPoints(b.KBin, b.Pofk, b.Count)
	if err != nil {
		return err
	}

	p := plot.New()
	stylize(p)
	p.Title.Text = title
	p.X.Label.Text = "k (grid units)"
	p.Y.Label.Text = "P(k)"
	p.X.Tick.Marker = StepTicks{Step: stepSize(pts), Format: "%.2f"}
	p.Add(plotter.NewGrid())

	linePoints, scatterPoints, err := plotter.NewLinePoints(pts)
	if err != nil {
		return err
	}
	linePoints.Color = color.RGBA{B: 255, A: 255}
	linePoints.Width = vg.Points(1)
	scatterPoints.Shape = draw.CircleGlyph{}
	scatterPoints.Radius = vg.Points(2)
	scatterPoints.Color = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	p.Add(linePoints, scatterPoints)

	return p.Save(8*vg.Inch, 4*vg.Inch, filename)
}

// BispectrumDiagonal renders the equilateral slice B(k,k,k) of an
// arity-3 PolyspectrumBinning: the diagonal tuple (i,i,i) for every bin i,
// the same single-series style as PowerSpectrum.
func BispectrumDiagonal(b *binning.PolyspectrumBinning, title, filename string) error {
	if b.Arity != 3 {
		return fmt.Errorf("plotting: BispectrumDiagonal requires arity 3, got %d", b.Arity)
	}
	var ks, vals []float64
	for i := 0; i < b.NBins; i++ {
		idx := b.Index([]int{i, i, i})
		if !b.Computed[idx] {
			continue
		}
		ks = append(ks, b.KBin[i])
		vals = append(vals, b.P123[idx])
	}
	if len(ks) == 0 {
		return ErrEmpty
	}
	pts := make(plotter.XYs, len(ks))
	for i := range ks {
		pts[i].X = ks[i]
		pts[i].Y = vals[i]
	}

	p := plot.New()
	stylize(p)
	p.Title.Text = title
	p.X.Label.Text = "k (grid units)"
	p.Y.Label.Text = "B(k,k,k)"
	p.X.Tick.Marker = StepTicks{Step: stepSize(pts), Format: "%.2f"}
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = color.RGBA{B: 255, A: 255}
	p.Add(line)

	return p.Save(8*vg.Inch, 4*vg.Inch, filename)
}

func populatedPoints(kBin, value, count []float64) (plotter.XYs, error) {
	var pts plotter.XYs
	for i := range kBin {
		if count[i] <= 0 {
			continue
		}
		pts = append(pts, plotter.XY{X: kBin[i], Y: value[i]})
	}
	if len(pts) == 0 {
		return nil, ErrEmpty
	}
	return pts, nil
}

func stepSize(pts plotter.XYs) float64 {
	if len(pts) < 2 {
		return 1.0
	}
	span := pts[len(pts)-1].X - pts[0].X
	if span <= 0 {
		return 1.0
	}
	return span / 10
}
