package forecasting

import "math"

// holtFit is a fitted Holt linear trend model.
type holtFit struct {
	alpha, beta float64
	level       float64
	trend       float64
	sse         float64
	residuals   []float64
}

// fitHolt runs Holt's linear exponential smoothing over series, recording the
// one-step-ahead residuals.
func fitHolt(series []float64, alpha, beta float64) holtFit {
	fit := holtFit{alpha: alpha, beta: beta}
	if len(series) < 2 {
		return fit
	}

	level := series[0]
	trend := series[1] - series[0]
	residuals := make([]float64, 0, len(series)-1)
	sse := 0.0
	for _, y := range series[1:] {
		predicted := level + trend
		r := y - predicted
		residuals = append(residuals, r)
		sse += r * r

		prevLevel := level
		level = alpha*y + (1-alpha)*(level+trend)
		trend = beta*(level-prevLevel) + (1-beta)*trend
	}

	fit.level = level
	fit.trend = trend
	fit.sse = sse
	fit.residuals = residuals
	return fit
}

// bestHolt grid-searches alpha and beta, keeping the first minimum so the choice
// is deterministic.
func bestHolt(series []float64, grid []float64) holtFit {
	best := holtFit{sse: math.Inf(1)}
	for _, a := range grid {
		for _, b := range grid {
			fit := fitHolt(series, a, b)
			if fit.sse < best.sse {
				best = fit
			}
		}
	}
	return best
}

func (f holtFit) predict(h int) float64 {
	return f.level + float64(h)*f.trend
}

// residualStdDev is the sample standard deviation of the residuals.
func (f holtFit) residualStdDev() float64 {
	n := len(f.residuals)
	if n < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range f.residuals {
		mean += r
	}
	mean /= float64(n)
	variance := 0.0
	for _, r := range f.residuals {
		variance += (r - mean) * (r - mean)
	}
	return math.Sqrt(variance / float64(n-1))
}

func defaultGrid() []float64 {
	grid := make([]float64, 0, 9)
	for i := 1; i <= 9; i++ {
		grid = append(grid, float64(i)/10)
	}
	return grid
}
