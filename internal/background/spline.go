package background

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// maxTau2 bounds alpha^2+beta^2 for PCHIP monotonicity preservation,
// the same constant the teacher's CRF-search interpolator uses.
const maxTau2 = 9.0

// hermiteInterp evaluates a cubic Hermite spline segment at xi.
func hermiteInterp(xk, xk1, yk, yk1, dk, dk1, xi float64) float64 {
	h := xk1 - xk
	t := (xi - xk) / h
	t2 := t * t
	t3 := t2 * t

	h00 := 2*t3 - 3*t2 + 1
	h10 := t3 - 2*t2 + t
	h01 := -2*t3 + 3*t2
	h11 := t3 - t2

	return h00*yk + h10*h*dk + h01*yk1 + h11*h*dk1
}

// pchipDerivatives computes monotone Hermite tangents for a strictly
// increasing x, adapted from the teacher's CRF-interpolation PCHIP
// primitive, generalized from exactly-4-points to an arbitrary count
// so it can spline a tile-center grid of any size.
func pchipDerivatives(x, y []float64) []float64 {
	n := len(x)
	d := make([]float64, n)
	if n < 2 {
		return d
	}
	if n == 2 {
		s := (y[1] - y[0]) / (x[1] - x[0])
		d[0], d[1] = s, s
		return d
	}

	slopes := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		slopes[i] = (y[i+1] - y[i]) / (x[i+1] - x[i])
	}

	d[0] = slopes[0]
	d[n-1] = slopes[n-2]
	for i := 1; i < n-1; i++ {
		sPrev, sNext := slopes[i-1], slopes[i]
		if sPrev*sNext <= 0 {
			d[i] = 0
			continue
		}
		hPrev := x[i] - x[i-1]
		hNext := x[i+1] - x[i]
		w1 := 2*hNext + hPrev
		w2 := 2*hPrev + hNext
		d[i] = (w1 + w2) / (w1/sPrev + w2/sNext)
	}

	for i := 0; i < n-1; i++ {
		s := slopes[i]
		if s == 0 {
			d[i], d[i+1] = 0, 0
			continue
		}
		alpha := d[i] / s
		beta := d[i+1] / s
		tau := alpha*alpha + beta*beta
		if tau > maxTau2 {
			scale := 3.0 / math.Sqrt(tau)
			d[i] = scale * alpha * s
			d[i+1] = scale * beta * s
		}
	}

	return d
}

// spline1D builds a monotone PCHIP spline over (x,y) and evaluates it
// at every point in xs. Outside [x0,xn] the endpoint tangents
// continue linearly, so a linear background stays linear out to the
// frame border instead of flattening past the outermost tile center.
func spline1D(x, y []float64, xs []float64) []float64 {
	n := len(x)
	out := make([]float64, len(xs))
	if n == 0 {
		return out
	}
	if n == 1 {
		for i := range out {
			out[i] = y[0]
		}
		return out
	}

	d := pchipDerivatives(x, y)
	k := 0
	for i, xi := range xs {
		if xi <= x[0] {
			out[i] = y[0] + d[0]*(xi-x[0])
			continue
		}
		if xi >= x[n-1] {
			out[i] = y[n-1] + d[n-1]*(xi-x[n-1])
			continue
		}
		for k < n-2 && xi > x[k+1] {
			k++
		}
		out[i] = hermiteInterp(x[k], x[k+1], y[k], y[k+1], d[k], d[k+1], xi)
	}
	return out
}

// Interpolate2D produces a separable bivariate spline surface over a
// full (height, width) grid from values known at sparse tile centers
// (rowCenters x colCenters), splining columns first then rows — the
// standard construction of a 2-D separable spline from a 1-D
// primitive over a regular grid.
func Interpolate2D(rowCenters, colCenters []float64, grid *mat.Dense, height, width int) []float64 {
	nRows := len(rowCenters)

	xs := make([]float64, width)
	for x := 0; x < width; x++ {
		xs[x] = float64(x)
	}
	ys := make([]float64, height)
	for y := 0; y < height; y++ {
		ys[y] = float64(y)
	}

	// Spline each grid row across columns onto every output column.
	rowInterp := make([][]float64, nRows)
	for r := 0; r < nRows; r++ {
		rowInterp[r] = spline1D(colCenters, mat.Row(nil, r, grid), xs)
	}

	// Spline each output column across grid rows onto every output row.
	out := make([]float64, height*width)
	colVals := make([]float64, nRows)
	for x := 0; x < width; x++ {
		for r := 0; r < nRows; r++ {
			colVals[r] = rowInterp[r][x]
		}
		colOut := spline1D(rowCenters, colVals, ys)
		for y := 0; y < height; y++ {
			out[y*width+x] = colOut[y]
		}
	}

	return out
}
