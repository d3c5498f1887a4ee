package tracker

import "math"

// bigCost stands in for forbidden (+Inf) entries inside the potential
// updates, which need finite arithmetic. Real costs here are IoU
// complements in [0,1], so any match that ends up on a bigCost edge
// is recognizable afterwards and dropped.
const bigCost = 1e9

// Solve computes a minimum-cost linear sum assignment over a
// rectangular cost matrix and returns, for each row, the assigned
// column index or -1. Entries at +Inf are forbidden and never appear
// in the result. Ties are broken toward the lower row index, then the
// lower column index, so the result is deterministic for identical
// input.
//
// This is the Kuhn-Munkres shortest-augmenting-path formulation over
// a matrix padded to square with dummy columns; dummy and forbidden
// edges share bigCost and are filtered from the returned matching.
func Solve(cost [][]float64) []int {
	n := len(cost)
	result := make([]int, n)
	for i := range result {
		result[i] = -1
	}
	if n == 0 {
		return result
	}
	m := len(cost[0])
	if m == 0 {
		return result
	}
	dim := m
	if n > dim {
		dim = n
	}

	at := func(i, j int) float64 {
		if j > m {
			return bigCost
		}
		c := cost[i-1][j-1]
		if math.IsInf(c, 1) {
			return bigCost
		}
		return c
	}

	u := make([]float64, n+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)
	way := make([]int, dim+1)
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = math.Inf(1)
			used[j] = false
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := math.Inf(1)
			j1 := 0
			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := at(i0, j) - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	for j := 1; j <= m; j++ {
		i := p[j]
		if i == 0 {
			continue
		}
		if math.IsInf(cost[i-1][j-1], 1) {
			continue
		}
		result[i-1] = j - 1
	}
	return result
}
