// Package tracker implements the Tracker stage: frame-to-frame
// IoU-based optimal assignment producing stable cell IDs across
// time.
package tracker

// BBox is an inclusive bounding box (R0,C0)..(R1,C1) in pixel
// coordinates.
type BBox struct {
	R0, C0, R1, C1 int
}

// IoU returns the intersection-over-union of two inclusive bounding
// boxes, |A∩B| / |A∪B|.
func IoU(a, b BBox) float64 {
	ir0 := maxInt(a.R0, b.R0)
	ic0 := maxInt(a.C0, b.C0)
	ir1 := minInt(a.R1, b.R1)
	ic1 := minInt(a.C1, b.C1)

	if ir1 < ir0 || ic1 < ic0 {
		return 0
	}
	inter := (ir1 - ir0 + 1) * (ic1 - ic0 + 1)
	areaA := (a.R1 - a.R0 + 1) * (a.C1 - a.C0 + 1)
	areaB := (b.R1 - b.R0 + 1) * (b.C1 - b.C0 + 1)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Region is one 4-connected component of a frame's foreground mask.
// Labels are assigned in raster-scan order starting at 1, so labeling
// is deterministic for identical input.
type Region struct {
	Label  int
	BBox   BBox
	Area   int
	Pixels []int // flat row-major indices
}

// LabelFrame computes 4-connected components on a (height x width)
// row-major mask. Regions with area outside [minSize, maxSize] are
// discarded; a zero bound disables that side of the filter. Surviving
// regions keep their raster-scan labels (labels are not compacted
// after filtering).
func LabelFrame(mask []bool, height, width, minSize, maxSize int) []Region {
	visited := make([]bool, len(mask))
	var regions []Region
	queue := make([]int, 0, 64)
	label := 0

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}
		label++

		r := Region{Label: label}
		y0 := start / width
		r.BBox = BBox{R0: y0, C0: start % width, R1: y0, C1: start % width}

		visited[start] = true
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			idx := queue[0]
			queue = queue[1:]
			r.Pixels = append(r.Pixels, idx)

			y := idx / width
			x := idx % width
			if y < r.BBox.R0 {
				r.BBox.R0 = y
			}
			if y > r.BBox.R1 {
				r.BBox.R1 = y
			}
			if x < r.BBox.C0 {
				r.BBox.C0 = x
			}
			if x > r.BBox.C1 {
				r.BBox.C1 = x
			}

			if y > 0 && mask[idx-width] && !visited[idx-width] {
				visited[idx-width] = true
				queue = append(queue, idx-width)
			}
			if y < height-1 && mask[idx+width] && !visited[idx+width] {
				visited[idx+width] = true
				queue = append(queue, idx+width)
			}
			if x > 0 && mask[idx-1] && !visited[idx-1] {
				visited[idx-1] = true
				queue = append(queue, idx-1)
			}
			if x < width-1 && mask[idx+1] && !visited[idx+1] {
				visited[idx+1] = true
				queue = append(queue, idx+1)
			}
		}

		r.Area = len(r.Pixels)
		if minSize > 0 && r.Area < minSize {
			continue
		}
		if maxSize > 0 && r.Area > maxSize {
			continue
		}
		regions = append(regions, r)
	}

	return regions
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
