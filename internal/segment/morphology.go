package segment

// fillHoles fills 4-connected background regions that do not touch
// the frame border — the complement of "reachable from the border by
// 4-connected background pixels".
func fillHoles(mask []bool, height, width int) []bool {
	reachable := make([]bool, height*width)
	queue := make([][2]int, 0, height+width)

	push := func(y, x int) {
		idx := y*width + x
		if !mask[idx] && !reachable[idx] {
			reachable[idx] = true
			queue = append(queue, [2]int{y, x})
		}
	}

	for x := 0; x < width; x++ {
		push(0, x)
		push(height-1, x)
	}
	for y := 0; y < height; y++ {
		push(y, 0)
		push(y, width-1)
	}

	for len(queue) > 0 {
		p := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		y, x := p[0], p[1]
		if y > 0 {
			push(y-1, x)
		}
		if y < height-1 {
			push(y+1, x)
		}
		if x > 0 {
			push(y, x-1)
		}
		if x < width-1 {
			push(y, x+1)
		}
	}

	out := make([]bool, height*width)
	for i := range out {
		out[i] = mask[i] || !reachable[i]
	}
	return out
}

// erode shrinks foreground by one structuring-element application: a
// pixel stays set only if every pixel under the square structuring
// element of side s (centered on it) is set.
func erode(mask []bool, height, width, side int) []bool {
	half := side / 2
	out := make([]bool, height*width)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			set := true
			for dy := -half; dy <= half && set; dy++ {
				ny := y + dy
				if ny < 0 || ny >= height {
					set = false
					break
				}
				for dx := -half; dx <= half; dx++ {
					nx := x + dx
					if nx < 0 || nx >= width || !mask[ny*width+nx] {
						set = false
						break
					}
				}
			}
			out[y*width+x] = set
		}
	}
	return out
}

// DilateMask grows foreground by one structuring-element application
// with a square footprint of side `side`, exported for reuse by the
// background corrector's foreground over-approximation, which is the
// same max-filter operation as this stage's closing step.
func DilateMask(mask []bool, height, width, side int) []bool {
	return dilate(mask, height, width, side)
}

// dilate grows foreground by one structuring-element application: a
// pixel becomes set if any pixel under the square structuring element
// of side s (centered on it) is set.
func dilate(mask []bool, height, width, side int) []bool {
	half := side / 2
	out := make([]bool, height*width)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			set := false
			for dy := -half; dy <= half && !set; dy++ {
				ny := y + dy
				if ny < 0 || ny >= height {
					continue
				}
				for dx := -half; dx <= half; dx++ {
					nx := x + dx
					if nx >= 0 && nx < width && mask[ny*width+nx] {
						set = true
						break
					}
				}
			}
			out[y*width+x] = set
		}
	}
	return out
}

// opening applies n iterations of erosion followed by n iterations of
// dilation with a square structuring element of side s.
func opening(mask []bool, height, width, side, iterations int) []bool {
	out := mask
	for i := 0; i < iterations; i++ {
		out = erode(out, height, width, side)
	}
	for i := 0; i < iterations; i++ {
		out = dilate(out, height, width, side)
	}
	return out
}

// closing applies n iterations of dilation followed by n iterations
// of erosion with a square structuring element of side s.
func closing(mask []bool, height, width, side, iterations int) []bool {
	out := mask
	for i := 0; i < iterations; i++ {
		out = dilate(out, height, width, side)
	}
	for i := 0; i < iterations; i++ {
		out = erode(out, height, width, side)
	}
	return out
}
