package reader

import "math"

// Disk sets all pixels within radius of (cy, cx) to value in a
// (height, width) frame, used to build synthetic phase-contrast and
// fluorescence frames for the end-to-end scenario tests.
func Disk(height, width int, cy, cx, radius float64, value float32, frame []float32) {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dy := float64(y) - cy
			dx := float64(x) - cx
			if dy*dy+dx*dx <= radius*radius {
				frame[y*width+x] = value
			}
		}
	}
}

// LinearGradient fills a frame with I = base + slope*x, used to test
// background removal against a known illumination slope.
func LinearGradient(height, width int, base, slope float64, frame []float32) {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			frame[y*width+x] = float32(base + slope*float64(x))
		}
	}
}

// AddGaussianNoise perturbs every pixel by a deterministic
// pseudo-random value with the given standard deviation, using a
// simple counter-seeded generator, so identical inputs reproduce
// identical outputs run to run.
func AddGaussianNoise(frame []float32, sd float64, seed uint64) {
	state := seed | 1
	for i := range frame {
		state = state*6364136223846793005 + 1442695040888963407
		u1 := float64(state>>11) / (1 << 53)
		state = state*6364136223846793005 + 1442695040888963407
		u2 := float64(state>>11) / (1 << 53)
		if u1 <= 0 {
			u1 = 1e-12
		}
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
		frame[i] += float32(z * sd)
	}
}
