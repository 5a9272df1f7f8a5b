package command

import (
	"collabcanvas/pkg/geometry"
)

type GradientDirection string

// Both bends downward first for bases lighter than this.
const valleyAbove = 0.8

const (
	Lighter GradientDirection = "lighter"
	Darker  GradientDirection = "darker"
	Both    GradientDirection = "both"
)

func ParseGradient(s string) (GradientDirection, bool) {
	switch GradientDirection(s) {
	case Lighter, Darker, Both:
		return GradientDirection(s), true
	case "light", "lighten":
		return Lighter, true
	case "dark", "darken":
		return Darker, true
	}
	return "", false
}

// Gradient steps the HSL lightness of base across n colors. Lighter rises from base toward
// white, Darker falls toward black. Both turns exactly once: it rises to a lighter peak and
// falls below base, or, for bases too light to rise much further, dips to a darker valley
// and climbs back. Hue and saturation are kept.
func Gradient(base geometry.RGB, n int, dir GradientDirection) []geometry.RGB {
	if n <= 0 {
		return nil
	}
	out := make([]geometry.RGB, n)
	if n == 1 {
		out[0] = base
		return out
	}

	l := base.HSL().L
	high := l + (1-l)*0.75
	low := l * 0.25

	step := func(from, to float64, i, steps int) float64 {
		if steps == 0 {
			return from
		}
		return from + (to-from)*float64(i)/float64(steps)
	}

	switch dir {
	case Darker:
		for i := range out {
			out[i] = base.WithLightness(step(l, low, i, n-1))
		}
	case Both:
		turn := (n - 1) / 2
		mid, end := l+(1-l)*0.6, l*0.4
		if l > valleyAbove {
			mid, end = l*0.4, l+(1-l)*0.6
		}
		for i := range out {
			if i <= turn {
				out[i] = base.WithLightness(step(l, mid, i, turn))
			} else {
				out[i] = base.WithLightness(step(mid, end, i-turn, n-1-turn))
			}
		}
	default:
		for i := range out {
			out[i] = base.WithLightness(step(l, high, i, n-1))
		}
	}
	return out
}
