package geometry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidColor = errors.New("invalid color")

// RGB is an opaque 8-bit color.
type RGB struct {
	R, G, B uint8
}

// HSL holds hue in degrees [0,360) and saturation/lightness in [0,1].
type HSL struct {
	H, S, L float64
}

// namedColors covers the names users type in commands; values are CSS colors.
var namedColors = map[string]string{
	"black":   "#000000",
	"white":   "#ffffff",
	"red":     "#ef4444",
	"green":   "#22c55e",
	"blue":    "#3b82f6",
	"yellow":  "#eab308",
	"orange":  "#f97316",
	"purple":  "#a855f7",
	"pink":    "#ec4899",
	"gray":    "#6b7280",
	"grey":    "#6b7280",
	"brown":   "#92400e",
	"cyan":    "#06b6d4",
	"teal":    "#14b8a6",
	"indigo":  "#6366f1",
	"lime":    "#84cc16",
	"navy":    "#1e3a8a",
	"maroon":  "#7f1d1d",
	"magenta": "#d946ef",
	"gold":    "#f59e0b",
	"silver":  "#cbd5e1",
}

// ParseColor accepts #rgb, #rrggbb, rgb(r, g, b), rgba(r, g, b, a) and a set of named colors.
func ParseColor(s string) (RGB, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if hex, ok := namedColors[v]; ok {
		v = hex
	}
	switch {
	case strings.HasPrefix(v, "#"):
		return parseHex(v[1:])
	case strings.HasPrefix(v, "rgb(") || strings.HasPrefix(v, "rgba("):
		return parseFunctional(v)
	}
	return RGB{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
}

// IsValidColor reports whether ParseColor would accept s.
func IsValidColor(s string) bool {
	_, err := ParseColor(s)
	return err == nil
}

func parseHex(h string) (RGB, error) {
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return RGB{}, fmt.Errorf("%w: #%s", ErrInvalidColor, h)
	}
	n, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("%w: #%s", ErrInvalidColor, h)
	}
	return RGB{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n)}, nil
}

func parseFunctional(v string) (RGB, error) {
	open, close := strings.IndexByte(v, '('), strings.LastIndexByte(v, ')')
	if open < 0 || close < open {
		return RGB{}, fmt.Errorf("%w: %q", ErrInvalidColor, v)
	}
	parts := strings.Split(v[open+1:close], ",")
	if len(parts) < 3 || len(parts) > 4 {
		return RGB{}, fmt.Errorf("%w: %q", ErrInvalidColor, v)
	}
	var out [3]uint8
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil || n < 0 || n > 255 {
			return RGB{}, fmt.Errorf("%w: %q", ErrInvalidColor, v)
		}
		out[i] = uint8(n)
	}
	return RGB{R: out[0], G: out[1], B: out[2]}, nil
}

// Hex renders the color as #rrggbb.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// HSL converts to hue/saturation/lightness.
func (c RGB) HSL() HSL {
	r, g, b := float64(c.R)/255, float64(c.G)/255, float64(c.B)/255
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	l := (max + min) / 2
	if max == min {
		return HSL{H: 0, S: 0, L: l}
	}
	d := max - min
	var s float64
	if l > 0.5 {
		s = d / (2 - max - min)
	} else {
		s = d / (max + min)
	}
	var h float64
	switch max {
	case r:
		h = (g - b) / d
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	return HSL{H: h * 60, S: s, L: l}
}

// RGB converts back to 8-bit channels.
func (h HSL) RGB() RGB {
	l := Clamp(h.L, 0, 1)
	s := Clamp(h.S, 0, 1)
	if s == 0 {
		v := uint8(math.Round(l * 255))
		return RGB{R: v, G: v, B: v}
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	hk := NormalizeAngle(h.H) / 360
	conv := func(t float64) uint8 {
		if t < 0 {
			t++
		}
		if t > 1 {
			t--
		}
		var v float64
		switch {
		case t < 1.0/6:
			v = p + (q-p)*6*t
		case t < 0.5:
			v = q
		case t < 2.0/3:
			v = p + (q-p)*(2.0/3-t)*6
		default:
			v = p
		}
		return uint8(math.Round(v * 255))
	}
	return RGB{R: conv(hk + 1.0/3), G: conv(hk), B: conv(hk - 1.0/3)}
}

// WithLightness returns c with its HSL lightness replaced by l.
func (c RGB) WithLightness(l float64) RGB {
	h := c.HSL()
	h.L = Clamp(l, 0, 1)
	return h.RGB()
}

// ColorDistance is the Euclidean distance between two colors in RGB space (0..~441).
func ColorDistance(a, b RGB) float64 {
	dr := float64(a.R) - float64(b.R)
	dg := float64(a.G) - float64(b.G)
	db := float64(a.B) - float64(b.B)
	return math.Sqrt(dr*dr + dg*dg + db*db)
}
