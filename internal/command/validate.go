package command

import (
	"fmt"
	"math"

	"collabcanvas/internal/canvaserr"
	"collabcanvas/internal/shape/model"
	"collabcanvas/pkg/geometry"
)

const (
	MinDimension   = 5.0
	MaxDimension   = 1000.0
	MinFontSize    = 8.0
	MaxFontSize    = 144.0
	MaxStrokeWidth = 50.0

	DefaultFill        = "#3b82f6"
	DefaultTextFill    = "#111827"
	DefaultStroke      = "#1e293b"
	DefaultStrokeWidth = 2.0
	DefaultFontSize    = 24.0
	DefaultRadius      = 50.0
	DefaultText        = "Text"
)

// draft is a shape before validation. Circles are sized by Radius; the stored width and
// height are its diameter.
type draft struct {
	Type        model.ShapeType
	X, Y        float64
	Width       float64
	Height      float64
	Radius      float64
	Rotation    float64
	Fill        string
	Stroke      string
	StrokeWidth float64
	Opacity     float64
	Text        string
	FontSize    float64
}

func defaultDraft(t model.ShapeType) draft {
	d := draft{
		Type:        t,
		Fill:        DefaultFill,
		Stroke:      DefaultStroke,
		StrokeWidth: DefaultStrokeWidth,
		Opacity:     1,
	}
	switch t {
	case model.Circle:
		d.Radius = DefaultRadius
		d.Width, d.Height = 2*DefaultRadius, 2*DefaultRadius
	case model.Rect:
		d.Width, d.Height = 120, 80
	case model.Arrow:
		d.Width, d.Height = 120, 40
	case model.Text:
		d.Width, d.Height = 200, 40
		d.Fill = DefaultTextFill
		d.StrokeWidth = 0
		d.Text = DefaultText
		d.FontSize = DefaultFontSize
	default:
		d.Width, d.Height = 100, 100
	}
	return d
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// validate normalizes rotation and reports every field that is out of bounds or malformed.
func validate(d *draft) []*canvaserr.ValidationError {
	var errs []*canvaserr.ValidationError
	bad := func(field string, value any, reason string) {
		errs = append(errs, canvaserr.Invalid(field, value, reason))
	}

	if !finite(d.X) {
		bad("x", d.X, "not a finite number")
	}
	if !finite(d.Y) {
		bad("y", d.Y, "not a finite number")
	}
	if !finite(d.Rotation) {
		bad("rotation", d.Rotation, "not a finite number")
	} else {
		d.Rotation = geometry.NormalizeAngle(d.Rotation)
	}

	if d.Type == model.Circle {
		if !inRange(d.Radius, MinDimension, MaxDimension) {
			bad("radius", d.Radius, fmt.Sprintf("must be between %.0f and %.0f", MinDimension, MaxDimension))
		}
	} else {
		if !inRange(d.Width, MinDimension, MaxDimension) {
			bad("width", d.Width, fmt.Sprintf("must be between %.0f and %.0f", MinDimension, MaxDimension))
		}
		if !inRange(d.Height, MinDimension, MaxDimension) {
			bad("height", d.Height, fmt.Sprintf("must be between %.0f and %.0f", MinDimension, MaxDimension))
		}
	}

	if !geometry.IsValidColor(d.Fill) {
		bad("color", d.Fill, "not a hex, rgb() or named color")
	}
	if !geometry.IsValidColor(d.Stroke) {
		bad("stroke", d.Stroke, "not a hex, rgb() or named color")
	}
	if !inRange(d.StrokeWidth, 0, MaxStrokeWidth) {
		bad("strokeWidth", d.StrokeWidth, fmt.Sprintf("must be between 0 and %.0f", MaxStrokeWidth))
	}
	if !inRange(d.Opacity, 0, 1) {
		bad("opacity", d.Opacity, "must be between 0 and 1")
	}
	if d.Type == model.Text && !inRange(d.FontSize, MinFontSize, MaxFontSize) {
		bad("fontSize", d.FontSize, fmt.Sprintf("must be between %.0f and %.0f", MinFontSize, MaxFontSize))
	}
	return errs
}

// repairField replaces one offending field with its default for the shape type.
func repairField(d *draft, field string, defaults draft) {
	switch field {
	case "x":
		d.X = defaults.X
	case "y":
		d.Y = defaults.Y
	case "rotation":
		d.Rotation = 0
	case "radius":
		d.Radius = defaults.Radius
	case "width":
		d.Width = defaults.Width
	case "height":
		d.Height = defaults.Height
	case "color":
		d.Fill = defaults.Fill
	case "stroke":
		d.Stroke = defaults.Stroke
	case "strokeWidth":
		d.StrokeWidth = defaults.StrokeWidth
	case "opacity":
		d.Opacity = defaults.Opacity
	case "fontSize":
		d.FontSize = defaults.FontSize
	}
}

// repair runs the ladder: targeted defaults for the offending fields, then every parameter
// defaulted, then give up. notes describes what was changed.
func repair(d draft) (fixed draft, notes []string, err error) {
	defaults := defaultDraft(d.Type)
	defaults.X, defaults.Y = d.X, d.Y
	if !finite(defaults.X) || !finite(defaults.Y) {
		defaults.X, defaults.Y = 0, 0
	}

	errs := validate(&d)
	if len(errs) == 0 {
		return d, nil, nil
	}

	targeted := d
	for _, e := range errs {
		repairField(&targeted, e.Field, defaults)
		notes = append(notes, fmt.Sprintf("%s; using default %s", e.Error(), e.Field))
	}
	if len(validate(&targeted)) == 0 {
		return targeted, notes, nil
	}

	if len(validate(&defaults)) == 0 {
		return defaults, append(notes, "used default parameters for the whole shape"), nil
	}
	return draft{}, notes, fmt.Errorf("could not repair %s: %w", d.Type, errs[0])
}

func (d draft) shape() model.Shape {
	s := model.Shape{
		Type:        d.Type,
		X:           d.X,
		Y:           d.Y,
		Width:       d.Width,
		Height:      d.Height,
		Rotation:    d.Rotation,
		Fill:        d.Fill,
		Stroke:      d.Stroke,
		StrokeWidth: d.StrokeWidth,
		Opacity:     d.Opacity,
	}
	if d.Type == model.Circle {
		s.Width, s.Height = 2*d.Radius, 2*d.Radius
	}
	if d.Type == model.Text {
		s.Text = d.Text
		s.FontSize = d.FontSize
	}
	return s
}

func (d draft) size() (float64, float64) {
	if d.Type == model.Circle {
		return 2 * d.Radius, 2 * d.Radius
	}
	return d.Width, d.Height
}
