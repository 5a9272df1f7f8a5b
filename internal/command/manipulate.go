package command

import (
	"context"
	"fmt"
	"math"
	"strings"

	"collabcanvas/internal/canvaserr"
	"collabcanvas/internal/shape/model"
	"collabcanvas/pkg/geometry"
)

// DefaultColorTolerance is the RGB distance within which a fill matches a color selector.
const DefaultColorTolerance = 60.0

func typeName(t model.ShapeType, typed bool) string {
	if !typed {
		return "shape"
	}
	return string(t)
}

// targetType reads a manipulation target. "shape", "shapes", "all" and "" select any type.
func targetType(target string) (model.ShapeType, bool) {
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "", "shape", "shapes", "all", "everything", "selection":
		return "", false
	}
	return model.ParseShapeType(target)
}

// resolve picks the shapes a selector names among shapes. Without a selector it returns the
// most recently created candidate.
func resolve(shapes []model.Shape, target string, sel Params) ([]model.Shape, error) {
	t, typed := targetType(target)
	if s, ok := sel.String("type"); ok {
		t, typed = targetType(s)
	}

	candidates := make([]model.Shape, 0, len(shapes))
	for _, s := range shapes {
		if !typed || s.Type == t {
			candidates = append(candidates, s)
		}
	}
	model.SortByCreation(candidates)

	if id, ok := sel.String("id", "shapeId"); ok {
		for _, s := range candidates {
			if s.ID == id {
				return []model.Shape{s}, nil
			}
		}
		return nil, canvaserr.Conflictf("Could not find %s %s", typeName(t, typed), id)
	}

	if c, ok := sel.String("color"); ok {
		want, err := geometry.ParseColor(c)
		if err != nil {
			return nil, canvaserr.Conflictf("No shapes found with color %s", c)
		}
		tolerance, ok := sel.Float("tolerance")
		if !ok {
			tolerance = DefaultColorTolerance
		}
		var matched []model.Shape
		for _, s := range candidates {
			got, err := geometry.ParseColor(s.Fill)
			if err == nil && geometry.ColorDistance(got, want) <= tolerance {
				matched = append(matched, s)
			}
		}
		if len(matched) == 0 {
			return nil, canvaserr.Conflictf("No shapes found with color %s", c)
		}
		candidates = matched
		if _, hasIndex := sel.Int("index", "position"); !hasIndex {
			return candidates, nil
		}
	}

	if idx, ok := sel.Int("index", "position"); ok {
		if idx < 1 || idx > len(candidates) {
			return nil, canvaserr.Conflictf("Could not find %s #%d", typeName(t, typed), idx)
		}
		return []model.Shape{candidates[idx-1]}, nil
	}

	if len(candidates) == 0 {
		return nil, canvaserr.Conflictf("No %s found on the canvas", typeName(t, typed))
	}
	return candidates[len(candidates)-1:], nil
}

// selector is the nested "selector" map, falling back to top-level index and id parameters.
func selector(p Params) Params {
	if sel, ok := p.Map("selector"); ok {
		return sel
	}
	sel := Params{}
	for _, k := range []string{"index", "position", "id", "shapeId"} {
		if p.has(k) {
			sel[k] = p[k]
		}
	}
	return sel
}

// buildPatch turns manipulation parameters into a patch for s. Out-of-range sizes are
// clamped and malformed values are dropped, each with a note.
func buildPatch(s model.Shape, p Params, anchor *model.Shape) (model.ShapePatch, []string) {
	var notes []string
	x, y, w, h := s.X, s.Y, s.Width, s.Height

	if v, ok := p.Float("x"); ok {
		x = v
	}
	if v, ok := p.Float("y"); ok {
		y = v
	}
	if v, ok := p.Float("dx", "deltaX"); ok {
		x += v
	}
	if v, ok := p.Float("dy", "deltaY"); ok {
		y += v
	}
	if anchor != nil {
		ox, ok := p.Float("offsetX")
		if !ok {
			ox = anchor.Width + DefaultSpacing
		}
		oy, _ := p.Float("offsetY")
		x, y = anchor.X+ox, anchor.Y+oy
	}

	if v, ok := p.Float("size"); ok {
		w, h = v, v
	}
	if v, ok := p.Float("width", "w"); ok {
		w = v
	}
	if v, ok := p.Float("height", "h"); ok {
		h = v
	}
	if v, ok := p.Float("radius", "r"); ok && s.Type == model.Circle {
		w, h = 2*v, 2*v
	}
	if v, ok := p.Float("scale", "factor"); ok {
		if v > 0 && finite(v) {
			cx, cy := x+w/2, y+h/2
			w, h = w*v, h*v
			x, y = cx-w/2, cy-h/2
		} else {
			notes = append(notes, fmt.Sprintf("ignored scale %v", v))
		}
	}
	clampDim := func(name string, v, old float64) float64 {
		if !finite(v) {
			notes = append(notes, fmt.Sprintf("ignored non-numeric %s", name))
			return old
		}
		c := geometry.Clamp(v, MinDimension, MaxDimension)
		if c != v {
			notes = append(notes, fmt.Sprintf("%s %.0f clamped to %.0f", name, v, c))
		}
		return c
	}
	w = clampDim("width", w, s.Width)
	h = clampDim("height", h, s.Height)
	if !finite(x) {
		x = s.X
	}
	if !finite(y) {
		y = s.Y
	}

	var patch model.ShapePatch
	if x != s.X {
		patch.X = model.Float(x)
	}
	if y != s.Y {
		patch.Y = model.Float(y)
	}
	if w != s.Width {
		patch.Width = model.Float(w)
	}
	if h != s.Height {
		patch.Height = model.Float(h)
	}

	rot := s.Rotation
	if v, ok := p.Float("rotation", "angle"); ok {
		rot = v
	}
	if v, ok := p.Float("rotateBy", "deltaRotation"); ok {
		rot += v
	}
	if finite(rot) {
		if r := geometry.NormalizeAngle(rot); r != s.Rotation {
			patch.Rotation = model.Float(r)
		}
	}

	if c, ok := p.String("color", "fill"); ok {
		if geometry.IsValidColor(c) {
			patch.Fill = model.String(c)
		} else {
			notes = append(notes, fmt.Sprintf("ignored invalid color %q", c))
		}
	}
	if c, ok := p.String("stroke", "strokeColor"); ok {
		if geometry.IsValidColor(c) {
			patch.Stroke = model.String(c)
		} else {
			notes = append(notes, fmt.Sprintf("ignored invalid stroke %q", c))
		}
	}
	if v, ok := p.Float("opacity"); ok {
		patch.Opacity = model.Float(geometry.Clamp(v, 0, 1))
	}
	if s.Type == model.Text {
		if v, ok := p.String("text", "content"); ok {
			patch.Text = model.String(v)
		}
		if v, ok := p.Float("fontSize", "font_size"); ok {
			patch.FontSize = model.Float(geometry.Clamp(v, MinFontSize, MaxFontSize))
		}
	}
	return patch, notes
}

func (in *Interpreter) manipulate(ctx context.Context, scope Scope, target string, p Params) Result {
	shapes, err := in.Store.List(ctx, scope.DocumentID)
	if err != nil {
		return failure("Could not load the canvas: %v", err)
	}

	matches, err := resolve(shapes, target, selector(p))
	if err != nil {
		return failure("%s", err.Error())
	}
	if len(matches) > MaxShapes {
		matches = matches[:MaxShapes]
	}
	if in.Locks != nil {
		if err := in.Locks.Conflict(matches, scope.Actor.UserID); err != nil {
			return failure("%s", err.Error())
		}
	}

	var anchor *model.Shape
	if rel, ok := p.Map("relativeTo"); ok {
		relTarget, _ := rel.String("type", "target")
		found, err := resolve(shapes, relTarget, rel)
		if err != nil {
			return failure("%s", err.Error())
		}
		anchor = &found[0]
	}

	var details []string
	var firstErr string
	updated := 0
	for _, s := range matches {
		patch, notes := buildPatch(s, p, anchor)
		for _, n := range notes {
			details = append(details, fmt.Sprintf("%s %s: %s", s.Type, shortID(s.ID), n))
		}
		if patch.IsEmpty() {
			details = append(details, fmt.Sprintf("%s %s: nothing to change", s.Type, shortID(s.ID)))
			continue
		}
		if err := in.Store.Update(ctx, s.ID, patch, scope.Actor); err != nil {
			if firstErr == "" {
				firstErr = fmt.Sprintf("Could not update %s: %v", s.Type, err)
			}
			details = append(details, fmt.Sprintf("%s %s: update failed: %v", s.Type, shortID(s.ID), err))
			continue
		}
		updated++
	}
	if updated == 0 && firstErr != "" {
		return Result{Success: false, Error: firstErr, Details: details}
	}
	details = append(details, fmt.Sprintf("Updated %d of %d matching shapes", updated, len(matches)))
	return Result{Success: true, Details: details}
}

func (in *Interpreter) layout(ctx context.Context, scope Scope, target string, p Params) Result {
	shapes, err := in.Store.List(ctx, scope.DocumentID)
	if err != nil {
		return failure("Could not load the canvas: %v", err)
	}

	t, typed := targetType(target)
	var matches []model.Shape
	for _, s := range shapes {
		if !typed || s.Type == t {
			matches = append(matches, s)
		}
	}
	if len(matches) == 0 {
		return failure("No %s found to arrange", typeName(t, typed))
	}
	model.SortByCreation(matches)

	var details []string
	if len(matches) > MaxShapes {
		details = append(details, fmt.Sprintf("Arranging the first %d of %d shapes", MaxShapes, len(matches)))
		matches = matches[:MaxShapes]
	}

	kind := Row
	if l, ok := p.String("layout", "arrangement", "direction"); ok {
		if k, ok := ParseArrangement(l); ok {
			kind = k
		} else {
			details = append(details, fmt.Sprintf("Unknown layout %q; using a row", l))
		}
	}
	spacing, ok := p.Float("spacing", "gap")
	if !ok {
		spacing = DefaultSpacing
	}
	columns, _ := p.Int("columns", "cols")

	origin := geometry.Point{X: math.Inf(1), Y: math.Inf(1)}
	sizes := make([]geometry.Point, len(matches))
	for i, s := range matches {
		sizes[i] = geometry.Point{X: s.Width, Y: s.Height}
		origin.X = math.Min(origin.X, s.X)
		origin.Y = math.Min(origin.Y, s.Y)
	}
	if x, ok := p.Float("x"); ok {
		origin.X = x
	}
	if y, ok := p.Float("y"); ok {
		origin.Y = y
	}

	positions := Arrange(sizes, origin, kind, spacing, columns)
	moved := 0
	for i, s := range matches {
		if in.Locks != nil {
			if err := in.Locks.Conflict([]model.Shape{s}, scope.Actor.UserID); err != nil {
				details = append(details, fmt.Sprintf("Skipped %s %s: %v", s.Type, shortID(s.ID), err))
				continue
			}
		}
		pos := positions[i]
		if pos.X == s.X && pos.Y == s.Y {
			moved++
			continue
		}
		patch := model.ShapePatch{X: model.Float(pos.X), Y: model.Float(pos.Y)}
		if err := in.Store.Update(ctx, s.ID, patch, scope.Actor); err != nil {
			details = append(details, fmt.Sprintf("Could not move %s %s: %v", s.Type, shortID(s.ID), err))
			continue
		}
		moved++
	}
	if moved == 0 {
		return Result{Success: false, Error: "No shapes could be arranged", Details: details}
	}
	details = append(details, fmt.Sprintf("Arranged %d shapes in a %s", moved, kind))
	return Result{Success: true, Details: details}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}
