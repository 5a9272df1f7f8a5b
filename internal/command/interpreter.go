// Package command executes structured canvas actions: batch creation with validation and
// repair, manipulation through selectors, layout of existing shapes and composite templates.
// Every entry point reports a Result; nothing is returned as a Go error or panic.
package command

import (
	"context"
	"fmt"
	"strings"

	"collabcanvas/internal/shape/model"
	"collabcanvas/pkg/geometry"
	"collabcanvas/pkg/logger"

	"github.com/benbjohnson/clock"
)

// CascadeOffset separates consecutive shapes of a batch that has no explicit layout.
const CascadeOffset = 60.0

// DefaultView is assumed when the caller does not know what is on screen.
var DefaultView = geometry.Rect{X: 0, Y: 0, Width: 1200, Height: 800}

type CanvasAction struct {
	Action     string `json:"action"`
	Target     string `json:"target"`
	Parameters Params `json:"parameters"`
}

type Result struct {
	Success       bool          `json:"success"`
	Error         string        `json:"error,omitempty"`
	CreatedShapes []model.Shape `json:"createdShapes,omitempty"`
	Details       []string      `json:"details,omitempty"`
}

func failure(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Scope is who runs a command, on which document, looking at which part of the canvas.
type Scope struct {
	DocumentID string
	Actor      model.Actor
	View       geometry.Rect
}

type Store interface {
	List(ctx context.Context, documentID string) ([]model.Shape, error)
	Create(ctx context.Context, shape model.Shape) error
	Update(ctx context.Context, id string, patch model.ShapePatch, actor model.Actor) error
}

type Locks interface {
	Conflict(shapes []model.Shape, userID string) error
}

type Interpreter struct {
	Store Store
	Locks Locks
	Clock clock.Clock
}

func NewInterpreter(store Store, locks Locks, clk clock.Clock) *Interpreter {
	if clk == nil {
		clk = clock.New()
	}
	return &Interpreter{Store: store, Locks: locks, Clock: clk}
}

// Execute runs one action. Partial success is reported as success with warnings in Details.
func (in *Interpreter) Execute(ctx context.Context, scope Scope, action CanvasAction) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Sugar.Errorf("Command %s %s panicked: %v", action.Action, action.Target, r)
			res = failure("internal error while running %s", action.Action)
		}
	}()

	if scope.View.Width <= 0 || scope.View.Height <= 0 {
		scope.View = DefaultView
	}
	p := action.Parameters
	if p == nil {
		p = Params{}
	}

	switch strings.ToLower(strings.TrimSpace(action.Action)) {
	case "create", "add", "draw":
		return in.create(ctx, scope, action.Target, p)
	case "manipulate", "move", "update", "modify", "resize", "rotate":
		return in.manipulate(ctx, scope, action.Target, p)
	case "layout", "arrange":
		return in.layout(ctx, scope, action.Target, p)
	case "complex", "template":
		return in.complex(ctx, scope, action.Target, p)
	}
	return failure("Unknown action %q", action.Action)
}

func draftFromParams(t model.ShapeType, p Params) draft {
	d := defaultDraft(t)
	if v, ok := p.Float("size"); ok {
		d.Width, d.Height, d.Radius = v, v, v/2
	}
	if v, ok := p.Float("width", "w"); ok {
		d.Width = v
		if t == model.Circle {
			d.Radius = v / 2
		}
	}
	if v, ok := p.Float("height", "h"); ok {
		d.Height = v
	}
	if v, ok := p.Float("radius", "r"); ok {
		d.Radius = v
	}
	if v, ok := p.Float("rotation", "angle"); ok {
		d.Rotation = v
	}
	if v, ok := p.String("color", "fill"); ok {
		d.Fill = v
	}
	if v, ok := p.String("stroke", "strokeColor"); ok {
		d.Stroke = v
	}
	if v, ok := p.Float("strokeWidth"); ok {
		d.StrokeWidth = v
	}
	if v, ok := p.Float("opacity"); ok {
		d.Opacity = v
	}
	if t == model.Text {
		if v, ok := p.String("text", "content"); ok {
			d.Text = v
		}
		if v, ok := p.Float("fontSize", "font_size"); ok {
			d.FontSize = v
		}
	}
	return d
}

func (in *Interpreter) create(ctx context.Context, scope Scope, target string, p Params) Result {
	shapeType, ok := model.ParseShapeType(target)
	if !ok {
		if _, _, isTemplate := lookupTemplate(target); isTemplate {
			return in.complex(ctx, scope, target, p)
		}
		return failure("Unknown shape type %q", target)
	}

	existing, err := in.Store.List(ctx, scope.DocumentID)
	if err != nil {
		return failure("Could not load the canvas: %v", err)
	}

	var details []string
	count := 1
	if n, ok := p.Int("count", "quantity", "number"); ok {
		count = n
	}
	if count < 1 {
		count = 1
	}
	if count > MaxShapes {
		details = append(details, fmt.Sprintf("Requested %d shapes; created the maximum of %d", count, MaxShapes))
		count = MaxShapes
	}

	base := draftFromParams(shapeType, p)
	drafts := make([]draft, count)
	for i := range drafts {
		drafts[i] = base
	}

	if g, ok := p.String("gradient"); ok {
		if dir, ok := ParseGradient(strings.ToLower(g)); ok {
			baseColor, err := geometry.ParseColor(base.Fill)
			if err != nil {
				baseColor, _ = geometry.ParseColor(defaultDraft(shapeType).Fill)
			}
			for i, c := range Gradient(baseColor, count, dir) {
				drafts[i].Fill = c.Hex()
			}
		} else {
			details = append(details, fmt.Sprintf("Unknown gradient %q ignored", g))
		}
	}

	cascade := true
	if l, ok := p.String("layout", "arrangement"); ok {
		if kind, ok := ParseArrangement(l); ok {
			in.placeArranged(drafts, p, scope.View, kind)
			cascade = false
		} else {
			details = append(details, fmt.Sprintf("Unknown layout %q ignored", l))
		}
	}
	if cascade {
		placeCascade(drafts, p, scope.View)
	}

	return in.createDrafts(ctx, scope, drafts, cascade, existing, details)
}

// placeCascade puts the first draft at the explicit position or centered in view and each
// following one CascadeOffset further down and right.
func placeCascade(drafts []draft, p Params, view geometry.Rect) {
	w, h := drafts[0].size()
	c := view.Center()
	start := geometry.Point{X: c.X - w/2, Y: c.Y - h/2}
	if x, ok := p.Float("x"); ok {
		start.X = x
	}
	if y, ok := p.Float("y"); ok {
		start.Y = y
	}
	for i := range drafts {
		drafts[i].X = start.X + float64(i)*CascadeOffset
		drafts[i].Y = start.Y + float64(i)*CascadeOffset
	}
}

func (in *Interpreter) placeArranged(drafts []draft, p Params, view geometry.Rect, kind Arrangement) {
	sizes := make([]geometry.Point, len(drafts))
	for i, d := range drafts {
		w, h := d.size()
		sizes[i] = geometry.Point{X: w, Y: h}
	}
	spacing, ok := p.Float("spacing", "gap")
	if !ok {
		spacing = DefaultSpacing
	}
	columns, _ := p.Int("columns", "cols")

	positions := Arrange(sizes, geometry.Point{}, kind, spacing, columns)
	bounds := arrangedBounds(sizes, positions)

	c := view.Center()
	offset := geometry.Point{X: c.X - bounds.Width/2, Y: c.Y - bounds.Height/2}
	if x, ok := p.Float("x"); ok {
		offset.X = x
	}
	if y, ok := p.Float("y"); ok {
		offset.Y = y
	}
	for i := range drafts {
		drafts[i].X = positions[i].X + offset.X
		drafts[i].Y = positions[i].Y + offset.Y
	}
}

// createDrafts validates, repairs and stores each draft. A draft that cannot be repaired or
// stored is skipped with a note; the rest of the batch continues.
func (in *Interpreter) createDrafts(ctx context.Context, scope Scope, drafts []draft, cascade bool, existing []model.Shape, details []string) Result {
	z := model.MaxZ(existing) + 1
	var created []model.Shape
	var lastErr error

	for i, d := range drafts {
		if cascade && len(created) > 0 {
			prev := created[len(created)-1]
			d.X, d.Y = prev.X+CascadeOffset, prev.Y+CascadeOffset
		}

		fixed, notes, err := repair(d)
		for _, n := range notes {
			details = append(details, fmt.Sprintf("Shape %d: %s", i+1, n))
		}
		if err != nil {
			details = append(details, fmt.Sprintf("Shape %d skipped: %v", i+1, err))
			lastErr = err
			continue
		}

		s := fixed.shape()
		s.ID = model.NewID()
		s.DocumentID = scope.DocumentID
		s.Z = z
		s.CreatedBy = scope.Actor.UserID
		s.CreatedAt = in.Clock.Now().UnixMilli()
		s.UpdatedAt = s.CreatedAt
		if err := in.Store.Create(ctx, s); err != nil {
			details = append(details, fmt.Sprintf("Shape %d could not be saved: %v", i+1, err))
			lastErr = err
			continue
		}
		z++
		created = append(created, s)
	}

	if len(created) == 0 {
		msg := "No shapes were created"
		if lastErr != nil {
			msg = fmt.Sprintf("%s: %v", msg, lastErr)
		}
		return Result{Success: false, Error: msg, Details: details}
	}
	return Result{Success: true, CreatedShapes: created, Details: details}
}

func (in *Interpreter) complex(ctx context.Context, scope Scope, target string, p Params) Result {
	if name, ok := p.String("template"); ok {
		target = name
	}
	name, tmpl, ok := lookupTemplate(target)
	if !ok {
		return failure("Unknown template %q; available: %s", target, strings.Join(TemplateNames(), ", "))
	}

	existing, err := in.Store.List(ctx, scope.DocumentID)
	if err != nil {
		return failure("Could not load the canvas: %v", err)
	}

	drafts := tmpl(p)
	rects := make([]geometry.Rect, len(drafts))
	for i, d := range drafts {
		w, h := d.size()
		rects[i] = geometry.Rect{X: d.X, Y: d.Y, Width: w, Height: h}
	}
	bounds := geometry.Union(rects...)
	c := scope.View.Center()
	origin := geometry.Point{X: c.X - bounds.Width/2, Y: c.Y - bounds.Height/2}
	if x, ok := p.Float("x"); ok {
		origin.X = x
	}
	if y, ok := p.Float("y"); ok {
		origin.Y = y
	}
	for i := range drafts {
		drafts[i].X += origin.X
		drafts[i].Y += origin.Y
	}

	res := in.createDrafts(ctx, scope, drafts, false, existing, nil)
	if res.Success {
		res.Details = append([]string{fmt.Sprintf("Created %s with %d elements", name, len(res.CreatedShapes))}, res.Details...)
	}
	return res
}
