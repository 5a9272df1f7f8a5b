package model

import (
	"sort"
	"strings"

	"collabcanvas/pkg/geometry"

	"github.com/oklog/ulid/v2"
)

// ConflictPolicy names the consistency model of the durable store: each field keeps the value
// of the last write physically committed. There are no vector clocks and no merge step; locks
// are advisory hints checked by cooperative clients only.
const ConflictPolicy = LastWriterWinsPerField

const LastWriterWinsPerField = "last-writer-wins-per-field"

type ShapeType string

const (
	Rect     ShapeType = "rect"
	Circle   ShapeType = "circle"
	Triangle ShapeType = "triangle"
	Star     ShapeType = "star"
	Arrow    ShapeType = "arrow"
	Text     ShapeType = "text"
)

var shapeTypes = []ShapeType{Rect, Circle, Triangle, Star, Arrow, Text}

// ParseShapeType accepts singular and plural names ("circles") as well as "rectangle"/"square".
func ParseShapeType(s string) (ShapeType, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "rectangle", "rectangles", "square", "squares", "box", "boxes":
		return Rect, true
	case "ellipse", "ellipses":
		return Circle, true
	}
	v = strings.TrimSuffix(v, "s")
	for _, t := range shapeTypes {
		if string(t) == v {
			return t, true
		}
	}
	return "", false
}

const (
	HistoryComment = "comment"
	HistoryEdit    = "edit"
)

type HistoryEntry struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text,omitempty"`
	Action    string `json:"action,omitempty"`
	Details   string `json:"details,omitempty"`
}

// Actor identifies who performs a mutation.
type Actor struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type Shape struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"documentId"`
	Type        ShapeType `json:"type"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Width       float64   `json:"width"`
	Height      float64   `json:"height"`
	Rotation    float64   `json:"rotation"`
	Z           int       `json:"z"`
	Fill        string    `json:"fill"`
	Stroke      string    `json:"stroke"`
	StrokeWidth float64   `json:"strokeWidth"`
	Opacity     float64   `json:"opacity"`

	Text     string  `json:"text,omitempty"`
	FontSize float64 `json:"fontSize,omitempty"`

	LockedBy     string `json:"lockedBy,omitempty"`
	LockedByName string `json:"lockedByName,omitempty"`
	LockedAt     int64  `json:"lockedAt,omitempty"`

	Comments      int   `json:"comments,omitempty"`
	LastCommentAt int64 `json:"lastCommentAt,omitempty"`

	History []HistoryEntry `json:"history,omitempty"`
	GroupID string         `json:"groupId,omitempty"`

	CreatedBy string `json:"createdBy,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Locked reports whether a lock marker is present, regardless of its age.
func (s Shape) Locked() bool { return s.LockedBy != "" }

// Bounds is the axis-aligned bounding box of the shape including its rotation.
func (s Shape) Bounds() geometry.Rect {
	return geometry.BoundingBox(s.X, s.Y, s.Width, s.Height, s.Rotation)
}

func (s Shape) Position() geometry.Point { return geometry.Point{X: s.X, Y: s.Y} }

// Clone returns a copy that does not share the history slice.
func (s Shape) Clone() Shape {
	c := s
	if s.History != nil {
		c.History = append(make([]HistoryEntry, 0, len(s.History)), s.History...)
	}
	return c
}

// ShapePatch is a partial update. Nil fields are left untouched.
type ShapePatch struct {
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
	Width       *float64 `json:"width,omitempty"`
	Height      *float64 `json:"height,omitempty"`
	Rotation    *float64 `json:"rotation,omitempty"`
	Z           *int     `json:"z,omitempty"`
	Fill        *string  `json:"fill,omitempty"`
	Stroke      *string  `json:"stroke,omitempty"`
	StrokeWidth *float64 `json:"strokeWidth,omitempty"`
	Opacity     *float64 `json:"opacity,omitempty"`
	Text        *string  `json:"text,omitempty"`
	FontSize    *float64 `json:"fontSize,omitempty"`

	LockedBy     *string `json:"lockedBy,omitempty"`
	LockedByName *string `json:"lockedByName,omitempty"`
	LockedAt     *int64  `json:"lockedAt,omitempty"`
	ClearLock    bool    `json:"clearLock,omitempty"`

	Comments      *int   `json:"comments,omitempty"`
	LastCommentAt *int64 `json:"lastCommentAt,omitempty"`

	GroupID    *string `json:"groupId,omitempty"`
	ClearGroup bool    `json:"clearGroup,omitempty"`

	// History, when non-nil, replaces the stored list and suppresses the derived edit entry.
	History []HistoryEntry `json:"history,omitempty"`
}

// Apply returns s with the patch fields written over it.
func (p ShapePatch) Apply(s Shape) Shape {
	out := s.Clone()
	setF := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setS := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setF(&out.X, p.X)
	setF(&out.Y, p.Y)
	setF(&out.Width, p.Width)
	setF(&out.Height, p.Height)
	setF(&out.Rotation, p.Rotation)
	if p.Z != nil {
		out.Z = *p.Z
	}
	setS(&out.Fill, p.Fill)
	setS(&out.Stroke, p.Stroke)
	setF(&out.StrokeWidth, p.StrokeWidth)
	setF(&out.Opacity, p.Opacity)
	setS(&out.Text, p.Text)
	setF(&out.FontSize, p.FontSize)

	if p.ClearLock {
		out.LockedBy, out.LockedByName, out.LockedAt = "", "", 0
	}
	setS(&out.LockedBy, p.LockedBy)
	setS(&out.LockedByName, p.LockedByName)
	if p.LockedAt != nil {
		out.LockedAt = *p.LockedAt
	}

	if p.Comments != nil {
		out.Comments = *p.Comments
	}
	if p.LastCommentAt != nil {
		out.LastCommentAt = *p.LastCommentAt
	}

	if p.ClearGroup {
		out.GroupID = ""
	}
	setS(&out.GroupID, p.GroupID)

	if p.History != nil {
		out.History = append([]HistoryEntry(nil), p.History...)
	}
	return out
}

// IsEmpty reports whether the patch changes nothing.
func (p ShapePatch) IsEmpty() bool {
	return p.X == nil && p.Y == nil && p.Width == nil && p.Height == nil && p.Rotation == nil &&
		p.Z == nil && p.Fill == nil && p.Stroke == nil && p.StrokeWidth == nil && p.Opacity == nil &&
		p.Text == nil && p.FontSize == nil && p.LockedBy == nil && p.LockedByName == nil &&
		p.LockedAt == nil && !p.ClearLock && p.Comments == nil && p.LastCommentAt == nil &&
		p.GroupID == nil && !p.ClearGroup && p.History == nil
}

// SortByPaintOrder orders shapes by z, ties broken by id.
func SortByPaintOrder(shapes []Shape) {
	sort.SliceStable(shapes, func(i, j int) bool {
		if shapes[i].Z != shapes[j].Z {
			return shapes[i].Z < shapes[j].Z
		}
		return shapes[i].ID < shapes[j].ID
	})
}

// SortByCreation orders shapes by id; ids are ULIDs so this is creation order.
func SortByCreation(shapes []Shape) {
	sort.SliceStable(shapes, func(i, j int) bool { return shapes[i].ID < shapes[j].ID })
}

// MaxZ returns the highest z in the set, or -1 for an empty set.
func MaxZ(shapes []Shape) int {
	z := -1
	for _, s := range shapes {
		if s.Z > z {
			z = s.Z
		}
	}
	return z
}

// NewID returns a lexicographically sortable, time-ordered identifier.
func NewID() string {
	return ulid.Make().String()
}

func Float(v float64) *float64 { return &v }
func String(v string) *string { return &v }
func Int(v int) *int { return &v }
func Int64(v int64) *int64 { return &v }
