package model

import (
	"collabcanvas/pkg/geometry"
)

// Presence is one participant of a document. UpdatedAt is assigned by the ephemeral store.
type Presence struct {
	DocumentID  string          `json:"documentId,omitempty"`
	UserID      string          `json:"userId"`
	DisplayName string          `json:"displayName"`
	Color       string          `json:"color,omitempty"`
	Cursor      *geometry.Point `json:"cursor"`
	UpdatedAt   int64           `json:"updatedAt"`
	IsActive    bool            `json:"isActive"`
}

// Position is a live drag or resize broadcast for one shape by one user.
type Position struct {
	ShapeID   string   `json:"shapeId"`
	UserID    string   `json:"userId"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Width     *float64 `json:"width,omitempty"`
	Height    *float64 `json:"height,omitempty"`
	UpdatedAt int64    `json:"updatedAt"`
}

func (p Position) Point() geometry.Point { return geometry.Point{X: p.X, Y: p.Y} }

// Latest picks, per shape, the most recent position by UpdatedAt among users other than
// localUserID. Arrival order is irrelevant; equal timestamps are broken by user id.
func Latest(positions []Position, localUserID string) map[string]Position {
	out := make(map[string]Position)
	for _, p := range positions {
		if p.UserID == localUserID {
			continue
		}
		cur, ok := out[p.ShapeID]
		if !ok || p.UpdatedAt > cur.UpdatedAt || (p.UpdatedAt == cur.UpdatedAt && p.UserID > cur.UserID) {
			out[p.ShapeID] = p
		}
	}
	return out
}
