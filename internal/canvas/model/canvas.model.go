package model

import (
	"collabcanvas/internal/command"
	groupmodel "collabcanvas/internal/group/model"
	shapemodel "collabcanvas/internal/shape/model"
	"collabcanvas/pkg/geometry"
)

type ShapesResponse struct {
	DocumentID     string             `json:"document_id"`
	ConflictPolicy string             `json:"conflict_policy"`
	Shapes         []shapemodel.Shape `json:"shapes"`
}

type GroupsResponse struct {
	DocumentID string                  `json:"document_id"`
	Groups     []groupmodel.ShapeGroup `json:"groups"`
}

type ClearResponse struct {
	DocumentID string `json:"document_id"`
	Removed    int    `json:"removed"`
}

// CommandRequest is a structured canvas action. View is the caller's visible area; the
// default view is used when it is omitted.
type CommandRequest struct {
	Action     string         `json:"action"`
	Target     string         `json:"target"`
	Parameters command.Params `json:"parameters"`
	View       *geometry.Rect `json:"view,omitempty"`
}

func (r CommandRequest) CanvasAction() command.CanvasAction {
	return command.CanvasAction{Action: r.Action, Target: r.Target, Parameters: r.Parameters}
}

type HealthResponse struct {
	Status  string `json:"status"`
	Rooms   int    `json:"rooms"`
	Clients int    `json:"clients"`
}
