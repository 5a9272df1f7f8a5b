package service

import (
	"context"
	"errors"

	canvasmodel "collabcanvas/internal/canvas/model"
	"collabcanvas/internal/command"
	grouprepository "collabcanvas/internal/group/repository"
	"collabcanvas/internal/presence/cleanup"
	shapemodel "collabcanvas/internal/shape/model"
	shaperepository "collabcanvas/internal/shape/repository"
)

var ErrCleanupDisabled = errors.New("presence cleanup is not configured")

// CanvasService is the request/response face of the stores. Live clients are not notified from
// here; they follow the store subscriptions like any other change.
type CanvasService struct {
	Shapes   shaperepository.Store
	Groups   grouprepository.Store
	Commands *command.Interpreter
	Cleanup  *cleanup.Service
}

func NewCanvasService(shapes shaperepository.Store, groups grouprepository.Store, commands *command.Interpreter, sweeper *cleanup.Service) *CanvasService {
	return &CanvasService{Shapes: shapes, Groups: groups, Commands: commands, Cleanup: sweeper}
}

func (s *CanvasService) GetShapes(ctx context.Context, docID string) (canvasmodel.ShapesResponse, error) {
	shapes, err := s.Shapes.List(ctx, docID)
	if err != nil {
		return canvasmodel.ShapesResponse{}, err
	}
	if shapes == nil {
		shapes = []shapemodel.Shape{}
	}
	shapemodel.SortByPaintOrder(shapes)
	return canvasmodel.ShapesResponse{DocumentID: docID, ConflictPolicy: shapemodel.ConflictPolicy, Shapes: shapes}, nil
}

func (s *CanvasService) GetGroups(ctx context.Context, docID string) (canvasmodel.GroupsResponse, error) {
	groups, err := s.Groups.List(ctx, docID)
	if err != nil {
		return canvasmodel.GroupsResponse{}, err
	}
	return canvasmodel.GroupsResponse{DocumentID: docID, Groups: groups}, nil
}

// ClearShapes deletes every shape of docID and reports how many there were.
func (s *CanvasService) ClearShapes(ctx context.Context, docID string) (canvasmodel.ClearResponse, error) {
	shapes, err := s.Shapes.List(ctx, docID)
	if err != nil {
		return canvasmodel.ClearResponse{}, err
	}
	if err := s.Shapes.DeleteAll(ctx, docID); err != nil {
		return canvasmodel.ClearResponse{}, err
	}
	return canvasmodel.ClearResponse{DocumentID: docID, Removed: len(shapes)}, nil
}

func (s *CanvasService) RunCommand(ctx context.Context, docID string, actor shapemodel.Actor, req canvasmodel.CommandRequest) command.Result {
	scope := command.Scope{DocumentID: docID, Actor: actor}
	if req.View != nil {
		scope.View = *req.View
	}
	return s.Commands.Execute(ctx, scope, req.CanvasAction())
}

func (s *CanvasService) TriggerCleanup(ctx context.Context) (cleanup.Stats, error) {
	if s.Cleanup == nil {
		return cleanup.Stats{}, ErrCleanupDisabled
	}
	return s.Cleanup.TriggerCleanup(ctx)
}
