package service

import (
	"context"
	"errors"
	"strings"

	"collabcanvas/internal/canvaserr"
	"collabcanvas/internal/group/model"
	"collabcanvas/internal/group/repository"
	shapemodel "collabcanvas/internal/shape/model"
	"collabcanvas/pkg/logger"
)

// DefaultColor is used for groups created without a color.
const DefaultColor = "#6366f1"

type GroupService struct {
	Repo repository.Store
}

func NewGroupService(repo repository.Store) *GroupService {
	return &GroupService{Repo: repo}
}

func (s *GroupService) Subscribe(documentID string, onChange func([]model.ShapeGroup), onError func(error)) func() {
	return s.Repo.Subscribe(documentID, onChange, onError)
}

func (s *GroupService) CreateGroup(ctx context.Context, documentID, ownerID string, req model.CreateGroupRequest) (model.ShapeGroup, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Group"
	}
	color := req.Color
	if color == "" {
		color = DefaultColor
	}
	g := model.ShapeGroup{
		ID:         shapemodel.NewID(),
		DocumentID: documentID,
		Name:       name,
		ShapeIDs:   model.Normalize(req.ShapeIDs),
		OwnerID:    ownerID,
		Color:      color,
	}
	if err := s.Repo.Create(ctx, g); err != nil {
		return model.ShapeGroup{}, err
	}
	return g, nil
}

func (s *GroupService) RenameGroup(ctx context.Context, groupID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return canvaserr.Invalid("name", name, "must not be empty")
	}
	return s.Repo.Update(ctx, groupID, model.GroupPatch{Name: &name})
}

func (s *GroupService) SetCollapsed(ctx context.Context, groupID string, collapsed bool) error {
	return s.Repo.Update(ctx, groupID, model.GroupPatch{IsCollapsed: &collapsed})
}

// DeleteGroup removes the group only. Shapes keep their group reference; clearing it is up
// to the caller.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID string) error {
	return s.Repo.Delete(ctx, groupID)
}

// AddShapesToGroup reads the current membership and writes back the union.
func (s *GroupService) AddShapesToGroup(ctx context.Context, groupID string, shapeIDs []string) error {
	g, err := s.Repo.Get(ctx, groupID)
	if err != nil {
		return err
	}
	return s.Repo.Update(ctx, groupID, model.GroupPatch{ShapeIDs: model.Union(g.ShapeIDs, shapeIDs)})
}

// RemoveShapesFromGroup writes back the difference. When no member is left the group is
// deleted and deleted is true.
func (s *GroupService) RemoveShapesFromGroup(ctx context.Context, groupID string, shapeIDs []string) (deleted bool, err error) {
	g, err := s.Repo.Get(ctx, groupID)
	if errors.Is(err, canvaserr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	remaining := model.Difference(g.ShapeIDs, shapeIDs)
	if len(remaining) == 0 {
		logger.Sugar.Infof("Group %s has no members left, deleting", groupID)
		return true, s.Repo.Delete(ctx, groupID)
	}
	return false, s.Repo.Update(ctx, groupID, model.GroupPatch{ShapeIDs: remaining})
}
