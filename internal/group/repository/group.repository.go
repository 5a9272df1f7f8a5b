package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"collabcanvas/internal/canvaserr"
	"collabcanvas/internal/group/model"
	"collabcanvas/pkg/fanout"
	"collabcanvas/pkg/logger"
	"collabcanvas/pkg/pgwatch"

	"github.com/benbjohnson/clock"
	"github.com/lib/pq"
)

// NotifyChannel is the NOTIFY channel the canvas_groups triggers publish document ids on.
const NotifyChannel = "canvas_groups"

const groupColumns = "id, document_id, name, shape_ids, owner_id, color, is_collapsed, created_at, updated_at"

type GroupRepository struct {
	DB       *sql.DB
	listener pgwatch.Listener
	clock    clock.Clock

	deliverMu sync.Mutex
	subs      *fanout.Registry[snapshot]
	done      chan struct{}
	closeOnce sync.Once
}

var _ Store = (*GroupRepository)(nil)

// NewGroupRepository needs its own listener; a pq.Listener's notification channel has a
// single consumer.
func NewGroupRepository(db *sql.DB, listener pgwatch.Listener, clk clock.Clock) (*GroupRepository, error) {
	if clk == nil {
		clk = clock.New()
	}
	r := &GroupRepository{
		DB:       db,
		listener: listener,
		clock:    clk,
		subs:     fanout.New[snapshot](),
		done:     make(chan struct{}),
	}
	if listener != nil {
		if err := listener.Listen(NotifyChannel); err != nil {
			return nil, canvaserr.Store("listen groups", err)
		}
		go pgwatch.Run(listener, r.done, r.onNotify, r.refreshAll)
	}
	return r, nil
}

func (r *GroupRepository) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		if r.listener != nil {
			err = r.listener.Close()
		}
	})
	return err
}

func (r *GroupRepository) onNotify(documentID string) {
	if r.subs.Len(documentID) > 0 {
		r.refresh(documentID)
	}
}

func (r *GroupRepository) refreshAll() {
	for _, documentID := range r.subs.Keys() {
		r.refresh(documentID)
	}
}

func (r *GroupRepository) refresh(documentID string) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()
	groups, err := r.List(context.Background(), documentID)
	r.subs.Deliver(documentID, snapshot{groups: groups, err: err})
}

func (r *GroupRepository) Subscribe(documentID string, onChange func([]model.ShapeGroup), onError func(error)) func() {
	sub := r.subs.Add(documentID, deliverTo(onChange, onError))
	go func() {
		r.deliverMu.Lock()
		defer r.deliverMu.Unlock()
		groups, err := r.List(context.Background(), documentID)
		sub.Send(snapshot{groups: groups, err: err})
	}()
	return sub.Cancel
}

func (r *GroupRepository) Get(ctx context.Context, id string) (model.ShapeGroup, error) {
	row := r.DB.QueryRowContext(ctx, "SELECT "+groupColumns+" FROM canvas_groups WHERE id = $1", id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ShapeGroup{}, fmt.Errorf("group %s: %w", id, canvaserr.ErrNotFound)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get group %s: %v", id, err)
		return model.ShapeGroup{}, canvaserr.Store("get group", err)
	}
	return g, nil
}

// List returns the groups of a document oldest first. When the ordered query is rejected
// the unordered one is used and the rows are sorted here.
func (r *GroupRepository) List(ctx context.Context, documentID string) ([]model.ShapeGroup, error) {
	groups, err := r.query(ctx, "SELECT "+groupColumns+" FROM canvas_groups WHERE document_id = $1 ORDER BY created_at ASC", documentID)
	if err == nil {
		return groups, nil
	}
	logger.Sugar.Warnf("Ordered group query failed for doc %s, falling back: %v", documentID, err)

	groups, err = r.query(ctx, "SELECT "+groupColumns+" FROM canvas_groups WHERE document_id = $1", documentID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list groups for doc %s: %v", documentID, err)
		return nil, canvaserr.Store("list groups", err)
	}
	model.SortByCreation(groups)
	return groups, nil
}

func (r *GroupRepository) query(ctx context.Context, query, documentID string) ([]model.ShapeGroup, error) {
	rows, err := r.DB.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make([]model.ShapeGroup, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *GroupRepository) Create(ctx context.Context, group model.ShapeGroup) error {
	now := r.clock.Now().UnixMilli()
	if group.CreatedAt == 0 {
		group.CreatedAt = now
	}
	group.UpdatedAt = now

	_, err := r.DB.ExecContext(ctx, `INSERT INTO canvas_groups (`+groupColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		group.ID, group.DocumentID, group.Name, pq.Array(model.Normalize(group.ShapeIDs)), group.OwnerID,
		group.Color, group.IsCollapsed, group.CreatedAt, group.UpdatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to create group %s: %v", group.ID, err)
		return canvaserr.Store("create group", err)
	}
	return nil
}

func (r *GroupRepository) Update(ctx context.Context, id string, patch model.GroupPatch) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return canvaserr.Store("update group", err)
	}
	defer tx.Rollback()

	old, err := scanGroup(tx.QueryRowContext(ctx, "SELECT "+groupColumns+" FROM canvas_groups WHERE id = $1 FOR UPDATE", id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("group %s: %w", id, canvaserr.ErrNotFound)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to read group %s for update: %v", id, err)
		return canvaserr.Store("update group", err)
	}

	g := patch.Apply(old)
	g.UpdatedAt = r.clock.Now().UnixMilli()
	_, err = tx.ExecContext(ctx, `UPDATE canvas_groups SET name = $1, shape_ids = $2, color = $3, is_collapsed = $4, updated_at = $5 WHERE id = $6`,
		g.Name, pq.Array(g.ShapeIDs), g.Color, g.IsCollapsed, g.UpdatedAt, id)
	if err != nil {
		logger.Sugar.Errorf("Failed to update group %s: %v", id, err)
		return canvaserr.Store("update group", err)
	}
	if err := tx.Commit(); err != nil {
		return canvaserr.Store("update group", err)
	}
	return nil
}

func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.DB.ExecContext(ctx, "DELETE FROM canvas_groups WHERE id = $1", id); err != nil {
		logger.Sugar.Errorf("Failed to delete group %s: %v", id, err)
		return canvaserr.Store("delete group", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGroup(row scanner) (model.ShapeGroup, error) {
	var g model.ShapeGroup
	var shapeIDs pq.StringArray
	var color sql.NullString
	err := row.Scan(&g.ID, &g.DocumentID, &g.Name, &shapeIDs, &g.OwnerID, &color, &g.IsCollapsed, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return model.ShapeGroup{}, err
	}
	g.ShapeIDs = model.Normalize(shapeIDs)
	g.Color = color.String
	return g, nil
}
