package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"collabcanvas/internal/canvaserr"
	"collabcanvas/internal/shape/model"
	"collabcanvas/pkg/fanout"
	"collabcanvas/pkg/logger"
	"collabcanvas/pkg/pgwatch"
)

// NotifyChannel is the PostgreSQL NOTIFY channel the canvas_shapes triggers publish on.
// The payload is the document id.
const NotifyChannel = "canvas_shapes"

// Listener is satisfied by *pq.Listener.
type Listener = pgwatch.Listener

// ShapeRepository is the PostgreSQL-backed Store. Change fan-out rides on LISTEN/NOTIFY:
// every notification re-reads the full document and hands it to the subscribers.
type ShapeRepository struct {
	DB       *sql.DB
	listener Listener
	opts     Options

	deliverMu sync.Mutex
	subs      *fanout.Registry[[]model.Shape]
	done      chan struct{}
	closeOnce sync.Once
}

var _ Store = (*ShapeRepository)(nil)

// NewShapeRepository starts listening for shape changes. listener may be nil, in which case
// subscribers only receive the initial snapshot.
func NewShapeRepository(db *sql.DB, listener Listener, opts Options) (*ShapeRepository, error) {
	r := &ShapeRepository{
		DB:       db,
		listener: listener,
		opts:     opts.withDefaults(),
		subs:     fanout.New[[]model.Shape](),
		done:     make(chan struct{}),
	}
	if listener != nil {
		if err := listener.Listen(NotifyChannel); err != nil {
			return nil, canvaserr.Store("listen", err)
		}
		go pgwatch.Run(listener, r.done, r.onNotify, r.refreshAll)
	}
	return r, nil
}

// Close stops change fan-out. Subscriptions stay registered but receive nothing further.
func (r *ShapeRepository) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		if r.listener != nil {
			err = r.listener.Close()
		}
	})
	return err
}

func (r *ShapeRepository) onNotify(documentID string) {
	if r.subs.Len(documentID) > 0 {
		r.refresh(documentID)
	}
}

// refreshAll re-reads every subscribed document after the listener reconnected.
func (r *ShapeRepository) refreshAll() {
	keys := r.subs.Keys()
	logger.Sugar.Infof("Shape listener reconnected, refreshing %d documents", len(keys))
	for _, documentID := range keys {
		r.refresh(documentID)
	}
}

func (r *ShapeRepository) refresh(documentID string) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	shapes, err := r.List(context.Background(), documentID)
	if err != nil {
		logger.Sugar.Errorf("Failed to refresh shapes for doc %s: %v", documentID, err)
		return
	}
	r.subs.Deliver(documentID, shapes)
}

func (r *ShapeRepository) Subscribe(documentID string, onChange func([]model.Shape)) func() {
	sub := r.subs.Add(documentID, onChange)
	go func() {
		r.deliverMu.Lock()
		defer r.deliverMu.Unlock()

		shapes, err := r.List(context.Background(), documentID)
		if err != nil {
			logger.Sugar.Errorf("Failed to load initial shapes for doc %s: %v", documentID, err)
			return
		}
		sub.Send(shapes)
	}()
	return sub.Cancel
}

func (r *ShapeRepository) Get(ctx context.Context, id string) (model.Shape, error) {
	var data []byte
	err := r.DB.QueryRowContext(ctx, "SELECT data FROM canvas_shapes WHERE id = $1", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Shape{}, fmt.Errorf("shape %s: %w", id, canvaserr.ErrNotFound)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get shape %s: %v", id, err)
		return model.Shape{}, canvaserr.Store("get", err)
	}
	return decodeShape(data)
}

func (r *ShapeRepository) List(ctx context.Context, documentID string) ([]model.Shape, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT data FROM canvas_shapes WHERE document_id = $1 ORDER BY created_at ASC, id ASC", documentID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list shapes for doc %s: %v", documentID, err)
		return nil, canvaserr.Store("list", err)
	}
	defer rows.Close()

	shapes := make([]model.Shape, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, canvaserr.Store("list", err)
		}
		shape, err := decodeShape(data)
		if err != nil {
			logger.Sugar.Warnf("Skipping undecodable shape in doc %s: %v", documentID, err)
			continue
		}
		shapes = append(shapes, shape)
	}
	if err := rows.Err(); err != nil {
		return nil, canvaserr.Store("list", err)
	}
	model.SortByPaintOrder(shapes)
	return shapes, nil
}

func (r *ShapeRepository) Create(ctx context.Context, shape model.Shape) error {
	if shape.ID == "" {
		shape.ID = model.NewID()
	}
	now := r.opts.Clock.Now().UnixMilli()
	if shape.CreatedAt == 0 {
		shape.CreatedAt = now
	}
	shape.UpdatedAt = now

	data, err := json.Marshal(shape)
	if err != nil {
		return fmt.Errorf("encode shape %s: %w", shape.ID, err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO canvas_shapes (id, document_id, data, created_at, updated_at) VALUES ($1, $2, $3, NOW(), NOW())`,
		shape.ID, shape.DocumentID, string(data))
	if err != nil {
		logger.Sugar.Errorf("Failed to create shape %s: %v", shape.ID, err)
		return canvaserr.Store("create", err)
	}
	return nil
}

func (r *ShapeRepository) Update(ctx context.Context, id string, patch model.ShapePatch, actor model.Actor) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return canvaserr.Store("update", err)
	}
	defer tx.Rollback()

	var data []byte
	err = tx.QueryRowContext(ctx, "SELECT data FROM canvas_shapes WHERE id = $1 FOR UPDATE", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("shape %s: %w", id, canvaserr.ErrNotFound)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to read shape %s for update: %v", id, err)
		return canvaserr.Store("update", err)
	}
	old, err := decodeShape(data)
	if err != nil {
		return err
	}

	updated, changed := applyPatch(old, patch, actor, r.opts.Clock.Now(), r.opts.HistoryCap)
	if !changed {
		return nil
	}
	encoded, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("encode shape %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE canvas_shapes SET data = $1, updated_at = NOW() WHERE id = $2`, string(encoded), id); err != nil {
		logger.Sugar.Errorf("Failed to update shape %s: %v", id, err)
		return canvaserr.Store("update", err)
	}
	if err := tx.Commit(); err != nil {
		return canvaserr.Store("update", err)
	}
	return nil
}

func (r *ShapeRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.DB.ExecContext(ctx, "DELETE FROM canvas_shapes WHERE id = $1", id); err != nil {
		logger.Sugar.Errorf("Failed to delete shape %s: %v", id, err)
		return canvaserr.Store("delete", err)
	}
	return nil
}

// DeleteAll clears a document in one transaction.
func (r *ShapeRepository) DeleteAll(ctx context.Context, documentID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return canvaserr.Store("delete all", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM canvas_shapes WHERE document_id = $1", documentID)
	if err != nil {
		logger.Sugar.Errorf("Failed to clear doc %s: %v", documentID, err)
		return canvaserr.Store("delete all", err)
	}
	if err := tx.Commit(); err != nil {
		return canvaserr.Store("delete all", err)
	}
	n, _ := res.RowsAffected()
	logger.Sugar.Infof("Cleared %d shapes from doc %s", n, documentID)
	return nil
}

func decodeShape(data []byte) (model.Shape, error) {
	var shape model.Shape
	if err := json.Unmarshal(data, &shape); err != nil {
		return model.Shape{}, fmt.Errorf("decode shape: %w", err)
	}
	return shape, nil
}
