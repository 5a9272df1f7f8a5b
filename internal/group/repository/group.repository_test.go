package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"collabcanvas/internal/canvaserr"
	"collabcanvas/internal/group/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"id", "document_id", "name", "shape_ids", "owner_id", "color", "is_collapsed", "created_at", "updated_at"}

func newGroupRepo(t *testing.T) (*GroupRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := clock.NewMock()
	clk.Set(time.UnixMilli(5_000))
	repo, err := NewGroupRepository(db, nil, clk)
	require.NoError(t, err)
	return repo, mock
}

func TestListUsesOrderedQuery(t *testing.T) {
	repo, mock := newGroupRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE document_id = $1 ORDER BY created_at ASC")).
		WithArgs("doc").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("g1", "doc", "Header", "{s2,s1}", "u1", "#fff", false, 1, 1))

	groups, err := repo.List(context.Background(), "doc")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"s1", "s2"}, groups[0].ShapeIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFallsBackToUnorderedQuery(t *testing.T) {
	repo, mock := newGroupRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at ASC")).
		WithArgs("doc").
		WillReturnError(errors.New(`pq: column "created_at" does not exist`))
	mock.ExpectQuery(regexp.QuoteMeta("FROM canvas_groups WHERE document_id = $1")).
		WithArgs("doc").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("g2", "doc", "Late", "{}", "u1", nil, false, 300, 300).
			AddRow("g1", "doc", "Early", "{a}", "u1", "#000", true, 100, 100))

	groups, err := repo.List(context.Background(), "doc")
	require.NoError(t, err, "fallback is transparent to callers")
	require.Len(t, groups, 2)
	assert.Equal(t, "g1", groups[0].ID)
	assert.Equal(t, "g2", groups[1].ID)
	assert.True(t, groups[0].IsCollapsed)
	assert.Empty(t, groups[1].Color)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFailsWhenBothQueriesFail(t *testing.T) {
	repo, mock := newGroupRepo(t)
	mock.ExpectQuery("ORDER BY").WillReturnError(errors.New("boom"))
	mock.ExpectQuery("FROM canvas_groups").WillReturnError(errors.New("boom"))

	_, err := repo.List(context.Background(), "doc")
	require.Error(t, err)
	assert.True(t, canvaserr.IsStore(err))
}

func TestCreateGroup(t *testing.T) {
	repo, mock := newGroupRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO canvas_groups")).
		WithArgs("g1", "doc", "Header", sqlmock.AnyArg(), "u1", "#fff", false, int64(5_000), int64(5_000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), model.ShapeGroup{
		ID: "g1", DocumentID: "doc", Name: "Header", ShapeIDs: []string{"s1"}, OwnerID: "u1", Color: "#fff",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateGroupReadModifyWrite(t *testing.T) {
	repo, mock := newGroupRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM canvas_groups WHERE id = $1 FOR UPDATE")).
		WithArgs("g1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("g1", "doc", "Old", "{s1}", "u1", "#fff", false, 1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE canvas_groups SET name = $1")).
		WithArgs("New", sqlmock.AnyArg(), "#fff", false, int64(5_000), "g1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	name := "New"
	require.NoError(t, repo.Update(context.Background(), "g1", model.GroupPatch{Name: &name}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingGroup(t *testing.T) {
	repo, mock := newGroupRepo(t)
	mock.ExpectQuery("FROM canvas_groups WHERE id").WithArgs("nope").WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, canvaserr.ErrNotFound)
}

func TestMemoryStoreSubscribeReportsErrors(t *testing.T) {
	store := NewMemoryStore(clock.NewMock())
	store.SetFailure(errors.New("offline"))

	var gotErr error
	called := false
	unsubscribe := store.Subscribe("doc", func([]model.ShapeGroup) { called = true }, func(err error) { gotErr = err })
	defer unsubscribe()

	assert.False(t, called)
	assert.True(t, canvaserr.IsStore(gotErr))
}
