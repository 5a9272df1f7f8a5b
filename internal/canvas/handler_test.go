package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	canvasmodel "collabcanvas/internal/canvas/model"
	"collabcanvas/internal/canvas/service"
	"collabcanvas/internal/command"
	groupmodel "collabcanvas/internal/group/model"
	grouprepository "collabcanvas/internal/group/repository"
	"collabcanvas/internal/lock"
	"collabcanvas/internal/presence/channel"
	"collabcanvas/internal/presence/cleanup"
	presencemodel "collabcanvas/internal/presence/model"
	shapemodel "collabcanvas/internal/shape/model"
	shaperepository "collabcanvas/internal/shape/repository"
	"collabcanvas/middleware"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	handler *CanvasHandler
	shapes  *shaperepository.MemoryStore
	groups  *grouprepository.MemoryStore
	ch      *channel.Channel
	clk     *clock.Mock
}

func newFixture(t *testing.T, withCleanup bool) *fixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_700_000_000_000))
	shapes := shaperepository.NewMemoryStore(shaperepository.Options{Clock: clk})
	groups := grouprepository.NewMemoryStore(clk)
	ch := channel.New(channel.NewMemoryBackend(clk), channel.Options{Clock: clk})
	interp := command.NewInterpreter(shapes, lock.NewManager(shapes, clk, 0), clk)

	var sweeper *cleanup.Service
	if withCleanup {
		sweeper = cleanup.NewService(ch, clk, cleanup.Config{})
	}
	return &fixture{
		handler: NewCanvasHandler(service.NewCanvasService(shapes, groups, interp, sweeper)),
		shapes:  shapes,
		groups:  groups,
		ch:      ch,
		clk:     clk,
	}
}

func asUser(r *http.Request, id, name string) *http.Request {
	ctx := context.WithValue(r.Context(), middleware.UserIDKey, id)
	ctx = context.WithValue(ctx, middleware.UserNameKey, name)
	return r.WithContext(ctx)
}

func TestGetShapes(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.shapes.Create(ctx, shapemodel.Shape{ID: "top", DocumentID: "doc", Type: shapemodel.Rect, Z: 2}))
	require.NoError(t, f.shapes.Create(ctx, shapemodel.Shape{ID: "bottom", DocumentID: "doc", Type: shapemodel.Rect, Z: 1}))
	require.NoError(t, f.shapes.Create(ctx, shapemodel.Shape{ID: "elsewhere", DocumentID: "other", Type: shapemodel.Rect}))

	rec := httptest.NewRecorder()
	f.handler.Shapes(rec, httptest.NewRequest(http.MethodGet, "/api/canvases/shapes?docId=doc", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp canvasmodel.ShapesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "doc", resp.DocumentID)
	assert.Equal(t, shapemodel.LastWriterWinsPerField, resp.ConflictPolicy)
	require.Len(t, resp.Shapes, 2)
	assert.Equal(t, "bottom", resp.Shapes[0].ID)
	assert.Equal(t, "top", resp.Shapes[1].ID)
}

func TestShapesRequiresDocIDAndMethod(t *testing.T) {
	f := newFixture(t, false)

	rec := httptest.NewRecorder()
	f.handler.Shapes(rec, httptest.NewRequest(http.MethodGet, "/api/canvases/shapes", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.Shapes(rec, httptest.NewRequest(http.MethodPut, "/api/canvases/shapes?docId=doc", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetShapesStoreFailure(t *testing.T) {
	f := newFixture(t, false)
	f.shapes.SetFailure(errors.New("connection refused"))

	rec := httptest.NewRecorder()
	f.handler.Shapes(rec, httptest.NewRequest(http.MethodGet, "/api/canvases/shapes?docId=doc", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestClearShapes(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.shapes.Create(ctx, shapemodel.Shape{ID: "a", DocumentID: "doc", Type: shapemodel.Rect}))
	require.NoError(t, f.shapes.Create(ctx, shapemodel.Shape{ID: "b", DocumentID: "doc", Type: shapemodel.Circle}))

	rec := httptest.NewRecorder()
	f.handler.Shapes(rec, httptest.NewRequest(http.MethodDelete, "/api/canvases/shapes?docId=doc", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp canvasmodel.ClearResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Removed)

	left, err := f.shapes.List(ctx, "doc")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestGetGroups(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.groups.Create(context.Background(), groupmodel.ShapeGroup{ID: "g1", DocumentID: "doc", Name: "Header", ShapeIDs: []string{"a"}}))

	rec := httptest.NewRecorder()
	f.handler.GetGroups(rec, httptest.NewRequest(http.MethodGet, "/api/canvases/groups?docId=doc", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp canvasmodel.GroupsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Groups, 1)
	assert.Equal(t, "Header", resp.Groups[0].Name)
}

func TestRunCommand(t *testing.T) {
	f := newFixture(t, false)
	body := `{"action":"create","target":"circle","parameters":{"radius":2},"view":{"x":0,"y":0,"width":1000,"height":800}}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/canvases/command?docId=doc", strings.NewReader(body)), "u1", "Alice")

	rec := httptest.NewRecorder()
	f.handler.RunCommand(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var res command.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.Success, res.Error)
	require.Len(t, res.CreatedShapes, 1)
	assert.Equal(t, 100.0, res.CreatedShapes[0].Width)
	assert.Equal(t, "u1", res.CreatedShapes[0].CreatedBy)
	assert.Equal(t, "doc", res.CreatedShapes[0].DocumentID)
}

func TestRunCommandFailureIsReportedInBody(t *testing.T) {
	f := newFixture(t, false)
	body := `{"action":"manipulate","target":"shapes","parameters":{"selector":{"color":"black"},"x":10}}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/canvases/command?docId=doc", strings.NewReader(body)), "u1", "Alice")

	rec := httptest.NewRecorder()
	f.handler.RunCommand(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var res command.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "No shapes found with color")
}

func TestRunCommandRejectsBadBody(t *testing.T) {
	f := newFixture(t, false)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/canvases/command?docId=doc", strings.NewReader(`{`)), "u1", "Alice")

	rec := httptest.NewRecorder()
	f.handler.RunCommand(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerCleanup(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.ch.PublishPresence(ctx, "doc", presencemodel.Presence{UserID: "u1", DisplayName: "Alice", IsActive: true}))
	f.clk.Add(61 * time.Second)

	rec := httptest.NewRecorder()
	f.handler.TriggerCleanup(rec, httptest.NewRequest(http.MethodPost, "/api/presence/cleanup", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var stats cleanup.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, cleanup.Stats{Marked: 1}, stats)
}

func TestTriggerCleanupWithoutService(t *testing.T) {
	f := newFixture(t, false)

	rec := httptest.NewRecorder()
	f.handler.TriggerCleanup(rec, httptest.NewRequest(http.MethodPost, "/api/presence/cleanup", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(func() (int, int) { return 2, 5 })(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","rooms":2,"clients":5}`, rec.Body.String())
}
