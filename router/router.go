package router

import (
	"net/http"

	canvasHandler "collabcanvas/internal/canvas"
	"collabcanvas/internal/canvas/service"
	"collabcanvas/internal/session"
	"collabcanvas/middleware"
	"collabcanvas/pkg/geometry"
	"collabcanvas/socket"
)

func Setup(hub *socket.Hub, canvasService *service.CanvasService, jwtSecret string) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.AuthMiddleware(jwtSecret)

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, userName := middleware.UserFromContext(r.Context())
		user := session.User{ID: userID, Name: userName}
		if color := r.URL.Query().Get("color"); geometry.IsValidColor(color) {
			user.Color = color
		}
		socket.ServeWs(hub, w, r, user)
	})
	mux.Handle("/ws", auth(wsHandler))

	// REST API
	handlers := canvasHandler.NewCanvasHandler(canvasService)

	mux.Handle("/api/canvases/shapes", auth(http.HandlerFunc(handlers.Shapes)))
	mux.Handle("/api/canvases/groups", auth(http.HandlerFunc(handlers.GetGroups)))
	mux.Handle("/api/canvases/command", auth(http.HandlerFunc(handlers.RunCommand)))
	mux.Handle("/api/presence/cleanup", auth(http.HandlerFunc(handlers.TriggerCleanup)))

	mux.Handle("/healthz", canvasHandler.Health(func() (int, int) {
		stats := hub.Stats()
		return stats.Rooms, stats.Clients
	}))

	return middleware.CORSMiddleware(mux)
}
