package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	canvasmodel "collabcanvas/internal/canvas/model"
	"collabcanvas/internal/canvas/service"
	shapemodel "collabcanvas/internal/shape/model"
	"collabcanvas/middleware"
	"collabcanvas/pkg/logger"
)

type CanvasHandler struct {
	Service *service.CanvasService
}

func NewCanvasHandler(service *service.CanvasService) *CanvasHandler {
	return &CanvasHandler{Service: service}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Sugar.Errorf("Handler: Failed to encode response: %v", err)
	}
}

func docIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "Missing docId parameter", http.StatusBadRequest)
		return "", false
	}
	return docID, true
}

// Shapes serves GET (list) and DELETE (clear) on a document's shapes.
func (h *CanvasHandler) Shapes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.GetShapes(w, r)
	case http.MethodDelete:
		h.ClearShapes(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *CanvasHandler) GetShapes(w http.ResponseWriter, r *http.Request) {
	docID, ok := docIDParam(w, r)
	if !ok {
		return
	}

	resp, err := h.Service.GetShapes(r.Context(), docID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to list shapes for doc %s: %v", docID, err)
		http.Error(w, "Failed to load shapes", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CanvasHandler) ClearShapes(w http.ResponseWriter, r *http.Request) {
	docID, ok := docIDParam(w, r)
	if !ok {
		return
	}

	resp, err := h.Service.ClearShapes(r.Context(), docID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to clear doc %s: %v", docID, err)
		http.Error(w, "Failed to clear shapes", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CanvasHandler) GetGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	docID, ok := docIDParam(w, r)
	if !ok {
		return
	}

	resp, err := h.Service.GetGroups(r.Context(), docID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to list groups for doc %s: %v", docID, err)
		http.Error(w, "Failed to load groups", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RunCommand executes one structured action. A failed action is still a 200: the outcome is
// in the result body.
func (h *CanvasHandler) RunCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	docID, ok := docIDParam(w, r)
	if !ok {
		return
	}

	var req canvasmodel.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userID, userName := middleware.UserFromContext(r.Context())
	res := h.Service.RunCommand(r.Context(), docID, shapemodel.Actor{UserID: userID, UserName: userName}, req)
	if !res.Success {
		logger.Sugar.Infof("Command %s %s on doc %s failed: %s", req.Action, req.Target, docID, res.Error)
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *CanvasHandler) TriggerCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.Service.TriggerCleanup(r.Context())
	if errors.Is(err, service.ErrCleanupDisabled) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		logger.Sugar.Errorf("Handler: Presence cleanup failed: %v", err)
		http.Error(w, "Presence cleanup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Health reports liveness plus the gateway's room counts.
func Health(stats func() (rooms, clients int)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, clients := stats()
		writeJSON(w, http.StatusOK, canvasmodel.HealthResponse{Status: "ok", Rooms: rooms, Clients: clients})
	}
}
