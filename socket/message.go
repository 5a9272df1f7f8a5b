package socket

import (
	"encoding/json"

	"collabcanvas/pkg/geometry"
)

// Inbound message types.
const (
	ShapeAddType        = "SHAPE_ADD"
	ShapeUpdateType     = "SHAPE_UPDATE"
	ShapeDeleteType     = "SHAPE_DELETE"
	ShapeClearType      = "SHAPE_CLEAR"
	DragType            = "DRAG"
	DragEndType         = "DRAG_END"
	ResizeType          = "RESIZE"
	ResizeEndType       = "RESIZE_END"
	CursorType          = "CURSOR"
	ViewType            = "VIEW"
	SelectType          = "SELECT"
	DeselectType        = "DESELECT"
	ToggleSelectType    = "TOGGLE_SELECT"
	SelectAllType       = "SELECT_ALL"
	ClearSelectionType  = "CLEAR_SELECTION"
	BoxStartType        = "BOX_START"
	BoxMoveType         = "BOX_MOVE"
	BoxEndType          = "BOX_END"
	ModifierReleaseType = "MODIFIER_RELEASE"
	LockSelectionType   = "LOCK_SELECTION"
	UnlockSelectionType = "UNLOCK_SELECTION"
	GroupCreateType     = "GROUP_CREATE"
	GroupAddType        = "GROUP_ADD"
	GroupRemoveType     = "GROUP_REMOVE"
	GroupDeleteType     = "GROUP_DELETE"
	GroupRenameType     = "GROUP_RENAME"
	GroupCollapseType   = "GROUP_COLLAPSE"
	CommentType         = "COMMENT"
	CommandType         = "COMMAND"
)

// Outbound message types.
const (
	ShapesType        = "SHAPES"
	PresenceType      = "PRESENCE"
	SelectionType     = "SELECTION"
	GroupsType        = "GROUPS"
	ResizesType       = "RESIZES"
	FrameType         = "FRAME"
	CommandResultType = "COMMAND_RESULT"
	ErrorType         = "ERROR"
)

type WSMessage struct {
	Type    string          `json:"type"`
	DocID   string          `json:"document_id"`
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type idPayload struct {
	ID string `json:"id"`
}

type shapeUpdatePayload struct {
	ID    string          `json:"id"`
	Patch json.RawMessage `json:"patch"`
}

type dragPayload struct {
	ShapeID string  `json:"shapeId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width,omitempty"`
	Height  float64 `json:"height,omitempty"`
}

type pointPayload struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Modifier bool    `json:"modifier,omitempty"`
}

func (p pointPayload) point() geometry.Point { return geometry.Point{X: p.X, Y: p.Y} }

type renamePayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type collapsePayload struct {
	ID        string `json:"id"`
	Collapsed bool   `json:"collapsed"`
}

type commentPayload struct {
	ShapeID string `json:"shapeId"`
	Text    string `json:"text"`
}

type selectionPayload struct {
	IDs   []string       `json:"ids"`
	State string         `json:"state"`
	Box   *geometry.Rect `json:"box,omitempty"`
}

type framePayload struct {
	Cursors map[string]geometry.Point `json:"cursors"`
	Shapes  map[string]geometry.Point `json:"shapes"`
}

type errorPayload struct {
	Request string `json:"request,omitempty"`
	Message string `json:"message"`
}
