// Package history derives human-readable activity entries from shape edits.
package history

import (
	"fmt"
	"math"
	"strings"
	"time"

	"collabcanvas/internal/shape/model"
	"collabcanvas/pkg/geometry"
)

const (
	DefaultCap = 10

	moveThreshold     = 5.0
	resizeThreshold   = 2.0
	rotationThreshold = 1.0
)

// CreateEditEntry compares two versions of a shape and describes what changed.
// ok is false when no tracked field crossed its threshold.
func CreateEditEntry(old, updated model.Shape, actor model.Actor, now time.Time) (entry model.HistoryEntry, ok bool) {
	var actions []string
	var details []string

	if d := geometry.Distance(old.Position(), updated.Position()); d > moveThreshold {
		actions = append(actions, "moved")
		details = append(details, fmt.Sprintf("position (%.0f, %.0f) → (%.0f, %.0f)", old.X, old.Y, updated.X, updated.Y))
	}
	if math.Abs(updated.Width-old.Width) > resizeThreshold || math.Abs(updated.Height-old.Height) > resizeThreshold {
		actions = append(actions, "resized")
		details = append(details, fmt.Sprintf("size %.0f×%.0f → %.0f×%.0f", old.Width, old.Height, updated.Width, updated.Height))
	}
	if geometry.AngleDelta(old.Rotation, updated.Rotation) > rotationThreshold {
		actions = append(actions, "rotated")
		details = append(details, fmt.Sprintf("rotation %.0f° → %.0f°", old.Rotation, updated.Rotation))
	}
	if old.Fill != updated.Fill {
		actions = append(actions, "changed fill color")
		details = append(details, fmt.Sprintf("fill %s → %s", old.Fill, updated.Fill))
	}
	if old.Stroke != updated.Stroke {
		actions = append(actions, "changed stroke color")
	}
	if old.StrokeWidth != updated.StrokeWidth {
		actions = append(actions, "changed stroke width")
	}
	if old.Opacity != updated.Opacity {
		actions = append(actions, "changed opacity")
	}
	if old.Text != updated.Text {
		actions = append(actions, "edited text")
	}
	if old.FontSize != updated.FontSize {
		actions = append(actions, "changed font size")
	}
	switch {
	case updated.Z > old.Z:
		actions = append(actions, "brought forward")
	case updated.Z < old.Z:
		actions = append(actions, "sent backward")
	}

	if len(actions) == 0 {
		return model.HistoryEntry{}, false
	}
	return model.HistoryEntry{
		Type:      model.HistoryEdit,
		UserID:    actor.UserID,
		UserName:  actor.UserName,
		Timestamp: now.UnixMilli(),
		Action:    joinActions(actions),
		Details:   strings.Join(details, "; "),
	}, true
}

// NewComment builds a comment entry.
func NewComment(actor model.Actor, text string, now time.Time) model.HistoryEntry {
	return model.HistoryEntry{
		Type:      model.HistoryComment,
		UserID:    actor.UserID,
		UserName:  actor.UserName,
		Timestamp: now.UnixMilli(),
		Text:      text,
	}
}

// AddToHistory prepends entry and drops the oldest entries beyond limit (newest first).
// A non-positive limit falls back to DefaultCap. The input slice is not modified.
func AddToHistory(list []model.HistoryEntry, entry model.HistoryEntry, limit int) []model.HistoryEntry {
	if limit <= 0 {
		limit = DefaultCap
	}
	n := len(list) + 1
	if n > limit {
		n = limit
	}
	out := make([]model.HistoryEntry, 0, n)
	out = append(out, entry)
	for _, e := range list {
		if len(out) == n {
			break
		}
		out = append(out, e)
	}
	return out
}

// Trim keeps at most limit entries from the front of list (newest first).
// A non-positive limit falls back to DefaultCap.
func Trim(list []model.HistoryEntry, limit int) []model.HistoryEntry {
	if limit <= 0 {
		limit = DefaultCap
	}
	if len(list) <= limit {
		return list
	}
	return append([]model.HistoryEntry(nil), list[:limit]...)
}

func joinActions(actions []string) string {
	switch len(actions) {
	case 1:
		return actions[0]
	case 2:
		return actions[0] + " and " + actions[1]
	}
	return strings.Join(actions[:len(actions)-1], ", ") + " and " + actions[len(actions)-1]
}
