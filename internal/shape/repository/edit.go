package repository

import (
	"reflect"
	"time"

	"collabcanvas/internal/history"
	"collabcanvas/internal/shape/model"
)

// applyPatch produces the version of old that Update writes, including the derived history entry.
// changed is false when the patch leaves every field as it was; such patches are not written.
func applyPatch(old model.Shape, patch model.ShapePatch, actor model.Actor, now time.Time, historyCap int) (updated model.Shape, changed bool) {
	updated = patch.Apply(old)
	updated.ID = old.ID
	updated.DocumentID = old.DocumentID
	updated.CreatedAt = old.CreatedAt
	updated.UpdatedAt = old.UpdatedAt
	if patch.History != nil {
		updated.History = history.Trim(updated.History, historyCap)
	}
	if reflect.DeepEqual(old, updated) {
		return old, false
	}
	updated.UpdatedAt = now.UnixMilli()

	if patch.History == nil {
		if entry, ok := history.CreateEditEntry(old, updated, actor, now); ok {
			updated.History = history.AddToHistory(old.History, entry, historyCap)
		}
	}
	return updated, true
}
