package model

import (
	"sort"
)

// ShapeGroup is a named set of shapes. Membership has set semantics; the order of ShapeIDs
// carries no meaning. Deleting a group leaves its shapes untouched.
type ShapeGroup struct {
	ID          string   `json:"id"`
	DocumentID  string   `json:"documentId"`
	Name        string   `json:"name"`
	ShapeIDs    []string `json:"shapeIds"`
	OwnerID     string   `json:"ownerId"`
	Color       string   `json:"color,omitempty"`
	IsCollapsed bool     `json:"isCollapsed"`
	CreatedAt   int64    `json:"createdAt"`
	UpdatedAt   int64    `json:"updatedAt"`
}

// GroupPatch is a partial update. A nil ShapeIDs leaves membership untouched; an empty,
// non-nil slice clears it.
type GroupPatch struct {
	Name        *string  `json:"name,omitempty"`
	ShapeIDs    []string `json:"shapeIds,omitempty"`
	Color       *string  `json:"color,omitempty"`
	IsCollapsed *bool    `json:"isCollapsed,omitempty"`
}

func (p GroupPatch) Apply(g ShapeGroup) ShapeGroup {
	out := g
	out.ShapeIDs = append([]string(nil), g.ShapeIDs...)
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.ShapeIDs != nil {
		out.ShapeIDs = Normalize(p.ShapeIDs)
	}
	if p.Color != nil {
		out.Color = *p.Color
	}
	if p.IsCollapsed != nil {
		out.IsCollapsed = *p.IsCollapsed
	}
	return out
}

func (g ShapeGroup) Has(shapeID string) bool {
	for _, id := range g.ShapeIDs {
		if id == shapeID {
			return true
		}
	}
	return false
}

// Normalize removes duplicates and sorts ids so equal sets compare equal.
func Normalize(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func Union(a, b []string) []string {
	return Normalize(append(append([]string(nil), a...), b...))
}

// Difference returns the ids of a that are not in b.
func Difference(a, b []string) []string {
	drop := make(map[string]struct{}, len(b))
	for _, id := range b {
		drop[id] = struct{}{}
	}
	keep := make([]string, 0, len(a))
	for _, id := range a {
		if _, ok := drop[id]; !ok {
			keep = append(keep, id)
		}
	}
	return Normalize(keep)
}

// SortByCreation orders groups by CreatedAt, ties broken by id.
func SortByCreation(groups []ShapeGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].CreatedAt != groups[j].CreatedAt {
			return groups[i].CreatedAt < groups[j].CreatedAt
		}
		return groups[i].ID < groups[j].ID
	})
}

type CreateGroupRequest struct {
	Name     string   `json:"name"`
	ShapeIDs []string `json:"shapeIds"`
	Color    string   `json:"color"`
}

type MembershipRequest struct {
	GroupID  string   `json:"groupId"`
	ShapeIDs []string `json:"shapeIds"`
}
