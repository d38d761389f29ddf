// Package space holds the shared wire types for a collaborative space
// and the client-side session controller that keeps a live copy of one.
package space

import (
	"encoding/json"

	"gridspace/api/internal/grid"
)

// Tier is an access level for editing grid values.
type Tier string

const (
	TierPublic Tier = "public"
	TierMember Tier = "member"
	TierOwner  Tier = "owner"
)

// ValidTier reports whether t is one of the known tiers.
func ValidTier(t Tier) bool {
	switch t {
	case TierPublic, TierMember, TierOwner:
		return true
	}
	return false
}

// Allows reports whether an actor holding the given tier clears the
// required tier. Owner clears everything, member clears member and
// public, public clears only public.
func (required Tier) Allows(actor Tier) bool {
	rank := func(t Tier) int {
		switch t {
		case TierOwner:
			return 2
		case TierMember:
			return 1
		default:
			return 0
		}
	}
	return rank(actor) >= rank(required)
}

// Permissions governs who may edit which parts of a space.
type Permissions struct {
	GridVals Tier `json:"gridVals"`
}

// Settings is the free-form settings column, currently permissions only.
type Settings struct {
	Permissions Permissions `json:"permissions"`
}

// DefaultSettings is applied to newly created spaces.
func DefaultSettings() Settings {
	return Settings{Permissions: Permissions{GridVals: TierMember}}
}

// Patch is the sparse update body for a space. Nil pointers and nil raw
// messages mean "leave the column alone"; only fields present in the
// request are written.
type Patch struct {
	Name          *string         `json:"name,omitempty"`
	Description   *string         `json:"description,omitempty"`
	IsPublic      *bool           `json:"isPublic,omitempty"`
	Objects       json.RawMessage `json:"objects,omitempty"`
	Grid          json.RawMessage `json:"grid,omitempty"`
	GridValues    json.RawMessage `json:"gridValues,omitempty"`
	Settings      *Settings       `json:"settings,omitempty"`
	TriggerSocket bool            `json:"triggerSocket,omitempty"`
}

// IsEmpty reports whether the patch carries no column to write.
func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.IsPublic == nil &&
		p.Objects == nil && p.Grid == nil && p.GridValues == nil && p.Settings == nil
}

// StructuralFields reports whether the patch touches anything beyond
// grid values. Structural columns are owner-only.
func (p Patch) StructuralFields() bool {
	return p.Name != nil || p.Description != nil || p.IsPublic != nil ||
		p.Objects != nil || p.Grid != nil || p.Settings != nil
}

// Snapshot is the full state of a space as served to clients.
type Snapshot struct {
	ID          string            `json:"id"`
	Owner       string            `json:"owner"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	IsPublic    bool              `json:"isPublic"`
	Objects     []grid.Template   `json:"objects"`
	Grid        grid.CompactGrid  `json:"grid"`
	GridValues  grid.ValuesMatrix `json:"gridValues"`
	Settings    Settings          `json:"settings"`
}
