package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           string
	Username     string
	PasswordHash string
	SecretAPIKey string
	CreatedAt    time.Time
}

// Space is the persisted row. The grid, objects, grid_values and
// settings columns are stored as JSON and passed through opaquely;
// decoding happens at the edge that needs the structure.
type Space struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	IsPublic    bool
	Featured    bool
	Objects     json.RawMessage
	Grid        json.RawMessage
	GridValues  json.RawMessage
	Settings    json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SpaceSummary is the listing shape: everything but the JSON columns.
type SpaceSummary struct {
	ID          string
	OwnerID     string
	OwnerName   string
	Name        string
	Description string
	IsPublic    bool
	UpdatedAt   time.Time
}

// SpaceUpdate is a sparse column patch. Nil members leave the column
// untouched.
type SpaceUpdate struct {
	Name        *string
	Description *string
	IsPublic    *bool
	Objects     json.RawMessage
	Grid        json.RawMessage
	GridValues  json.RawMessage
	Settings    json.RawMessage
}

// IsEmpty reports whether the patch writes no column.
func (u SpaceUpdate) IsEmpty() bool {
	return u.Name == nil && u.Description == nil && u.IsPublic == nil &&
		u.Objects == nil && u.Grid == nil && u.GridValues == nil && u.Settings == nil
}

const (
	ParticipantInvited  = "invited"
	ParticipantAccepted = "accepted"
)

type Participant struct {
	SpaceID   string
	UserID    string
	Username  string
	Status    string
	InvitedAt time.Time
}
