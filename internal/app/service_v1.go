package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"gridspace/api/internal/grid"
	"gridspace/api/internal/space"
	"gridspace/api/internal/store"
)

// The v1 surface authenticates with a per-user secret API key and only
// reaches spaces that user owns. Writes publish to every connected
// client, the mutator has no socket of its own to exclude.

// VerifyAPIKey resolves the owner of a secret key.
func (s *Service) VerifyAPIKey(ctx context.Context, key string) (store.User, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return store.User{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "API key required", nil)
	}
	user, err := s.store.GetUserByAPIKey(ctx, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return store.User{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key", nil)
		}
		return store.User{}, fmt.Errorf("verify api key: %w", err)
	}
	return user, nil
}

// FieldValuePatch is one field's partial update in a grid object write.
// Timer fields accept TargetDate and LastAction; everything else uses
// Value alone.
type FieldValuePatch struct {
	Value      any     `json:"value,omitempty"`
	TargetDate *string `json:"targetDate,omitempty"`
	LastAction *string `json:"lastAction,omitempty"`
}

func (s *Service) loadOwnedSpace(ctx context.Context, user store.User, spaceID string) (store.Space, error) {
	sp, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		return store.Space{}, err
	}
	if sp.OwnerID != user.ID {
		return store.Space{}, sql.ErrNoRows
	}
	return sp, nil
}

func decodeSpaceGrid(sp store.Space) (grid.Grid, grid.ValuesMatrix, error) {
	templates, err := grid.ParseTemplates(sp.Objects)
	if err != nil {
		return nil, nil, fmt.Errorf("parse objects: %w", err)
	}
	compact, values, err := grid.ParseCompact(sp.Grid, sp.GridValues)
	if err != nil {
		return nil, nil, fmt.Errorf("parse grid: %w", err)
	}
	return grid.Decode(compact, values, templates), values, nil
}

func cellAt(g grid.Grid, x, y int) (grid.Cell, error) {
	if y < 0 || y >= len(g) || x < 0 || x >= len(g[y]) {
		return grid.Cell{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "position out of bounds", map[string]any{"x": x, "y": y})
	}
	cell := g[y][x]
	if cell.IsEmpty {
		return grid.Cell{}, domainError(http.StatusNotFound, "NOT_FOUND", "No object at that position", map[string]any{"x": x, "y": y})
	}
	return cell, nil
}

// GetGridObject returns one occupied cell with its fields joined
// against the kit: defaults filled in, placement state on top.
func (s *Service) GetGridObject(ctx context.Context, user store.User, spaceID string, x, y int) (map[string]any, error) {
	sp, err := s.loadOwnedSpace(ctx, user, spaceID)
	if err != nil {
		return nil, err
	}
	g, _, err := decodeSpaceGrid(sp)
	if err != nil {
		return nil, err
	}
	cell, err := cellAt(g, x, y)
	if err != nil {
		return nil, err
	}

	fields := make([]map[string]any, 0, len(cell.Fields))
	for _, def := range cell.Fields {
		state := cell.State[def.Slug]
		value := state.Value
		if value == nil {
			value = def.Value
		}
		field := map[string]any{
			"slug":  def.Slug,
			"name":  def.Name,
			"type":  def.Type,
			"value": value,
		}
		if def.Type == "timer" {
			field["targetDate"] = state.TargetDate
			field["lastAction"] = state.LastAction
		}
		fields = append(fields, field)
	}
	return map[string]any{
		"x":      x,
		"y":      y,
		"slug":   cell.Slug,
		"name":   cell.Name,
		"type":   cell.Type,
		"fields": fields,
	}, nil
}

// PutGridObject patches the state of one occupied cell field by field
// and broadcasts the change to everyone in the space's room.
func (s *Service) PutGridObject(ctx context.Context, user store.User, spaceID string, x, y int, patch map[string]FieldValuePatch) (map[string]any, error) {
	if len(patch) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "no fields to update", nil)
	}
	sp, err := s.loadOwnedSpace(ctx, user, spaceID)
	if err != nil {
		return nil, err
	}
	g, values, err := decodeSpaceGrid(sp)
	if err != nil {
		return nil, err
	}
	cell, err := cellAt(g, x, y)
	if err != nil {
		return nil, err
	}

	defs := make(map[string]grid.FieldDef, len(cell.Fields))
	for _, def := range cell.Fields {
		defs[def.Slug] = def
	}

	// The stored values matrix can lag behind the grid dimensions.
	for len(values) <= y {
		values = append(values, nil)
	}
	for len(values[y]) <= x {
		values[y] = append(values[y], nil)
	}

	state := values[y][x]
	if state == nil {
		state = grid.StateMap{}
	}
	for slug, fieldPatch := range patch {
		def, ok := defs[slug]
		if !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown field", map[string]any{"field": slug})
		}
		current := state[slug]
		if def.Type == "timer" {
			if fieldPatch.TargetDate != nil {
				current.TargetDate = *fieldPatch.TargetDate
			}
			if fieldPatch.LastAction != nil {
				current.LastAction = *fieldPatch.LastAction
			}
			if fieldPatch.Value != nil {
				current.Value = fieldPatch.Value
			}
		} else {
			current.Value = fieldPatch.Value
		}
		state[slug] = current
	}
	values[y][x] = state

	rawValues, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode grid values: %w", err)
	}
	if err := s.store.UpdateSpaceFields(ctx, spaceID, store.SpaceUpdate{GridValues: rawValues}); err != nil {
		return nil, err
	}
	s.publish(spaceID)
	return map[string]any{"ok": true, "x": x, "y": y}, nil
}

func (s *Service) GetSpaceDescription(ctx context.Context, user store.User, spaceID string) (map[string]any, error) {
	sp, err := s.loadOwnedSpace(ctx, user, spaceID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": sp.ID, "description": sp.Description}, nil
}

func (s *Service) PutSpaceDescription(ctx context.Context, user store.User, spaceID, description string) (map[string]any, error) {
	sp, err := s.loadOwnedSpace(ctx, user, spaceID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateSpaceFields(ctx, spaceID, store.SpaceUpdate{Description: &description}); err != nil {
		return nil, err
	}
	if sp.IsPublic {
		s.reindexAfterUpdate(ctx, sp, space.Patch{Description: &description})
	}
	s.publish(spaceID)
	return map[string]any{"ok": true}, nil
}
