package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"gridspace/api/internal/grid"
	"gridspace/api/internal/store"
)

func machineSpace(owner string) store.Space {
	return store.Space{
		ID:       "spc_1",
		OwnerID:  owner,
		Name:     "Garage",
		IsPublic: true,
		Objects: json.RawMessage(`[
			{"localId":1,"slug":"machine","name":"Machine","type":"object","fields":[
				{"slug":"status","name":"Status","type":"text","value":"idle"},
				{"slug":"brew","name":"Brew","type":"timer","value":"10"}
			]}
		]`),
		Grid:       json.RawMessage(`[[{"localId":1},null]]`),
		GridValues: json.RawMessage(`[[{"status":{"value":"busy"}},{}]]`),
	}
}

func TestVerifyAPIKey(t *testing.T) {
	fs := &fakeStore{
		getUserByAPIKeyFn: func(ctx context.Context, key string) (store.User, error) {
			if key == "key_good" {
				return store.User{ID: "usr_1", Username: "ada"}, nil
			}
			return store.User{}, sql.ErrNoRows
		},
	}
	svc, _, _, _ := newTestService(fs)

	user, err := svc.VerifyAPIKey(context.Background(), "key_good")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if user.ID != "usr_1" {
		t.Fatalf("resolved wrong user: %s", user.ID)
	}

	_, err = svc.VerifyAPIKey(context.Background(), "key_bad")
	wantDomainError(t, err, http.StatusUnauthorized, "UNAUTHORIZED")

	_, err = svc.VerifyAPIKey(context.Background(), "")
	wantDomainError(t, err, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestGetGridObjectJoinsKit(t *testing.T) {
	fs := &fakeStore{
		getSpaceFn: func(ctx context.Context, spaceID string) (store.Space, error) {
			return machineSpace("usr_1"), nil
		},
	}
	svc, _, _, _ := newTestService(fs)
	user := store.User{ID: "usr_1"}

	payload, err := svc.GetGridObject(context.Background(), user, "spc_1", 0, 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if payload["slug"] != "machine" {
		t.Fatalf("unexpected object: %v", payload["slug"])
	}
	fields := payload["fields"].([]map[string]any)
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}
	// Placement state wins over the kit default.
	if fields[0]["slug"] != "status" || fields[0]["value"] != "busy" {
		t.Fatalf("unexpected status field: %v", fields[0])
	}
	// Untouched fields fall back to the kit default.
	if fields[1]["slug"] != "brew" || fields[1]["value"] != "10" {
		t.Fatalf("unexpected brew field: %v", fields[1])
	}
	if _, ok := fields[1]["targetDate"]; !ok {
		t.Fatal("timer fields carry their timer sub-state")
	}
}

func TestGetGridObjectBounds(t *testing.T) {
	fs := &fakeStore{
		getSpaceFn: func(ctx context.Context, spaceID string) (store.Space, error) {
			return machineSpace("usr_1"), nil
		},
	}
	svc, _, _, _ := newTestService(fs)
	user := store.User{ID: "usr_1"}

	_, err := svc.GetGridObject(context.Background(), user, "spc_1", 5, 0)
	wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.GetGridObject(context.Background(), user, "spc_1", 1, 0)
	wantDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestGridObjectOwnerOnly(t *testing.T) {
	fs := &fakeStore{
		getSpaceFn: func(ctx context.Context, spaceID string) (store.Space, error) {
			return machineSpace("usr_1"), nil
		},
	}
	svc, _, _, _ := newTestService(fs)

	_, err := svc.GetGridObject(context.Background(), store.User{ID: "usr_2"}, "spc_1", 0, 0)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected not-found for a foreign space, got %v", err)
	}
}

func TestPutGridObjectPatchesSingleField(t *testing.T) {
	var captured store.SpaceUpdate
	fs := &fakeStore{
		getSpaceFn: func(ctx context.Context, spaceID string) (store.Space, error) {
			return machineSpace("usr_1"), nil
		},
		updateSpaceFieldsFn: func(ctx context.Context, spaceID string, u store.SpaceUpdate) error {
			captured = u
			return nil
		},
	}
	svc, _, _, broadcast := newTestService(fs)
	user := store.User{ID: "usr_1"}

	_, err := svc.PutGridObject(context.Background(), user, "spc_1", 0, 0, map[string]FieldValuePatch{
		"status": {Value: "done"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if captured.GridValues == nil || captured.Name != nil || captured.Grid != nil {
		t.Fatalf("expected a grid-values-only update, got %+v", captured)
	}

	var values grid.ValuesMatrix
	if err := json.Unmarshal(captured.GridValues, &values); err != nil {
		t.Fatalf("decode values: %v", err)
	}
	if values[0][0]["status"].Value != "done" {
		t.Fatalf("expected the patched value, got %v", values[0][0]["status"])
	}

	if len(broadcast.published) != 1 || broadcast.published[0] != "spc_1" {
		t.Fatalf("expected a broadcast to the space room, got %v", broadcast.published)
	}
}

func TestPutGridObjectTimerSubState(t *testing.T) {
	var captured store.SpaceUpdate
	fs := &fakeStore{
		getSpaceFn: func(ctx context.Context, spaceID string) (store.Space, error) {
			return machineSpace("usr_1"), nil
		},
		updateSpaceFieldsFn: func(ctx context.Context, spaceID string, u store.SpaceUpdate) error {
			captured = u
			return nil
		},
	}
	svc, _, _, _ := newTestService(fs)
	user := store.User{ID: "usr_1"}

	target := "2026-08-31T12:00:00Z"
	action := "started"
	_, err := svc.PutGridObject(context.Background(), user, "spc_1", 0, 0, map[string]FieldValuePatch{
		"brew": {TargetDate: &target, LastAction: &action},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	var values grid.ValuesMatrix
	if err := json.Unmarshal(captured.GridValues, &values); err != nil {
		t.Fatalf("decode values: %v", err)
	}
	state := values[0][0]["brew"]
	if state.TargetDate != target || state.LastAction != action {
		t.Fatalf("unexpected timer state: %+v", state)
	}
	// Sibling field state survives the patch.
	if values[0][0]["status"].Value != "busy" {
		t.Fatalf("expected the status field untouched, got %v", values[0][0]["status"])
	}
}

func TestPutGridObjectRejectsUnknownField(t *testing.T) {
	updated := false
	fs := &fakeStore{
		getSpaceFn: func(ctx context.Context, spaceID string) (store.Space, error) {
			return machineSpace("usr_1"), nil
		},
		updateSpaceFieldsFn: func(ctx context.Context, spaceID string, u store.SpaceUpdate) error {
			updated = true
			return nil
		},
	}
	svc, _, _, _ := newTestService(fs)
	user := store.User{ID: "usr_1"}

	_, err := svc.PutGridObject(context.Background(), user, "spc_1", 0, 0, map[string]FieldValuePatch{
		"bogus": {Value: "x"},
	})
	wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	if updated {
		t.Fatal("a rejected patch must not reach the store")
	}
}

func TestPutSpaceDescription(t *testing.T) {
	var captured store.SpaceUpdate
	fs := &fakeStore{
		getSpaceFn: func(ctx context.Context, spaceID string) (store.Space, error) {
			return machineSpace("usr_1"), nil
		},
		updateSpaceFieldsFn: func(ctx context.Context, spaceID string, u store.SpaceUpdate) error {
			captured = u
			return nil
		},
		getUserByIDFn: func(ctx context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, Username: "ada"}, nil
		},
	}
	svc, _, searchSvc, broadcast := newTestService(fs)
	user := store.User{ID: "usr_1"}

	if _, err := svc.PutSpaceDescription(context.Background(), user, "spc_1", "now with chargers"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if captured.Description == nil || *captured.Description != "now with chargers" {
		t.Fatalf("unexpected update: %+v", captured)
	}
	if len(broadcast.published) != 1 {
		t.Fatalf("expected a broadcast, got %v", broadcast.published)
	}
	if len(searchSvc.indexed) != 1 || searchSvc.indexed[0].Description != "now with chargers" {
		t.Fatalf("expected the description to be reindexed, got %+v", searchSvc.indexed)
	}
}
