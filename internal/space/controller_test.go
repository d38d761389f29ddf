package space

import (
	"context"
	"sync"
	"testing"
	"time"

	"gridspace/api/internal/grid"
)

type fakeClient struct {
	mu            sync.Mutex
	fetchFn       func(ctx context.Context, id string) (*Snapshot, error)
	updateFn      func(ctx context.Context, id string, patch Patch) error
	fetchCalls    int
	updateCalls   int
	updatePatches []Patch
}

func (f *fakeClient) FetchSpace(ctx context.Context, id string) (*Snapshot, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.mu.Unlock()
	if f.fetchFn != nil {
		return f.fetchFn(ctx, id)
	}
	return testSnapshot(), nil
}

func (f *fakeClient) UpdateSpace(ctx context.Context, id string, patch Patch) error {
	f.mu.Lock()
	f.updateCalls++
	f.updatePatches = append(f.updatePatches, patch)
	f.mu.Unlock()
	if f.updateFn != nil {
		return f.updateFn(ctx, id, patch)
	}
	return nil
}

func (f *fakeClient) updates() []Patch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Patch(nil), f.updatePatches...)
}

func testSnapshot() *Snapshot {
	templates := []grid.Template{
		{
			LocalID: 1,
			Slug:    "machine",
			Name:    "Machine",
			Fields: []grid.FieldDef{
				{Slug: "status", Name: "Status", Type: "text", Value: "idle"},
				{Slug: "brew", Name: "Brew", Type: "timer", Value: "10"},
			},
		},
	}
	g := grid.DefaultGrid(2, 2)
	compact, values := grid.Encode(g)
	return &Snapshot{
		ID:         "spc_1",
		Name:       "Floor plan",
		IsPublic:   true,
		Objects:    templates,
		Grid:       compact,
		GridValues: values,
		Settings:   Settings{Permissions: Permissions{GridVals: TierMember}},
	}
}

func loadController(t *testing.T, client *fakeClient, role Tier) *Controller {
	t.Helper()
	c := NewController(client, Options{Role: role, DebounceWindow: 25 * time.Millisecond})
	t.Cleanup(c.Close)
	if err := c.Load(context.Background(), "spc_1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c
}

func TestRenameCoalescesToFinalValue(t *testing.T) {
	client := &fakeClient{}
	c := loadController(t, client, TierOwner)

	for _, name := range []string{"F", "Fl", "Flo", "Floo", "Floor 2"} {
		if err := c.Rename(name); err != nil {
			t.Fatalf("Rename: %v", err)
		}
		time.Sleep(3 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(client.updates()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	got := client.updates()
	if len(got) != 1 {
		t.Fatalf("updates = %d, want 1", len(got))
	}
	if got[0].Name == nil || *got[0].Name != "Floor 2" {
		t.Errorf("patch = %+v, want final name", got[0])
	}
	if got[0].Description != nil || got[0].Grid != nil {
		t.Error("patch should carry only the name column")
	}
}

func TestPlaceObjectWritesGridAndValues(t *testing.T) {
	client := &fakeClient{}
	var mu sync.Mutex
	notified := 0
	c := NewController(client, Options{
		Role:           TierOwner,
		DebounceWindow: 25 * time.Millisecond,
		Notify: func() {
			mu.Lock()
			notified++
			mu.Unlock()
		},
	})
	t.Cleanup(c.Close)
	if err := c.Load(context.Background(), "spc_1"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := c.PlaceObject(context.Background(), 1, 0, 1); err != nil {
		t.Fatalf("PlaceObject: %v", err)
	}
	cell := c.Grid()[0][1]
	if cell.IsEmpty || cell.Slug != "machine" {
		t.Errorf("cell = %+v", cell)
	}
	got := client.updates()
	if len(got) != 1 {
		t.Fatalf("updates = %d, want one combined write", len(got))
	}
	p := got[0]
	if p.Grid == nil || p.GridValues == nil {
		t.Errorf("patch = %+v, want grid and gridValues together", p)
	}
	if p.Objects != nil || p.Name != nil {
		t.Errorf("patch = %+v, want only the grid columns", p)
	}
	mu.Lock()
	defer mu.Unlock()
	if notified != 1 {
		t.Errorf("notified = %d, want 1", notified)
	}
}

func TestPlaceObjectUnknownTemplate(t *testing.T) {
	c := loadController(t, &fakeClient{}, TierOwner)
	if err := c.PlaceObject(context.Background(), 0, 0, 99); err == nil {
		t.Fatal("expected error for unknown local id")
	}
}

func TestEditFieldTimerPatch(t *testing.T) {
	client := &fakeClient{}
	c := loadController(t, client, TierMember)

	// Member may not place objects, so seed the grid through the owner.
	owner := loadController(t, &fakeClient{}, TierOwner)
	if err := owner.PlaceObject(context.Background(), 0, 0, 1); err != nil {
		t.Fatalf("PlaceObject: %v", err)
	}
	snap := testSnapshot()
	snap.Grid, snap.GridValues = grid.Encode(owner.Grid())
	client.fetchFn = func(context.Context, string) (*Snapshot, error) { return snap, nil }
	if err := c.Load(context.Background(), "spc_1"); err != nil {
		t.Fatalf("reload: %v", err)
	}

	target := "2026-08-31T12:00:00Z"
	started := "started"
	err := c.EditField(context.Background(), 0, 0, "brew", FieldPatch{
		Timer: &TimerPatch{TargetDate: &target, LastAction: &started},
	})
	if err != nil {
		t.Fatalf("EditField: %v", err)
	}
	state := c.Grid()[0][0].State["brew"]
	if state.TargetDate != target || state.LastAction != started {
		t.Errorf("state = %+v", state)
	}
	got := client.updates()
	if len(got) != 1 || got[0].GridValues == nil || got[0].Grid != nil {
		t.Errorf("patches = %+v, want one gridValues-only write", got)
	}
}

func TestEditFieldDeniedBelowTier(t *testing.T) {
	client := &fakeClient{}
	snap := testSnapshot()
	snap.Settings.Permissions.GridVals = TierOwner
	client.fetchFn = func(context.Context, string) (*Snapshot, error) { return snap, nil }
	c := loadController(t, client, TierMember)

	err := c.EditField(context.Background(), 0, 0, "status", FieldPatch{Value: "busy"})
	if err != ErrNotAllowed {
		t.Fatalf("err = %v, want ErrNotAllowed", err)
	}
	if len(client.updates()) != 0 {
		t.Error("denied edit must not reach the wire")
	}
}

func TestStructuralEditsOwnerOnly(t *testing.T) {
	client := &fakeClient{}
	c := loadController(t, client, TierMember)

	if err := c.Rename("x"); err != ErrNotAllowed {
		t.Errorf("Rename err = %v", err)
	}
	if err := c.SetVisibility(context.Background(), false); err != ErrNotAllowed {
		t.Errorf("SetVisibility err = %v", err)
	}
	if _, err := c.AddTemplate(context.Background(), grid.Template{Slug: "new"}); err != ErrNotAllowed {
		t.Errorf("AddTemplate err = %v", err)
	}
	if len(client.updates()) != 0 {
		t.Error("no denied edit may reach the wire")
	}
}

func TestAddTemplateAssignsMonotonicLocalIDs(t *testing.T) {
	client := &fakeClient{}
	c := loadController(t, client, TierOwner)

	id, err := c.AddTemplate(context.Background(), grid.Template{Slug: "door"})
	if err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}
	if id != 2 {
		t.Fatalf("first id = %d, want 2", id)
	}
	if err := c.RemoveTemplate(context.Background(), id); err != nil {
		t.Fatalf("RemoveTemplate: %v", err)
	}
	id2, err := c.AddTemplate(context.Background(), grid.Template{Slug: "window"})
	if err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}
	if id2 != 3 {
		t.Errorf("id after removal = %d, want 3 (never reused)", id2)
	}
}

func TestRemoveTemplateCascades(t *testing.T) {
	client := &fakeClient{}
	var mu sync.Mutex
	notified := 0
	c := NewController(client, Options{
		Role:           TierOwner,
		DebounceWindow: 25 * time.Millisecond,
		Notify: func() {
			mu.Lock()
			notified++
			mu.Unlock()
		},
	})
	t.Cleanup(c.Close)
	if err := c.Load(context.Background(), "spc_1"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := c.PlaceObject(context.Background(), 0, 0, 1); err != nil {
		t.Fatalf("PlaceObject: %v", err)
	}
	if err := c.RemoveTemplate(context.Background(), 1); err != nil {
		t.Fatalf("RemoveTemplate: %v", err)
	}
	if !c.Grid()[0][0].IsEmpty {
		t.Error("placement should be emptied with its template")
	}
	if len(c.Templates()) != 0 {
		t.Errorf("templates = %+v", c.Templates())
	}
	got := client.updates()
	if len(got) != 2 {
		t.Fatalf("updates = %d, want one per mutation", len(got))
	}
	last := got[1]
	if last.Objects == nil || last.Grid == nil || last.GridValues == nil {
		t.Errorf("removal patch = %+v, want objects, grid and gridValues together", last)
	}
	mu.Lock()
	defer mu.Unlock()
	if notified != 2 {
		t.Errorf("notified = %d, want one per mutation", notified)
	}
}

func TestFlushDiscardsUnauthorizedDirtyState(t *testing.T) {
	client := &fakeClient{}
	c := loadController(t, client, TierOwner)

	if err := c.Rename("renamed"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	// Demote before the debounce fires; the dirty name must be dropped
	// without a request.
	c.mu.Lock()
	c.role = TierMember
	c.mu.Unlock()

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(client.updates()) != 0 {
		t.Errorf("updates = %+v, want none", client.updates())
	}
}

func TestFlushCarriesTriggerSocket(t *testing.T) {
	client := &fakeClient{}
	c := loadController(t, client, TierOwner)

	if err := c.Rename("renamed"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if err := c.SetDescription("new desc"); err != nil {
		t.Fatalf("SetDescription: %v", err)
	}
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got := client.updates()
	if len(got) != 1 {
		t.Fatalf("updates = %d, want one combined write", len(got))
	}
	p := got[0]
	if !p.TriggerSocket {
		t.Error("flush write must carry triggerSocket")
	}
	if p.Name == nil || *p.Name != "renamed" || p.Description == nil || *p.Description != "new desc" {
		t.Errorf("patch = %+v", p)
	}
}

func TestHandleInvalidationCoalesces(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	fetches := 0
	client := &fakeClient{}
	client.fetchFn = func(context.Context, string) (*Snapshot, error) {
		mu.Lock()
		fetches++
		n := fetches
		mu.Unlock()
		if n == 2 { // first reload after Load
			close(started)
			<-release
		}
		return testSnapshot(), nil
	}
	c := loadController(t, client, TierOwner)

	done := make(chan error, 1)
	go func() { done <- c.HandleInvalidation(context.Background()) }()
	<-started

	// Three more invalidations while one is in flight collapse into a
	// single queued reload.
	for i := 0; i < 3; i++ {
		if err := c.HandleInvalidation(context.Background()); err != nil {
			t.Fatalf("HandleInvalidation: %v", err)
		}
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("reload: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if fetches != 3 { // Load + in-flight reload + one queued
		t.Errorf("fetches = %d, want 3", fetches)
	}
}

func TestNotifyFiresAfterSuccessfulWrite(t *testing.T) {
	client := &fakeClient{}
	var mu sync.Mutex
	notified := 0
	var saving []bool
	c := NewController(client, Options{
		Role:           TierOwner,
		DebounceWindow: 25 * time.Millisecond,
		Notify: func() {
			mu.Lock()
			notified++
			mu.Unlock()
		},
		OnSaving: func(on bool) {
			mu.Lock()
			saving = append(saving, on)
			mu.Unlock()
		},
	})
	t.Cleanup(c.Close)
	if err := c.Load(context.Background(), "spc_1"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := c.SetVisibility(context.Background(), false); err != nil {
		t.Fatalf("SetVisibility: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if notified != 1 {
		t.Errorf("notified = %d, want 1", notified)
	}
	if len(saving) != 2 || !saving[0] || saving[1] {
		t.Errorf("saving transitions = %v, want [true false]", saving)
	}
}
