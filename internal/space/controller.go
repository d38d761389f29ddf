package space

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gridspace/api/internal/grid"
	"gridspace/api/internal/persist"
)

// Client is the transport the controller persists through.
type Client interface {
	FetchSpace(ctx context.Context, id string) (*Snapshot, error)
	UpdateSpace(ctx context.Context, id string, patch Patch) error
}

// Field names match the patch columns the scheduler tracks.
const (
	fieldName        = "name"
	fieldDescription = "description"
	fieldIsPublic    = "isPublic"
	fieldObjects     = "objects"
	fieldGrid        = "grid"
	fieldGridValues  = "gridValues"
	fieldSettings    = "settings"
)

// ErrNotAllowed is returned when the acting identity may not edit a field.
var ErrNotAllowed = errors.New("not allowed to edit this field")

// TimerPatch updates the timer sub-state of a field. Nil members are
// left untouched.
type TimerPatch struct {
	TargetDate *string
	LastAction *string
}

// FieldPatch is a typed edit for a single field of a placed object.
// Text and toggle fields replace Value; timer fields apply Timer.
type FieldPatch struct {
	Value any
	Timer *TimerPatch
}

// Controller holds the session-canonical expanded state of one space and
// funnels every mutation through the grid codec and the write scheduler.
type Controller struct {
	client Client
	sched  *persist.Scheduler

	// onSaving flips the saving indicator; notify announces a completed
	// write so other members reload.
	onSaving func(bool)
	notify   func()

	mu          sync.Mutex
	spaceID     string
	role        Tier
	name        string
	description string
	isPublic    bool
	templates   []grid.Template
	grid        grid.Grid
	settings    Settings
	nextLocalID int
	flushing    bool

	reloading    bool
	reloadQueued bool
}

// Options configures a Controller.
type Options struct {
	// Role is the acting identity's tier for this space.
	Role Tier
	// DebounceWindow is the quiet window for name and description edits.
	DebounceWindow time.Duration
	// OnSaving, if set, is called with true when a write starts and
	// false when it settles.
	OnSaving func(bool)
	// Notify, if set, is called after each successful write so the
	// session can announce the change to the room.
	Notify func()
}

func NewController(client Client, opts Options) *Controller {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = 3 * time.Second
	}
	if opts.Role == "" {
		opts.Role = TierPublic
	}
	c := &Controller{
		client:   client,
		role:     opts.Role,
		onSaving: opts.OnSaving,
		notify:   opts.Notify,
	}
	c.sched = persist.NewScheduler(opts.DebounceWindow, c.writeFields)
	return c
}

// Load fetches the space and replaces the session state with it.
func (c *Controller) Load(ctx context.Context, id string) error {
	snap, err := c.client.FetchSpace(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch space: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spaceID = id
	c.apply(snap)
	return nil
}

// apply must be called with the mutex held.
func (c *Controller) apply(snap *Snapshot) {
	c.name = snap.Name
	c.description = snap.Description
	c.isPublic = snap.IsPublic
	c.templates = snap.Objects
	c.settings = snap.Settings
	c.grid = grid.Decode(snap.Grid, snap.GridValues, snap.Objects)
	// Local ids only ever grow, even across reloads and removals.
	if next := grid.NextLocalID(snap.Objects); next > c.nextLocalID {
		c.nextLocalID = next
	}
}

// Grid returns the current expanded grid.
func (c *Controller) Grid() grid.Grid {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grid
}

// Templates returns the current object kit.
func (c *Controller) Templates() []grid.Template {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.templates
}

// Name returns the current space name.
func (c *Controller) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Description returns the current space description.
func (c *Controller) Description() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.description
}

// allowedField reports whether the acting identity may write the field.
// Everything except grid values is owner-only; grid values follow the
// space's configured tier.
func (c *Controller) allowedField(field string) bool {
	if field == fieldGridValues {
		return c.settings.Permissions.GridVals.Allows(c.role)
	}
	return c.role == TierOwner
}

// PlaceObject puts an instance of the template with the given local id
// at (x, y).
func (c *Controller) PlaceObject(ctx context.Context, x, y, localID int) error {
	c.mu.Lock()
	if !c.allowedField(fieldGrid) {
		c.mu.Unlock()
		return ErrNotAllowed
	}
	var tmpl *grid.Template
	for i := range c.templates {
		if c.templates[i].LocalID == localID {
			tmpl = &c.templates[i]
			break
		}
	}
	if tmpl == nil {
		c.mu.Unlock()
		return fmt.Errorf("no object with local id %d", localID)
	}
	if err := c.checkPos(x, y); err != nil {
		c.mu.Unlock()
		return err
	}
	c.grid[y][x] = grid.Cell{
		IsEmpty:      false,
		LocalID:      tmpl.LocalID,
		Slug:         tmpl.Slug,
		Name:         tmpl.Name,
		Type:         tmpl.Type,
		Display:      tmpl.Display,
		Fields:       tmpl.Fields,
		VisualStates: tmpl.VisualStates,
		State:        grid.StateMap{},
		Pos:          grid.Pos{X: x, Y: y},
	}
	c.mu.Unlock()
	return c.immediate(ctx, fieldGrid, fieldGridValues)
}

// RemoveObject empties the cell at (x, y).
func (c *Controller) RemoveObject(ctx context.Context, x, y int) error {
	c.mu.Lock()
	if !c.allowedField(fieldGrid) {
		c.mu.Unlock()
		return ErrNotAllowed
	}
	if err := c.checkPos(x, y); err != nil {
		c.mu.Unlock()
		return err
	}
	row := c.grid[y]
	row[x] = grid.Cell{IsEmpty: true, Pos: grid.Pos{X: x, Y: y}}
	c.mu.Unlock()
	return c.immediate(ctx, fieldGrid, fieldGridValues)
}

// EditField applies a typed patch to one field of the object at (x, y).
func (c *Controller) EditField(ctx context.Context, x, y int, slug string, p FieldPatch) error {
	c.mu.Lock()
	if !c.allowedField(fieldGridValues) {
		c.mu.Unlock()
		return ErrNotAllowed
	}
	if err := c.checkPos(x, y); err != nil {
		c.mu.Unlock()
		return err
	}
	cell := &c.grid[y][x]
	if cell.IsEmpty {
		c.mu.Unlock()
		return fmt.Errorf("cell (%d,%d) is empty", x, y)
	}
	var def *grid.FieldDef
	for i := range cell.Fields {
		if cell.Fields[i].Slug == slug {
			def = &cell.Fields[i]
			break
		}
	}
	if def == nil {
		c.mu.Unlock()
		return fmt.Errorf("object %q has no field %q", cell.Slug, slug)
	}
	if cell.State == nil {
		cell.State = grid.StateMap{}
	}
	state := cell.State[slug]
	switch def.Type {
	case "timer":
		if p.Timer != nil {
			if p.Timer.TargetDate != nil {
				state.TargetDate = *p.Timer.TargetDate
			}
			if p.Timer.LastAction != nil {
				state.LastAction = *p.Timer.LastAction
			}
		}
		if p.Value != nil {
			state.Value = p.Value
		}
	default:
		state.Value = p.Value
	}
	cell.State[slug] = state
	c.mu.Unlock()
	return c.immediate(ctx, fieldGridValues)
}

// ResizeGrid grows or shrinks the grid by one row or column.
func (c *Controller) ResizeGrid(ctx context.Context, action grid.ResizeAction) error {
	c.mu.Lock()
	if !c.allowedField(fieldGrid) {
		c.mu.Unlock()
		return ErrNotAllowed
	}
	c.grid = grid.Resize(c.grid, action)
	c.mu.Unlock()
	return c.immediate(ctx, fieldGrid, fieldGridValues)
}

// Rename updates the space name. The write is deferred until typing stops.
func (c *Controller) Rename(name string) error {
	c.mu.Lock()
	if !c.allowedField(fieldName) {
		c.mu.Unlock()
		return ErrNotAllowed
	}
	c.name = name
	c.mu.Unlock()
	c.sched.Debounce(fieldName)
	return nil
}

// SetDescription updates the description. Deferred like Rename.
func (c *Controller) SetDescription(description string) error {
	c.mu.Lock()
	if !c.allowedField(fieldDescription) {
		c.mu.Unlock()
		return ErrNotAllowed
	}
	c.description = description
	c.mu.Unlock()
	c.sched.Debounce(fieldDescription)
	return nil
}

// SetPermissions replaces the space settings.
func (c *Controller) SetPermissions(ctx context.Context, settings Settings) error {
	if !ValidTier(settings.Permissions.GridVals) {
		return fmt.Errorf("unknown tier %q", settings.Permissions.GridVals)
	}
	c.mu.Lock()
	if !c.allowedField(fieldSettings) {
		c.mu.Unlock()
		return ErrNotAllowed
	}
	c.settings = settings
	c.mu.Unlock()
	return c.immediate(ctx, fieldSettings)
}

// SetVisibility toggles the space between public and private.
func (c *Controller) SetVisibility(ctx context.Context, public bool) error {
	c.mu.Lock()
	if !c.allowedField(fieldIsPublic) {
		c.mu.Unlock()
		return ErrNotAllowed
	}
	c.isPublic = public
	c.mu.Unlock()
	return c.immediate(ctx, fieldIsPublic)
}

// AddTemplate appends a new object to the kit, assigning it the next
// local id.
func (c *Controller) AddTemplate(ctx context.Context, tmpl grid.Template) (int, error) {
	c.mu.Lock()
	if !c.allowedField(fieldObjects) {
		c.mu.Unlock()
		return 0, ErrNotAllowed
	}
	tmpl.LocalID = c.nextLocalID
	c.nextLocalID++
	c.templates = append(c.templates, tmpl)
	c.mu.Unlock()
	if err := c.immediate(ctx, fieldObjects); err != nil {
		return 0, err
	}
	return tmpl.LocalID, nil
}

// UpdateTemplate replaces a kit entry and re-expands every placement of
// it so field and visual-state definition changes show up everywhere.
func (c *Controller) UpdateTemplate(ctx context.Context, tmpl grid.Template) error {
	c.mu.Lock()
	if !c.allowedField(fieldObjects) {
		c.mu.Unlock()
		return ErrNotAllowed
	}
	found := false
	for i := range c.templates {
		if c.templates[i].LocalID == tmpl.LocalID {
			c.templates[i] = tmpl
			found = true
			break
		}
	}
	if !found {
		c.mu.Unlock()
		return fmt.Errorf("no object with local id %d", tmpl.LocalID)
	}
	c.grid = grid.ApplyTemplateEdit(c.grid, c.templates)
	c.mu.Unlock()
	return c.immediate(ctx, fieldObjects, fieldGrid, fieldGridValues)
}

// RemoveTemplate deletes a kit entry and empties all of its placements.
// The freed local id is never handed out again.
func (c *Controller) RemoveTemplate(ctx context.Context, localID int) error {
	c.mu.Lock()
	if !c.allowedField(fieldObjects) {
		c.mu.Unlock()
		return ErrNotAllowed
	}
	idx := -1
	for i := range c.templates {
		if c.templates[i].LocalID == localID {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("no object with local id %d", localID)
	}
	removed := c.templates[idx : idx+1 : idx+1]
	c.grid = grid.RemoveTemplates(c.grid, removed)
	c.templates = append(c.templates[:idx], c.templates[idx+1:]...)
	c.mu.Unlock()
	return c.immediate(ctx, fieldObjects, fieldGrid, fieldGridValues)
}

// HandleInvalidation reloads the space. Overlapping invalidations
// coalesce: while a reload is in flight at most one more is queued, no
// matter how many arrive.
func (c *Controller) HandleInvalidation(ctx context.Context) error {
	c.mu.Lock()
	if c.reloading {
		c.reloadQueued = true
		c.mu.Unlock()
		return nil
	}
	c.reloading = true
	id := c.spaceID
	c.mu.Unlock()

	var firstErr error
	for {
		snap, err := c.client.FetchSpace(ctx, id)

		c.mu.Lock()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			c.apply(snap)
		}
		if c.reloadQueued {
			c.reloadQueued = false
			c.mu.Unlock()
			continue
		}
		c.reloading = false
		c.mu.Unlock()
		return firstErr
	}
}

// Flush force-writes everything still dirty before the session goes
// away. Dirty fields the acting identity may not persist are dropped
// without a request. The write carries the trigger-socket marker so the
// flusher's own session is told to reload too.
func (c *Controller) Flush(ctx context.Context) error {
	c.mu.Lock()
	c.flushing = true
	c.mu.Unlock()
	err := c.sched.Flush(ctx, func(field string) bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.allowedField(field)
	})
	c.mu.Lock()
	c.flushing = false
	c.mu.Unlock()
	return err
}

// Close drops pending work without writing it.
func (c *Controller) Close() {
	c.sched.Close()
}

// immediate persists the named fields as a single request; one mutation
// therefore raises at most one invalidation.
func (c *Controller) immediate(ctx context.Context, fields ...string) error {
	return c.sched.Immediate(ctx, fields...)
}

// checkPos must be called with the mutex held.
func (c *Controller) checkPos(x, y int) error {
	if y < 0 || y >= len(c.grid) || x < 0 || x >= len(c.grid[y]) {
		return fmt.Errorf("position (%d,%d) outside the grid", x, y)
	}
	return nil
}

// writeFields builds a sparse patch from the current state of the named
// fields and sends it. The scheduler guarantees each field has at most
// one write in flight.
func (c *Controller) writeFields(ctx context.Context, fields []string) error {
	c.mu.Lock()
	patch := Patch{TriggerSocket: c.flushing}
	var needGrid, needValues bool
	for _, field := range fields {
		switch field {
		case fieldName:
			name := c.name
			patch.Name = &name
		case fieldDescription:
			desc := c.description
			patch.Description = &desc
		case fieldIsPublic:
			pub := c.isPublic
			patch.IsPublic = &pub
		case fieldObjects:
			raw, err := json.Marshal(c.templates)
			if err != nil {
				c.mu.Unlock()
				return fmt.Errorf("encode objects: %w", err)
			}
			patch.Objects = raw
		case fieldGrid:
			needGrid = true
		case fieldGridValues:
			needValues = true
		case fieldSettings:
			settings := c.settings
			patch.Settings = &settings
		}
	}
	if needGrid || needValues {
		compact, values := grid.Encode(c.grid)
		if needGrid {
			raw, err := json.Marshal(compact)
			if err != nil {
				c.mu.Unlock()
				return fmt.Errorf("encode grid: %w", err)
			}
			patch.Grid = raw
		}
		if needValues {
			raw, err := json.Marshal(values)
			if err != nil {
				c.mu.Unlock()
				return fmt.Errorf("encode grid values: %w", err)
			}
			patch.GridValues = raw
		}
	}
	id := c.spaceID
	c.mu.Unlock()

	if c.onSaving != nil {
		c.onSaving(true)
		defer c.onSaving(false)
	}
	if err := c.client.UpdateSpace(ctx, id, patch); err != nil {
		return fmt.Errorf("update space: %w", err)
	}
	if c.notify != nil {
		c.notify()
	}
	return nil
}
