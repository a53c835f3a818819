// Package app contains the editor controller that turns pointer and key
// events from the canvas surface into segmentation, cropping, background
// removal and document edits.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"cutout/internal/bgremove"
	"cutout/internal/crop"
	"cutout/internal/history"
	"cutout/internal/image"
	"cutout/internal/inference"
	"cutout/internal/logging"
	"cutout/internal/project"
	"cutout/internal/registry"
	"cutout/internal/scene"
	"cutout/internal/segment"
	"cutout/internal/store"
	"cutout/pkg/geometry"

	"go.uber.org/zap"
)

// ErrNoSelection is returned by operations that need an active object.
var ErrNoSelection = errors.New("no active object")

// MenuOffset is how far above the active object's corner the context menu
// is anchored, in screen pixels.
const MenuOffset = 30

// Mode selects what pointer events do.
type Mode int

const (
	ModeSelect  Mode = iota
	ModeSegment      // clicks add point prompts
	ModeBox          // drags add box prompts
	ModeCrop         // drags crop the active object
)

func (m Mode) String() string {
	switch m {
	case ModeSelect:
		return "select"
	case ModeSegment:
		return "segment"
	case ModeBox:
		return "box"
	case ModeCrop:
		return "crop"
	default:
		return "unknown"
	}
}

// Sessions provides the loaded models and releases them at teardown.
type Sessions interface {
	Session(name string) (inference.Session, error)
	Close() error
}

// Options tune an Editor.
type Options struct {
	// Resizer scales background-removal masks. Nil selects the bilinear default.
	Resizer bgremove.Resizer
	// MarkerRadius is the prompt marker radius in pixels.
	MarkerRadius int
}

// Editor owns the document and the engines that act on it. Its methods
// are safe to call from the event loop and the autosaver concurrently.
type Editor struct {
	mu sync.Mutex

	scene    *scene.Scene
	registry *registry.Registry
	history  *history.Manager
	sessions Sessions
	store    store.Store

	segment *segment.Engine
	bg      *bgremove.Engine
	crop    *crop.Engine

	viewport geometry.AffineTransform
	mode     Mode
	label    registry.Label
	active   []*image.Object

	// Multi-selection segmentation renders the selection into a temporary
	// object. transientObj keeps it alive while its record holds it weakly.
	transient    *registry.Record
	transientObj *image.Object

	boxing   bool
	boxStart geometry.Point2D

	bgTarget  *image.Object
	threshold float64

	modified atomic.Bool
}

// NewEditor wires an editor over an empty scene.
func NewEditor(sessions Sessions, st store.Store, opts Options) *Editor {
	e := &Editor{
		scene:     scene.New(),
		registry:  registry.New(),
		sessions:  sessions,
		store:     st,
		bg:        bgremove.NewEngine(sessions, opts.Resizer),
		crop:      crop.NewEngine(),
		viewport:  geometry.Identity(),
		label:     registry.LabelPositive,
		threshold: 50,
	}
	e.segment = segment.NewEngine(sessions)
	if opts.MarkerRadius > 0 {
		e.segment.MarkerRadius = opts.MarkerRadius
	}
	e.history = history.New(e.scene)

	push := func(interface{}) {
		e.modified.Store(true)
		if err := e.history.Push(); err != nil {
			logging.Logger.Error("failed to record history", zap.Error(err))
		}
	}
	for _, ev := range []scene.EventType{
		scene.EventAdded,
		scene.EventRemoved,
		scene.EventModified,
		scene.EventGrouped,
		scene.EventUngrouped,
	} {
		e.scene.On(ev, push)
	}
	e.scene.On(scene.EventRestored, func(interface{}) { e.modified.Store(true) })
	return e
}

// Scene returns the document.
func (e *Editor) Scene() *scene.Scene { return e.scene }

// Registry returns the segmentation state registry.
func (e *Editor) Registry() *registry.Registry { return e.registry }

// History returns the undo stack.
func (e *Editor) History() *history.Manager { return e.history }

// Modified reports whether the document changed since the last save.
func (e *Editor) Modified() bool { return e.modified.Load() }

// SetViewport sets the canvas-to-screen transform.
func (e *Editor) SetViewport(v geometry.AffineTransform) {
	e.mu.Lock()
	e.viewport = v
	e.mu.Unlock()
}

// Mode returns the pointer mode.
func (e *Editor) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode switches the pointer mode, abandoning an unfinished drag.
func (e *Editor) SetMode(m Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setMode(m)
}

func (e *Editor) setMode(m Mode) {
	if e.crop.Active() {
		e.crop.Cancel()
	}
	e.boxing = false
	e.mode = m
}

// Label returns the label applied to new point prompts.
func (e *Editor) Label() registry.Label {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.label
}

// Add places objects on the canvas and selects the last one.
func (e *Editor) Add(objs ...*image.Object) {
	if len(objs) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scene.Add(objs...)
	e.selectObjects(objs[len(objs)-1])
}

// Select makes objs the active selection.
func (e *Editor) Select(objs ...*image.Object) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selectObjects(objs...)
}

func (e *Editor) selectObjects(objs ...*image.Object) {
	e.dropTransient()
	e.active = append([]*image.Object(nil), objs...)
}

// Active returns the selected objects.
func (e *Editor) Active() []*image.Object {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*image.Object(nil), e.active...)
}

func (e *Editor) dropTransient() {
	if e.transient != nil {
		e.registry.Discard(e.transient)
	}
	e.transient = nil
	e.transientObj = nil
}

// promptRecord returns the record prompts go to: the active object's, or a
// transient one for a multi-selection.
func (e *Editor) promptRecord() (*registry.Record, error) {
	switch len(e.active) {
	case 0:
		return nil, ErrNoSelection
	case 1:
		return e.registry.Get(e.active[0]), nil
	}
	if e.transient == nil {
		raster, bounds := image.RenderSelection(e.active)
		obj := image.NewImage(raster)
		obj.Left, obj.Top = bounds.X, bounds.Y
		e.transientObj = obj
		e.transient = e.registry.Transient(obj)
	}
	return e.transient, nil
}

// PointerDown handles a button press at a screen position.
func (e *Editor) PointerDown(screen geometry.Point2D) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.mode {
	case ModeSegment:
		rec, err := e.promptRecord()
		if err != nil {
			return err
		}
		return e.segment.AddPoint(rec, screen, e.viewport, e.label)
	case ModeBox:
		if len(e.active) == 0 {
			return ErrNoSelection
		}
		e.boxing = true
		e.boxStart = screen
		return nil
	case ModeCrop:
		if len(e.active) != 1 {
			return ErrNoSelection
		}
		return e.crop.Begin(e.active[0], screen, e.viewport)
	default:
		inv, ok := e.viewport.Inverse()
		if !ok {
			return geometry.ErrDegenerateGeometry
		}
		if hit, ok := e.scene.HitTest(inv.Apply(screen)); ok {
			e.selectObjects(hit)
		} else {
			e.selectObjects()
		}
		return nil
	}
}

// PointerMove handles pointer motion with the button held.
func (e *Editor) PointerMove(screen geometry.Point2D) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == ModeCrop && e.crop.Active() {
		return e.crop.Update(screen)
	}
	return nil
}

// PointerUp handles a button release. A finished crop returns the new
// object, which is already on the canvas.
func (e *Editor) PointerUp(screen geometry.Point2D) (*image.Object, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.mode == ModeBox && e.boxing:
		e.boxing = false
		rec, err := e.promptRecord()
		if err != nil {
			return nil, err
		}
		return nil, e.segment.AddBox(rec, e.boxStart, screen, e.viewport)
	case e.mode == ModeCrop && e.crop.Active():
		cut, err := e.crop.End(screen)
		if err != nil {
			return nil, err
		}
		e.scene.Add(cut)
		e.selectObjects(cut)
		return cut, nil
	}
	return nil, nil
}

// HandleKey maps key presses to editor commands. Keys are named as the
// surface reports them ("p", "Enter", "Escape", "Delete", ...).
func (e *Editor) HandleKey(ctx context.Context, key string, ctrl bool) error {
	switch {
	case ctrl && (key == "z" || key == "Z"):
		return e.Undo()
	case ctrl && key == "g":
		_, err := e.Group()
		return err
	case ctrl && key == "G":
		_, err := e.Ungroup()
		return err
	case ctrl:
		return nil
	}

	switch key {
	case "p":
		e.setLabel(registry.LabelPositive)
	case "n":
		e.setLabel(registry.LabelNegative)
	case "b":
		e.SetMode(ModeBox)
	case "c":
		e.SetMode(ModeCrop)
	case "Enter":
		_, err := e.Segment(ctx)
		return err
	case "Escape":
		e.Escape()
	case "Delete", "Backspace":
		return e.Delete()
	}
	return nil
}

func (e *Editor) setLabel(l registry.Label) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.label = l
	e.setMode(ModeSegment)
}

// Escape drops pending prompts and drags and returns to select mode.
func (e *Editor) Escape() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.active) == 1 {
		if rec, ok := e.registry.Lookup(e.active[0].ID); ok {
			rec.ClearPrompts()
		}
	}
	e.dropTransient()
	e.setMode(ModeSelect)
}

// Segment runs segmentation on the current prompts and adds the cutout to
// the canvas.
func (e *Editor) Segment(ctx context.Context) (*image.Object, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.promptRecord()
	if err != nil {
		return nil, err
	}
	cut, err := e.segment.Run(ctx, rec)
	if err != nil {
		logging.Logger.Warn("segmentation failed", zap.Stringer("target", rec.ID), zap.Error(err))
		return nil, err
	}
	e.scene.Add(cut)
	e.selectObjects(cut)
	return cut, nil
}

// BackgroundRemoval reports whether the threshold slider is live.
func (e *Editor) BackgroundRemoval() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bgTarget != nil
}

// ToggleBackgroundRemoval turns depth-based background removal on for the
// active object, or off. Turning it off keeps the clip and records it in
// the history.
func (e *Editor) ToggleBackgroundRemoval(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bgTarget != nil {
		e.bgTarget = nil
		e.modified.Store(true)
		return e.history.Push()
	}
	if len(e.active) != 1 {
		return ErrNoSelection
	}
	target := e.active[0]
	rec := e.registry.Get(target)
	if _, err := e.bg.ApplyThreshold(ctx, rec, e.threshold); err != nil {
		return err
	}
	e.bgTarget = target
	return nil
}

// SetThreshold moves the slider. While background removal is on, the clip
// is rebuilt; the update is dropped if the previous one is still running.
func (e *Editor) SetThreshold(ctx context.Context, percent float64) (bool, error) {
	e.mu.Lock()
	e.threshold = percent
	target := e.bgTarget
	e.mu.Unlock()

	if target == nil {
		return false, nil
	}
	// The registry is safe to use without the editor lock, which lets a
	// second slider event reach the in-flight guard.
	return e.bg.ApplyThreshold(ctx, e.registry.Get(target), percent)
}

// Delete removes the selected objects.
func (e *Editor) Delete() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.active) == 0 {
		return ErrNoSelection
	}
	for _, o := range e.active {
		if o == e.bgTarget {
			e.bgTarget = nil
		}
		if err := e.scene.Remove(o); err != nil {
			return fmt.Errorf("remove %s: %w", o.ID, err)
		}
	}
	e.selectObjects()
	return nil
}

// Group groups the selection.
func (e *Editor) Group() (*image.Object, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.scene.Group(e.active)
	if err != nil {
		return nil, err
	}
	e.selectObjects(g)
	return g, nil
}

// Ungroup dissolves the selected group and selects its children.
func (e *Editor) Ungroup() ([]*image.Object, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.active) != 1 {
		return nil, ErrNoSelection
	}
	children, err := e.scene.Ungroup(e.active[0])
	if err != nil {
		return nil, err
	}
	e.selectObjects(children...)
	return children, nil
}

// Undo restores the previous snapshot.
func (e *Editor) Undo() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok, err := e.history.Undo()
	if err != nil || !ok {
		return err
	}
	e.bgTarget = nil
	e.selectObjects()
	e.setMode(ModeSelect)
	return nil
}

// MenuAnchor returns the screen position for the active object's context
// menu: its left/top corner raised by MenuOffset.
func (e *Editor) MenuAnchor() (geometry.Point2D, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.active) != 1 {
		return geometry.Point2D{}, false
	}
	o := e.active[0]
	p := e.viewport.Apply(geometry.Point2D{X: o.Left, Y: o.Top})
	p.Y -= MenuOffset
	return p, true
}

// Markers returns the prompt markers to draw over the canvas.
func (e *Editor) Markers() []*image.Object {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*image.Object
	records := e.registry.Records()
	if e.transient != nil {
		records = append(records, e.transient)
	}
	for _, r := range records {
		for _, m := range r.Markers {
			out = append(out, m.Object)
		}
	}
	return out
}

// Open rehydrates the document from the store. An empty store starts a
// blank document.
func (e *Editor) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := project.Load(ctx, e.store)
	if errors.Is(err, store.ErrNotFound) {
		logging.Logger.Info("no saved canvas, starting empty")
		e.modified.Store(false)
		return e.history.Push()
	}
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	if len(state.Scene) > 0 && string(state.Scene) != "null" {
		if err := e.scene.Restore(state.Scene); err != nil {
			return err
		}
	}
	e.history.Restore(state.Stack)
	if e.history.Len() == 0 {
		if err := e.history.Push(); err != nil {
			return err
		}
	}
	e.modified.Store(false)
	logging.Logger.Info("canvas restored",
		zap.Int("objects", e.scene.Len()),
		zap.Int("history", e.history.Len()))
	return nil
}

// Save writes the document and history to the store.
func (e *Editor) Save(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.save(ctx)
}

func (e *Editor) save(ctx context.Context) error {
	data, err := e.scene.Snapshot()
	if err != nil {
		return err
	}
	if err := project.Save(ctx, e.store, project.State{Scene: data, Stack: e.history.Snapshots()}); err != nil {
		return err
	}
	e.modified.Store(false)
	return nil
}

// Close persists the document, disposes every record and releases the
// model sessions.
func (e *Editor) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.save(ctx)
	e.dropTransient()
	e.registry.Clear()
	if e.sessions != nil {
		err = errors.Join(err, e.sessions.Close())
	}
	return err
}
