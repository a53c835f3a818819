// Package crop implements rubber-band cropping of canvas objects.
package crop

import (
	"errors"
	"fmt"
	"math"

	"cutout/internal/image"
	"cutout/internal/logging"
	"cutout/pkg/geometry"

	"go.uber.org/zap"
)

var (
	// ErrEmptyCrop is returned when the rectangle selects no pixels of the target.
	ErrEmptyCrop = errors.New("crop selects no pixels")
	// ErrNotActive is returned by Update and End without a preceding Begin.
	ErrNotActive = errors.New("no crop in progress")
)

// Engine tracks one crop drag at a time.
type Engine struct {
	target   *image.Object
	viewport geometry.AffineTransform
	anchor   geometry.Point2D
	rect     geometry.Rect
	active   bool
}

// NewEngine creates an idle crop engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Active reports whether a drag is in progress.
func (e *Engine) Active() bool { return e.active }

// Rect returns the current rectangle in canvas coordinates.
func (e *Engine) Rect() geometry.Rect { return e.rect }

// Begin starts a rectangle at the screen point and locks the target.
func (e *Engine) Begin(target *image.Object, screen geometry.Point2D, viewport geometry.AffineTransform) error {
	inv, ok := viewport.Inverse()
	if !ok {
		return fmt.Errorf("viewport: %w", geometry.ErrDegenerateGeometry)
	}
	if e.active {
		e.Cancel()
	}
	e.target = target
	e.viewport = viewport
	e.anchor = inv.Apply(screen)
	e.rect = geometry.Rect{X: e.anchor.X, Y: e.anchor.Y}
	e.active = true
	target.Locked = true
	return nil
}

// Update stretches the rectangle to the screen point. Dragging in any
// direction from the anchor is allowed.
func (e *Engine) Update(screen geometry.Point2D) error {
	if !e.active {
		return ErrNotActive
	}
	inv, _ := e.viewport.Inverse()
	e.rect = geometry.RectFromCorners(e.anchor, inv.Apply(screen))
	return nil
}

// End finishes the drag at the screen point and returns a new object
// holding the selected pixels of the target, placed over them. The target
// is unlocked whatever the outcome.
func (e *Engine) End(screen geometry.Point2D) (*image.Object, error) {
	if err := e.Update(screen); err != nil {
		return nil, err
	}
	target := e.target
	rect := e.rect
	e.Cancel()

	window, err := Window(target, rect)
	if err != nil {
		return nil, err
	}
	cut := image.CutFrom(target, image.Render(target), window)

	logging.Logger.Debug("crop complete",
		zap.Stringer("target", target.ID),
		zap.Int("x", window.X),
		zap.Int("y", window.Y),
		zap.Int("width", window.Width),
		zap.Int("height", window.Height))
	return cut, nil
}

// Cancel abandons the drag and unlocks the target.
func (e *Engine) Cancel() {
	if e.target != nil {
		e.target.Locked = false
	}
	e.target = nil
	e.active = false
	e.rect = geometry.Rect{}
}

// Window converts a canvas rectangle into a pixel window of target. The
// top-left corner goes through the target's inverse transform; the size is
// divided by the target's scale. The result is clipped to the target.
func Window(target *image.Object, rect geometry.Rect) (geometry.RectInt, error) {
	if rect.Empty() {
		return geometry.RectInt{}, ErrEmptyCrop
	}
	if target.ScaleX == 0 || target.ScaleY == 0 {
		return geometry.RectInt{}, geometry.ErrDegenerateGeometry
	}
	inv, ok := target.Matrix().Inverse()
	if !ok {
		return geometry.RectInt{}, geometry.ErrDegenerateGeometry
	}
	w, h := target.Size()
	local := inv.Apply(rect.TopLeft())

	x0 := local.X + w/2
	y0 := local.Y + h/2
	x1 := x0 + rect.Width/math.Abs(target.ScaleX)
	y1 := y0 + rect.Height/math.Abs(target.ScaleY)

	left := int(math.Max(0, math.Round(x0)))
	top := int(math.Max(0, math.Round(y0)))
	right := int(math.Min(w, math.Round(x1)))
	bottom := int(math.Min(h, math.Round(y1)))

	r := geometry.RectInt{X: left, Y: top, Width: right - left, Height: bottom - top}
	if r.Empty() {
		return geometry.RectInt{}, ErrEmptyCrop
	}
	return r, nil
}
