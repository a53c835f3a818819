// Package image provides canvas objects, image loading, rendering and compositing.
package image

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cutout/pkg/geometry"

	"github.com/google/uuid"
	_ "golang.org/x/image/tiff"
)

// Kind distinguishes the object variants.
type Kind int

const (
	KindImage  Kind = iota // Leaf raster
	KindGroup              // Children placed relative to the group center
	KindMarker             // Prompt marker overlay
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindGroup:
		return "group"
	case KindMarker:
		return "marker"
	default:
		return "unknown"
	}
}

// EventType identifies object notifications.
type EventType int

const (
	EventTransforming EventType = iota // Intermediate move/scale/rotate frame
	EventModified                      // Transform committed
	EventDetached                      // Removed from the scene, ungrouped or replaced
)

// Event is delivered to object observers.
type Event struct {
	Type   EventType
	Object *Object
}

// Observer receives events for one object.
type Observer func(Event)

// Object is a transformable visual entity on the canvas.
//
// Its placement maps object-local coordinates, centered on the object, to
// parent coordinates:
//
//	T(Left,Top) * R(Angle) * S(ScaleX,ScaleY) * SkewX(SkewX) * T(Width/2,Height/2)
//
// Source holds the pixels of a leaf; the visible part is the Width x Height
// window starting at (CropX, CropY).
type Object struct {
	ID       uuid.UUID
	Kind     Kind
	Source   *image.RGBA
	Children []*Object

	Left, Top     float64
	Width, Height int
	CropX, CropY  int
	Angle         float64 // degrees
	ScaleX        float64
	ScaleY        float64
	SkewX         float64 // degrees

	Clip   *ClipMask
	Locked bool

	mu           sync.Mutex
	observers    map[Subscription]Observer
	nextObserver Subscription
}

func newObject(kind Kind) *Object {
	return &Object{
		ID:     uuid.New(),
		Kind:   kind,
		ScaleX: 1,
		ScaleY: 1,
	}
}

// NewImage creates a leaf object holding a copy of img.
func NewImage(img image.Image) *Object {
	src := ToRGBA(img)
	o := newObject(KindImage)
	o.Source = src
	o.Width = src.Bounds().Dx()
	o.Height = src.Bounds().Dy()
	return o
}

// NewWindow creates a leaf object showing the window rect of src.
// src is shared, not copied.
func NewWindow(src *image.RGBA, rect geometry.RectInt) *Object {
	o := newObject(KindImage)
	o.Source = src
	o.CropX = rect.X
	o.CropY = rect.Y
	o.Width = rect.Width
	o.Height = rect.Height
	return o
}

// NewGroup wraps children, which must currently be expressed in canvas
// coordinates, into a group placed over their combined bounds.
func NewGroup(children []*Object) *Object {
	g := newObject(KindGroup)
	var bounds geometry.Rect
	for i, c := range children {
		if i == 0 {
			bounds = c.Bounds()
		} else {
			bounds = bounds.Union(c.Bounds())
		}
	}
	g.Left = bounds.X
	g.Top = bounds.Y
	g.Width = int(math.Ceil(bounds.Width))
	g.Height = int(math.Ceil(bounds.Height))

	inv, _ := g.Matrix().Inverse()
	for _, c := range children {
		c.SetMatrix(inv.Compose(c.Matrix()))
	}
	g.Children = children
	return g
}

// NewMarker creates a filled circular marker of the given radius.
func NewMarker(fill color.RGBA, radius int) *Object {
	size := 2 * radius
	src := image.NewRGBA(image.Rect(0, 0, size, size))
	r := float64(radius)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			d := math.Hypot(float64(x)+0.5-r, float64(y)+0.5-r)
			switch {
			case d <= r-2:
				src.SetRGBA(x, y, fill)
			case d <= r:
				src.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}
	o := newObject(KindMarker)
	o.Source = src
	o.Width = size
	o.Height = size
	return o
}

// Load loads an image file and returns it as a leaf object.
func Load(path string) (*Object, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return NewImage(img), nil
}

// Size returns the pixel dimensions as floats.
func (o *Object) Size() (float64, float64) {
	return float64(o.Width), float64(o.Height)
}

// linear returns R * S * SkewX.
func (o *Object) linear() geometry.AffineTransform {
	return geometry.Rotation(geometry.DegToRad(o.Angle)).
		Compose(geometry.Scale(o.ScaleX, o.ScaleY)).
		Compose(geometry.SkewX(geometry.DegToRad(o.SkewX)))
}

// Matrix returns the object's transform from centered local coordinates to
// parent coordinates.
func (o *Object) Matrix() geometry.AffineTransform {
	w, h := o.Size()
	return geometry.Translation(o.Left, o.Top).
		Compose(o.linear()).
		Compose(geometry.Translation(w/2, h/2))
}

// SetMatrix places the object so that Matrix() equals m.
func (o *Object) SetMatrix(m geometry.AffineTransform) {
	d := geometry.Decompose(m)
	o.Angle = d.Angle
	o.ScaleX = d.ScaleX
	o.ScaleY = d.ScaleY
	o.SkewX = d.SkewX

	w, h := o.Size()
	offset := o.linear().ApplyVector(geometry.Point2D{X: w / 2, Y: h / 2})
	o.Left = d.TranslateX - offset.X
	o.Top = d.TranslateY - offset.Y
}

// Move applies an intermediate transform frame and notifies observers.
// Locked objects ignore it.
func (o *Object) Move(m geometry.AffineTransform) bool {
	if o.Locked {
		return false
	}
	o.SetMatrix(m)
	o.notify(EventTransforming)
	return true
}

// Commit notifies observers that the current transform is final.
func (o *Object) Commit() {
	o.notify(EventModified)
}

// Detach notifies observers that the object left the scene, then drops them.
func (o *Object) Detach() {
	o.notify(EventDetached)
	o.mu.Lock()
	o.observers = nil
	o.mu.Unlock()
}

// Subscription identifies one observer of an object.
type Subscription int

// Observe subscribes fn to this object's events.
func (o *Object) Observe(fn Observer) Subscription {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.observers == nil {
		o.observers = make(map[Subscription]Observer)
	}
	id := o.nextObserver
	o.nextObserver++
	o.observers[id] = fn
	return id
}

// Unobserve cancels a subscription.
func (o *Object) Unobserve(s Subscription) {
	o.mu.Lock()
	delete(o.observers, s)
	o.mu.Unlock()
}

func (o *Object) notify(t EventType) {
	o.mu.Lock()
	observers := make([]Observer, 0, len(o.observers))
	for _, fn := range o.observers {
		observers = append(observers, fn)
	}
	o.mu.Unlock()

	ev := Event{Type: t, Object: o}
	for _, fn := range observers {
		fn(ev)
	}
}

// Quad returns the object's corners in parent coordinates.
func (o *Object) Quad() []geometry.Point2D {
	w, h := o.Size()
	return geometry.Quad(o.Matrix(), w, h)
}

// Bounds returns the axis-aligned bounds in parent coordinates.
func (o *Object) Bounds() geometry.Rect {
	return geometry.BoundingBox(o.Quad())
}

// Contains reports whether the parent-space point p falls on the object.
func (o *Object) Contains(p geometry.Point2D) bool {
	return geometry.PointInPolygon(p, o.Quad())
}

// Element returns the visible window of a leaf's source pixels.
func (o *Object) Element() image.Image {
	if o.Source == nil {
		return image.NewRGBA(image.Rect(0, 0, o.Width, o.Height))
	}
	r := image.Rect(o.CropX, o.CropY, o.CropX+o.Width, o.CropY+o.Height).
		Add(o.Source.Bounds().Min)
	return o.Source.SubImage(r)
}

// ToRGBA returns img as a zero-origin RGBA copy.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// SupportedFormats returns the list of supported image formats.
func SupportedFormats() []string {
	return []string{".tiff", ".tif", ".png", ".jpg", ".jpeg"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}
