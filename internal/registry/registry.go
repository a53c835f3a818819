// Package registry tracks the segmentation state attached to canvas objects.
package registry

import (
	"sync"
	"weak"

	"cutout/internal/image"
	"cutout/internal/inference"
	"cutout/internal/logging"
	"cutout/pkg/geometry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Label is the decoder meaning of a prompt point.
type Label int

const (
	LabelNegative       Label = 0
	LabelPositive       Label = 1
	LabelBoxTopLeft     Label = 2
	LabelBoxBottomRight Label = 3
)

// IsBoxCorner reports whether l marks a box prompt corner.
func (l Label) IsBoxCorner() bool {
	return l == LabelBoxTopLeft || l == LabelBoxBottomRight
}

// State is the segmentation state of one record.
type State int

const (
	StateIdle State = iota
	StatePrompting
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrompting:
		return "prompting"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Marker is a visual prompt handle riding on a target through the
// subscription Sub.
type Marker struct {
	Object *image.Object
	Sub    image.Subscription
}

// Record is the cached segmentation state of one target object.
type Record struct {
	ID        uuid.UUID
	Transient bool

	target weak.Pointer[image.Object]

	Embedding *inference.Tensor
	Points    []geometry.Point2D
	Labels    []Label
	Markers   []*Marker
	Mask      *inference.Tensor // normalized depth, [1024,1024,1]
	State     State

	sub        image.Subscription
	subscribed bool
}

// Target returns the object the record describes, or nil once the object
// has been collected.
func (r *Record) Target() *image.Object {
	return r.target.Value()
}

// AddPrompt appends one prompt point and its label together.
func (r *Record) AddPrompt(p geometry.Point2D, label Label) {
	r.Points = append(r.Points, p)
	r.Labels = append(r.Labels, label)
	if r.State == StateIdle {
		r.State = StatePrompting
	}
}

// HasBox reports whether any prompt is a box corner.
func (r *Record) HasBox() bool {
	for _, l := range r.Labels {
		if l.IsBoxCorner() {
			return true
		}
	}
	return false
}

// ClearPrompts drops points, labels and markers.
func (r *Record) ClearPrompts() {
	if t := r.Target(); t != nil {
		for _, m := range r.Markers {
			t.Unobserve(m.Sub)
		}
	}
	r.Points = nil
	r.Labels = nil
	r.Markers = nil
	if r.State == StatePrompting {
		r.State = StateIdle
	}
}

// dispose releases every cached buffer.
func (r *Record) dispose() {
	if t := r.Target(); t != nil && r.subscribed {
		t.Unobserve(r.sub)
	}
	r.subscribed = false
	r.ClearPrompts()
	r.Embedding.Release()
	r.Embedding = nil
	r.Mask.Release()
	r.Mask = nil
	r.State = StateIdle
}

// Registry maps object IDs to records. It subscribes to every registered
// object and disposes the record when the object is detached.
type Registry struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record

	// OnDispose, if set, is called after a record is disposed.
	OnDispose func(*Record)
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{records: make(map[uuid.UUID]*Record)}
}

// Get returns the record for obj, creating it on first use.
func (g *Registry) Get(obj *image.Object) *Record {
	g.mu.Lock()
	if r, ok := g.records[obj.ID]; ok && r.Target() == obj {
		g.mu.Unlock()
		return r
	}
	stale := g.records[obj.ID]
	r := &Record{ID: obj.ID, target: weak.Make(obj)}
	g.records[obj.ID] = r
	g.mu.Unlock()

	if stale != nil {
		g.finish(stale)
	}

	// The observer must not capture obj; records hold their target weakly.
	r.sub = obj.Observe(func(ev image.Event) {
		if ev.Type == image.EventDetached {
			g.Delete(ev.Object.ID)
		}
	})
	r.subscribed = true
	logging.Logger.Debug("registry record created", zap.Stringer("object", obj.ID))
	return r
}

// Transient returns an unregistered record for a temporary target such as a
// rendered multi-selection. Callers dispose it with Discard.
func (g *Registry) Transient(obj *image.Object) *Record {
	return &Record{ID: obj.ID, Transient: true, target: weak.Make(obj)}
}

// Discard disposes a transient record.
func (g *Registry) Discard(r *Record) {
	if r != nil && r.Transient {
		r.dispose()
	}
}

// Lookup returns the record for id if one exists.
func (g *Registry) Lookup(id uuid.UUID) (*Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.records[id]
	return r, ok
}

// Delete disposes and forgets the record for id.
func (g *Registry) Delete(id uuid.UUID) {
	g.mu.Lock()
	r, ok := g.records[id]
	delete(g.records, id)
	g.mu.Unlock()
	if ok {
		g.finish(r)
	}
}

// Len returns the number of registered records.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}

// Records returns a snapshot of the registered records.
func (g *Registry) Records() []*Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Record, 0, len(g.records))
	for _, r := range g.records {
		out = append(out, r)
	}
	return out
}

// Clear disposes every record.
func (g *Registry) Clear() {
	g.mu.Lock()
	records := g.records
	g.records = make(map[uuid.UUID]*Record)
	g.mu.Unlock()

	for _, r := range records {
		g.finish(r)
	}
}

func (g *Registry) finish(r *Record) {
	r.dispose()
	logging.Logger.Debug("registry record disposed", zap.Stringer("object", r.ID))
	if g.OnDispose != nil {
		g.OnDispose(r)
	}
}
