// Package scene holds the ordered set of top-level canvas objects.
package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"cutout/internal/image"
	"cutout/internal/logging"
	"cutout/pkg/geometry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotInScene is returned for objects that are not top-level members.
var ErrNotInScene = errors.New("object is not in the scene")

// EventType identifies scene mutations. Every event is a committed change.
type EventType int

const (
	EventAdded     EventType = iota // data: []*image.Object
	EventRemoved                    // data: *image.Object
	EventModified                   // data: *image.Object whose transform was committed
	EventGrouped                    // data: *image.Object (the new group)
	EventUngrouped                  // data: []*image.Object (the released children)
	EventRestored                   // data: nil
)

// Listener is called when an event occurs.
type Listener func(data interface{})

// Scene is the canvas scene graph. Objects are drawn in slice order.
type Scene struct {
	mu        sync.RWMutex
	objects   []*image.Object
	subs      map[uuid.UUID]image.Subscription
	listeners map[EventType][]Listener
}

// New creates an empty scene.
func New() *Scene {
	return &Scene{
		subs:      make(map[uuid.UUID]image.Subscription),
		listeners: make(map[EventType][]Listener),
	}
}

// On registers a listener for the event type.
func (s *Scene) On(event EventType, listener Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(s.listeners[event], listener)
}

// Emit calls every listener for the event type.
func (s *Scene) Emit(event EventType, data interface{}) {
	s.mu.RLock()
	listeners := s.listeners[event]
	s.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}

// Objects returns the top-level objects in draw order.
func (s *Scene) Objects() []*image.Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.objects)
}

// Len returns the number of top-level objects.
func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Find returns the top-level object with the given ID.
func (s *Scene) Find(id uuid.UUID) (*image.Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.objects {
		if o.ID == id {
			return o, true
		}
	}
	return nil, false
}

// HitTest returns the topmost object under the canvas point.
func (s *Scene) HitTest(p geometry.Point2D) (*image.Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.objects) - 1; i >= 0; i-- {
		if s.objects[i].Contains(p) {
			return s.objects[i], true
		}
	}
	return nil, false
}

// Add appends objects on top of the scene.
func (s *Scene) Add(objs ...*image.Object) {
	if len(objs) == 0 {
		return
	}
	s.mu.Lock()
	for _, o := range objs {
		s.attach(o)
	}
	s.mu.Unlock()
	s.Emit(EventAdded, objs)
}

// attach must be called with s.mu held.
func (s *Scene) attach(o *image.Object) {
	s.objects = append(s.objects, o)
	s.subs[o.ID] = o.Observe(func(ev image.Event) {
		if ev.Type == image.EventModified {
			s.Emit(EventModified, ev.Object)
		}
	})
}

// detach must be called with s.mu held. It returns false if o is not a
// member.
func (s *Scene) detach(o *image.Object) bool {
	i := slices.Index(s.objects, o)
	if i < 0 {
		return false
	}
	s.objects = slices.Delete(s.objects, i, i+1)
	if sub, ok := s.subs[o.ID]; ok {
		o.Unobserve(sub)
		delete(s.subs, o.ID)
	}
	return true
}

// Remove takes o out of the scene and detaches it.
func (s *Scene) Remove(o *image.Object) error {
	s.mu.Lock()
	ok := s.detach(o)
	s.mu.Unlock()
	if !ok {
		return ErrNotInScene
	}
	o.Detach()
	s.Emit(EventRemoved, o)
	return nil
}

// Group replaces objs with a group holding them. The members are detached
// as top-level objects.
func (s *Scene) Group(objs []*image.Object) (*image.Object, error) {
	if len(objs) < 2 {
		return nil, fmt.Errorf("group needs at least two objects, got %d", len(objs))
	}
	s.mu.Lock()
	for _, o := range objs {
		if !slices.Contains(s.objects, o) {
			s.mu.Unlock()
			return nil, ErrNotInScene
		}
	}
	for _, o := range objs {
		s.detach(o)
	}
	g := image.NewGroup(objs)
	s.attach(g)
	s.mu.Unlock()

	for _, o := range objs {
		o.Detach()
	}
	s.Emit(EventGrouped, g)
	return g, nil
}

// Ungroup dissolves g, placing its children back on the canvas where they
// were drawn. The group is detached.
func (s *Scene) Ungroup(g *image.Object) ([]*image.Object, error) {
	if g.Kind != image.KindGroup {
		return nil, fmt.Errorf("object %s is a %s, not a group", g.ID, g.Kind)
	}
	s.mu.Lock()
	if !s.detach(g) {
		s.mu.Unlock()
		return nil, ErrNotInScene
	}
	children := image.Ungroup(g)
	for _, c := range children {
		s.attach(c)
	}
	s.mu.Unlock()

	g.Detach()
	s.Emit(EventUngrouped, children)
	return children, nil
}

// Clear detaches every object.
func (s *Scene) Clear() {
	s.mu.Lock()
	old := s.objects
	for _, o := range old {
		if sub, ok := s.subs[o.ID]; ok {
			o.Unobserve(sub)
		}
	}
	s.objects = nil
	s.subs = make(map[uuid.UUID]image.Subscription)
	s.mu.Unlock()

	for _, o := range old {
		o.Detach()
	}
}

// document is the serialized scene.
type document struct {
	Objects []*image.Object `json:"objects"`
}

// Snapshot serializes the scene.
func (s *Scene) Snapshot() ([]byte, error) {
	s.mu.RLock()
	doc := document{Objects: s.objects}
	data, err := json.Marshal(doc)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("marshal scene: %w", err)
	}
	return data, nil
}

// Restore replaces the scene with a snapshot. Previous objects are
// detached, so state keyed to them is released.
func (s *Scene) Restore(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal scene: %w", err)
	}

	s.Clear()
	s.mu.Lock()
	for _, o := range doc.Objects {
		s.attach(o)
	}
	s.mu.Unlock()

	logging.Logger.Debug("scene restored", zap.Int("objects", len(doc.Objects)))
	s.Emit(EventRestored, nil)
	return nil
}
