package registry

import (
	goimage "image"
	"testing"

	"cutout/internal/image"
	"cutout/internal/inference"
	"cutout/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTarget() *image.Object {
	return image.NewImage(goimage.NewRGBA(goimage.Rect(0, 0, 8, 8)))
}

func TestRegistry_GetIsLazyAndStable(t *testing.T) {
	reg := New()
	obj := newTarget()

	assert.Equal(t, 0, reg.Len())
	r1 := reg.Get(obj)
	r2 := reg.Get(obj)
	assert.Same(t, r1, r2)
	assert.Equal(t, 1, reg.Len())
	assert.Same(t, obj, r1.Target())

	found, ok := reg.Lookup(obj.ID)
	require.True(t, ok)
	assert.Same(t, r1, found)
}

func TestRecord_PromptsStayParallel(t *testing.T) {
	r := New().Get(newTarget())
	labels := []Label{LabelPositive, LabelNegative, LabelPositive, LabelBoxTopLeft}
	for i, l := range labels {
		r.AddPrompt(geometry.Point2D{X: float64(i), Y: float64(i)}, l)
		assert.Equal(t, len(r.Points), len(r.Labels))
	}
	assert.Equal(t, StatePrompting, r.State)
	assert.True(t, r.HasBox())

	r.ClearPrompts()
	assert.Empty(t, r.Points)
	assert.Empty(t, r.Labels)
	assert.Equal(t, StateIdle, r.State)
}

func TestRegistry_DetachDisposes(t *testing.T) {
	reg := New()
	var disposed []*Record
	reg.OnDispose = func(r *Record) { disposed = append(disposed, r) }

	obj := newTarget()
	r := reg.Get(obj)
	r.Embedding = inference.Zeros(1, 256, 64, 64)
	r.Mask = inference.Zeros(1024, 1024, 1)
	r.AddPrompt(geometry.Point2D{X: 1, Y: 1}, LabelPositive)

	obj.Detach()

	assert.Equal(t, 0, reg.Len())
	require.Len(t, disposed, 1)
	assert.Nil(t, r.Embedding)
	assert.Nil(t, r.Mask)
	assert.Empty(t, r.Points)
}

func TestRegistry_DeleteUnsubscribes(t *testing.T) {
	reg := New()
	calls := 0
	reg.OnDispose = func(*Record) { calls++ }

	obj := newTarget()
	reg.Get(obj)
	reg.Delete(obj.ID)
	obj.Detach()

	assert.Equal(t, 1, calls)
}

func TestRegistry_StaleRecordReplaced(t *testing.T) {
	reg := New()
	orig := newTarget()
	old := reg.Get(orig)
	old.Embedding = inference.Zeros(4)

	// A restored copy of the object carries the same ID.
	restored := newTarget()
	restored.ID = orig.ID
	fresh := reg.Get(restored)

	assert.NotSame(t, old, fresh)
	assert.Nil(t, old.Embedding)
	assert.Same(t, restored, fresh.Target())
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_TransientNotRegistered(t *testing.T) {
	reg := New()
	obj := newTarget()
	r := reg.Transient(obj)
	r.Embedding = inference.Zeros(4)

	assert.Equal(t, 0, reg.Len())
	reg.Discard(r)
	assert.Nil(t, r.Embedding)
}

func TestRegistry_Clear(t *testing.T) {
	reg := New()
	for i := 0; i < 3; i++ {
		reg.Get(newTarget())
	}
	assert.Len(t, reg.Records(), 3)
	reg.Clear()
	assert.Equal(t, 0, reg.Len())
}
