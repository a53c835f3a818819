package history

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScene serializes a counter and pushes history from inside Restore,
// like a scene that emits mutation events while rebuilding.
type fakeScene struct {
	state       int
	restored    []string
	history     *Manager
	fail        bool
	failRestore bool
}

func (s *fakeScene) Snapshot() ([]byte, error) {
	if s.fail {
		return nil, errors.New("boom")
	}
	return []byte(fmt.Sprintf("state-%d", s.state)), nil
}

func (s *fakeScene) Restore(data []byte) error {
	if s.failRestore {
		return errors.New("restore failed")
	}
	s.restored = append(s.restored, string(data))
	if s.history != nil {
		return s.history.Push()
	}
	return nil
}

func TestManager_EvictsOldest(t *testing.T) {
	scene := &fakeScene{}
	m := New(scene)
	for i := 1; i <= 11; i++ {
		scene.state = i
		require.NoError(t, m.Push())
		assert.LessOrEqual(t, m.Len(), Capacity)
	}
	assert.Equal(t, Capacity, m.Len())
	assert.Equal(t, "state-2", string(m.Snapshots()[0]))

	top, ok, err := m.Undo()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "state-10", string(top))

	var last string
	for {
		top, ok, err := m.Undo()
		require.NoError(t, err)
		if !ok {
			break
		}
		last = string(top)
	}
	assert.Equal(t, "state-2", last)
	assert.Equal(t, 1, m.Len())
}

func TestManager_UndoFloor(t *testing.T) {
	m := New(&fakeScene{})
	_, ok, err := m.Undo()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Push())
	_, ok, _ = m.Undo()
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestManager_PushIgnoredWhileRestoring(t *testing.T) {
	scene := &fakeScene{}
	m := New(scene)
	scene.history = m
	for i := 0; i < 3; i++ {
		scene.state = i
		require.NoError(t, m.Push())
	}

	_, ok, err := m.Undo()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []string{"state-1"}, scene.restored)
	assert.False(t, m.Restoring())
}

func TestManager_SnapshotError(t *testing.T) {
	m := New(&fakeScene{fail: true})
	assert.Error(t, m.Push())
	assert.Equal(t, 0, m.Len())
}

func TestManager_Restore(t *testing.T) {
	m := New(&fakeScene{})
	stack := make([][]byte, 12)
	for i := range stack {
		stack[i] = []byte(fmt.Sprint(i))
	}
	m.Restore(stack)
	assert.Equal(t, Capacity, m.Len())
	assert.Equal(t, "2", string(m.Snapshots()[0]))
	assert.Equal(t, "11", string(m.Snapshots()[Capacity-1]))
}

func TestManager_FailedUndoKeepsStack(t *testing.T) {
	scene := &fakeScene{}
	m := New(scene)
	for i := 1; i <= 3; i++ {
		scene.state = i
		require.NoError(t, m.Push())
	}
	before := m.Snapshots()

	scene.failRestore = true
	_, ok, err := m.Undo()
	assert.Error(t, err)
	assert.False(t, ok)
	assert.False(t, m.Restoring())
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, before, m.Snapshots())

	scene.failRestore = false
	top, ok, err := m.Undo()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "state-2", string(top))
	assert.Equal(t, 2, m.Len())
}
