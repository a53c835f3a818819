package inference

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	released atomic.Int32
	active   atomic.Int32
	overlap  atomic.Bool
}

func (s *fakeSession) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	time.Sleep(time.Millisecond)
	s.active.Add(-1)
	return map[string]*Tensor{"out": Zeros(1)}, nil
}

func (s *fakeSession) Release() error {
	s.released.Add(1)
	return nil
}

func TestManager_FallsBackToCPU(t *testing.T) {
	var tried []Provider
	m := NewManager(OpenerFunc(func(path string, p Provider) (Session, error) {
		tried = append(tried, p)
		if p == ProviderCUDA {
			return nil, errors.New("no gpu")
		}
		return &fakeSession{}, nil
	}))

	s, err := m.Load(context.Background(), ModelEncoder, "enc.onnx")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, []Provider{ProviderCUDA, ProviderCPU}, tried)

	p, ok := m.Provider(ModelEncoder)
	assert.True(t, ok)
	assert.Equal(t, ProviderCPU, p)
}

func TestManager_TotalFailure(t *testing.T) {
	m := NewManager(OpenerFunc(func(string, Provider) (Session, error) {
		return nil, errors.New("broken model")
	}))

	_, err := m.Load(context.Background(), ModelDecoder, "dec.onnx")
	var loadErr *ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ModelDecoder, loadErr.Name)
	assert.Equal(t, "dec.onnx", loadErr.Path)

	_, err = m.Session(ModelDecoder)
	assert.ErrorIs(t, err, ErrModelNotReady)
}

func TestManager_SessionBeforeLoad(t *testing.T) {
	m := NewManager(OpenerFunc(func(string, Provider) (Session, error) {
		return &fakeSession{}, nil
	}))
	_, err := m.Session(ModelDepth)
	assert.ErrorIs(t, err, ErrModelNotReady)
}

func TestManager_ConcurrentLoadsOpenOnce(t *testing.T) {
	var opens atomic.Int32
	gate := make(chan struct{})
	m := NewManager(OpenerFunc(func(string, Provider) (Session, error) {
		opens.Add(1)
		<-gate
		return &fakeSession{}, nil
	}), ProviderCPU)

	var wg sync.WaitGroup
	sessions := make([]Session, 8)
	for i := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Load(context.Background(), ModelEncoder, "enc.onnx")
			assert.NoError(t, err)
			sessions[i] = s
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), opens.Load())
	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}

	_, err := m.Load(context.Background(), ModelEncoder, "enc.onnx")
	require.NoError(t, err)
	assert.Equal(t, int32(1), opens.Load())
}

func TestManager_LoadHonorsContext(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	m := NewManager(OpenerFunc(func(string, Provider) (Session, error) {
		<-gate
		return &fakeSession{}, nil
	}), ProviderCPU)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Load(ctx, ModelDepth, "depth.onnx")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_SerializesRuns(t *testing.T) {
	inner := &fakeSession{}
	m := NewManager(OpenerFunc(func(string, Provider) (Session, error) {
		return inner, nil
	}), ProviderCPU)
	s, err := m.Load(context.Background(), ModelDecoder, "dec.onnx")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Run(context.Background(), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.False(t, inner.overlap.Load())
}

func TestManager_ReleaseAndClose(t *testing.T) {
	inners := map[string]*fakeSession{}
	var mu sync.Mutex
	m := NewManager(OpenerFunc(func(path string, _ Provider) (Session, error) {
		s := &fakeSession{}
		mu.Lock()
		inners[path] = s
		mu.Unlock()
		return s, nil
	}), ProviderCPU)

	err := m.LoadAll(context.Background(), map[string]string{
		ModelEncoder: "enc",
		ModelDecoder: "dec",
		ModelDepth:   "depth",
	})
	require.NoError(t, err)

	require.NoError(t, m.Release(ModelEncoder))
	assert.Equal(t, int32(1), inners["enc"].released.Load())
	_, err = m.Session(ModelEncoder)
	assert.ErrorIs(t, err, ErrModelNotReady)

	require.NoError(t, m.Close())
	assert.Equal(t, int32(1), inners["enc"].released.Load())
	assert.Equal(t, int32(1), inners["dec"].released.Load())
	assert.Equal(t, int32(1), inners["depth"].released.Load())
	require.NoError(t, m.Release(ModelDepth))
}

func TestManager_LoadAllCollectsFailures(t *testing.T) {
	m := NewManager(OpenerFunc(func(path string, _ Provider) (Session, error) {
		if path == "bad" {
			return nil, errors.New("corrupt")
		}
		return &fakeSession{}, nil
	}), ProviderCPU)

	err := m.LoadAll(context.Background(), map[string]string{
		ModelEncoder: "good",
		ModelDepth:   "bad",
	})
	var loadErr *ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ModelDepth, loadErr.Name)

	_, err = m.Session(ModelEncoder)
	assert.NoError(t, err)
}

func TestTensor(t *testing.T) {
	_, err := NewFloat32([]int64{2, 2}, []float32{1, 2, 3})
	assert.Error(t, err)

	tt, err := NewUint8([]int64{2, 3}, make([]uint8, 6))
	require.NoError(t, err)
	r, err := tt.Reshape(3, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2}, r.Shape)
	_, err = tt.Reshape(4, 2)
	assert.Error(t, err)

	z := Zeros(1, 1, 256, 256)
	assert.Len(t, z.Float32, 65536)
	z.Release()
	assert.Zero(t, z.Len())
}
