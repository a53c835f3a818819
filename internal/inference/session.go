package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Model names used by the editor.
const (
	ModelEncoder = "encoder"
	ModelDecoder = "decoder"
	ModelDepth   = "depth"
)

// Provider names an execution provider.
type Provider string

const (
	ProviderCUDA Provider = "cuda"
	ProviderCPU  Provider = "cpu"
)

// ErrModelNotReady is returned when a session is used before it loaded.
var ErrModelNotReady = errors.New("model not ready")

// ModelLoadError reports that no provider could open a model.
type ModelLoadError struct {
	Name string
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s from %s: %v", e.Name, e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// Session runs one model. Inputs and outputs are keyed by tensor name.
type Session interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Release() error
}

// Opener creates sessions for a model file on a given provider.
type Opener interface {
	Open(path string, provider Provider) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string, provider Provider) (Session, error)

func (f OpenerFunc) Open(path string, provider Provider) (Session, error) {
	return f(path, provider)
}

// serialSession keeps calls against one native session from overlapping.
type serialSession struct {
	mu       sync.Mutex
	inner    Session
	provider Provider
}

func (s *serialSession) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.inner.Run(ctx, inputs)
}

func (s *serialSession) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Release()
}
