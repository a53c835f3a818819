package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cutout/internal/logging"
	"cutout/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Manager owns the shared model sessions. Loads are lazy, memoized and
// coalesced per name: concurrent first loads of one model open it once.
type Manager struct {
	opener    Opener
	providers []Provider

	mu       sync.RWMutex
	sessions map[string]*serialSession
	group    singleflight.Group
}

// NewManager creates a manager that tries providers in order. With no
// providers given it tries CUDA, then CPU.
func NewManager(opener Opener, providers ...Provider) *Manager {
	if len(providers) == 0 {
		providers = []Provider{ProviderCUDA, ProviderCPU}
	}
	return &Manager{
		opener:    opener,
		providers: providers,
		sessions:  make(map[string]*serialSession),
	}
}

func (m *Manager) lookup(name string) *serialSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[name]
}

// Load opens the named model once and returns the shared session. Failures
// are logged and returned as *ModelLoadError; the session stays unset so
// later calls may try again.
func (m *Manager) Load(ctx context.Context, name, path string) (Session, error) {
	if s := m.lookup(name); s != nil {
		return s, nil
	}

	ch := m.group.DoChan(name, func() (interface{}, error) {
		if s := m.lookup(name); s != nil {
			return s, nil
		}
		s, err := m.open(name, path)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.sessions[name] = s
		m.mu.Unlock()
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*serialSession), nil
	}
}

func (m *Manager) open(name, path string) (*serialSession, error) {
	var errs []error
	for _, p := range m.providers {
		s, err := m.opener.Open(path, p)
		metrics.SessionLoad(name, string(p), err == nil)
		if err == nil {
			logging.Logger.Info("model session loaded",
				zap.String("model", name), zap.String("provider", string(p)))
			return &serialSession{inner: s, provider: p}, nil
		}
		logging.Logger.Warn("model provider failed, falling back",
			zap.String("model", name), zap.String("provider", string(p)), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", p, err))
	}

	loadErr := &ModelLoadError{Name: name, Path: path, Err: errors.Join(errs...)}
	logging.Logger.Error("model session unavailable", zap.String("model", name), zap.Error(loadErr))
	return nil, loadErr
}

// LoadAll loads several models concurrently. Each failure is logged and
// collected; one failing model does not stop the others.
func (m *Manager) LoadAll(ctx context.Context, models map[string]string) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for name, path := range models {
		g.Go(func() error {
			if _, err := m.Load(ctx, name, path); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Session returns a loaded session without waiting.
func (m *Manager) Session(name string) (Session, error) {
	if s := m.lookup(name); s != nil {
		return s, nil
	}
	return nil, fmt.Errorf("%s: %w", name, ErrModelNotReady)
}

// Provider reports which provider serves a loaded model.
func (m *Manager) Provider(name string) (Provider, bool) {
	s := m.lookup(name)
	if s == nil {
		return "", false
	}
	return s.provider, true
}

// Release frees the named session.
func (m *Manager) Release(name string) error {
	m.mu.Lock()
	s := m.sessions[name]
	delete(m.sessions, name)
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	logging.Logger.Debug("releasing model session", zap.String("model", name))
	return s.Release()
}

// Close releases every loaded session.
func (m *Manager) Close() error {
	m.mu.RLock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	m.mu.RUnlock()

	var errs []error
	for _, name := range names {
		if err := m.Release(name); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
