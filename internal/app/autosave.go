package app

import (
	"context"
	"sync"
	"time"

	"cutout/internal/logging"

	"go.uber.org/zap"
)

// Autosaver periodically persists the editor while it has unsaved changes.
type Autosaver struct {
	editor   *Editor
	interval time.Duration
	timeout  time.Duration

	stopCh chan struct{}
	done   sync.WaitGroup

	onSaved func() // Called after each successful save
}

// NewAutosaver creates an autosaver for e. Each save gets timeout to finish.
// Returns nil if interval is not positive.
func NewAutosaver(e *Editor, interval, timeout time.Duration) *Autosaver {
	if interval <= 0 {
		return nil
	}
	return &Autosaver{
		editor:   e,
		interval: interval,
		timeout:  timeout,
		stopCh:   make(chan struct{}),
	}
}

// OnSaved sets a callback invoked from the background goroutine after
// every save.
func (a *Autosaver) OnSaved(callback func()) {
	a.onSaved = callback
}

// Start begins saving in a background goroutine.
func (a *Autosaver) Start() {
	a.stopCh = make(chan struct{})
	a.done.Add(1)
	go a.saveLoop()
}

// Stop stops the goroutine and waits for an in-progress save.
func (a *Autosaver) Stop() {
	close(a.stopCh)
	a.done.Wait()
}

func (a *Autosaver) saveLoop() {
	defer a.done.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.saveIfModified()
		}
	}
}

func (a *Autosaver) saveIfModified() {
	if !a.editor.Modified() {
		return
	}
	ctx := context.Background()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	if err := a.editor.Save(ctx); err != nil {
		logging.Logger.Error("autosave failed", zap.Error(err))
		return
	}
	logging.Logger.Debug("autosaved")
	if a.onSaved != nil {
		a.onSaved()
	}
}
