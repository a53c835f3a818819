// Package project persists the canvas and its undo stack to a store.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cutout/internal/store"
	"cutout/internal/version"
)

// Store keys.
const (
	KeyCanvas = "canvas"
	KeyStack  = "stack"
)

// FormatVersion is the envelope version written by Save.
const FormatVersion = 1

// File is the persisted canvas envelope.
type File struct {
	Version    int             `json:"version"`
	AppVersion string          `json:"app_version,omitempty"`
	Modified   time.Time       `json:"modified"`
	Scene      json.RawMessage `json:"scene"`
}

// State is what Save writes and Load returns.
type State struct {
	Scene []byte
	Stack [][]byte
}

// Save writes the scene under KeyCanvas and the history under KeyStack.
func Save(ctx context.Context, st store.Store, s State) error {
	f := File{
		Version:    FormatVersion,
		AppVersion: version.Version,
		Modified:   time.Now(),
		Scene:      json.RawMessage(s.Scene),
	}
	canvas, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal canvas: %w", err)
	}

	stack := make([]json.RawMessage, len(s.Stack))
	for i, snap := range s.Stack {
		stack[i] = json.RawMessage(snap)
	}
	stackData, err := json.Marshal(stack)
	if err != nil {
		return fmt.Errorf("marshal stack: %w", err)
	}

	if err := st.Set(ctx, KeyCanvas, canvas); err != nil {
		return fmt.Errorf("save canvas: %w", err)
	}
	if err := st.Set(ctx, KeyStack, stackData); err != nil {
		return fmt.Errorf("save stack: %w", err)
	}
	return nil
}

// Load reads the state written by Save. A missing canvas returns
// store.ErrNotFound; a missing stack yields an empty history.
func Load(ctx context.Context, st store.Store) (State, error) {
	var out State

	data, err := st.Get(ctx, KeyCanvas)
	if err != nil {
		return out, err
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return out, fmt.Errorf("parse canvas: %w", err)
	}
	if f.Version > FormatVersion {
		return out, fmt.Errorf("canvas format %d is newer than supported %d", f.Version, FormatVersion)
	}
	out.Scene = f.Scene

	data, err = st.Get(ctx, KeyStack)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return out, nil
	case err != nil:
		return out, err
	}
	var stack []json.RawMessage
	if err := json.Unmarshal(data, &stack); err != nil {
		return out, fmt.Errorf("parse stack: %w", err)
	}
	for _, snap := range stack {
		out.Stack = append(out.Stack, []byte(snap))
	}
	return out, nil
}
