// Package bgremove hides an object's background with a depth-derived clip.
//
// The depth model runs once per object. Its output is normalized to
// [0,255] and cached on the registry record; moving the threshold slider
// only rebuilds the clip mask from that cache.
package bgremove

import (
	"context"
	"errors"
	"fmt"
	goimage "image"
	"sync/atomic"
	"time"

	"cutout/internal/image"
	"cutout/internal/inference"
	"cutout/internal/logging"
	"cutout/internal/metrics"
	"cutout/internal/registry"
	"cutout/internal/segment"
	"cutout/pkg/geometry"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrBadDepth is returned when the depth model output cannot be read as
	// a 1024x1024 single-channel map.
	ErrBadDepth = errors.New("depth output has unexpected shape")
	// ErrTargetGone is returned when the record's object no longer exists.
	ErrTargetGone = errors.New("background removal target no longer exists")
)

// DepthOutput is the output name of the depth model.
const DepthOutput = "predicted_depth"

// SessionSource hands out loaded model sessions.
type SessionSource interface {
	Session(name string) (inference.Session, error)
}

// Resizer scales a binary 8-bit mask and re-binarizes it.
type Resizer interface {
	Resize(mask []uint8, srcW, srcH, dstW, dstH int) ([]uint8, error)
}

// Engine computes depth masks and applies threshold clips.
type Engine struct {
	sessions SessionSource
	resizer  Resizer
	inFlight atomic.Bool
}

// NewEngine creates an engine. A nil resizer selects the bilinear default.
func NewEngine(src SessionSource, resizer Resizer) *Engine {
	if resizer == nil {
		resizer = BilinearResizer{}
	}
	return &Engine{sessions: src, resizer: resizer}
}

// ComputeDepth runs the depth model for rec's target unless a mask is
// already cached.
func (e *Engine) ComputeDepth(ctx context.Context, rec *registry.Record) error {
	if rec.Mask != nil {
		return nil
	}
	target := rec.Target()
	if target == nil {
		return ErrTargetGone
	}
	if target.Width <= 0 || target.Height <= 0 {
		return fmt.Errorf("target %dx%d: %w", target.Width, target.Height, geometry.ErrDegenerateGeometry)
	}
	sess, err := e.sessions.Session(inference.ModelDepth)
	if err != nil {
		return err
	}

	input, err := segment.EncoderInput(segment.ModelRaster(target))
	if err != nil {
		return err
	}
	start := time.Now()
	outputs, err := sess.Run(ctx, map[string]*inference.Tensor{"image": input})
	metrics.ObserveInference(inference.ModelDepth, start)
	if err != nil {
		return fmt.Errorf("depth: %w", err)
	}
	defer func() {
		for _, t := range outputs {
			t.Release()
		}
	}()

	raw, err := depthOutput(outputs)
	if err != nil {
		return err
	}
	const n = geometry.ModelSize
	if raw == nil || raw.Type != inference.Float32 || len(raw.Float32) != n*n {
		return ErrBadDepth
	}

	mask, err := inference.NewFloat32([]int64{n, n, 1}, Normalize(raw.Float32))
	if err != nil {
		return err
	}
	rec.Mask = mask

	logging.Logger.Debug("depth mask computed", zap.Stringer("target", rec.ID))
	return nil
}

// depthOutput picks the model's depth tensor: the one named DepthOutput,
// or the only output when the model names it differently.
func depthOutput(outputs map[string]*inference.Tensor) (*inference.Tensor, error) {
	if t, ok := outputs[DepthOutput]; ok {
		return t, nil
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("%d outputs without %q: %w", len(outputs), DepthOutput, ErrBadDepth)
	}
	for _, t := range outputs {
		return t, nil
	}
	return nil, ErrBadDepth
}

// Normalize maps values linearly onto [0,255]. A constant input maps to 0.
func Normalize(values []float32) []float32 {
	out := make([]float32, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := bounds(values)
	if hi == lo {
		return out
	}
	scale := 255 / (hi - lo)
	for i, v := range values {
		out[i] = float32((float64(v) - lo) * scale)
	}
	return out
}

func bounds(values []float32) (float64, float64) {
	f := make([]float64, len(values))
	for i, v := range values {
		f[i] = float64(v)
	}
	return floats.Min(f), floats.Max(f)
}

// Threshold maps percent, clamped to [0,100], onto the range of depth.
func Threshold(depth []float32, percent float64) float64 {
	if len(depth) == 0 {
		return 0
	}
	percent = min(max(percent, 0), 100)
	lo, hi := bounds(depth)
	return lo + (hi-lo)*percent/100
}

// KeepMask marks with 255 every pixel whose depth is at or below the
// threshold for percent. Used as an inverted clip, the marked pixels are
// the ones hidden.
func KeepMask(depth []float32, percent float64) []uint8 {
	threshold := Threshold(depth, percent)
	mask := make([]uint8, len(depth))
	for i, v := range depth {
		if float64(v) <= threshold {
			mask[i] = 255
		}
	}
	return mask
}

// ApplyThreshold sets the inverted clip for percent on rec's target, in
// place. It returns false without doing anything when another application
// is still running.
func (e *Engine) ApplyThreshold(ctx context.Context, rec *registry.Record, percent float64) (bool, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		metrics.ThresholdDropped()
		return false, nil
	}
	defer e.inFlight.Store(false)

	if err := e.ComputeDepth(ctx, rec); err != nil {
		return true, err
	}
	target := rec.Target()
	if target == nil {
		return true, ErrTargetGone
	}

	const n = geometry.ModelSize
	keep := KeepMask(rec.Mask.Float32, percent)
	resized, err := e.resizer.Resize(keep, n, n, target.Width, target.Height)
	if err != nil {
		return true, fmt.Errorf("resize mask: %w", err)
	}
	target.Clip = image.NewClipMask(target.Width, target.Height, resized, true)
	return true, nil
}

// Clear removes the clip from rec's target. The depth cache is kept.
func (e *Engine) Clear(rec *registry.Record) {
	if target := rec.Target(); target != nil {
		target.Clip = nil
	}
}

// BilinearResizer resizes masks with golang.org/x/image and keeps pixels
// above 127.
type BilinearResizer struct{}

// Resize implements Resizer.
func (BilinearResizer) Resize(mask []uint8, srcW, srcH, dstW, dstH int) ([]uint8, error) {
	if len(mask) != srcW*srcH {
		return nil, fmt.Errorf("mask has %d values for %dx%d", len(mask), srcW, srcH)
	}
	src := &goimage.Gray{Pix: mask, Stride: srcW, Rect: goimage.Rect(0, 0, srcW, srcH)}
	scaled := image.Resample(src, dstW, dstH)

	out := make([]uint8, dstW*dstH)
	for i := range out {
		if scaled.Pix[i*4] > 127 {
			out[i] = 255
		}
	}
	return out, nil
}
