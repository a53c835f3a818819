// Package segment turns point prompts on a canvas object into a cropped cutout.
//
// A run renders the target into the 1024x1024 model space, encodes it once
// (the embedding is cached on the record), decodes the accumulated prompts
// into a mask, and composites that mask back onto the target's own pixels.
package segment

import (
	"context"
	"errors"
	"fmt"
	goimage "image"
	"time"

	"cutout/internal/image"
	"cutout/internal/inference"
	"cutout/internal/logging"
	"cutout/internal/metrics"
	"cutout/internal/registry"
	"cutout/pkg/geometry"

	"go.uber.org/zap"
)

var (
	// ErrInvalidPrompt is returned when a run has no prompts.
	ErrInvalidPrompt = errors.New("no prompts to decode")
	// ErrEmptyMask is returned when the decoded mask keeps no pixels.
	ErrEmptyMask = errors.New("mask selects no pixels")
	// ErrBadMask is returned for decoder output that is not a mask.
	ErrBadMask = errors.New("decoder returned no usable mask")
	// ErrBusy is returned when the record is already running.
	ErrBusy = errors.New("segmentation already running")
	// ErrTargetGone is returned when the record's object no longer exists.
	ErrTargetGone = errors.New("segmentation target no longer exists")
)

// SessionSource hands out loaded model sessions.
type SessionSource interface {
	Session(name string) (inference.Session, error)
}

// Engine runs promptable segmentation.
type Engine struct {
	sessions     SessionSource
	MarkerRadius int
}

// NewEngine creates an engine using sessions from src.
func NewEngine(src SessionSource) *Engine {
	return &Engine{sessions: src, MarkerRadius: 6}
}

// AddPoint converts a screen point into model space, appends it to rec's
// prompts and attaches a marker that follows the target.
func (e *Engine) AddPoint(rec *registry.Record, screen geometry.Point2D, viewport geometry.AffineTransform, label registry.Label) error {
	target := rec.Target()
	if target == nil {
		return ErrTargetGone
	}
	w, h := target.Size()
	model, err := geometry.ScreenToModel(screen, viewport, target.Matrix(), w, h)
	if err != nil {
		return err
	}
	inv, ok := viewport.Inverse()
	if !ok {
		return fmt.Errorf("viewport: %w", geometry.ErrDegenerateGeometry)
	}

	rec.AddPrompt(model, label)
	e.attachMarker(rec, target, inv.Apply(screen), label)
	return nil
}

// AddBox adds a box prompt spanning two screen corners, given in any order.
func (e *Engine) AddBox(rec *registry.Record, a, b geometry.Point2D, viewport geometry.AffineTransform) error {
	r := geometry.RectFromCorners(a, b)
	if r.Empty() {
		return fmt.Errorf("box %v: %w", r, ErrInvalidPrompt)
	}
	if err := e.AddPoint(rec, r.TopLeft(), viewport, registry.LabelBoxTopLeft); err != nil {
		return err
	}
	return e.AddPoint(rec, r.BottomRight(), viewport, registry.LabelBoxBottomRight)
}

// Run decodes rec's prompts and returns the cutout as a new object placed
// over the source pixels. On success the prompts and markers are cleared.
// Failures leave the prompts in place so the user can retry.
func (e *Engine) Run(ctx context.Context, rec *registry.Record) (*image.Object, error) {
	if rec.State == registry.StateRunning {
		return nil, ErrBusy
	}
	target := rec.Target()
	if target == nil {
		return nil, ErrTargetGone
	}
	if len(rec.Points) == 0 {
		return nil, ErrInvalidPrompt
	}
	if target.Width <= 0 || target.Height <= 0 {
		return nil, fmt.Errorf("target %dx%d: %w", target.Width, target.Height, geometry.ErrDegenerateGeometry)
	}

	decoder, err := e.sessions.Session(inference.ModelDecoder)
	if err != nil {
		return nil, err
	}

	rec.State = registry.StateRunning
	defer func() {
		if rec.State == registry.StateRunning {
			rec.State = registry.StatePrompting
		}
	}()

	raster := ModelRaster(target)
	if rec.Embedding == nil {
		emb, err := e.encode(ctx, raster)
		if err != nil {
			return nil, err
		}
		rec.Embedding = emb
	}

	inputs, err := DecoderInputs(rec.Embedding, rec.Points, rec.Labels)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	outputs, err := decoder.Run(ctx, inputs)
	metrics.ObserveInference(inference.ModelDecoder, start)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	mask, err := MaskRaster(outputs["masks"])
	for _, t := range outputs {
		t.Release()
	}
	if err != nil {
		return nil, err
	}

	composited := ApplyMask(raster, mask)
	resized := image.Resample(composited, target.Width, target.Height)
	bbox, ok := AlphaBounds(resized)
	if !ok {
		return nil, ErrEmptyMask
	}
	cut := image.CutFrom(target, resized, bbox)

	logging.Logger.Info("segmentation complete",
		zap.Stringer("target", target.ID),
		zap.Int("prompts", len(rec.Points)),
		zap.Int("width", bbox.Width),
		zap.Int("height", bbox.Height))

	rec.ClearPrompts()
	rec.State = registry.StateIdle
	return cut, nil
}

func (e *Engine) encode(ctx context.Context, raster *goimage.RGBA) (*inference.Tensor, error) {
	encoder, err := e.sessions.Session(inference.ModelEncoder)
	if err != nil {
		return nil, err
	}
	input, err := EncoderInput(raster)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	outputs, err := encoder.Run(ctx, map[string]*inference.Tensor{"input_image": input})
	metrics.ObserveInference(inference.ModelEncoder, start)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	emb, ok := outputs["image_embeddings"]
	if !ok && len(outputs) == 1 {
		for _, t := range outputs {
			emb = t
		}
	}
	if emb == nil {
		return nil, fmt.Errorf("encode: no image_embeddings output")
	}
	return emb, nil
}

// EncoderInput wraps a model-size RGBA raster as a [1024,1024,4] uint8 tensor.
func EncoderInput(raster *goimage.RGBA) (*inference.Tensor, error) {
	b := raster.Bounds()
	if b.Dx() != geometry.ModelSize || b.Dy() != geometry.ModelSize {
		return nil, fmt.Errorf("raster %dx%d is not model sized", b.Dx(), b.Dy())
	}
	return inference.NewUint8([]int64{geometry.ModelSize, geometry.ModelSize, 4}, raster.Pix)
}

// DecoderInputs builds the decoder feed. Without a box prompt a (0,0)
// padding point labelled -1 is appended.
func DecoderInputs(embedding *inference.Tensor, points []geometry.Point2D, labels []registry.Label) (map[string]*inference.Tensor, error) {
	if len(points) == 0 {
		return nil, ErrInvalidPrompt
	}
	if len(points) != len(labels) {
		return nil, fmt.Errorf("%d points but %d labels: %w", len(points), len(labels), ErrInvalidPrompt)
	}

	coords := make([]float32, 0, 2*(len(points)+1))
	labs := make([]float32, 0, len(points)+1)
	hasBox := false
	for i, p := range points {
		coords = append(coords, float32(p.X), float32(p.Y))
		labs = append(labs, float32(labels[i]))
		hasBox = hasBox || labels[i].IsBoxCorner()
	}
	if !hasBox {
		coords = append(coords, 0, 0)
		labs = append(labs, -1)
	}
	n := int64(len(labs))

	pointCoords, err := inference.NewFloat32([]int64{1, n, 2}, coords)
	if err != nil {
		return nil, err
	}
	pointLabels, err := inference.NewFloat32([]int64{1, n}, labs)
	if err != nil {
		return nil, err
	}
	hasMask, _ := inference.NewFloat32([]int64{1}, []float32{0})
	origSize, _ := inference.NewFloat32([]int64{2}, []float32{geometry.ModelSize, geometry.ModelSize})

	return map[string]*inference.Tensor{
		"image_embeddings": embedding,
		"point_coords":     pointCoords,
		"point_labels":     pointLabels,
		"mask_input":       inference.Zeros(1, 1, 256, 256),
		"has_mask_input":   hasMask,
		"orig_im_size":     origSize,
	}, nil
}
