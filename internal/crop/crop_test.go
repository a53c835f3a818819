package crop

import (
	goimage "image"
	"image/color"
	"testing"

	"cutout/internal/image"
	"cutout/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func patterned(w, h int) *goimage.RGBA {
	img := goimage.NewRGBA(goimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8(x / 256 * 200), A: 255})
		}
	}
	return img
}

// dragLocal drags from the canvas position of a centered-local point by
// (dx, dy) canvas pixels.
func dragLocal(t *testing.T, e *Engine, target *image.Object, local geometry.Point2D, dx, dy float64) (*image.Object, error) {
	t.Helper()
	start := target.Matrix().Apply(local)
	require.NoError(t, e.Begin(target, start, geometry.Identity()))
	require.True(t, target.Locked)
	require.NoError(t, e.Update(geometry.Point2D{X: start.X + dx/2, Y: start.Y + dy/2}))
	return e.End(geometry.Point2D{X: start.X + dx, Y: start.Y + dy})
}

func TestEngine_RotatedRightHalf(t *testing.T) {
	src := patterned(512, 256)
	target := image.NewImage(src)
	target.Left, target.Top = 100, 100
	target.Angle = 30

	cut, err := dragLocal(t, NewEngine(), target, geometry.Point2D{X: 0, Y: -128}, 256, 256)
	require.NoError(t, err)
	assert.False(t, target.Locked)

	assert.InDelta(t, 30, cut.Angle, 1e-6)
	assert.InDelta(t, 1, cut.ScaleX, 1e-9)
	assert.InDelta(t, 1, cut.ScaleY, 1e-9)
	assert.Equal(t, 256, cut.CropX)
	assert.Equal(t, 0, cut.CropY)
	assert.Equal(t, 256, cut.Width)
	assert.Equal(t, 256, cut.Height)

	want := image.ToRGBA(src.SubImage(goimage.Rect(256, 0, 512, 256)))
	assert.Equal(t, want.Pix, image.Render(cut).Pix)

	// The window's top-left pixel is drawn where the target draws it.
	got := cut.Matrix().Apply(geometry.Point2D{X: -128, Y: -128})
	exp := target.Matrix().Apply(geometry.Point2D{X: 0, Y: -128})
	assert.InDelta(t, exp.X, got.X, 1e-6)
	assert.InDelta(t, exp.Y, got.Y, 1e-6)
}

func TestEngine_KeepsRotationForAllAngles(t *testing.T) {
	for angle := 0.0; angle < 360; angle += 15 {
		target := image.NewImage(patterned(100, 60))
		target.Left, target.Top = 40, 80
		target.Angle = angle
		target.ScaleX, target.ScaleY = 1.5, 0.5

		cut, err := dragLocal(t, NewEngine(), target, geometry.Point2D{X: -30, Y: -20}, 30, 10)
		require.NoError(t, err, "angle %v", angle)
		assert.InDelta(t, angle, cut.Angle, 1e-6, "angle %v", angle)
		assert.InDelta(t, 1.5, cut.ScaleX, 1e-9)
		assert.InDelta(t, 0.5, cut.ScaleY, 1e-9)
		assert.Equal(t, 20, cut.CropX)
		assert.Equal(t, 10, cut.CropY)
		assert.Equal(t, 20, cut.Width)
		assert.Equal(t, 20, cut.Height)
	}
}

func TestEngine_DragDirections(t *testing.T) {
	target := image.NewImage(patterned(100, 100))

	tests := []struct {
		name          string
		start, finish geometry.Point2D
	}{
		{"down right", geometry.Point2D{X: 10, Y: 20}, geometry.Point2D{X: 50, Y: 60}},
		{"up left", geometry.Point2D{X: 50, Y: 60}, geometry.Point2D{X: 10, Y: 20}},
		{"up right", geometry.Point2D{X: 10, Y: 60}, geometry.Point2D{X: 50, Y: 20}},
		{"down left", geometry.Point2D{X: 50, Y: 20}, geometry.Point2D{X: 10, Y: 60}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine()
			require.NoError(t, e.Begin(target, tt.start, geometry.Identity()))
			require.NoError(t, e.Update(tt.finish))
			assert.Equal(t, geometry.Rect{X: 10, Y: 20, Width: 40, Height: 40}, e.Rect())

			cut, err := e.End(tt.finish)
			require.NoError(t, err)
			assert.Equal(t, 10, cut.CropX)
			assert.Equal(t, 20, cut.CropY)
			assert.Equal(t, 40, cut.Width)
		})
	}
}

func TestEngine_ClipsToTarget(t *testing.T) {
	target := image.NewImage(patterned(50, 50))
	e := NewEngine()
	require.NoError(t, e.Begin(target, geometry.Point2D{X: -20, Y: 30}, geometry.Identity()))
	cut, err := e.End(geometry.Point2D{X: 80, Y: 90})
	require.NoError(t, err)
	assert.Equal(t, geometry.RectInt{X: 0, Y: 30, Width: 50, Height: 20},
		geometry.RectInt{X: cut.CropX, Y: cut.CropY, Width: cut.Width, Height: cut.Height})
}

func TestEngine_EmptyCropUnlocks(t *testing.T) {
	target := image.NewImage(patterned(50, 50))
	e := NewEngine()

	require.NoError(t, e.Begin(target, geometry.Point2D{X: 10, Y: 10}, geometry.Identity()))
	_, err := e.End(geometry.Point2D{X: 10, Y: 30})
	assert.ErrorIs(t, err, ErrEmptyCrop)
	assert.False(t, target.Locked)
	assert.False(t, e.Active())

	require.NoError(t, e.Begin(target, geometry.Point2D{X: 200, Y: 200}, geometry.Identity()))
	_, err = e.End(geometry.Point2D{X: 260, Y: 260})
	assert.ErrorIs(t, err, ErrEmptyCrop)
	assert.False(t, target.Locked)

	_, err = e.End(geometry.Point2D{})
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestEngine_Cancel(t *testing.T) {
	target := image.NewImage(patterned(10, 10))
	e := NewEngine()
	require.NoError(t, e.Begin(target, geometry.Point2D{X: 1, Y: 1}, geometry.Identity()))
	e.Cancel()
	assert.False(t, target.Locked)
	assert.False(t, e.Active())
}
