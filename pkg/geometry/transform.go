package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ModelSize is the side length of the square model input space.
const ModelSize = 1024

// ErrDegenerateGeometry is returned for zero-sized targets or transforms
// that cannot be inverted.
var ErrDegenerateGeometry = errors.New("degenerate geometry")

// Decomposition is an affine transform split into placement components.
// Angles are in degrees.
type Decomposition struct {
	TranslateX float64 `json:"translateX"`
	TranslateY float64 `json:"translateY"`
	ScaleX     float64 `json:"scaleX"`
	ScaleY     float64 `json:"scaleY"`
	Angle      float64 `json:"angle"`
	SkewX      float64 `json:"skewX"`
}

// Decompose splits t into translate * rotate * scale * skewX.
func Decompose(t AffineTransform) Decomposition {
	denom := t.A*t.A + t.C*t.C
	scaleX := math.Sqrt(denom)
	var scaleY, skew float64
	if scaleX != 0 {
		scaleY = t.Determinant() / scaleX
		skew = math.Atan2(t.A*t.B+t.C*t.D, denom)
	}
	return Decomposition{
		TranslateX: t.TX,
		TranslateY: t.TY,
		ScaleX:     scaleX,
		ScaleY:     scaleY,
		Angle:      normalizeDegrees(RadToDeg(math.Atan2(t.C, t.A))),
		SkewX:      RadToDeg(skew),
	}
}

// Matrix recomposes the decomposition.
func (d Decomposition) Matrix() AffineTransform {
	return Translation(d.TranslateX, d.TranslateY).
		Compose(Rotation(DegToRad(d.Angle))).
		Compose(Scale(d.ScaleX, d.ScaleY)).
		Compose(SkewX(DegToRad(d.SkewX)))
}

// ScreenToModel maps a screen point into the 1024x1024 model space of an
// object with the given transform and pixel size. objectTransform maps
// object-local coordinates centered on the object to canvas coordinates.
// Each axis is scaled independently.
func ScreenToModel(screen Point2D, viewport, objectTransform AffineTransform, objW, objH float64) (Point2D, error) {
	if objW <= 0 || objH <= 0 {
		return Point2D{}, fmt.Errorf("object size %gx%g: %w", objW, objH, ErrDegenerateGeometry)
	}
	inv, ok := viewport.Compose(objectTransform).Inverse()
	if !ok {
		return Point2D{}, fmt.Errorf("singular object transform: %w", ErrDegenerateGeometry)
	}
	local := inv.Apply(screen)
	return Point2D{
		X: (local.X + objW/2) * ModelSize / objW,
		Y: (local.Y + objH/2) * ModelSize / objH,
	}, nil
}

// ModelToScreen is the inverse of ScreenToModel.
func ModelToScreen(model Point2D, viewport, objectTransform AffineTransform, objW, objH float64) (Point2D, error) {
	if objW <= 0 || objH <= 0 {
		return Point2D{}, fmt.Errorf("object size %gx%g: %w", objW, objH, ErrDegenerateGeometry)
	}
	local := Point2D{
		X: model.X*objW/ModelSize - objW/2,
		Y: model.Y*objH/ModelSize - objH/2,
	}
	return viewport.Compose(objectTransform).Apply(local), nil
}

// DegToRad converts degrees to radians.
func DegToRad(d float64) float64 { return d * math.Pi / 180 }

// RadToDeg converts radians to degrees.
func RadToDeg(r float64) float64 { return r * 180 / math.Pi }

// normalizeDegrees maps an angle into [0, 360).
func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360-1e-9 {
		d = 0
	}
	return d
}
