package geometry

// Quad returns the four corners of a w x h box under t, in drawing order.
// The box is centered on the local origin, matching object transforms.
func Quad(t AffineTransform, w, h float64) []Point2D {
	hw, hh := w/2, h/2
	return []Point2D{
		t.Apply(Point2D{X: -hw, Y: -hh}),
		t.Apply(Point2D{X: hw, Y: -hh}),
		t.Apply(Point2D{X: hw, Y: hh}),
		t.Apply(Point2D{X: -hw, Y: hh}),
	}
}

// PointInPolygon tests if a point is inside a polygon using ray casting.
func PointInPolygon(p Point2D, polygon []Point2D) bool {
	if len(polygon) < 3 {
		return false
	}

	inside := false
	n := len(polygon)

	for i := 0; i < n; i++ {
		j := (i + 1) % n
		pi, pj := polygon[i], polygon[j]

		// Check if ray from p going right intersects edge pi-pj
		if ((pi.Y > p.Y) != (pj.Y > p.Y)) &&
			(p.X < (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y)+pi.X) {
			inside = !inside
		}
	}

	return inside
}
