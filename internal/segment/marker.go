package segment

import (
	"cutout/internal/image"
	"cutout/internal/registry"
	"cutout/pkg/colorutil"
	"cutout/pkg/geometry"
)

// attachMarker places a marker centered on the canvas point and keeps it
// fixed relative to the target: on every target transform the marker
// becomes targetNow * targetAtAdd^-1 * markerAtAdd.
func (e *Engine) attachMarker(rec *registry.Record, target *image.Object, canvas geometry.Point2D, label registry.Label) {
	marker := image.NewMarker(colorutil.MarkerColor(int(label)), e.MarkerRadius)
	marker.SetMatrix(geometry.Translation(canvas.X, canvas.Y))

	targetAtAdd, ok := target.Matrix().Inverse()
	if !ok {
		return
	}
	relative := targetAtAdd.Compose(marker.Matrix())

	sub := target.Observe(func(ev image.Event) {
		if ev.Type == image.EventDetached {
			return
		}
		marker.SetMatrix(ev.Object.Matrix().Compose(relative))
	})
	rec.Markers = append(rec.Markers, &registry.Marker{Object: marker, Sub: sub})
}
