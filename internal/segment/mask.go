package segment

import (
	goimage "image"

	"cutout/internal/image"
	"cutout/internal/inference"
	"cutout/pkg/geometry"
)

// ModelRaster renders target without its transform and stretches it to the
// model input size with every pixel made opaque.
func ModelRaster(target *image.Object) *goimage.RGBA {
	raster := image.Resample(image.Render(target), geometry.ModelSize, geometry.ModelSize)
	image.ForceOpaque(raster)
	return raster
}

// MaskRaster converts the first mask of a [..., H, W] decoder output into an
// opaque RGBA raster of the model size. Each value v becomes gray v*255,
// clamped.
func MaskRaster(masks *inference.Tensor) (*goimage.RGBA, error) {
	if masks == nil || masks.Type != inference.Float32 || len(masks.Shape) < 2 {
		return nil, ErrBadMask
	}
	h := int(masks.Shape[len(masks.Shape)-2])
	w := int(masks.Shape[len(masks.Shape)-1])
	if h <= 0 || w <= 0 || len(masks.Float32) < h*w {
		return nil, ErrBadMask
	}

	img := goimage.NewRGBA(goimage.Rect(0, 0, w, h))
	for i, v := range masks.Float32[:h*w] {
		g := v * 255
		if g < 0 {
			g = 0
		} else if g > 255 {
			g = 255
		}
		p := img.Pix[i*4 : i*4+4]
		p[0], p[1], p[2], p[3] = uint8(g), uint8(g), uint8(g), 255
	}
	if w != geometry.ModelSize || h != geometry.ModelSize {
		img = image.Resample(img, geometry.ModelSize, geometry.ModelSize)
	}
	return img, nil
}

// ApplyMask keeps the pixels of raster whose mask pixel has any nonzero
// color channel and clears the rest, alpha included.
func ApplyMask(raster, mask *goimage.RGBA) *goimage.RGBA {
	out := goimage.NewRGBA(raster.Bounds())
	b := raster.Bounds()
	mb := mask.Bounds()
	for y := 0; y < b.Dy() && y < mb.Dy(); y++ {
		for x := 0; x < b.Dx() && x < mb.Dx(); x++ {
			mi := mask.PixOffset(mb.Min.X+x, mb.Min.Y+y)
			if mask.Pix[mi] == 0 && mask.Pix[mi+1] == 0 && mask.Pix[mi+2] == 0 {
				continue
			}
			si := raster.PixOffset(b.Min.X+x, b.Min.Y+y)
			di := out.PixOffset(x, y)
			copy(out.Pix[di:di+4], raster.Pix[si:si+4])
		}
	}
	return out
}

// AlphaBounds returns the tight box around pixels with nonzero alpha.
// Rows are scanned first, then columns within them. ok is false when the
// image is fully transparent.
func AlphaBounds(img *goimage.RGBA) (geometry.RectInt, bool) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	alpha := func(x, y int) uint8 {
		return img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)+3]
	}
	rowHas := func(y int) bool {
		for x := 0; x < w; x++ {
			if alpha(x, y) != 0 {
				return true
			}
		}
		return false
	}

	minY := -1
	for y := 0; y < h; y++ {
		if rowHas(y) {
			minY = y
			break
		}
	}
	if minY < 0 {
		return geometry.RectInt{}, false
	}
	maxY := minY
	for y := h - 1; y > minY; y-- {
		if rowHas(y) {
			maxY = y
			break
		}
	}

	colHas := func(x int) bool {
		for y := minY; y <= maxY; y++ {
			if alpha(x, y) != 0 {
				return true
			}
		}
		return false
	}
	minX := 0
	for x := 0; x < w; x++ {
		if colHas(x) {
			minX = x
			break
		}
	}
	maxX := minX
	for x := w - 1; x > minX; x-- {
		if colHas(x) {
			maxX = x
			break
		}
	}

	return geometry.RectInt{X: minX, Y: minY, Width: maxX - minX + 1, Height: maxY - minY + 1}, true
}
