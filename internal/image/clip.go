package image

import (
	"image"
)

// ClipMask is a single-channel coverage mask attached to an object.
// Where Inverted is set the object is hidden wherever the mask is opaque.
type ClipMask struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Alpha    []uint8 `json:"alpha"`
	Inverted bool    `json:"inverted"`
}

// NewClipMask wraps an alpha buffer of the given size.
func NewClipMask(width, height int, alpha []uint8, inverted bool) *ClipMask {
	return &ClipMask{Width: width, Height: height, Alpha: alpha, Inverted: inverted}
}

// Coverage returns how much of the pixel at (x, y) of a w x h raster stays
// visible, sampling the mask with nearest-neighbor when sizes differ.
func (c *ClipMask) Coverage(x, y, w, h int) uint8 {
	mx, my := x, y
	if w != c.Width || h != c.Height {
		mx = x * c.Width / w
		my = y * c.Height / h
	}
	var a uint8
	if mx >= 0 && my >= 0 && mx < c.Width && my < c.Height {
		a = c.Alpha[my*c.Width+mx]
	}
	if c.Inverted {
		return 255 - a
	}
	return a
}

// Apply scales every pixel of img by its coverage.
func (c *ClipMask) Apply(img *image.RGBA) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			cov := uint16(c.Coverage(x, y, w, h))
			if cov == 255 {
				continue
			}
			p := row[x*4 : x*4+4]
			for i := range p {
				p[i] = uint8(uint16(p[i]) * cov / 255)
			}
		}
	}
}

// Opaque counts mask pixels that are set.
func (c *ClipMask) Opaque() int {
	n := 0
	for _, a := range c.Alpha {
		if a != 0 {
			n++
		}
	}
	return n
}
