package image

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"cutout/pkg/geometry"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Composite draws objects into a single raster.
type Composite struct {
	Width     int
	Height    int
	Layers    []*CompositeLayer
	BackColor color.Color
}

// CompositeLayer places one object on the composite. Transform maps the
// object's centered local coordinates to composite pixels.
type CompositeLayer struct {
	Object    *Object
	Transform geometry.AffineTransform
}

// NewComposite creates a transparent Composite with the specified dimensions.
func NewComposite(width, height int) *Composite {
	return &Composite{
		Width:     width,
		Height:    height,
		BackColor: color.Transparent,
	}
}

// AddLayer adds an object to the composite.
func (c *Composite) AddLayer(obj *Object, transform geometry.AffineTransform) {
	c.Layers = append(c.Layers, &CompositeLayer{
		Object:    obj,
		Transform: transform,
	})
}

// Render produces the final composited image.
func (c *Composite) Render() *image.RGBA {
	result := image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))
	draw.Draw(result, result.Bounds(), &image.Uniform{c.BackColor}, image.Point{}, draw.Src)

	for _, cl := range c.Layers {
		if cl.Object == nil {
			continue
		}
		c.compositeLayer(result, cl)
	}
	return result
}

// compositeLayer draws one layer over the result with bilinear sampling.
func (c *Composite) compositeLayer(dst *image.RGBA, cl *CompositeLayer) {
	src := Render(cl.Object)
	w, h := cl.Object.Size()
	// raster pixel -> centered local -> composite pixel
	m := cl.Transform.Compose(geometry.Translation(-w/2, -h/2))
	aff := f64.Aff3{m.A, m.B, m.TX, m.C, m.D, m.TY}
	xdraw.BiLinear.Transform(dst, aff, src, src.Bounds(), xdraw.Over, nil)
}

// Render draws an object without its own transform at its pixel size,
// with its clip mask applied.
func Render(o *Object) *image.RGBA {
	var out *image.RGBA
	switch o.Kind {
	case KindGroup:
		comp := NewComposite(o.Width, o.Height)
		w, h := o.Size()
		center := geometry.Translation(w/2, h/2)
		for _, child := range o.Children {
			comp.AddLayer(child, center.Compose(child.Matrix()))
		}
		out = comp.Render()
	default:
		out = ToRGBA(o.Element())
	}
	if o.Clip != nil {
		o.Clip.Apply(out)
	}
	return out
}

// RenderSelection draws several canvas objects into one raster covering
// their combined bounds. It returns the raster and the canvas rectangle it
// covers.
func RenderSelection(objects []*Object) (*image.RGBA, geometry.Rect) {
	var bounds geometry.Rect
	for i, o := range objects {
		if i == 0 {
			bounds = o.Bounds()
		} else {
			bounds = bounds.Union(o.Bounds())
		}
	}
	comp := NewComposite(int(math.Ceil(bounds.Width)), int(math.Ceil(bounds.Height)))
	origin := geometry.Translation(-bounds.X, -bounds.Y)
	for _, o := range objects {
		comp.AddLayer(o, origin.Compose(o.Matrix()))
	}
	return comp.Render(), bounds
}

// Ungroup moves a group's children back into the group's parent space and
// returns them. The group is left empty.
func Ungroup(g *Object) []*Object {
	children := g.Children
	m := g.Matrix()
	for _, c := range children {
		c.SetMatrix(m.Compose(c.Matrix()))
	}
	g.Children = nil
	return children
}

// Resample scales src to w x h with bilinear interpolation. Aspect ratio is
// not preserved.
func Resample(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// ForceOpaque sets every alpha value to 255, un-premultiplying color so
// the visible RGB is kept.
func ForceOpaque(img *image.RGBA) {
	pix := img.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		a := pix[i+3]
		if a == 255 {
			continue
		}
		if a != 0 {
			pix[i] = uint8(clamp(float64(pix[i])*255/float64(a), 0, 255))
			pix[i+1] = uint8(clamp(float64(pix[i+1])*255/float64(a), 0, 255))
			pix[i+2] = uint8(clamp(float64(pix[i+2])*255/float64(a), 0, 255))
		}
		pix[i+3] = 255
	}
}

func clamp(x, min, max float64) float64 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}

// CutFrom creates an object showing rect of src, where src is a raster of
// target at its pixel size. The new object is placed so that its pixels
// land exactly where the same pixels of target are drawn.
func CutFrom(target *Object, src *image.RGBA, rect geometry.RectInt) *Object {
	out := NewWindow(src, rect)
	w, h := target.Size()
	offset := geometry.Translation(
		float64(rect.X)+float64(rect.Width)/2-w/2,
		float64(rect.Y)+float64(rect.Height)/2-h/2,
	)
	out.SetMatrix(target.Matrix().Compose(offset))
	return out
}
