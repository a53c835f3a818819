package image

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"

	"github.com/google/uuid"
)

// objectJSON is the serialized form of an Object. Source pixels travel as
// PNG bytes.
type objectJSON struct {
	ID       uuid.UUID `json:"id"`
	Type     string    `json:"type"`
	Source   []byte    `json:"src,omitempty"`
	Objects  []*Object `json:"objects,omitempty"`
	Left     float64   `json:"left"`
	Top      float64   `json:"top"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	CropX    int       `json:"cropX"`
	CropY    int       `json:"cropY"`
	Angle    float64   `json:"angle"`
	ScaleX   float64   `json:"scaleX"`
	ScaleY   float64   `json:"scaleY"`
	SkewX    float64   `json:"skewX"`
	ClipPath *ClipMask `json:"clipPath,omitempty"`
	Locked   bool      `json:"locked,omitempty"`
}

// MarshalJSON encodes the object, its source pixels and children.
func (o *Object) MarshalJSON() ([]byte, error) {
	out := objectJSON{
		ID:       o.ID,
		Type:     o.Kind.String(),
		Objects:  o.Children,
		Left:     o.Left,
		Top:      o.Top,
		Width:    o.Width,
		Height:   o.Height,
		CropX:    o.CropX,
		CropY:    o.CropY,
		Angle:    o.Angle,
		ScaleX:   o.ScaleX,
		ScaleY:   o.ScaleY,
		SkewX:    o.SkewX,
		ClipPath: o.Clip,
		Locked:   o.Locked,
	}
	if o.Source != nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, o.Source); err != nil {
			return nil, fmt.Errorf("encode object %s: %w", o.ID, err)
		}
		out.Source = buf.Bytes()
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores an object written by MarshalJSON.
func (o *Object) UnmarshalJSON(data []byte) error {
	var in objectJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	switch in.Type {
	case "image":
		o.Kind = KindImage
	case "group":
		o.Kind = KindGroup
	case "marker":
		o.Kind = KindMarker
	default:
		return fmt.Errorf("unknown object type %q", in.Type)
	}

	o.ID = in.ID
	o.Children = in.Objects
	o.Left, o.Top = in.Left, in.Top
	o.Width, o.Height = in.Width, in.Height
	o.CropX, o.CropY = in.CropX, in.CropY
	o.Angle = in.Angle
	o.ScaleX, o.ScaleY = in.ScaleX, in.ScaleY
	o.SkewX = in.SkewX
	o.Clip = in.ClipPath
	o.Locked = in.Locked

	if len(in.Source) > 0 {
		img, err := png.Decode(bytes.NewReader(in.Source))
		if err != nil {
			return fmt.Errorf("decode object %s: %w", in.ID, err)
		}
		o.Source = toRGBAIfNeeded(img)
	}
	return nil
}

func toRGBAIfNeeded(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	return ToRGBA(img)
}
