// Package cvmask resizes binary masks with OpenCV.
package cvmask

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Resizer scales masks with linear interpolation and re-thresholds them at
// 127 so the result stays binary.
type Resizer struct{}

// Resize scales a srcW x srcH single-channel mask to dstW x dstH.
func (Resizer) Resize(mask []uint8, srcW, srcH, dstW, dstH int) ([]uint8, error) {
	if len(mask) != srcW*srcH {
		return nil, fmt.Errorf("mask has %d values for %dx%d", len(mask), srcW, srcH)
	}
	if dstW <= 0 || dstH <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", dstW, dstH)
	}

	src, err := gocv.NewMatFromBytes(srcH, srcW, gocv.MatTypeCV8UC1, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create mat: %w", err)
	}
	defer src.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, image.Pt(dstW, dstH), 0, 0, gocv.InterpolationLinear)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(resized, &binary, 127, 255, gocv.ThresholdBinary)

	return binary.ToBytes(), nil
}
