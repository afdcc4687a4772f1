// Package geometry converts between relative zones and pixel boxes and cuts
// sub-images out of card images.
package geometry

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/menta2k/card-analyzer/pkg/types"
)

// ErrInvalidImageShape is returned when an image shape is neither 2-D nor 3-D.
var ErrInvalidImageShape = errors.New("geometry: invalid image shape")

// Shape returns [height, width] for single-channel images and
// [height, width, channels] for color images.
func Shape(img image.Image) []int {
	b := img.Bounds()
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model, color.AlphaModel, color.Alpha16Model:
		return []int{b.Dy(), b.Dx()}
	}
	return []int{b.Dy(), b.Dx(), 3}
}

// ToAbsolute scales two relative corners to pixel corners for an image of the
// given shape, truncating toward zero.
func ToAbsolute(shape []int, corners [2]types.Point) ([2]image.Point, error) {
	var h, w int
	switch len(shape) {
	case 2, 3:
		h, w = shape[0], shape[1]
	default:
		return [2]image.Point{}, fmt.Errorf("%w: %d dimensions", ErrInvalidImageShape, len(shape))
	}

	var out [2]image.Point
	for i, c := range corners {
		out[i] = image.Pt(int(c.X*float64(w)), int(c.Y*float64(h)))
	}
	return out, nil
}

// Crop returns img[y1:y2, x1:x2] with box coordinates relative to the image
// origin. The caller must pass a box inside the image; use Clamp first when
// the box comes from a detector.
func Crop(img image.Image, box image.Rectangle) image.Image {
	r := box.Add(img.Bounds().Min)
	if s, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r)
	}
	return imaging.Crop(img, r)
}

// Clamp limits box to a w x h image anchored at the origin.
func Clamp(box image.Rectangle, w, h int) image.Rectangle {
	return box.Canon().Intersect(image.Rect(0, 0, w, h))
}

// ExtractZone crops zone out of img, scaling relative zones first.
func ExtractZone(img image.Image, zone types.Zone) (image.Image, error) {
	if !zone.IsRelative() {
		return Crop(img, zone.Absolute), nil
	}
	pts, err := ToAbsolute(Shape(img), zone.Relative)
	if err != nil {
		return nil, err
	}
	return Crop(img, image.Rectangle{Min: pts[0], Max: pts[1]}), nil
}

// IoU returns the intersection over union of two boxes.
func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := area(inter)
	union := area(a) + area(b) - ia
	if union <= 0 {
		return 0
	}
	return float64(ia) / float64(union)
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}
