package types

import "image"

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ToRect converts the box to pixel coordinates inside bounds.
func (b Box) ToRect(bounds image.Rectangle) image.Rectangle {
	fw, fh := float64(bounds.Dx()), float64(bounds.Dy())
	x0 := int(clamp(b.X, 0, 1)*fw + 0.5)
	y0 := int(clamp(b.Y, 0, 1)*fh + 0.5)
	x1 := int(clamp(b.X+b.W, 0, 1)*fw + 0.5)
	y1 := int(clamp(b.Y+b.H, 0, 1)*fh + 0.5)
	return image.Rect(x0, y0, x1, y1).Add(bounds.Min)
}

// ModelDetection is one object reported by a vision language model.
type ModelDetection struct {
	Label      string  `json:"label"`
	Class      int     `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// ModelDetections is the JSON document vision models are asked to return.
type ModelDetections struct {
	Objects []ModelDetection `json:"objects"`
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
