// Package faces holds the geometry shared by the detector and the blur engine:
// boxes normalised to the image size and the pixel regions derived from them.
package faces

import (
	"image"
	"math"
)

// ContentTypeJPEG is the content type of every object written to the destination.
const ContentTypeJPEG = "image/jpeg"

// NormalizedBox is a rectangle expressed as fractions of the image width and
// height. Components are expected in [0,1]; Left+Width and Top+Height may
// exceed 1 when the detector rounds or a face leaves the frame.
type NormalizedBox struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FaceSet is the ordered list of boxes found in one image. An empty set means
// nothing should be blurred.
type FaceSet []NormalizedBox

// Empty reports whether the set has no boxes.
func (s FaceSet) Empty() bool { return len(s) == 0 }

// PixelRegion is a rectangle in absolute pixel units.
type PixelRegion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ToPixelRegion scales a normalised box by the decoded image dimensions.
func ToPixelRegion(box NormalizedBox, width, height int) PixelRegion {
	w, h := float64(width), float64(height)
	return PixelRegion{
		X: box.Left * w,
		Y: box.Top * h,
		W: box.Width * w,
		H: box.Height * h,
	}
}

// Rect rounds the region to whole pixels and clips it to bounds. The result
// is empty when the region lies entirely outside the image.
func (r PixelRegion) Rect(bounds image.Rectangle) image.Rectangle {
	x0 := int(math.Round(r.X))
	y0 := int(math.Round(r.Y))
	x1 := int(math.Round(r.X + r.W))
	y1 := int(math.Round(r.Y + r.H))
	rect := image.Rect(x0, y0, x1, y1).Add(bounds.Min)
	return rect.Intersect(bounds)
}

// BlobRef identifies an object in the blob store.
type BlobRef struct {
	Container string `json:"container"`
	Key       string `json:"key"`
}

// String renders the reference as container/key.
func (r BlobRef) String() string {
	return r.Container + "/" + r.Key
}

// ProcessingResult is what gets written to the destination container.
type ProcessingResult struct {
	Data        []byte
	ContentType string
}
