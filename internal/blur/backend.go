package blur

import (
	"image"

	"github.com/anthonynsimon/bild/blur"
	"github.com/disintegration/imaging"
)

// Backend blurs one rectangle of img and returns the updated image. rect is
// already clipped to img's bounds.
type Backend interface {
	BlurRegion(img *image.NRGBA, rect image.Rectangle, sigma float64) (*image.NRGBA, error)
}

// GaussianBackend uses imaging's gaussian blur.
type GaussianBackend struct{}

// BlurRegion implements Backend.
func (GaussianBackend) BlurRegion(img *image.NRGBA, rect image.Rectangle, sigma float64) (*image.NRGBA, error) {
	region := imaging.Blur(imaging.Crop(img, rect), sigma)
	return imaging.Paste(img, region, rect.Min), nil
}

// BoxBackend uses bild's box blur, which is cheaper for large radii. It is
// the backend for local runs.
type BoxBackend struct{}

// BlurRegion implements Backend. sigma is used as the box radius.
func (BoxBackend) BlurRegion(img *image.NRGBA, rect image.Rectangle, sigma float64) (*image.NRGBA, error) {
	region := blur.Box(imaging.Crop(img, rect), sigma)
	return imaging.Paste(img, region, rect.Min), nil
}

// SelectBackend returns the box backend for local execution and the gaussian
// backend otherwise.
func SelectBackend(local bool) Backend {
	if local {
		return BoxBackend{}
	}
	return GaussianBackend{}
}
