// Package blur applies a blur to face regions of an encoded image.
package blur

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/example/face-blur/internal/faces"
)

// Failure kinds. All of them abort the invocation.
var (
	ErrDecode = errors.New("decode image")
	ErrEncode = errors.New("encode image")
	ErrRegion = errors.New("blur region")
)

const (
	// DefaultSigma is the blur strength applied to every face, whatever its size.
	DefaultSigma = 70.0
	// DefaultQuality is the JPEG quality of re-encoded output.
	DefaultQuality = 90
)

// Engine blurs face regions and re-encodes the result as JPEG.
type Engine struct {
	backend Backend
	sigma   float64
	quality int
	logger  *zap.Logger
}

// NewEngine builds an engine. Non-positive sigma or quality fall back to defaults.
func NewEngine(backend Backend, sigma float64, quality int, logger *zap.Logger) *Engine {
	if sigma <= 0 {
		sigma = DefaultSigma
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Engine{
		backend: backend,
		sigma:   sigma,
		quality: quality,
		logger:  logger.Named("blur_engine"),
	}
}

// Apply blurs every box of set, in order, on the image held in data. An empty
// set returns data itself without re-encoding. Overlapping boxes are blurred
// cumulatively, so the output depends on the order of set.
func (e *Engine) Apply(data []byte, set faces.FaceSet) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}
	if set.Empty() {
		return data, nil
	}

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	img := canvas(src, cfg)
	bounds := img.Bounds()

	applied := 0
	for i, box := range set {
		rect := faces.ToPixelRegion(box, cfg.Width, cfg.Height).Rect(bounds)
		if rect.Empty() {
			e.logger.Debug("face region outside image, skipping", zap.Int("index", i))
			continue
		}
		img, err = e.blurRegion(img, rect)
		if err != nil {
			return nil, fmt.Errorf("%w %d %v: %w", ErrRegion, i, rect, err)
		}
		applied++
	}

	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(e.quality)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	e.logger.Debug("face regions blurred",
		zap.Int("regions", applied),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
	)
	return out.Bytes(), nil
}

// canvas returns src as an NRGBA image of the size DecodeConfig reported,
// anchored at the origin. A GIF's first frame can be smaller than the
// logical screen and offset within it; such a frame is placed at its offset
// on a black screen so boxes normalized against the screen land on the
// right pixels.
func canvas(src image.Image, cfg image.Config) *image.NRGBA {
	b := src.Bounds()
	if b.Min == (image.Point{}) && b.Dx() == cfg.Width && b.Dy() == cfg.Height {
		return imaging.Clone(src)
	}
	return imaging.Paste(imaging.New(cfg.Width, cfg.Height, color.Black), src, b.Min)
}

func (e *Engine) blurRegion(img *image.NRGBA, rect image.Rectangle) (out *image.NRGBA, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("backend panic: %v", r)
		}
	}()
	out, err = e.backend.BlurRegion(img, rect, e.sigma)
	if err == nil && out == nil {
		err = errors.New("backend returned no image")
	}
	return out, err
}
