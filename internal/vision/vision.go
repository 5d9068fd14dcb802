// Package vision locates faces through a remote vision service and reports
// them as normalised boxes.
package vision

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/face-blur/internal/faces"
)

var (
	// ErrZeroDimensions is returned when the service reports an image with no area.
	ErrZeroDimensions = errors.New("vision: image dimensions must be positive")
	// ErrEmptySource is returned when neither bytes nor a URL were supplied.
	ErrEmptySource = errors.New("vision: source has no data or url")
)

// Source is the image handed to the detector: raw bytes or a URL the service
// can fetch itself. URL wins when both are set. Ref only labels log lines.
type Source struct {
	Data []byte
	URL  string
	Ref  faces.BlobRef
}

// Rect is a face rectangle in the service's pixel space.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Analysis is the raw detector answer: face rectangles plus the image size
// they were measured against.
type Analysis struct {
	Faces  []Rect
	Width  int
	Height int
}

// Detector calls a remote face detection service.
type Detector interface {
	Detect(ctx context.Context, src Source) (*Analysis, error)
}

// Normalize divides every rectangle by the reported image size.
func Normalize(a *Analysis) (faces.FaceSet, error) {
	if a == nil {
		return nil, errors.New("vision: nil analysis")
	}
	if a.Width <= 0 || a.Height <= 0 {
		return nil, fmt.Errorf("%w: got %dx%d", ErrZeroDimensions, a.Width, a.Height)
	}
	w, h := float64(a.Width), float64(a.Height)
	set := make(faces.FaceSet, 0, len(a.Faces))
	for _, r := range a.Faces {
		set = append(set, faces.NormalizedBox{
			Width:  float64(r.Width) / w,
			Height: float64(r.Height) / h,
			Left:   float64(r.Left) / w,
			Top:    float64(r.Top) / h,
		})
	}
	return set, nil
}

// wire format shared by the REST and gRPC transports.
type analyzeResponse struct {
	Faces []struct {
		FaceRectangle *Rect `json:"faceRectangle"`
	} `json:"faces"`
	Metadata *struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"metadata"`
}

func (r *analyzeResponse) analysis() (*Analysis, error) {
	if r.Metadata == nil {
		return nil, errors.New("vision: response has no image metadata")
	}
	a := &Analysis{Width: r.Metadata.Width, Height: r.Metadata.Height}
	for i, f := range r.Faces {
		if f.FaceRectangle == nil {
			return nil, fmt.Errorf("vision: face %d has no rectangle", i)
		}
		a.Faces = append(a.Faces, *f.FaceRectangle)
	}
	return a, nil
}
