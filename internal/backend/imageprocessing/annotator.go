package imageprocessing

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/jo-hoe/vehiclewatch/internal/backend/database"
	"github.com/jo-hoe/vehiclewatch/internal/backend/labels"
	"github.com/srwiley/rasterx"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	DefaultJPEGQuality = 90
	strokeWidth        = 2
)

var (
	// ErrAnnotationFailed wraps every failure of Annotate. Callers fall back to the raw image.
	ErrAnnotationFailed = errors.New("annotation failed")
	// ErrDecode is returned when the input bytes are not a recognizable image.
	ErrDecode = errors.New("failed to decode image")
)

// Annotator draws detection bounding boxes onto images.
type Annotator struct {
	jpegQuality   int
	fallbackColor color.RGBA
}

// NewAnnotator creates an annotator encoding JPEG at the given quality.
// Out of range qualities fall back to DefaultJPEGQuality.
func NewAnnotator(jpegQuality int, fallbackColor color.RGBA) *Annotator {
	if jpegQuality < 1 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}
	return &Annotator{
		jpegQuality:   jpegQuality,
		fallbackColor: fallbackColor,
	}
}

var defaultAnnotator = NewAnnotator(DefaultJPEGQuality, labels.FallbackColor)

// Annotate draws detections with the default annotator.
func Annotate(imageData []byte, detections []database.Detection) ([]byte, error) {
	return defaultAnnotator.Annotate(imageData, detections)
}

// Annotate decodes imageData, strokes one rectangle per detection in the color
// of its label and returns the result encoded as JPEG. No captions are drawn.
func (a *Annotator) Annotate(imageData []byte, detections []database.Detection) ([]byte, error) {
	slog.Debug("Annotator: decoding image",
		"input_size_bytes", len(imageData),
		"detection_count", len(detections))

	src, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		slog.Error("Annotator: failed to decode image", "error", err)
		return nil, fmt.Errorf("%w: %w: %v", ErrAnnotationFailed, ErrDecode, err)
	}

	canvas := a.Render(src, detections)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(a.jpegQuality)); err != nil {
		slog.Error("Annotator: failed to encode JPEG", "error", err)
		return nil, fmt.Errorf("%w: failed to encode JPEG: %v", ErrAnnotationFailed, err)
	}

	slog.Debug("Annotator: annotation complete",
		"source_format", format,
		"width", canvas.Bounds().Dx(),
		"height", canvas.Bounds().Dy(),
		"output_size_bytes", buf.Len())
	return buf.Bytes(), nil
}

// Render returns a full resolution copy of src with the detection boxes drawn on it.
func (a *Annotator) Render(src image.Image, detections []database.Detection) *image.NRGBA {
	canvas := imaging.Clone(src)
	width, height := canvas.Bounds().Dx(), canvas.Bounds().Dy()
	if len(detections) == 0 || width == 0 || height == 0 {
		return canvas
	}

	scanner := rasterx.NewScannerGV(width, height, canvas, canvas.Bounds())
	dasher := rasterx.NewDasher(width, height, scanner)
	dasher.SetStroke(fixed.I(strokeWidth), fixed.I(4), rasterx.ButtCap, rasterx.ButtCap, rasterx.FlatGap, rasterx.Miter, nil, 0)

	for i, detection := range detections {
		if !detection.HasBox() {
			slog.Debug("Annotator: skipping detection without complete box", "index", i)
			continue
		}
		minX, minY, maxX, maxY := boxCorners(detection)

		dasher.Clear()
		dasher.SetColor(a.colorFor(detection))
		rasterx.AddRect(minX, minY, maxX, maxY, 0, dasher)
		dasher.Draw()
	}
	return canvas
}

func (a *Annotator) colorFor(detection database.Detection) color.RGBA {
	if detection.Label == nil {
		return a.fallbackColor
	}
	if c, ok := labels.ColorForLabel(*detection.Label); ok {
		return c
	}
	return a.fallbackColor
}

// boxCorners rounds the corners to whole pixels and orders them, since the
// model does not guarantee x1 <= x2 or y1 <= y2. A box without extent on an
// axis is widened to one pixel so it still leaves a mark.
func boxCorners(d database.Detection) (minX, minY, maxX, maxY float64) {
	x1, y1 := math.Round(*d.X1), math.Round(*d.Y1)
	x2, y2 := math.Round(*d.X2), math.Round(*d.Y2)
	minX, minY, maxX, maxY = math.Min(x1, x2), math.Min(y1, y2), math.Max(x1, x2), math.Max(y1, y2)
	if maxX == minX {
		maxX++
	}
	if maxY == minY {
		maxY++
	}
	return minX, minY, maxX, maxY
}
