package imageprocessing

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/jo-hoe/vehiclewatch/internal/backend/database"
	"github.com/jo-hoe/vehiclewatch/internal/backend/labels"
)

func whiteImage(t *testing.T, width, height int) image.Image {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func box(label string, x1, y1, x2, y2 float64) database.Detection {
	return database.Detection{
		Label: &label,
		X1:    &x1,
		Y1:    &y1,
		X2:    &x2,
		Y2:    &y2,
	}
}

func TestAnnotate_PreservesDimensions(t *testing.T) {
	input := encodePNG(t, whiteImage(t, 64, 48))

	output, err := Annotate(input, []database.Detection{box("Car", 10, 10, 50, 40)})
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}

	img, format, err := image.Decode(bytes.NewReader(output))
	if err != nil {
		t.Fatalf("failed to decode annotated image: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("expected jpeg output, got %s", format)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
		t.Errorf("expected 64x48, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestAnnotate_NoDetections(t *testing.T) {
	input := encodePNG(t, whiteImage(t, 20, 20))

	output, err := Annotate(input, nil)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(output))
	if err != nil {
		t.Fatalf("output is not a valid image: %v", err)
	}
	if img.Bounds().Dx() != 20 || img.Bounds().Dy() != 20 {
		t.Errorf("expected 20x20, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestAnnotate_UndecodableInput(t *testing.T) {
	_, err := Annotate([]byte("definitely not an image"), nil)
	if err == nil {
		t.Fatal("expected an error for undecodable input")
	}
	if !errors.Is(err, ErrAnnotationFailed) {
		t.Errorf("expected ErrAnnotationFailed, got %v", err)
	}
	if !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestRender_DrawsClassColor(t *testing.T) {
	annotator := NewAnnotator(DefaultJPEGQuality, labels.FallbackColor)

	canvas := annotator.Render(whiteImage(t, 60, 60), []database.Detection{box("Car", 10, 10, 50, 50)})

	edge := canvas.NRGBAAt(10, 30)
	if edge.B < 200 || edge.R > 60 || edge.G > 60 {
		t.Errorf("expected blue stroke at left edge, got %v", edge)
	}
	inside := canvas.NRGBAAt(30, 30)
	if inside != (color.NRGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Errorf("expected box interior to stay white, got %v", inside)
	}
}

func TestRender_InvertedCorners(t *testing.T) {
	annotator := NewAnnotator(DefaultJPEGQuality, labels.FallbackColor)

	canvas := annotator.Render(whiteImage(t, 60, 60), []database.Detection{box("Vehicle", 50, 50, 10, 10)})

	edge := canvas.NRGBAAt(30, 10)
	if edge.R < 200 || edge.G > 60 || edge.B > 60 {
		t.Errorf("expected red stroke at top edge, got %v", edge)
	}
}

func TestRender_UnknownLabelUsesFallback(t *testing.T) {
	fallback := color.RGBA{R: 255, G: 0, B: 255, A: 255}
	annotator := NewAnnotator(DefaultJPEGQuality, fallback)

	canvas := annotator.Render(whiteImage(t, 60, 60), []database.Detection{box("Truck", 10, 10, 50, 50)})

	edge := canvas.NRGBAAt(10, 30)
	if edge.R < 200 || edge.B < 200 || edge.G > 60 {
		t.Errorf("expected fallback magenta stroke, got %v", edge)
	}
}

func TestRender_ZeroAreaBoxLeavesMark(t *testing.T) {
	annotator := NewAnnotator(DefaultJPEGQuality, labels.FallbackColor)

	canvas := annotator.Render(whiteImage(t, 30, 30), []database.Detection{box("Car", 10, 10, 10, 10)})

	mark := canvas.NRGBAAt(10, 10)
	if mark.B < 200 || mark.R > 60 || mark.G > 60 {
		t.Errorf("expected blue mark at the box position, got %v", mark)
	}
	if far := canvas.NRGBAAt(20, 20); far != (color.NRGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Errorf("expected distant pixel to stay white, got %v", far)
	}
}

func TestRender_SkipsIncompleteBox(t *testing.T) {
	annotator := NewAnnotator(DefaultJPEGQuality, labels.FallbackColor)
	incomplete := box("Car", 10, 10, 50, 50)
	incomplete.Y2 = nil

	canvas := annotator.Render(whiteImage(t, 60, 60), []database.Detection{incomplete})

	for _, p := range []image.Point{{10, 30}, {30, 10}, {50, 30}} {
		if got := canvas.NRGBAAt(p.X, p.Y); got != (color.NRGBA{R: 255, G: 255, B: 255, A: 255}) {
			t.Errorf("expected untouched pixel at %v, got %v", p, got)
		}
	}
}

func TestNewAnnotator_ClampsQuality(t *testing.T) {
	for _, quality := range []int{0, -5, 101} {
		if got := NewAnnotator(quality, labels.FallbackColor).jpegQuality; got != DefaultJPEGQuality {
			t.Errorf("NewAnnotator(%d) quality = %d, want %d", quality, got, DefaultJPEGQuality)
		}
	}
}
