package overlay

import (
	"bytes"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/facematch"
)

func createTestImage(width, height int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestDraw_NoBoxesIsPlainCopy(t *testing.T) {
	src := createTestImage(20, 10, color.RGBA{10, 20, 30, 255})
	out := Draw(src, nil, DefaultOptions())

	if out.Bounds().Dx() != 20 || out.Bounds().Dy() != 10 {
		t.Fatalf("expected 20x10, got %v", out.Bounds())
	}
	if got := out.RGBAAt(5, 5); got != (color.RGBA{10, 20, 30, 255}) {
		t.Errorf("expected source pixel, got %v", got)
	}
	if out == src {
		t.Error("Draw should return a new canvas")
	}
}

func TestDraw_StrokesBox(t *testing.T) {
	src := createTestImage(50, 50, color.White)
	opts := DefaultOptions()
	opts.DrawLabels = false
	out := Draw(src, []Box{{BBox: []float64{10, 10, 30, 30}}}, opts)

	red := color.RGBA{255, 0, 0, 255}
	for _, p := range []image.Point{{10, 10}, {20, 10}, {10, 20}, {30, 30}, {11, 20}, {29, 20}} {
		if got := out.RGBAAt(p.X, p.Y); got != red {
			t.Errorf("pixel %v = %v; want red", p, got)
		}
	}
	if got := out.RGBAAt(20, 20); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("box interior should be untouched, got %v", got)
	}
	if got := src.(*image.RGBA).RGBAAt(10, 10); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("source image must not be modified, got %v", got)
	}
}

func TestDraw_KnownColor(t *testing.T) {
	src := createTestImage(40, 40, color.Black)
	opts := DefaultOptions()
	opts.DrawLabels = false
	out := Draw(src, []Box{{BBox: []float64{5, 5, 20, 20}, Known: true}}, opts)

	if got := out.RGBAAt(5, 5); got != opts.KnownColor {
		t.Errorf("expected known color, got %v", got)
	}
}

func TestDraw_ClampsOutOfBounds(t *testing.T) {
	src := createTestImage(30, 30, color.White)
	opts := DefaultOptions()
	opts.DrawLabels = false

	out := Draw(src, []Box{
		{BBox: []float64{-10, -10, 15, 15}},
		{BBox: []float64{100, 100, 200, 200}}, // fully outside, skipped
		{BBox: []float64{1, 2}},               // malformed, skipped
	}, opts)

	if got := out.RGBAAt(0, 0); got != opts.Color {
		t.Errorf("clamped corner should be stroked, got %v", got)
	}
	if got := out.RGBAAt(29, 29); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("far corner should be untouched, got %v", got)
	}
}

func TestDraw_ScalesToTarget(t *testing.T) {
	src := createTestImage(100, 50, color.White)
	opts := DefaultOptions()
	opts.DrawLabels = false
	opts.TargetWidth = 200
	opts.TargetHeight = 100

	out := Draw(src, []Box{{BBox: []float64{10, 10, 20, 20}}}, opts)
	if out.Bounds().Dx() != 200 || out.Bounds().Dy() != 100 {
		t.Fatalf("expected 200x100, got %v", out.Bounds())
	}
	if got := out.RGBAAt(20, 20); got != opts.Color {
		t.Errorf("scaled box corner should be stroked, got %v", got)
	}
	if got := out.RGBAAt(40, 30); got != opts.Color {
		t.Errorf("scaled box right edge should be stroked, got %v", got)
	}
}

func TestDraw_Label(t *testing.T) {
	src := createTestImage(120, 80, color.Black)
	out := Draw(src, []Box{{BBox: []float64{10, 40, 60, 70}, Label: "alice"}}, DefaultOptions())

	// The label strip sits above the box and is filled with the box color.
	if got := out.RGBAAt(10, 30); got != (color.RGBA{255, 0, 0, 255}) && got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("expected label strip pixel, got %v", got)
	}
}

func TestBoxesFromResult(t *testing.T) {
	result := &detector.Result{Detections: []detector.Detection{
		{BBox: []float64{0, 0, 10, 10}, Score: 0.91},
		{BBox: []float64{20, 20, 30, 30}, Score: 0.5},
	}}

	boxes := BoxesFromResult(result, nil)
	if len(boxes) != 2 {
		t.Fatalf("expected 2 boxes, got %d", len(boxes))
	}
	if boxes[0].Label != "0.91" {
		t.Errorf("expected score label, got %q", boxes[0].Label)
	}

	matches := []facematch.Match{
		{Label: "alice", Distance: 0.31, Known: true},
		{Label: facematch.UnknownLabel, Distance: 0.8},
	}
	boxes = BoxesFromResult(result, matches)
	if boxes[0].Label != "alice (0.31)" || !boxes[0].Known {
		t.Errorf("unexpected first box: %+v", boxes[0])
	}
	if !strings.HasPrefix(boxes[1].Label, "unknown") || boxes[1].Known {
		t.Errorf("unexpected second box: %+v", boxes[1])
	}

	if BoxesFromResult(nil, nil) != nil {
		t.Error("expected nil for nil result")
	}
}

func TestEncode(t *testing.T) {
	img := createTestImage(8, 8, color.White)

	tests := []struct {
		format  string
		magic   []byte
		wantErr bool
	}{
		{"jpeg", []byte{0xFF, 0xD8}, false},
		{"", []byte{0xFF, 0xD8}, false},
		{"png", []byte{0x89, 'P', 'N', 'G'}, false},
		{"gif", nil, true},
	}

	for _, tc := range tests {
		t.Run(tc.format, func(t *testing.T) {
			var buf bytes.Buffer
			err := Encode(&buf, img, tc.format)
			if tc.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if !bytes.HasPrefix(buf.Bytes(), tc.magic) {
				t.Errorf("unexpected header % x", buf.Bytes()[:4])
			}
		})
	}
}

func TestContentType(t *testing.T) {
	if ContentType("png") != "image/png" {
		t.Error("png content type")
	}
	if ContentType("jpeg") != "image/jpeg" {
		t.Error("jpeg content type")
	}
}
