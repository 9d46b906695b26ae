// Package overlay draws detection boxes and labels on top of a frame.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/facematch"
)

// Box is one rectangle to draw, in frame pixel coordinates [x1, y1, x2, y2].
type Box struct {
	BBox  []float64
	Label string
	Known bool
}

// Options control stroke and label appearance.
type Options struct {
	LineWidth    int
	Color        color.RGBA // unlabeled or unknown faces
	KnownColor   color.RGBA // faces matched to a stored descriptor
	LabelColor   color.RGBA
	DrawLabels   bool
	TargetWidth  int // scale output to this size; 0 keeps the frame size
	TargetHeight int
}

// DefaultOptions returns a 2px stroke with labels.
func DefaultOptions() Options {
	return Options{
		LineWidth:  2,
		Color:      color.RGBA{255, 0, 0, 255},
		KnownColor: color.RGBA{0, 200, 0, 255},
		LabelColor: color.RGBA{255, 255, 255, 255},
		DrawLabels: true,
	}
}

// Draw copies img onto a fresh canvas and strokes every box. Boxes are
// clamped to the canvas; boxes that end up empty are skipped.
func Draw(img image.Image, boxes []Box, opts Options) *image.RGBA {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	dstW, dstH := srcW, srcH
	if opts.TargetWidth > 0 && opts.TargetHeight > 0 {
		dstW, dstH = opts.TargetWidth, opts.TargetHeight
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	if dstW == srcW && dstH == srcH {
		draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	}

	lineWidth := opts.LineWidth
	if lineWidth <= 0 {
		lineWidth = 1
	}

	for _, b := range boxes {
		if len(b.BBox) != 4 {
			continue
		}
		bbox := facematch.ScaleBBox(b.BBox, srcW, srcH, dstW, dstH)
		bbox = facematch.ClampBBox(bbox, dstW, dstH)
		if facematch.BBoxArea(bbox) <= 0 {
			continue
		}

		c := opts.Color
		if b.Known {
			c = opts.KnownColor
		}

		x1, y1 := int(bbox[0]), int(bbox[1])
		x2, y2 := int(bbox[2]), int(bbox[3])
		for w := range lineWidth {
			drawHLine(dst, x1, x2, y1+w, c)
			drawHLine(dst, x1, x2, y2-w, c)
			drawVLine(dst, y1, y2, x1+w, c)
			drawVLine(dst, y1, y2, x2-w, c)
		}

		if opts.DrawLabels && b.Label != "" {
			drawLabel(dst, x1, y1, b.Label, c, opts.LabelColor)
		}
	}

	return dst
}

// drawLabel writes text on a filled strip above the box, or inside it when
// the box touches the top edge.
func drawLabel(dst *image.RGBA, x, y int, text string, bg, fg color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(fg), Face: face}
	width := d.MeasureString(text).Ceil() + 4
	height := face.Metrics().Height.Ceil() + 2

	top := y - height
	if top < 0 {
		top = y
	}
	strip := image.Rect(x, top, x+width, top+height).Intersect(dst.Bounds())
	draw.Draw(dst, strip, image.NewUniform(bg), image.Point{}, draw.Src)

	d.Dot = fixed.P(x+2, top+face.Metrics().Ascent.Ceil()+1)
	d.DrawString(text)
}

// drawHLine draws a horizontal line on the image.
func drawHLine(dst *image.RGBA, x1, x2, y int, c color.RGBA) {
	bounds := dst.Bounds()
	if y < 0 || y >= bounds.Dy() {
		return
	}
	for x := x1; x <= x2; x++ {
		if x >= 0 && x < bounds.Dx() {
			dst.SetRGBA(x, y, c)
		}
	}
}

// drawVLine draws a vertical line on the image.
func drawVLine(dst *image.RGBA, y1, y2, x int, c color.RGBA) {
	bounds := dst.Bounds()
	if x < 0 || x >= bounds.Dx() {
		return
	}
	for y := y1; y <= y2; y++ {
		if y >= 0 && y < bounds.Dy() {
			dst.SetRGBA(x, y, c)
		}
	}
}

// BoxesFromResult builds boxes for a detection result. matches, when not
// nil, must be index-aligned with result.Detections.
func BoxesFromResult(result *detector.Result, matches []facematch.Match) []Box {
	if result == nil {
		return nil
	}
	boxes := make([]Box, 0, len(result.Detections))
	for i, det := range result.Detections {
		box := Box{BBox: det.BBox}
		var match *facematch.Match
		if i < len(matches) {
			match = &matches[i]
			box.Known = match.Known
		}
		box.Label = Label(det.Score, match)
		boxes = append(boxes, box)
	}
	return boxes
}

// Label is the text drawn above a box: the match label and distance when
// recognition ran, the detection score otherwise.
func Label(score float64, match *facematch.Match) string {
	if match == nil {
		return fmt.Sprintf("%.2f", score)
	}
	return fmt.Sprintf("%s (%.2f)", match.Label, match.Distance)
}

// Encode writes img as "jpeg" (quality 85) or "png".
func Encode(w io.Writer, img image.Image, format string) error {
	switch format {
	case "", "jpeg", "jpg":
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: 85}); err != nil {
			return fmt.Errorf("failed to encode jpeg: %w", err)
		}
	case "png":
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("failed to encode png: %w", err)
		}
	default:
		return fmt.Errorf("unsupported image format %q", format)
	}
	return nil
}

// ContentType returns the MIME type Encode produces for format.
func ContentType(format string) string {
	if format == "png" {
		return "image/png"
	}
	return "image/jpeg"
}
