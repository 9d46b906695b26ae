package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/overlay"
)

// imageExtensions lists the files picked up from directories.
var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true}

func isImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// writeAnnotatedFile draws boxes on the image and writes it to path. The
// format follows the extension: .png writes PNG, anything else JPEG.
func writeAnnotatedFile(path string, data []byte, boxes []overlay.Box) error {
	img, _, err := detector.DecodeImage(data)
	if err != nil {
		return err
	}
	format := "jpeg"
	if strings.EqualFold(filepath.Ext(path), ".png") {
		format = "png"
	}

	var buf bytes.Buffer
	if err := overlay.Encode(&buf, overlay.Draw(img, boxes, overlay.DefaultOptions()), format); err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
