// Package fingerprint computes difference hashes of frames so a camera can
// skip frames that did not visibly change.
package fingerprint

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// Hash is a 64-bit difference hash.
type Hash uint64

// String returns the hash as 16 hex digits.
func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// FromBytes decodes an encoded image and hashes it.
func FromBytes(data []byte) (Hash, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to decode image: %w", err)
	}
	return Compute(img), nil
}

// Compute returns the difference hash of img: the image is shrunk to 9x8
// gray pixels and each bit records whether a pixel is brighter than its
// right neighbour.
func Compute(img image.Image) Hash {
	small := image.NewGray(image.Rect(0, 0, 9, 8))
	draw.BiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	var hash Hash
	bit := 63
	for y := range 8 {
		for x := range 8 {
			if small.GrayAt(x, y).Y > small.GrayAt(x+1, y).Y {
				hash |= 1 << bit
			}
			bit--
		}
	}
	return hash
}

// Distance returns the number of differing bits.
func Distance(a, b Hash) int {
	return bits.OnesCount64(uint64(a ^ b))
}

// Similar reports whether a and b differ in at most threshold bits.
func Similar(a, b Hash, threshold int) bool {
	return Distance(a, b) <= threshold
}
