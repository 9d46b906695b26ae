//go:build !dlib

package detector

import "errors"

// NewDlibDetector is unavailable without the dlib build tag (cgo + libdlib).
func NewDlibDetector(modelsDir string) (Detector, error) {
	return nil, errors.New("dlib detector not compiled in: rebuild with -tags dlib")
}
