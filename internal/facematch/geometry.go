package facematch

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	// Calculate intersection.
	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)

	// Calculate union.
	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

// ConvertPixelBBoxToRelative converts pixel bbox to relative (0-1) coordinates.
// Input bbox is [x1, y1, x2, y2] in pixels, output is [x1, y1, x2, y2] in relative coords.
func ConvertPixelBBoxToRelative(bbox []float64, width, height int) []float64 {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return bbox
	}
	return []float64{
		bbox[0] / float64(width),
		bbox[1] / float64(height),
		bbox[2] / float64(width),
		bbox[3] / float64(height),
	}
}

// ScaleBBox maps a pixel bbox detected on a fromW x fromH frame onto a
// toW x toH display surface. Invalid sizes return the bbox unchanged.
func ScaleBBox(bbox []float64, fromW, fromH, toW, toH int) []float64 {
	if len(bbox) != 4 || fromW <= 0 || fromH <= 0 || toW <= 0 || toH <= 0 {
		return bbox
	}
	sx := float64(toW) / float64(fromW)
	sy := float64(toH) / float64(fromH)
	return []float64{bbox[0] * sx, bbox[1] * sy, bbox[2] * sx, bbox[3] * sy}
}

// ClampBBox limits a pixel bbox to [0,width]x[0,height] and orders its corners.
func ClampBBox(bbox []float64, width, height int) []float64 {
	if len(bbox) != 4 {
		return bbox
	}
	x1, y1, x2, y2 := bbox[0], bbox[1], bbox[2], bbox[3]
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	w, h := float64(width), float64(height)
	return []float64{
		min(max(x1, 0), w),
		min(max(y1, 0), h),
		min(max(x2, 0), w),
		min(max(y2, 0), h),
	}
}

// BBoxArea returns the area of an [x1, y1, x2, y2] box, 0 for malformed boxes.
func BBoxArea(bbox []float64) float64 {
	if len(bbox) != 4 || bbox[2] <= bbox[0] || bbox[3] <= bbox[1] {
		return 0
	}
	return (bbox[2] - bbox[0]) * (bbox[3] - bbox[1])
}
