package stamp

// normalizeRotation maps a /Rotate value onto 0, 90, 180 or 270.
func normalizeRotation(rotate int) int {
	rotate %= 360
	if rotate < 0 {
		rotate += 360
	}
	return rotate - rotate%90
}

// footprint is the user-space size of a w x h stamp painted upright on a
// page shown with the given rotation.
func footprint(rotate int, w, h float64) (float64, float64) {
	switch normalizeRotation(rotate) {
	case 90, 270:
		return h, w
	default:
		return w, h
	}
}

// uprightMatrix returns the cm operands that paint a w x h form so it reads
// upright when the page is displayed with the given rotation. The form
// covers the footprint whose lower-left corner is (x, y).
func uprightMatrix(rotate int, x, y, w, h float64) [6]float64 {
	switch normalizeRotation(rotate) {
	case 90:
		return [6]float64{0, 1, -1, 0, x + h, y}
	case 180:
		return [6]float64{-1, 0, 0, -1, x + w, y + h}
	case 270:
		return [6]float64{0, -1, 1, 0, x, y + w}
	default:
		return [6]float64{1, 0, 0, 1, x, y}
	}
}
