package capture

// lumaLayout returns the offset of the first luma byte and the distance
// between luma bytes for formats that carry raw luma, ok=false otherwise.
func lumaLayout(f PixelFormat) (offset, stride int, ok bool) {
	switch f {
	case FormatGrey:
		return 0, 1, true
	case FormatYUYV:
		return 0, 2, true
	case FormatUYVY:
		return 1, 2, true
	}
	return 0, 0, false
}

func hasGoodBlackLevel(img []byte, format PixelFormat) bool {
	offset, stride, ok := lumaLayout(format)
	if !ok {
		return true
	}
	dark := 0
	total := 0
	for i := offset; i < len(img); i += stride {
		if img[i] < 80 {
			dark++
		}
		total++
	}
	if total == 0 {
		return false
	}
	darkness := float64(dark) / float64(total)
	return darkness > 0.1 && darkness < 0.7
}
