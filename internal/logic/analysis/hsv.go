package analysis

// RGBToHSV converts an 8-bit RGB triple to HSV on the OpenCV 8-bit
// scale: H in [0,179] (degrees halved), S and V in [0,255]. The test
// strip thresholds are calibrated against this scale.
func RGBToHSV(r, g, b uint8) (h, s, v uint8) {
	rf, gf, bf := float64(r), float64(g), float64(b)

	max := rf
	if gf > max {
		max = gf
	}
	if bf > max {
		max = bf
	}
	min := rf
	if gf < min {
		min = gf
	}
	if bf < min {
		min = bf
	}
	diff := max - min

	v = uint8(max)

	if max == 0 {
		return 0, 0, 0
	}
	s = uint8(255*diff/max + 0.5)

	if diff == 0 {
		return 0, s, v
	}

	var hf float64
	switch max {
	case rf:
		hf = 60 * (gf - bf) / diff
	case gf:
		hf = 120 + 60*(bf-rf)/diff
	default:
		hf = 240 + 60*(rf-gf)/diff
	}
	if hf < 0 {
		hf += 360
	}

	h = uint8(hf / 2)
	return h, s, v
}
