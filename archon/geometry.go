package archon

import "strconv"

// Geometry is the derived line/pixel layout of a controller's readout,
// computed from the ACF's Lines/Pixels/skip/overscan/binning parameters so
// the CCD area map lines up with the buffer hardware actually writes.
type Geometry struct {
	Lines            int
	Pixels           int
	PreSkipLines     int
	PreSkipPixels    int
	PostSkipLines    int
	PostSkipPixels   int
	OverscanLines    int
	OverscanPixels   int
	VerticalBinning  int
	HorizontalBinning int
	FrameMode        int
}

// ComputeGeometry derives a Geometry from the ACF's named parameters. It
// fails with ConfigError if any required parameter is absent or malformed.
func ComputeGeometry(acf *ACF) (Geometry, error) {
	g := Geometry{VerticalBinning: 1, HorizontalBinning: 1}

	required := map[string]*int{
		"Lines":             &g.Lines,
		"Pixels":            &g.Pixels,
		"PreSkipLines":      &g.PreSkipLines,
		"PreSkipPixels":     &g.PreSkipPixels,
		"PostSkipLines":     &g.PostSkipLines,
		"PostSkipPixels":    &g.PostSkipPixels,
		"OverscanLines":     &g.OverscanLines,
		"OverscanPixels":    &g.OverscanPixels,
	}
	for name, dst := range required {
		v, err := acf.ParamValue(name)
		if err != nil {
			return Geometry{}, err
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Geometry{}, &ConfigError{Reason: "parameter " + name + " is not an integer: " + v}
		}
		*dst = n
	}
	for _, bin := range []struct {
		name string
		dst  *int
	}{
		{"VerticalBinning", &g.VerticalBinning},
		{"HorizontalBinning", &g.HorizontalBinning},
	} {
		if v, err := acf.ParamValue(bin.name); err == nil {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*bin.dst = n
			}
		}
	}

	if g.Lines <= 0 || g.Pixels <= 0 {
		return Geometry{}, &ConfigError{Reason: "geometry inconsistent: Lines/Pixels must be positive"}
	}

	// framemode taplines: the number of effective tap-rows the readout
	// actually writes per physical line, after binning.
	g.FrameMode = (g.Lines + g.VerticalBinning - 1) / g.VerticalBinning
	return g, nil
}

// ActiveLines returns the number of lines excluding pre/post skip and
// overscan, i.e. the science-bearing rows.
func (g Geometry) ActiveLines() int {
	return g.Lines - g.PreSkipLines - g.PostSkipLines - g.OverscanLines
}

// ActivePixels returns the number of pixels excluding pre/post skip and
// overscan, i.e. the science-bearing columns.
func (g Geometry) ActivePixels() int {
	return g.Pixels - g.PreSkipPixels - g.PostSkipPixels - g.OverscanPixels
}

// BufferBytes returns the expected raw buffer size for this geometry at
// the given pixel bit width (16 or 32).
func (g Geometry) BufferBytes(bitsPerPixel int) int64 {
	bytesPerPixel := int64(bitsPerPixel / 8)
	return int64(g.Lines) * int64(g.Pixels) * bytesPerPixel
}

// IntMSFromSeconds converts a floating-point integration time in seconds
// to Archon's centisecond IntMS parameter, rounding to the nearest
// centisecond. Exposures as long as 10000s must round-trip exactly.
func IntMSFromSeconds(seconds float64) int64 {
	return int64(seconds*100 + 0.5)
}

// SecondsFromIntMS is the inverse of IntMSFromSeconds.
func SecondsFromIntMS(centiseconds int64) float64 {
	return float64(centiseconds) / 100.0
}
