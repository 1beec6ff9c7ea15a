package orchestrator

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sdss/archond/archon"
	"github.com/sdss/archond/ports"
	"github.com/sdss/archond/siteconfig"
)

// defaultHeader computes the standard card set spec.md §4.6 requires for
// every detector HDU: geometry keys, timestamps, exposure number,
// software version, backplane id, gain/readnoise per tap, and bias
// section statistics, merged with caller-supplied extras afterward.
func defaultHeader(
	cfg *siteconfig.Config,
	controllerName string,
	det archon.Detector,
	geom archon.Geometry,
	exposureNo int64,
	start, end time.Time,
	integrationS float64,
	biasSection []uint16,
	envReadings []ports.EnvReading,
	extras map[string]string,
) ports.Header {
	var h ports.Header

	h.Add("EXPOSURE", exposureNo, "exposure sequence number")
	h.Add("CONTROLLR", controllerName, "Archon controller name")
	h.Add("DETECTOR", det.Name, "detector name")
	h.Add("SENSTAP", det.SensorTap, "sensor tap used for readout")
	h.Add("DATE-OBS", start.UTC().Format(time.RFC3339Nano), "integration start, UTC")
	h.Add("DATE-END", end.UTC().Format(time.RFC3339Nano), "readout completion, UTC")
	h.Add("EXPTIME", integrationS, "integration time, seconds")
	h.Add("OBSERVAT", cfg.Observatory, "observatory code")
	h.Add("HEMISPH", cfg.Hemisphere, "observatory hemisphere")
	h.Add("SWVER", siteconfig.Build.Version, "archond software version")
	h.Add("BACKPLN", controllerName, "Archon backplane id")

	h.Add("NLINES", geom.Lines, "total readout lines")
	h.Add("NPIXELS", geom.Pixels, "total readout pixels per line")
	h.Add("PRESKL", geom.PreSkipLines, "pre-skip lines")
	h.Add("PRESKP", geom.PreSkipPixels, "pre-skip pixels")
	h.Add("POSTSKL", geom.PostSkipLines, "post-skip lines")
	h.Add("POSTSKP", geom.PostSkipPixels, "post-skip pixels")
	h.Add("OVERSCL", geom.OverscanLines, "overscan lines")
	h.Add("OVERSCP", geom.OverscanPixels, "overscan pixels")
	h.Add("CCDBINV", geom.VerticalBinning, "vertical (row) binning")
	h.Add("CCDBINH", geom.HorizontalBinning, "horizontal (column) binning")

	h.Add("DETX0", det.X0, "detector crop origin, x")
	h.Add("DETY0", det.Y0, "detector crop origin, y")
	h.Add("DETX1", det.X1, "detector crop extent, x")
	h.Add("DETY1", det.Y1, "detector crop extent, y")

	if len(biasSection) > 0 {
		pixels := make([]float64, len(biasSection))
		for i, v := range biasSection {
			pixels[i] = float64(v)
		}
		mean, std := stat.MeanStdDev(pixels, nil)
		h.Add("BIASMEAN", mean, "bias section mean, ADU")
		h.Add("BIASSTD", std, "bias section standard deviation, ADU")
	}

	for _, r := range envReadings {
		h.Add(fmt.Sprintf("ENV_%s", r.Name), r.Value, r.Unit)
	}

	for k, v := range extras {
		h.Add(k, v, "")
	}

	return h
}
