package orchestrator

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sdss/archond/archon"
	"github.com/sdss/archond/ports"
	"github.com/sdss/archond/siteconfig"
)

// cropDetector crops the detector's rectangle out of whichever of f16/f32
// is populated and returns the bias section (the overscan-adjacent strip
// just outside the crop, clamped to the frame) for header statistics.
func cropDetector(f16 *archon.Frame16, f32 *archon.Frame32, det archon.Detector) (ports.Frame, []uint16) {
	if f32 != nil {
		cropped := f32.Crop(det.X0, det.Y0, det.X1, det.Y1)
		return ports.Frame{
			Width: cropped.Width, Height: cropped.Height, BitsPerPixel: 32, Pix32: cropped.Pix,
		}, nil
	}

	cropped := f16.Crop(det.X0, det.Y0, det.X1, det.Y1)
	bias := biasSection16(f16, det)
	return ports.Frame{
		Width: cropped.Width, Height: cropped.Height, BitsPerPixel: 16, Pix16: cropped.Pix,
	}, bias
}

// biasSection16 samples the strip immediately to the right of the
// detector's active area (the overscan columns), if any remain within
// the fetched frame, for BIASMEAN/BIASSTD header statistics.
func biasSection16(f *archon.Frame16, det archon.Detector) []uint16 {
	if det.X1 >= f.Width {
		return nil
	}
	w := f.Width - det.X1
	h := det.Y1 - det.Y0
	if w <= 0 || h <= 0 {
		return nil
	}
	section := f.Crop(det.X1, det.Y0, f.Width, det.Y1)
	return section.Pix
}

// renderPath expands the site config's path template for one detector's
// output file.
func renderPath(cfg *siteconfig.Config, controller, detector string, exposureNo int64) string {
	tmpl := cfg.PathTemplate
	if tmpl == "" {
		tmpl = "{data_dir}/{controller}-{detector}-{exposure:04d}.fits"
	}
	r := strings.NewReplacer(
		"{observatory}", cfg.Observatory,
		"{hemisphere}", cfg.Hemisphere,
		"{data_dir}", cfg.DataDir,
		"{controller}", controller,
		"{detector}", detector,
		"{exposure:04d}", fmt.Sprintf("%04d", exposureNo),
		"{exposure}", fmt.Sprintf("%d", exposureNo),
	)
	return filepath.Clean(r.Replace(tmpl))
}

// checksumFilePath returns the shared daily checksum file path, one file
// per UTC calendar day, matching the original source's per-day checksum
// sidecar convention.
func checksumFilePath(dataDir string, now time.Time) string {
	return filepath.Join(dataDir, fmt.Sprintf("checksums-%s.txt", now.UTC().Format("2006-01-02")))
}
