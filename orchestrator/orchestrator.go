// Package orchestrator drives an exposure across every configured
// controller as a single operation, grounded on dastard's AnySource
// fan-out pattern (data_source.go) and the original source's
// delegate.py asyncio.gather-based controller broadcast, adapted from
// asyncio tasks to goroutines + sync.WaitGroup.
package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/sdss/archond/archon"
	"github.com/sdss/archond/fitsio"
	"github.com/sdss/archond/lockfile"
	"github.com/sdss/archond/ports"
	"github.com/sdss/archond/siteconfig"
)

// ControllerHandle bundles everything the orchestrator needs per
// configured controller: its wire client, exposure engine, and site
// config entry.
type ControllerHandle struct {
	Config archon.ControllerDescriptor
	Ctrl   *archon.Controller
	Engine *archon.Engine
}

// Orchestrator coordinates start/read/fetch across a fleet of
// controllers so every camera in a shot is synchronised, per spec.md
// §4.6.
type Orchestrator struct {
	cfg         *siteconfig.Config
	controllers []*ControllerHandle

	counter    ports.ExposureCounterStore
	fitsWriter ports.FITSWriter
	sink       ports.ReplySink
	clock      ports.Clock
	env        ports.EnvSensor
	archive    ports.ExposureArchive

	// exposureMu is the exposure-wide mutex spec.md §5 requires: the
	// orchestrator holds it while transitioning the fleet, with
	// per-controller OpLocks nested inside.
	exposureMu sync.Mutex

	cancel chan struct{}
}

// Option configures optional collaborators on New.
type Option func(*Orchestrator)

// WithArchive attaches an exposure archive (analytics sink); nil is
// allowed and simply means no archive recording occurs.
func WithArchive(a ports.ExposureArchive) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithEnvSensor attaches an environmental sensor read at readout
// completion time, for inclusion in default headers.
func WithEnvSensor(e ports.EnvSensor) Option {
	return func(o *Orchestrator) { o.env = e }
}

// WithClock overrides the default system clock, for deterministic tests.
func WithClock(c ports.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// New builds an Orchestrator over an already-connected set of
// controllers.
func New(cfg *siteconfig.Config, controllers []*ControllerHandle, counter ports.ExposureCounterStore, writer ports.FITSWriter, sink ports.ReplySink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		controllers: controllers,
		counter:     counter,
		fitsWriter:  writer,
		sink:        sink,
		clock:       ports.SystemClock{},
		cancel:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ExposureResult summarises a completed (or partially completed)
// exposure for the RPC layer.
type ExposureResult struct {
	ExposureNo int64
	Filenames  []string
	Errors     map[string]error
}

// controllerOutcome carries one controller's exposure result back to the
// fan-in stage.
type controllerOutcome struct {
	handle *ControllerHandle
	err    error
}

// Expose runs one exposure end to end: allocate a number, broadcast
// expose to every controller, await integration, read out, fetch, crop
// per detector, and persist each detector's FITS file bracketed by a
// lockfile. Per spec.md §4.6 step 3, any controller's integration
// failure aborts the rest and the composite error is returned, but
// controllers that already fetched successfully still have their files
// written.
func (o *Orchestrator) Expose(integrationSeconds float64, autoRead bool, extras map[string]string) (*ExposureResult, error) {
	o.exposureMu.Lock()
	defer o.exposureMu.Unlock()

	// Peek only: the counter is not persisted until the broadcast below
	// has started integration on every controller and that integration
	// has actually completed, so an abort or a controller that refuses
	// to start never burns a number — the next attempt peeks the same
	// one.
	exposureNo, err := o.counter.Peek()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: allocating exposure number: %w", err)
	}
	o.publish("system", map[string]any{"exposure_no": exposureNo, "event": "start"})

	centiseconds := archon.IntMSFromSeconds(integrationSeconds)
	start := o.clock.Now()

	dones := make([]<-chan error, len(o.controllers))
	for i, h := range o.controllers {
		done, err := h.Engine.Expose(centiseconds, autoRead)
		if err != nil {
			o.abortAll(o.controllers[:i])
			o.publish("error", map[string]any{"controller": h.Config.Name, "error": err.Error()})
			return nil, fmt.Errorf("orchestrator: %s: expose: %w", h.Config.Name, err)
		}
		dones[i] = done
		o.publish("status", map[string]any{"controller": h.Config.Name, "status": int(h.Ctrl.Status()), "status_names": h.Ctrl.Status().Names(), "last_exposure_no": exposureNo})
	}

	var integrationErrs []error
	for i, done := range dones {
		if err := <-done; err != nil {
			integrationErrs = append(integrationErrs, fmt.Errorf("%s: %w", o.controllers[i].Config.Name, err))
		}
	}
	if len(integrationErrs) > 0 {
		o.abortAll(o.controllers)
		return nil, fmt.Errorf("orchestrator: integration failed on %d controller(s): %v", len(integrationErrs), integrationErrs)
	}

	// Integration succeeded on every controller: this exposure number is
	// committed and will not be reused, even if a later readout/fetch
	// step below fails.
	if err := o.counter.Advance(exposureNo); err != nil {
		o.publish("error", map[string]any{"error": fmt.Sprintf("advancing exposure counter: %v", err)})
	}

	result := &ExposureResult{ExposureNo: exposureNo, Errors: make(map[string]error)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, h := range o.controllers {
		wg.Add(1)
		go func(h *ControllerHandle) {
			defer wg.Done()
			files, err := o.readAndFetchOne(h, exposureNo, integrationSeconds, start, autoRead, extras)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[h.Config.Name] = err
				o.publish("error", map[string]any{"controller": h.Config.Name, "error": err.Error()})
				return
			}
			result.Filenames = append(result.Filenames, files...)
		}(h)
	}
	wg.Wait()

	o.publish("filenames", map[string]any{"exposure_no": exposureNo, "filenames": result.Filenames})
	return result, nil
}

func (o *Orchestrator) readAndFetchOne(h *ControllerHandle, exposureNo int64, integrationSeconds float64, start time.Time, autoRead bool, extras map[string]string) ([]string, error) {
	if autoRead {
		// Engine.Expose's background poller already drives READING to
		// FETCH_PENDING itself and only closes the integration done
		// channel once that has happened (Orchestrator.Expose already
		// waited on it); this is a cheap confirming poll that also covers
		// the case where ErrorBit flipped on instead.
		if err := o.waitForFetchPending(h); err != nil {
			return nil, err
		}
	} else if err := h.Engine.Readout(o.cfg.Timeouts.ReadoutMax); err != nil {
		return nil, fmt.Errorf("readout: %w", err)
	}

	geom, err := archon.ComputeGeometry(h.Engine.ACF)
	if err != nil {
		return nil, fmt.Errorf("geometry: %w", err)
	}
	o.publish("config", map[string]any{
		"controller": h.Config.Name, "lines": geom.Lines, "pixels": geom.Pixels,
		"preskiplines": geom.PreSkipLines, "preskippixels": geom.PreSkipPixels,
	})

	f16, f32, _, err := h.Engine.Fetch(0, geom, o.cfg.Timeouts.ReadoutMax)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	end := o.clock.Now()

	var envReadings []ports.EnvReading
	if o.env != nil {
		if r, err := o.env.Read(); err == nil {
			envReadings = r
		}
	}

	var filenames []string
	for _, det := range h.Config.Detectors {
		frame, biasSection := cropDetector(f16, f32, det)
		header := defaultHeader(o.cfg, h.Config.Name, det, geom, exposureNo, start, end, integrationSeconds, biasSection, envReadings, extras)
		frame.Header = header

		path := renderPath(o.cfg, h.Config.Name, det.Name, exposureNo)
		if err := o.writeWithRecovery(path, exposureNo, h.Config.Name, det.Name, frame); err != nil {
			return filenames, fmt.Errorf("%s: persist: %w", det.Name, err)
		}
		filenames = append(filenames, path)

		if o.archive != nil {
			o.archive.RecordExposure(ports.ExposureSummary{
				ExposureNo: exposureNo, Controller: h.Config.Name, Detector: det.Name,
				Filename: path, IntegrationS: integrationSeconds, Start: start, End: end, Success: true,
			})
		}
	}
	return filenames, nil
}

func (o *Orchestrator) waitForFetchPending(h *ControllerHandle) error {
	deadline := time.Now().Add(o.cfg.Timeouts.ReadoutMax)
	for {
		if h.Ctrl.Status().Has(archon.FetchPending) {
			return nil
		}
		if h.Ctrl.Status().Has(archon.ErrorBit) {
			return fmt.Errorf("%s: controller entered ERROR while awaiting readout", h.Config.Name)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s: timed out awaiting FETCH_PENDING", h.Config.Name)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// writeWithRecovery brackets the FITS write with a lockfile, per
// spec.md §4.6 step 6: create lockfile -> write temp+rename (handled by
// the FITSWriter) -> remove lockfile.
func (o *Orchestrator) writeWithRecovery(path string, exposureNo int64, controller, detector string, frame ports.Frame) error {
	if err := lockfile.Write(path, exposureNo, controller, detector, frame); err != nil {
		return fmt.Errorf("lockfile create: %w", err)
	}
	if err := o.fitsWriter.Write(path, frame); err != nil {
		// Leave the lockfile in place; recovery will retry the write.
		return fmt.Errorf("PersistError: %w", err)
	}
	if o.cfg.Checksum.Enabled {
		mode := fitsio.MD5
		if o.cfg.Checksum.Mode == "sha1" {
			mode = fitsio.SHA1
		}
		sumFile := checksumFilePath(o.cfg.DataDir, o.clock.Now())
		if err := fitsio.AppendChecksum(sumFile, path, mode); err != nil {
			o.publish("error", map[string]any{"controller": controller, "error": fmt.Sprintf("checksum: %v", err)})
		}
	}
	if err := lockfile.Remove(path); err != nil {
		return fmt.Errorf("lockfile remove: %w", err)
	}
	return nil
}

// Recover scans the data directory for orphaned lockfiles and rewrites
// each to its final path, matching spec.md §4.6's startup and on-demand
// `recover` behaviour.
func (o *Orchestrator) Recover() ([]string, error) {
	locks, err := lockfile.List(o.cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: listing lockfiles: %w", err)
	}
	var recovered []string
	for _, lockPath := range locks {
		fitsPath := lockPath[:len(lockPath)-len(lockfile.Suffix)]
		lock, err := lockfile.Read(fitsPath)
		if err != nil {
			o.publish("error", map[string]any{"error": fmt.Sprintf("recover: reading %s: %v", lockPath, err)})
			continue
		}
		frame, err := lock.Frame()
		if err != nil {
			o.publish("error", map[string]any{"error": fmt.Sprintf("recover: decoding %s: %v", lockPath, err)})
			continue
		}
		if err := o.fitsWriter.Write(fitsPath, frame); err != nil {
			o.publish("error", map[string]any{"error": fmt.Sprintf("recover: writing %s: %v", fitsPath, err)})
			continue
		}
		if err := lockfile.Remove(fitsPath); err != nil {
			o.publish("error", map[string]any{"error": fmt.Sprintf("recover: removing lock for %s: %v", fitsPath, err)})
			continue
		}
		recovered = append(recovered, fitsPath)
	}
	o.publish("filenames", map[string]any{"event": "recover", "filenames": recovered})
	return recovered, nil
}

// Reset aborts any in-flight exposure on every controller and returns
// the fleet to IDLE, per spec.md §4.6's cancellation requirement.
func (o *Orchestrator) Reset() {
	o.exposureMu.Lock()
	defer o.exposureMu.Unlock()
	o.abortAll(o.controllers)
}

func (o *Orchestrator) abortAll(handles []*ControllerHandle) {
	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *ControllerHandle) {
			defer wg.Done()
			if h.Ctrl.Status().Has(archon.Exposing) {
				if err := h.Engine.Abort(); err != nil {
					o.publish("error", map[string]any{"controller": h.Config.Name, "error": err.Error()})
				}
			}
			h.Engine.Reset()
		}(h)
	}
	wg.Wait()
}

// SendAllStatus publishes a status snapshot for every controller,
// matching dastard's periodic RunRPCServer broadcaster.
func (o *Orchestrator) SendAllStatus() {
	for _, h := range o.controllers {
		s := h.Ctrl.Status()
		o.publish("status", map[string]any{
			"controller": h.Config.Name, "status": int(s), "status_names": s.Names(),
		})
	}
}

// Controller looks up one configured controller's handle by name, for
// RPC methods that target a single controller directly (abort, readout,
// fetch, flush, write_config, read_config, status).
func (o *Orchestrator) Controller(name string) (*ControllerHandle, bool) {
	for _, h := range o.controllers {
		if h.Config.Name == name {
			return h, true
		}
	}
	return nil, false
}

// StatusSnapshot reports one controller's current bitmask.
type StatusSnapshot struct {
	Controller string
	Status     archon.ControllerStatus
	Names      []string
}

// Status returns a snapshot of every configured controller.
func (o *Orchestrator) Status() []StatusSnapshot {
	out := make([]StatusSnapshot, 0, len(o.controllers))
	for _, h := range o.controllers {
		s := h.Ctrl.Status()
		out = append(out, StatusSnapshot{Controller: h.Config.Name, Status: s, Names: s.Names()})
	}
	return out
}

func (o *Orchestrator) publish(key string, value any) {
	if o.sink != nil {
		o.sink.Publish(key, value)
	}
}
