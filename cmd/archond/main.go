// Command archond is the daemon entrypoint: it loads the site config,
// starts the rotated problem/update logs, dials every configured
// controller, wires the orchestrator, replays any orphaned lockfiles,
// and serves the RPC and status-bus surfaces until killed.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sdss/archond/archon"
	"github.com/sdss/archond/fitsio"
	"github.com/sdss/archond/orchestrator"
	"github.com/sdss/archond/rpcserver"
	"github.com/sdss/archond/siteconfig"
	"github.com/sdss/archond/statusbus"
	"github.com/sdss/archond/telemetry"
)

var githash = "githash not computed"
var builddate = "build date not computed"

func startLogger(path string) *log.Logger {
	logger := log.New(os.Stderr, "", log.LstdFlags)
	logger.SetOutput(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 4,
		MaxAge:     180,
		Compress:   true,
	})
	return logger
}

func makeFileExist(dir, filename string) (string, error) {
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err := os.MkdirAll(dir, 0775); err != nil {
			return "", err
		}
	}
	fullname := filepath.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err != nil {
			return "", err
		}
		f.Close()
	}
	return fullname, nil
}

func main() {
	siteconfig.Build.Githash = githash
	siteconfig.Build.Date = strings.ReplaceAll(builddate, ".", " ")
	if host, err := os.Hostname(); err == nil {
		siteconfig.Build.Host = host
	}

	printVersion := flag.Bool("version", false, "print version and quit")
	recoverOnly := flag.Bool("recover", false, "recover any orphaned lockfiles and quit")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	flag.Parse()

	if *printVersion {
		fmt.Printf("archond version %s (git commit %s, built %s)\n", siteconfig.Build.Version, githash, siteconfig.Build.Date)
		fmt.Printf("go version %s, %d CPUs\n", runtime.Version(), runtime.NumCPU())
		os.Exit(0)
	}

	fmt.Printf("archond version %s (git commit %s) starting\n", siteconfig.Build.Version, githash)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}
	logdir := filepath.Join(home, ".archond", "logs")
	problemName, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		log.Fatal(err)
	}
	updateName, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		log.Fatal(err)
	}
	problemLog := startLogger(problemName)
	updateLog := startLogger(updateName)
	updateLog.Printf("archond version %s starting", siteconfig.Build.Version)
	fmt.Printf("Logging problems to %s\n", problemName)
	fmt.Printf("Logging updates  to %s\n", updateName)

	cfg, err := siteconfig.Load()
	if err != nil {
		problemLog.Fatal(err)
	}

	bus, err := statusbus.NewBus(siteconfig.Ports.Status)
	if err != nil {
		problemLog.Fatalf("status bus: %v", err)
	}
	defer bus.Close()

	abort := make(chan struct{})
	var archive *telemetry.Archive
	if cfg.ClickHouse != "" {
		archive = telemetry.Open(cfg.ClickHouse, abort)
		if !archive.IsConnected() {
			problemLog.Printf("telemetry: could not connect to %s, continuing without it", cfg.ClickHouse)
		}
	}

	var handles []*orchestrator.ControllerHandle
	for _, cc := range cfg.Controllers {
		desc := archon.ControllerDescriptor{Name: cc.Name, Host: cc.Host, Port: cc.Port}
		for _, d := range cc.Detectors {
			desc.Detectors = append(desc.Detectors, archon.Detector{
				Name: d.Name, X0: d.X0, Y0: d.Y0, X1: d.X1, Y1: d.Y1, SensorTap: d.SensorTap,
			})
		}
		ctrl := archon.NewController(desc)
		if err := ctrl.Connect(nil); err != nil {
			problemLog.Printf("%s: connect failed: %v", cc.Name, err)
			continue
		}

		acfText, err := os.ReadFile(cc.ACFPath)
		if err != nil {
			problemLog.Printf("%s: reading ACF %s: %v", cc.Name, cc.ACFPath, err)
			ctrl.Close()
			continue
		}
		acf, err := archon.ParseACF(string(acfText))
		if err != nil {
			problemLog.Printf("%s: parsing ACF: %v", cc.Name, err)
			ctrl.Close()
			continue
		}
		engine := archon.NewEngine(ctrl, acf)
		engine.ReadoutMax = cfg.Timeouts.ReadoutMax
		handles = append(handles, &orchestrator.ControllerHandle{Config: desc, Ctrl: ctrl, Engine: engine})
		updateLog.Printf("%s: connected at %s:%d", cc.Name, cc.Host, cc.Port)
	}

	counterPath := filepath.Join(home, ".archond", "nextExposureNumber")
	counter, err := orchestrator.NewFileCounterStore(counterPath)
	if err != nil {
		problemLog.Fatal(err)
	}

	var opts []orchestrator.Option
	if archive != nil {
		opts = append(opts, orchestrator.WithArchive(archive))
	}
	orch := orchestrator.New(cfg, handles, counter, fitsio.New(), bus, opts...)

	if recovered, err := orch.Recover(); err != nil {
		problemLog.Printf("startup recovery: %v", err)
	} else if len(recovered) > 0 {
		updateLog.Printf("recovered %d orphaned file(s) at startup", len(recovered))
	}

	if *recoverOnly {
		close(abort)
		return
	}

	updateLog.Printf("serving RPC on port %d, status bus on port %d", siteconfig.Ports.RPC, siteconfig.Ports.Status)
	if err := rpcserver.Run(orch, siteconfig.Ports.RPC); err != nil {
		problemLog.Fatal(err)
	}
	close(abort)
}
