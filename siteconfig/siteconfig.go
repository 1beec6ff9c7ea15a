// Package siteconfig loads the daemon's per-site YAML configuration with
// Viper, following dastard's setupViper/makeFileExist pattern
// (cmd/dastard/dastard.go) exactly: search /etc/archond, $HOME/.archond,
// and the working directory, creating a default config file when none
// exists yet.
package siteconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Portnumbers holds every TCP port the daemon listens on or advertises.
type Portnumbers struct {
	RPC    int
	Status int
}

// Ports is the process-wide port configuration, set once at startup.
var Ports Portnumbers

func setPortnumbers(base int) {
	Ports.RPC = base
	Ports.Status = base + 1
}

// BuildInfo carries compile-time build metadata, reported over RPC and
// logged at startup.
type BuildInfo struct {
	Version string
	Githash string
	Date    string
	Host    string
}

// Build is the process-wide build info, overridden by main from linker
// flags.
var Build = BuildInfo{
	Version: "0.1.0",
	Githash: "no git hash computed",
	Date:    "no build date computed",
}

// StartTime records when the process started, for uptime reporting.
var StartTime time.Time

func init() {
	setPortnumbers(6500)
	StartTime = time.Now()
}

// Timeouts bundles every duration-valued knob the exposure engine and
// orchestrator consult.
type Timeouts struct {
	WriteConfigDelay   time.Duration `mapstructure:"write_config_delay"`
	WriteConfigTimeout time.Duration `mapstructure:"write_config_timeout"`
	ReadoutMax         time.Duration `mapstructure:"readout_max"`
	Flushing           time.Duration `mapstructure:"flushing"`
	ExposeTimeout      time.Duration `mapstructure:"expose_timeout"`
}

// DefaultTimeouts returns the timeouts used when the config omits a
// section entirely.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		WriteConfigDelay:   10 * time.Millisecond,
		WriteConfigTimeout: 10 * time.Second,
		ReadoutMax:         60 * time.Second,
		Flushing:           2 * time.Second,
		ExposeTimeout:      10000 * time.Second,
	}
}

// DetectorConfig is one detector's placement within a controller's buffer.
type DetectorConfig struct {
	Name      string `mapstructure:"name"`
	X0        int    `mapstructure:"x0"`
	Y0        int    `mapstructure:"y0"`
	X1        int    `mapstructure:"x1"`
	Y1        int    `mapstructure:"y1"`
	SensorTap string `mapstructure:"sensor_tap"`
}

// ControllerConfig is one Archon controller's connection info and the
// detectors it serves.
type ControllerConfig struct {
	Name       string           `mapstructure:"name"`
	Host       string           `mapstructure:"host"`
	Port       int              `mapstructure:"port"`
	ACFPath    string           `mapstructure:"acf_path"`
	Detectors  []DetectorConfig `mapstructure:"detectors"`
}

// HeaderRule augments the default FITS header with a static or
// environment-sourced card.
type HeaderRule struct {
	Keyword string `mapstructure:"keyword"`
	Value   string `mapstructure:"value"`
	Comment string `mapstructure:"comment"`
	FromEnv string `mapstructure:"from_env"`
}

// ChecksumConfig controls the daily checksum sidecar file.
type ChecksumConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Mode    string `mapstructure:"mode"` // "md5" or "sha1"
}

// Config is the fully decoded site configuration.
type Config struct {
	Observatory string             `mapstructure:"observatory"`
	Hemisphere  string             `mapstructure:"hemisphere"`
	DataDir     string             `mapstructure:"data_dir"`
	PathTemplate string            `mapstructure:"path_template"`
	Controllers []ControllerConfig `mapstructure:"controllers"`
	Headers     []HeaderRule       `mapstructure:"headers"`
	Checksum    ChecksumConfig     `mapstructure:"checksum"`
	Timeouts    Timeouts           `mapstructure:"timeouts"`
	RPCPort     int                `mapstructure:"rpc_port"`
	StatusPort  int                `mapstructure:"status_port"`
	ClickHouse  string             `mapstructure:"clickhouse_addr"`
}

const defaultYAML = `observatory: APO
hemisphere: north
data_dir: $HOME/.archond/data
path_template: "{data_dir}/{controller}-{exposure:04d}.fits"
rpc_port: 6500
status_port: 6501
checksum:
  enabled: true
  mode: md5
controllers: []
headers: []
`

// makeFileExist checks that dir/filename exists, creating the directory
// and an empty (or, for name=="config.yaml", default-content) file if
// not. Matches dastard's makeFileExist exactly, generalized to take
// the content to seed a missing file with.
func makeFileExist(dir, filename, seed string) (string, error) {
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
		if seed != "" {
			if _, err := f.WriteString(seed); err != nil {
				f.Close()
				return "", err
			}
		}
		f.Close()
	}
	return fullname, nil
}

// Load finds and reads the site config, expanding $HOME, and seeding a
// fresh default file under $HOME/.archond/config.yaml when none is found
// in any search path.
func Load() (*Config, error) {
	viper.SetDefault("timeouts", DefaultTimeouts())

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("siteconfig: finding home dir: %w", err)
	}
	dotArchond := filepath.Join(home, ".archond")
	const filename, suffix = "config", ".yaml"
	if _, err := makeFileExist(dotArchond, filename+suffix, defaultYAML); err != nil {
		return nil, fmt.Errorf("siteconfig: %w", err)
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath("/etc/archond")
	viper.AddConfigPath(dotArchond)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("siteconfig: reading config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("siteconfig: decoding config: %w", err)
	}
	if cfg.Timeouts == (Timeouts{}) {
		cfg.Timeouts = DefaultTimeouts()
	}
	if cfg.RPCPort != 0 {
		setPortnumbers(cfg.RPCPort)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	return &cfg, nil
}

func expandHome(path string) string {
	if !strings.Contains(path, "$HOME") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return strings.Replace(path, "$HOME", home, 1)
}
