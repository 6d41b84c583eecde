// Package config holds the paths and tunables shared by the sysmst harness.
//
// Values come from three layers, later layers winning:
//
//  1. Default() - the well-known sysmaster install layout
//  2. an optional YAML file (Load)
//  3. SYSMST_* environment variables (ApplyEnv)
//
// The CLI applies its flags on top of the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Well-known sysmaster locations.
const (
	DefaultLibPath          = "/usr/lib/sysmaster"
	DefaultEtcPath          = "/etc/sysmaster"
	DefaultLogPath          = "/opt/sysmaster.log"
	DefaultDaemonName       = "sysmaster"
	DefaultControlBinary    = "sctl"
	DefaultReliabSwitchPath = "/run/sysmaster/reliability"
	DefaultReliabSwitch     = "switch.debug"
	DefaultJournalPath      = "/tmp/sysmst-journal.db"
)

// Harness timing defaults.
const (
	DefaultGracePeriod  = 3 * time.Second
	DefaultReadyTimeout = 10 * time.Second
	DefaultPollAttempts = 3
	DefaultPollInterval = time.Second
	DefaultStopTimeout  = 5 * time.Second
)

// Config is the full harness configuration.
type Config struct {
	// LibPath is the daemon's installation directory; unit files are copied here.
	LibPath string `yaml:"lib_path"`

	// EtcPath is the daemon's configuration directory.
	EtcPath string `yaml:"etc_path"`

	// LogPath receives the daemon's stdout and stderr.
	LogPath string `yaml:"log_path"`

	// DaemonBinary is launched with no arguments.
	// Default: <LibPath>/sysmaster
	DaemonBinary string `yaml:"daemon_binary"`

	// DaemonName is matched against the process table after launch.
	DaemonName string `yaml:"daemon_name"`

	// ControlBinary is the control CLI (sctl).
	ControlBinary string `yaml:"control_binary"`

	// UnitsDir holds the unit files installed before launch.
	UnitsDir string `yaml:"units_dir"`

	// UnitGlobs selects the files copied from UnitsDir.
	// Default: ["*.target"]
	UnitGlobs []string `yaml:"unit_globs"`

	// ReliabSwitchPath and ReliabSwitch locate the reliability debug switch.
	ReliabSwitchPath string `yaml:"reliab_switch_path"`
	ReliabSwitch     string `yaml:"reliab_switch"`

	// GracePeriod is the fixed wait after launch when no readiness signal is configured.
	GracePeriod time.Duration `yaml:"grace_period"`

	// ControlAddr, when set, is dialed to detect readiness ("unix:/path" or "tcp:host:port").
	ControlAddr string `yaml:"control_addr"`

	// ReadyPattern, when set, is waited for in the daemon log to detect readiness.
	ReadyPattern string `yaml:"ready_pattern"`

	// ReadyTimeout bounds socket and log readiness probes.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`

	// PollAttempts and PollInterval bound the state poller.
	PollAttempts int           `yaml:"poll_attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// StopTimeout is how long Stop waits after SIGTERM before SIGKILL.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// JournalPath is the SQLite failure journal shared by CLI invocations.
	JournalPath string `yaml:"journal_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Color is one of auto, always, never.
	Color string `yaml:"color"`
}

// Default returns the configuration for a stock sysmaster install.
func Default() Config {
	c := Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.LibPath == "" {
		c.LibPath = DefaultLibPath
	}
	if c.EtcPath == "" {
		c.EtcPath = DefaultEtcPath
	}
	if c.LogPath == "" {
		c.LogPath = DefaultLogPath
	}
	if c.DaemonName == "" {
		c.DaemonName = DefaultDaemonName
	}
	if c.DaemonBinary == "" {
		c.DaemonBinary = filepath.Join(c.LibPath, c.DaemonName)
	}
	if c.ControlBinary == "" {
		c.ControlBinary = DefaultControlBinary
	}
	if len(c.UnitGlobs) == 0 {
		c.UnitGlobs = []string{"*.target"}
	}
	if c.ReliabSwitchPath == "" {
		c.ReliabSwitchPath = DefaultReliabSwitchPath
	}
	if c.ReliabSwitch == "" {
		c.ReliabSwitch = DefaultReliabSwitch
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.PollAttempts == 0 {
		c.PollAttempts = DefaultPollAttempts
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.JournalPath == "" {
		c.JournalPath = DefaultJournalPath
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Color == "" {
		c.Color = "auto"
	}
}

// ReliabSwitchFile returns the full path of the reliability switch file.
func (c Config) ReliabSwitchFile() string {
	return filepath.Join(c.ReliabSwitchPath, c.ReliabSwitch)
}

// Load reads a YAML config file and fills unset fields with defaults.
// Unknown keys are rejected so typos surface instead of silently falling back.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	c.ApplyDefaults()
	return c, nil
}

// ApplyEnv overrides fields from SYSMST_* environment variables.
func (c *Config) ApplyEnv() error {
	c.LibPath = getEnvOrDefault("SYSMST_LIB_PATH", c.LibPath)
	c.EtcPath = getEnvOrDefault("SYSMST_ETC_PATH", c.EtcPath)
	c.LogPath = getEnvOrDefault("SYSMST_LOG", c.LogPath)
	c.DaemonBinary = getEnvOrDefault("SYSMST_DAEMON_BINARY", c.DaemonBinary)
	c.DaemonName = getEnvOrDefault("SYSMST_DAEMON_NAME", c.DaemonName)
	c.ControlBinary = getEnvOrDefault("SYSMST_SCTL", c.ControlBinary)
	c.UnitsDir = getEnvOrDefault("SYSMST_UNITS_DIR", c.UnitsDir)
	c.ControlAddr = getEnvOrDefault("SYSMST_CONTROL_ADDR", c.ControlAddr)
	c.ReadyPattern = getEnvOrDefault("SYSMST_READY_PATTERN", c.ReadyPattern)
	c.JournalPath = getEnvOrDefault("SYSMST_JOURNAL", c.JournalPath)
	c.LogLevel = getEnvOrDefault("SYSMST_LOG_LEVEL", c.LogLevel)
	c.Color = getEnvOrDefault("SYSMST_COLOR", c.Color)

	var err error
	if c.GracePeriod, err = getEnvAsDuration("SYSMST_GRACE_PERIOD", c.GracePeriod); err != nil {
		return err
	}
	if c.ReadyTimeout, err = getEnvAsDuration("SYSMST_READY_TIMEOUT", c.ReadyTimeout); err != nil {
		return err
	}
	if c.PollInterval, err = getEnvAsDuration("SYSMST_POLL_INTERVAL", c.PollInterval); err != nil {
		return err
	}
	if c.PollAttempts, err = getEnvAsInt("SYSMST_POLL_ATTEMPTS", c.PollAttempts); err != nil {
		return err
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.LibPath == "" {
		return errors.New("config: lib_path is required")
	}
	if c.LogPath == "" {
		return errors.New("config: log_path is required")
	}
	if c.DaemonBinary == "" {
		return errors.New("config: daemon_binary is required")
	}
	if c.DaemonName == "" {
		return errors.New("config: daemon_name is required")
	}
	if c.PollAttempts < 1 {
		return fmt.Errorf("config: poll_attempts must be at least 1, got %d", c.PollAttempts)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("config: poll_interval must not be negative, got %s", c.PollInterval)
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("config: grace_period must not be negative, got %s", c.GracePeriod)
	}
	for _, g := range c.UnitGlobs {
		if _, err := filepath.Match(g, ""); err != nil {
			return fmt.Errorf("config: invalid unit glob %q: %w", g, err)
		}
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", key, err)
	}
	return d, nil
}
