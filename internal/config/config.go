// Package config loads sensor configuration. Sources are layered: built-in
// defaults, then an optional YAML file, then environment variables, then
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHQURL        = "http://localhost:3000/api"
	DefaultInterval     = time.Second
	DefaultTimeout      = 5 * time.Second
	DefaultIdentityFile = "sensor_id.identity"
	DefaultQueueFile    = "offline_queue.json"
	DefaultStatusAddr   = "127.0.0.1:7070"
	DefaultNATSSubject  = "sentinel.alerts"
	DefaultVersion      = "1.0.0"
)

// Config is passed into component constructors; nothing in the core reads
// globals or the environment directly.
type Config struct {
	HQURL    string        `yaml:"hq_url"`
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
	HTTP2    bool          `yaml:"http2"`
	// Discover looks for a healthy HQ at startup before falling back to HQURL.
	Discover bool          `yaml:"discover"`

	DataDir      string `yaml:"data_dir"`
	IdentityFile string `yaml:"identity_file"`
	QueueFile    string `yaml:"queue_file"`

	Hostname string `yaml:"hostname"`
	Version  string `yaml:"version"`

	StatusAddr string `yaml:"status_addr"`

	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HQURL:        DefaultHQURL,
		Timeout:      DefaultTimeout,
		Interval:     DefaultInterval,
		DataDir:      defaultDataDir(),
		IdentityFile: DefaultIdentityFile,
		QueueFile:    DefaultQueueFile,
		Version:      DefaultVersion,
		StatusAddr:   DefaultStatusAddr,
		NATSSubject:  DefaultNATSSubject,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".sentinel")
	}
	return ".sentinel"
}

// Load builds the configuration from args (without the program name).
// The config file is taken from --config, falling back to SENTINEL_CONFIG.
func Load(args []string) (Config, error) {
	cfg := Default()

	fs := pflag.NewFlagSet("sentinel-sensor", pflag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("SENTINEL_CONFIG"), "path to a YAML config file")
	hqURL := fs.String("hq-url", "", "HQ API base URL")
	dataDir := fs.String("data-dir", "", "directory for identity and offline queue")
	interval := fs.Duration("interval", 0, "monitor cycle interval")
	timeout := fs.Duration("timeout", 0, "HQ request timeout")
	statusAddr := fs.String("status-addr", "", "local status server address (\"off\" disables)")
	natsURL := fs.String("nats-url", "", "NATS server URL for alert mirroring")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	logFormat := fs.String("log-format", "", "text or json")
	http2 := fs.Bool("http2", false, "use HTTP/2 for HQ requests")
	discover := fs.Bool("discover", false, "search well-known addresses for a healthy HQ at startup")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configPath != "" {
		if err := cfg.mergeFile(*configPath); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.mergeEnv(); err != nil {
		return Config{}, err
	}

	if fs.Changed("hq-url") {
		cfg.HQURL = *hqURL
	}
	if fs.Changed("data-dir") {
		cfg.DataDir = *dataDir
	}
	if fs.Changed("interval") {
		cfg.Interval = *interval
	}
	if fs.Changed("timeout") {
		cfg.Timeout = *timeout
	}
	if fs.Changed("status-addr") {
		cfg.StatusAddr = *statusAddr
	}
	if fs.Changed("nats-url") {
		cfg.NATSURL = *natsURL
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = *logFormat
	}
	if fs.Changed("http2") {
		cfg.HTTP2 = *http2
	}
	if fs.Changed("discover") {
		cfg.Discover = *discover
	}

	if strings.EqualFold(cfg.StatusAddr, "off") {
		cfg.StatusAddr = ""
	}
	cfg.HQURL = strings.TrimRight(cfg.HQURL, "/")
	return cfg, cfg.Validate()
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func getenv(k string) (string, bool) {
	v := os.Getenv(k)
	return v, v != ""
}

func (c *Config) mergeEnv() error {
	if v, ok := getenv("SENTINEL_HQ_URL"); ok {
		c.HQURL = v
	}
	if v, ok := getenv("SENTINEL_DATA_DIR"); ok {
		c.DataDir = v
	}
	if v, ok := getenv("AGENT_HTTP_ADDR"); ok {
		c.StatusAddr = v
	}
	if v, ok := getenv("NATS_URL"); ok {
		c.NATSURL = v
	}
	if v, ok := getenv("SENTINEL_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := getenv("AGENT_HOSTNAME"); ok {
		c.Hostname = v
	}
	if v, ok := getenv("SENTINEL_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SENTINEL_INTERVAL: %w", err)
		}
		c.Interval = d
	}
	if v, ok := getenv("SENTINEL_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SENTINEL_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v, ok := getenv("SENTINEL_HTTP2"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SENTINEL_HTTP2: %w", err)
		}
		c.HTTP2 = b
	}
	if v, ok := getenv("SENTINEL_DISCOVER"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SENTINEL_DISCOVER: %w", err)
		}
		c.Discover = b
	}
	return nil
}

// Validate rejects configurations the sensor cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.HQURL == "" {
		errs = append(errs, errors.New("hq_url is required"))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.IdentityFile == "" || c.QueueFile == "" {
		errs = append(errs, errors.New("identity_file and queue_file are required"))
	}
	if c.IdentityFile == c.QueueFile {
		errs = append(errs, errors.New("identity_file and queue_file must differ"))
	}
	return errors.Join(errs...)
}
