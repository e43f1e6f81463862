package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Port     int    `yaml:"port"`
	Hostname string `yaml:"hostname"`
	ZMQPort  int    `yaml:"zmq_port"`
	// Endpoint overrides hostname/zmq_port when set.
	Endpoint string `yaml:"endpoint"`
	Workers  int    `yaml:"workers"`
	GridX    int    `yaml:"grid_x"`
	GridY    int    `yaml:"grid_y"`

	RecvTimeout   time.Duration `yaml:"recv_timeout"`
	ResultTimeout time.Duration `yaml:"result_timeout"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"`

	OutputDir string `yaml:"output_dir"`

	Debug            bool    `yaml:"debug"`
	DebugAcqRate     float64 `yaml:"debug_acq_rate"`
	DebugScans       int     `yaml:"debug_scans"`
	DebugFrameRows   int     `yaml:"debug_frame_rows"`
	DebugFrameCols   int     `yaml:"debug_frame_cols"`
	DebugCompression string  `yaml:"debug_compression"`

	Plot             bool          `yaml:"plot"`
	UIRate           time.Duration `yaml:"ui_rate"`
	PlotRefreshEvery int           `yaml:"plot_refresh_every"`
	PlotThresholds   []string      `yaml:"plot_thresholds"`

	RawLogEnabled bool   `yaml:"raw_log"`
	RawLogDir     string `yaml:"raw_log_dir"`

	IngestLogEvery     int    `yaml:"ingest_log_every"`
	LogSummaryInterval int    `yaml:"log_summary_interval"`
	LogLevel           string `yaml:"log_level"`
	LogJSON            bool   `yaml:"log_json"`
	ExtraDebug         bool   `yaml:"extra_debug"`

	// DetectorIP, when set, derives both the stream endpoint and the
	// SIMPLON base URL.
	DetectorIP          string        `yaml:"detector_ip"`
	APIPort             int           `yaml:"api_port"`
	SimplonAPIVersion   string        `yaml:"simplon_api_version"`
	SimplonPollInterval time.Duration `yaml:"simplon_interval"`
}

func Default() AppConfig {
	return AppConfig{
		Port:                8888,
		Hostname:            "localhost",
		ZMQPort:             31001,
		Workers:             4,
		GridX:               52,
		GridY:               52,
		RecvTimeout:         100 * time.Millisecond,
		ResultTimeout:       100 * time.Millisecond,
		DrainTimeout:        5 * time.Second,
		OutputDir:           "output",
		DebugAcqRate:        100,
		DebugFrameRows:      48,
		DebugFrameCols:      48,
		Plot:                true,
		UIRate:              time.Second,
		PlotThresholds:      []string{"threshold_0", "threshold_1"},
		RawLogDir:           "rawlog",
		IngestLogEvery:      100,
		LogSummaryInterval:  100,
		LogLevel:            "info",
		APIPort:             80,
		SimplonAPIVersion:   "1.8.0",
		SimplonPollInterval: time.Second,
	}
}

// Load reads a YAML file on top of Default. Keys absent from the file keep
// their default values.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c AppConfig) Validate() error {
	var errs []error
	if c.GridX < 1 || c.GridY < 1 {
		errs = append(errs, fmt.Errorf("grid must be at least 1x1, got %dx%d", c.GridX, c.GridY))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if !c.Debug && c.ResolvedEndpoint() == "" {
		errs = append(errs, errors.New("no stream endpoint configured"))
	}
	if c.RecvTimeout <= 0 {
		errs = append(errs, errors.New("recv_timeout must be positive"))
	}
	if c.ResultTimeout <= 0 {
		errs = append(errs, errors.New("result_timeout must be positive"))
	}
	if c.DebugAcqRate < 0 {
		errs = append(errs, errors.New("debug_acq_rate must not be negative"))
	}
	if c.PlotRefreshEvery < 0 {
		errs = append(errs, errors.New("plot_refresh_every must not be negative"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}
	return errors.Join(errs...)
}

// WorkerCount is the pool size actually used. The simulator feeds one
// ordered channel, so debug runs use a single worker to keep start, image
// and end messages in order across series boundaries.
func (c AppConfig) WorkerCount() int {
	if c.Debug {
		return 1
	}
	return c.Workers
}

// ResolvedEndpoint is the ZeroMQ endpoint workers connect to.
func (c AppConfig) ResolvedEndpoint() string {
	switch {
	case c.DetectorIP != "":
		return fmt.Sprintf("tcp://%s:%d", c.DetectorIP, c.ZMQPort)
	case c.Endpoint != "":
		return c.Endpoint
	case c.Hostname != "" && c.ZMQPort > 0:
		return fmt.Sprintf("tcp://%s:%d", c.Hostname, c.ZMQPort)
	default:
		return ""
	}
}

// SimplonBaseURL is empty unless a detector IP is configured.
func (c AppConfig) SimplonBaseURL() string {
	if c.DetectorIP == "" {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", c.DetectorIP, c.APIPort)
}
