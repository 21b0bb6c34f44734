// Package config holds the plain struct tree that configures a loadstorm
// process: server ports/log level, the default test plan, distributed
// controller/worker settings, and report destinations. Loaded from YAML
// with per-field environment overrides.
package config

import "time"

// Config is the top-level configuration tree for a loadstorm process
// (control-plane server, worker node, or combined binary).
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	TestPlan    TestPlanConfig    `yaml:"test_plan"`
	Distributed DistributedConfig `yaml:"distributed"`
	Report      ReportConfig      `yaml:"report"`
}

// ServerConfig configures the control-plane HTTP listener.
type ServerConfig struct {
	Port        int    `yaml:"port" default:"8080"`
	MetricsPort int    `yaml:"metrics_port" default:"9090"`
	LogLevel    string `yaml:"log_level" default:"info"`
}

// TestPlanConfig is the YAML-facing shape of a runner.Plan; internal/api
// and cmd/loadstormd translate it into runner.Plan/schedule.Config so the
// core packages stay free of a YAML dependency.
type TestPlanConfig struct {
	Name string `yaml:"name"`

	Shape            string        `yaml:"shape" default:"linear"` // linear|step|spike
	StartConcurrency int           `yaml:"start_concurrency" default:"1"`
	MaxConcurrency   int           `yaml:"max_concurrency" default:"10"`
	RampDuration     time.Duration `yaml:"ramp_duration" default:"10s"`

	StepSize     int           `yaml:"step_size"`
	StepInterval time.Duration `yaml:"step_interval"`

	SpikeConcurrency int           `yaml:"spike_concurrency"`
	SpikeStart       time.Duration `yaml:"spike_start"`
	SpikeDuration    time.Duration `yaml:"spike_duration"`

	TargetTPS int  `yaml:"target_tps"`
	RampTPS   bool `yaml:"ramp_tps"`

	SustainDuration time.Duration `yaml:"sustain_duration"`
	WarmupDuration  time.Duration `yaml:"warmup_duration"`

	Mode string `yaml:"mode" default:"concurrency_bounded"` // concurrency_bounded|rate_limited|hybrid

	MaxTPS               int `yaml:"max_tps"`
	MaxConcurrencySafety int `yaml:"max_concurrency_safety"`

	GraceTimeout time.Duration `yaml:"grace_timeout" default:"30s"`
	ForceTimeout time.Duration `yaml:"force_timeout" default:"10s"`

	TaskType   string            `yaml:"task_type"`
	Parameters map[string]string `yaml:"parameters"`
}

// DistributedConfig configures either a controller or a worker process.
type DistributedConfig struct {
	Role string `yaml:"role" default:"standalone"` // standalone|controller|worker

	// Worker-only.
	WorkerID            string            `yaml:"worker_id"`
	Hostname            string            `yaml:"hostname"`
	MaxCapacity         int               `yaml:"max_capacity" default:"100"`
	SupportedTaskTypes  []string          `yaml:"supported_task_types"`
	Metadata            map[string]string `yaml:"metadata"`
	ControllerAddr      string            `yaml:"controller_addr"`
	HeartbeatInterval   time.Duration     `yaml:"heartbeat_interval" default:"5s"`
	MetricsPushInterval time.Duration     `yaml:"metrics_push_interval" default:"1s"`

	// Controller-only.
	ListenAddr     string        `yaml:"listen_addr" default:":7070"`
	WorkerAddrs    []string      `yaml:"worker_addrs"`
	AssignTimeout  time.Duration `yaml:"assign_timeout" default:"10s"`
	StopTimeout    time.Duration `yaml:"stop_timeout" default:"10s"`
	MinSampleCount int64         `yaml:"min_sample_count" default:"100"`
	// CoordStoreURL, when set, points at a Redis instance the controller
	// uses to persist its worker registry across restarts (internal/coordstore).
	CoordStoreURL string `yaml:"coord_store_url"`
}

// ReportConfig configures snapshot consumers: the Prometheus exporter,
// console/JSON/CSV file output, and an optional Postgres history sink.
// cmd/loadstormd acts only on PrometheusEnabled and ConsoleEnabled; the
// other fields are parsed but not read by it.
type ReportConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" default:"500ms"`

	PrometheusEnabled bool `yaml:"prometheus_enabled" default:"true"`

	ConsoleEnabled bool   `yaml:"console_enabled" default:"true"`
	JSONPath       string `yaml:"json_path"`
	CSVPath        string `yaml:"csv_path"`

	// HistoryDSN names a Postgres database for report.HistorySink.
	// cmd/loadstormd does not read it, so setting it archives nothing.
	HistoryDSN string `yaml:"history_dsn"`
}

// Default returns a Config with every default populated, equivalent to
// what parsing an empty YAML document plus `default:"..."` tags would
// produce.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080, MetricsPort: 9090, LogLevel: "info"},
		TestPlan: TestPlanConfig{
			Shape:            "linear",
			StartConcurrency: 1,
			MaxConcurrency:   10,
			RampDuration:     10 * time.Second,
			Mode:             "concurrency_bounded",
			GraceTimeout:     30 * time.Second,
			ForceTimeout:     10 * time.Second,
		},
		Distributed: DistributedConfig{
			Role:                "standalone",
			MaxCapacity:         100,
			ListenAddr:          ":7070",
			HeartbeatInterval:   5 * time.Second,
			MetricsPushInterval: time.Second,
			AssignTimeout:       10 * time.Second,
			StopTimeout:         10 * time.Second,
			MinSampleCount:      100,
		},
		Report: ReportConfig{
			PollInterval:      500 * time.Millisecond,
			PrometheusEnabled: true,
			ConsoleEnabled:    true,
		},
	}
}
