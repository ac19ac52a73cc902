package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yanun0323/errors"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/assignment"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/backpressure"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/compute"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/orchestrator"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/shed"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/transport"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/worker"
	"github.com/raghurammutya/signal-service-codex-review-sub000/pkg/conn"
)

// ErrMissingIdentity is returned when pod id, capacity or heartbeat
// interval is not set by file, environment or flags.
var ErrMissingIdentity = errors.New("pod identity is incomplete")

const (
	EnvPodID             = "SIGNAL_POD_ID"
	EnvPodCapacity       = "SIGNAL_POD_CAPACITY"
	EnvHeartbeatInterval = "SIGNAL_HEARTBEAT_INTERVAL"

	defaultEtcdPrefix = "/signal/pods/"
	defaultMetricsTTL = 30 * time.Second
)

// Duration reads "2s" style strings or plain nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// FileConfig mirrors the JSON config layout. Duration fields declared here
// shadow the nanosecond fields of the embedded package configs.
type FileConfig struct {
	Pod          PodConfig          `json:"pod"`
	Assignment   AssignmentConfig   `json:"assignment"`
	Backpressure BackpressureConfig `json:"backpressure"`
	Worker       WorkerConfig       `json:"worker"`
	Shed         ShedConfig         `json:"shed"`
	Planner      compute.Planner    `json:"planner"`
	Kafka        KafkaConfig        `json:"kafka"`
	Etcd         EtcdConfig         `json:"etcd"`
	Postgres     PostgresConfig     `json:"postgres"`
	Pyroscope    PyroscopeConfig    `json:"pyroscope"`
	MetricsAddr  string             `json:"metricsAddr"`
}

// PodConfig is the pod identity and loop timing.
type PodConfig struct {
	ID                 string                    `json:"id"`
	Capacity           int                       `json:"capacity"`
	HeartbeatInterval  Duration                  `json:"heartbeatInterval"`
	AssignmentInterval Duration                  `json:"assignmentInterval"`
	ShutdownTimeout    Duration                  `json:"shutdownTimeout"`
	Load               orchestrator.LoadWeights `json:"load"`
	Benchmarks         []string                  `json:"benchmarks"`
}

type AssignmentConfig struct {
	assignment.Config
	PodTTL Duration `json:"podTTL"`
}

type BackpressureConfig struct {
	backpressure.Config
	SnapshotTTL Duration `json:"snapshotTTL"`
}

type WorkerConfig struct {
	worker.Config
	MinBackoff Duration `json:"minBackoff"`
	MaxBackoff Duration `json:"maxBackoff"`
}

type ShedConfig struct {
	shed.Config
	SampleInterval Duration `json:"sampleInterval"`
	AgeScale       Duration `json:"ageScale"`
}

type KafkaConfig struct {
	transport.KafkaConfig
	PollWait Duration `json:"pollWait"`
}

// EtcdConfig enables the shared pod registry and metrics sink.
type EtcdConfig struct {
	conn.EtcdOption
	DialTimeout   Duration `json:"dialTimeout"`
	Prefix        string   `json:"prefix"`
	MetricsPrefix string   `json:"metricsPrefix"`
	MetricsTTL    Duration `json:"metricsTTL"`
}

type PostgresConfig struct {
	conn.PostgresOption
	ConnMaxLifetime Duration `json:"connMaxLifetime"`
	Migrate         bool     `json:"migrate"`
}

type PyroscopeConfig struct {
	Addr string `json:"addr"`
}

// Identity carries flag overrides. Zero values are ignored.
type Identity struct {
	PodID             string
	Capacity          int
	HeartbeatInterval time.Duration
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Orchestrator  orchestrator.Config
	Assignment    assignment.Config
	Backpressure  backpressure.Config
	Worker        worker.Config
	Shed          shed.Config
	Planner       compute.Planner
	Kafka         transport.KafkaConfig
	Etcd          conn.EtcdOption
	EtcdPrefix    string
	MetricsPrefix string
	MetricsTTL    time.Duration
	Postgres      conn.PostgresOption
	MigrateDB     bool
	PyroscopeAddr string
	MetricsAddr   string
}

func defaultFileConfig() FileConfig {
	return FileConfig{
		Assignment:   AssignmentConfig{Config: assignment.DefaultConfig()},
		Backpressure: BackpressureConfig{Config: backpressure.DefaultConfig()},
		Worker:       WorkerConfig{Config: worker.DefaultConfig()},
		Shed:         ShedConfig{Config: shed.DefaultConfig()},
		Planner:      compute.DefaultPlanner(),
		Pod:          PodConfig{Load: orchestrator.DefaultLoadWeights()},
	}
}

// Load reads a JSON config file over the defaults, then applies the
// environment and finally the flag overrides to the pod identity. An empty
// path uses the defaults alone.
func Load(path string, override Identity) (Loaded, error) {
	cfg := defaultFileConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg.Pod); err != nil {
		return Loaded{}, err
	}
	applyIdentity(&cfg.Pod, override)
	if err := validateIdentity(cfg.Pod); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg)
}

func applyEnv(pod *PodConfig) error {
	if v := strings.TrimSpace(os.Getenv(EnvPodID)); v != "" {
		pod.ID = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPodCapacity)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPodCapacity, v, err)
		}
		pod.Capacity = n
	}
	if v := strings.TrimSpace(os.Getenv(EnvHeartbeatInterval)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvHeartbeatInterval, v, err)
		}
		pod.HeartbeatInterval = Duration(d)
	}
	return nil
}

func applyIdentity(pod *PodConfig, id Identity) {
	if id.PodID != "" {
		pod.ID = id.PodID
	}
	if id.Capacity != 0 {
		pod.Capacity = id.Capacity
	}
	if id.HeartbeatInterval != 0 {
		pod.HeartbeatInterval = Duration(id.HeartbeatInterval)
	}
}

func validateIdentity(pod PodConfig) error {
	switch {
	case pod.ID == "":
		return fmt.Errorf("%w: pod id is empty", ErrMissingIdentity)
	case pod.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be > 0", ErrMissingIdentity)
	case pod.HeartbeatInterval <= 0:
		return fmt.Errorf("%w: heartbeat interval must be > 0", ErrMissingIdentity)
	}
	return nil
}

func resolve(cfg FileConfig) (Loaded, error) {
	out := Loaded{
		Orchestrator: orchestrator.Config{
			PodID:              cfg.Pod.ID,
			Capacity:           cfg.Pod.Capacity,
			HeartbeatInterval:  time.Duration(cfg.Pod.HeartbeatInterval),
			AssignmentInterval: time.Duration(cfg.Pod.AssignmentInterval),
			ShutdownTimeout:    time.Duration(cfg.Pod.ShutdownTimeout),
			Load:               cfg.Pod.Load,
			Benchmarks:         cfg.Pod.Benchmarks,
		},
		Assignment:    cfg.Assignment.Config,
		Backpressure:  cfg.Backpressure.Config,
		Worker:        cfg.Worker.Config,
		Shed:          cfg.Shed.Config,
		Planner:       cfg.Planner,
		Kafka:         cfg.Kafka.KafkaConfig,
		Etcd:          cfg.Etcd.EtcdOption,
		EtcdPrefix:    cfg.Etcd.Prefix,
		MetricsPrefix: cfg.Etcd.MetricsPrefix,
		MetricsTTL:    time.Duration(cfg.Etcd.MetricsTTL),
		Postgres:      cfg.Postgres.PostgresOption,
		MigrateDB:     cfg.Postgres.Migrate,
		PyroscopeAddr: cfg.Pyroscope.Addr,
		MetricsAddr:   cfg.MetricsAddr,
	}
	setDuration(&out.Assignment.PodTTL, cfg.Assignment.PodTTL)
	setDuration(&out.Backpressure.SnapshotTTL, cfg.Backpressure.SnapshotTTL)
	setDuration(&out.Worker.MinBackoff, cfg.Worker.MinBackoff)
	setDuration(&out.Worker.MaxBackoff, cfg.Worker.MaxBackoff)
	setDuration(&out.Shed.SampleInterval, cfg.Shed.SampleInterval)
	setDuration(&out.Shed.AgeScale, cfg.Shed.AgeScale)
	setDuration(&out.Kafka.PollWait, cfg.Kafka.PollWait)
	setDuration(&out.Etcd.DialTimeout, cfg.Etcd.DialTimeout)
	setDuration(&out.Postgres.ConnMaxLifetime, cfg.Postgres.ConnMaxLifetime)

	if out.EtcdPrefix == "" {
		out.EtcdPrefix = defaultEtcdPrefix
	}
	if out.MetricsPrefix == "" {
		out.MetricsPrefix = transport.DefaultMetricsPrefix
	}
	if out.MetricsTTL <= 0 {
		out.MetricsTTL = defaultMetricsTTL
	}
	if out.Kafka.Enabled() {
		if out.Kafka.TickTopic == "" {
			return Loaded{}, fmt.Errorf("invalid kafka config: tickTopic is empty")
		}
		if out.Kafka.GroupPrefix == "" {
			return Loaded{}, fmt.Errorf("invalid kafka config: groupPrefix is empty")
		}
	}

	if err := out.Orchestrator.Validate(); err != nil {
		return Loaded{}, err
	}
	if err := out.Worker.Validate(); err != nil {
		return Loaded{}, err
	}
	if err := out.Shed.Validate(); err != nil {
		return Loaded{}, err
	}
	return out, nil
}

func setDuration(dst *time.Duration, v Duration) {
	if v > 0 {
		*dst = time.Duration(v)
	}
}
