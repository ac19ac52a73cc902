package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/assignment"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/backpressure"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/obs"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/ops"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/orchestrator"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/resource"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/shed"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/transport"
	"github.com/raghurammutya/signal-service-codex-review-sub000/pkg/conn"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	podID := flag.String("pod-id", "", "Pod identity, overrides config and "+ops.EnvPodID)
	capacity := flag.Int("capacity", 0, "Pod capacity in instruments, overrides config and "+ops.EnvPodCapacity)
	heartbeat := flag.Duration("heartbeat", 0, "Heartbeat interval, overrides config and "+ops.EnvHeartbeatInterval)
	metricsAddr := flag.String("metrics-addr", "", "Listen address for /metrics, overrides config")
	pyroscopeAddr := flag.String("pyroscope-addr", "", "Pyroscope server address, profiling is off when empty")
	flag.Parse()

	cfg, err := ops.Load(*configPath, ops.Identity{PodID: *podID, Capacity: *capacity, HeartbeatInterval: *heartbeat})
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *pyroscopeAddr != "" {
		cfg.PyroscopeAddr = *pyroscopeAddr
	}
	podName := cfg.Orchestrator.PodID

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		logs.Infof("shutdown signal received, pod: %s", podName)
		cancel()
	}()

	if cfg.PyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "signal/pod",
			ServerAddress:   cfg.PyroscopeAddr,
			Tags:            map[string]string{"pod": podName},
			Logger:          pyroscopeLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	var (
		store   assignment.Store = assignment.NewMemoryStore()
		msink   transport.MetricsSink
		cleanup []func()
	)
	if len(cfg.Etcd.Endpoints) > 0 {
		cli, err := conn.NewEtcd(cfg.Etcd)
		if err != nil {
			log.Fatalf("etcd connect failed: %v", err)
		}
		cleanup = append(cleanup, func() { _ = cli.Close() })
		kv := conn.NewLeasedKV(cli)
		store = assignment.NewEtcdStore(kv, cfg.EtcdPrefix)
		msink = transport.NewEtcdMetricsSink(kv, cfg.MetricsPrefix, cfg.MetricsTTL)
	} else {
		logs.Warnf("etcd not configured, pod registry is process local")
		msink = transport.NewMemoryMetricsSink(cfg.MetricsTTL)
	}

	var source transport.TickSource
	var sinks transport.Fanout
	if cfg.Kafka.Enabled() {
		src, err := transport.NewKafkaTickSource(cfg.Kafka, cfg.Orchestrator.PodID)
		if err != nil {
			log.Fatalf("kafka source init failed: %v", err)
		}
		source = src
		if cfg.Kafka.ResultTopic != "" {
			results, err := transport.NewKafkaResultLog(cfg.Kafka)
			if err != nil {
				log.Fatalf("kafka result log init failed: %v", err)
			}
			sinks = append(sinks, results)
		}
	} else {
		logs.Warnf("kafka not configured, reading ticks from an idle in-memory source")
		source = transport.NewMemorySource(1024, cfg.Kafka.PollWait)
	}
	if cfg.Postgres.Enabled() {
		db, err := conn.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			log.Fatalf("postgres connect failed: %v", err)
		}
		cleanup = append(cleanup, func() { _ = conn.ClosePostgres(db) })
		latest := transport.NewPostgresLatestStore(db)
		if cfg.MigrateDB {
			if err := latest.Migrate(ctx); err != nil {
				log.Fatalf("postgres migrate failed: %v", err)
			}
		}
		sinks = append(sinks, latest)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, transport.NewMemoryLatest())
	}

	shedder, err := shed.New(cfg.Shed)
	if err != nil {
		log.Fatalf("shedder init failed: %v", err)
	}
	sc := orchestrator.SchedulingContext{
		Assignments: assignment.NewManager(cfg.Assignment, store),
		Shedder:     shedder,
		Monitor:     backpressure.NewMonitor(cfg.Backpressure),
	}
	metrics := obs.NewMetrics(podName)
	orch, err := orchestrator.New(cfg.Orchestrator, sc, orchestrator.Deps{
		Source:      source,
		Results:     sinks,
		MetricsSink: msink,
		Sampler:     resource.HostSampler{},
		Planner:     &cfg.Planner,
		Metrics:     metrics,
		Worker:      cfg.Worker,
	})
	if err != nil {
		log.Fatalf("orchestrator init failed: %v", err)
	}

	var server *http.Server
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(obs.NewCollector(podName, metrics, orch.Pool().GetPoolMetrics))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logs.Errorf("metrics server failed, addr: %s, err: %+v", cfg.MetricsAddr, err)
			}
		}()
	}

	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("pod run failed: %v", err)
	}

	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		_ = server.Shutdown(shutdownCtx)
		done()
	}
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}

	stats := shedder.Stats()
	snap := metrics.Snapshot()
	logs.Infof("pod exited, pod: %s, ticks: %v, shed decisions: %d, results: %d", podName, snap.Ticks, stats.Decisions, snap.ResultsPublished)
}

type pyroscopeLogger struct{}

func (pyroscopeLogger) Infof(format string, args ...any)  { logs.Debugf(format, args...) }
func (pyroscopeLogger) Debugf(format string, args ...any) { logs.Debugf(format, args...) }
func (pyroscopeLogger) Errorf(format string, args ...any) { logs.Errorf(format, args...) }
