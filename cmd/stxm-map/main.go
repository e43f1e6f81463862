package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/config"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/logging"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/output"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/pipeline"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/processing"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/server"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/simplon"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/simulator"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/transport"
)

type stringList struct{ values *[]string }

func (s stringList) String() string {
	if s.values == nil {
		return ""
	}
	return strings.Join(*s.values, ",")
}

func (s stringList) Set(v string) error {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*s.values = out
	return nil
}

func parseFlags() (config.AppConfig, error) {
	cfg := config.Default()
	configPath := flag.String("config", "", "YAML config file; explicitly set flags override it")
	verbose := flag.Bool("v", false, "Debug logging")

	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP port for the web UI")
	flag.StringVar(&cfg.Hostname, "hostname", cfg.Hostname, "Stream host")
	flag.IntVar(&cfg.ZMQPort, "zmq-port", cfg.ZMQPort, "ZMQ port")
	flag.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "ZMQ endpoint, overrides hostname and zmq-port")
	flag.StringVar(&cfg.DetectorIP, "detector-ip", cfg.DetectorIP, "Detector IP used for ZMQ and SIMPLON API endpoints")
	flag.IntVar(&cfg.APIPort, "api-port", cfg.APIPort, "SIMPLON API port")
	flag.StringVar(&cfg.SimplonAPIVersion, "simplon-api-version", cfg.SimplonAPIVersion, "SIMPLON API version")
	flag.DurationVar(&cfg.SimplonPollInterval, "simplon-interval", cfg.SimplonPollInterval, "Polling interval for SIMPLON status")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "Number of processing workers")
	flag.IntVar(&cfg.GridX, "grid-x", cfg.GridX, "Grid width in pixels")
	flag.IntVar(&cfg.GridY, "grid-y", cfg.GridY, "Grid height in pixels")
	flag.DurationVar(&cfg.RecvTimeout, "recv-timeout", cfg.RecvTimeout, "Worker receive timeout")
	flag.DurationVar(&cfg.ResultTimeout, "result-timeout", cfg.ResultTimeout, "Aggregator receive timeout")
	flag.DurationVar(&cfg.DrainTimeout, "drain-timeout", cfg.DrainTimeout, "How long to drain results after shutdown")
	flag.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory for output data files")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Run with simulated data")
	flag.Float64Var(&cfg.DebugAcqRate, "debug-acq-rate", cfg.DebugAcqRate, "Simulated acquisition rate (frames/sec)")
	flag.IntVar(&cfg.DebugScans, "debug-scans", cfg.DebugScans, "Simulated scans, 0 runs forever")
	flag.IntVar(&cfg.DebugFrameRows, "debug-frame-rows", cfg.DebugFrameRows, "Simulated frame height")
	flag.IntVar(&cfg.DebugFrameCols, "debug-frame-cols", cfg.DebugFrameCols, "Simulated frame width")
	flag.StringVar(&cfg.DebugCompression, "debug-compression", cfg.DebugCompression, "Compress simulated frames (bslz4, lz4)")
	flag.BoolVar(&cfg.Plot, "plot", cfg.Plot, "Serve the live map UI")
	flag.DurationVar(&cfg.UIRate, "ui-rate", cfg.UIRate, "UI update interval for websocket clients")
	flag.IntVar(&cfg.PlotRefreshEvery, "plot-refresh-every", cfg.PlotRefreshEvery, "Refresh the UI every N data points instead of ui-rate")
	flag.Var(stringList{&cfg.PlotThresholds}, "plot-thresholds", "Comma-separated thresholds shown before data arrives")
	flag.BoolVar(&cfg.RawLogEnabled, "raw-log", cfg.RawLogEnabled, "Write raw CBOR messages to disk")
	flag.StringVar(&cfg.RawLogDir, "raw-log-dir", cfg.RawLogDir, "Directory for raw ingest logs")
	flag.IntVar(&cfg.IngestLogEvery, "ingest-log-every", cfg.IngestLogEvery, "Log every Nth ingest error")
	flag.IntVar(&cfg.LogSummaryInterval, "log-summary-interval", cfg.LogSummaryInterval, "Worker debug summary every N images")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flag.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "JSON log output")
	flag.BoolVar(&cfg.ExtraDebug, "extra-debug", cfg.ExtraDebug, "Log every received message")
	flag.Parse()

	if *configPath != "" {
		explicit := map[string]string{}
		flag.Visit(func(f *flag.Flag) {
			explicit[f.Name] = f.Value.String()
		})
		loaded, err := config.Load(*configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
		for name, value := range explicit {
			if err := flag.Set(name, value); err != nil {
				return cfg, fmt.Errorf("flag -%s: %w", name, err)
			}
		}
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Validate()
}

type detectorStatus struct {
	mu     sync.Mutex
	status simplon.Status
}

func (d *detectorStatus) set(s simplon.Status) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

func (d *detectorStatus) get() simplon.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func main() {
	cfg, err := parseFlags()
	log := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := "stream"
	var dial transport.Dialer
	if cfg.Debug {
		mode = "simulator"
		sim, err := simulator.New(simulator.Config{
			GridX:       cfg.GridX,
			GridY:       cfg.GridY,
			AcqRate:     cfg.DebugAcqRate,
			Scans:       cfg.DebugScans,
			FrameRows:   cfg.DebugFrameRows,
			FrameCols:   cfg.DebugFrameCols,
			Compression: cfg.DebugCompression,
		}, log.WithField("component", "simulator"))
		if err != nil {
			log.Fatalf("Failed to start simulator: %v", err)
		}
		feed := make(chan []byte, 128)
		go func() {
			if err := sim.Run(ctx, feed); err != nil {
				log.WithError(err).Error("Simulator stopped")
			}
		}()
		dial = transport.ChanDialer(feed, cfg.RecvTimeout)
		log.Info("Running in debug mode with simulated data")
	} else {
		dial = transport.PullDialer(cfg.ResolvedEndpoint(), cfg.RecvTimeout)
		log.Infof("Receiving from %s", cfg.ResolvedEndpoint())
	}

	if cfg.RawLogEnabled {
		rawLog, err := output.NewRawLogWriter(cfg.RawLogDir, "raw_cbor")
		if err != nil {
			log.Fatalf("Failed to start raw log: %v", err)
		}
		defer func() {
			if err := rawLog.Close(); err != nil {
				log.WithError(err).Warn("Raw log close failed")
			}
		}()
		log.WithField("file", rawLog.Path()).Info("Recording raw messages")
		dial = transport.RecordingDialer(dial, rawLog, func(err error) {
			log.WithError(err).Warn("Raw log write failed")
		})
	}

	var hub *server.Hub
	aggOpts := processing.Options{
		RefreshEvery:    cfg.PlotRefreshEvery,
		RefreshInterval: cfg.UIRate,
		ResultTimeout:   cfg.ResultTimeout,
		DrainTimeout:    cfg.DrainTimeout,
	}
	if cfg.Plot {
		hub = server.NewHub(cfg.GridX, cfg.GridY, cfg.PlotThresholds)
		aggOpts.Sink = hub
	}
	writer := output.NewWriter(cfg.OutputDir, log.WithField("component", "output"))
	log.WithField("dir", writer.Dir()).Info("Writing series output")
	agg := processing.NewAggregator(cfg.GridX, cfg.GridY, writer, log.WithField("component", "aggregator"), aggOpts)

	if cfg.Debug && cfg.Workers > 1 {
		log.Infof("Simulator mode uses one worker instead of %d to keep series in order", cfg.Workers)
	}
	pool := pipeline.NewPool(cfg.WorkerCount(), dial, log, pipeline.WorkerOptions{
		LogEvery:        cfg.IngestLogEvery,
		SummaryInterval: cfg.LogSummaryInterval,
		ExtraDebug:      cfg.ExtraDebug,
	})
	results, err := pool.Start(ctx)
	if err != nil {
		log.Fatalf("Failed to start workers: %v", err)
	}

	var detector detectorStatus
	detector.set(simplon.Status{Detector: mode, Stream: "idle", Filewriter: "idle", Monitor: "ok"})
	if base := cfg.SimplonBaseURL(); base != "" && !cfg.Debug {
		poller := simplon.NewPoller(base, cfg.SimplonAPIVersion, cfg.SimplonPollInterval, log.WithField("component", "simplon"))
		go poller.Poll(ctx, detector.set)
	}

	statusFn := func() map[string]any {
		return map[string]any{
			"mode":       mode,
			"endpoint":   cfg.ResolvedEndpoint(),
			"detector":   detector.get(),
			"aggregator": agg.Stats(),
		}
	}

	var serverDone chan struct{}
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if cfg.Plot {
		serverDone = make(chan struct{})
		srv := server.New(cfg, hub, statusFn, log.WithField("component", "server"))
		go func() {
			defer close(serverDone)
			if err := srv.Run(serverCtx); err != nil {
				log.WithError(err).Error("Server stopped")
			}
		}()
	}

	go logStats(ctx, log, agg)

	agg.Run(ctx, results)
	pool.Abort()
	pool.Wait()

	stats := pool.Stats()
	log.WithFields(logrus.Fields{
		"messages":      stats.Messages,
		"images":        stats.Images,
		"decode_errors": stats.DecodeErrors,
		"reduce_errors": stats.ReduceErrors,
		"dropped":       stats.Dropped,
	}).Info("Workers finished")

	stopServer()
	if serverDone != nil {
		<-serverDone
	}
	log.Info("Shutdown complete")
}

func logStats(ctx context.Context, log logrus.FieldLogger, agg *processing.Aggregator) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := agg.Stats()
			log.WithFields(logrus.Fields{
				"state":       s.State,
				"run":         s.RunID,
				"data_events": s.DataEvents,
				"range_drops": s.RangeDrops,
				"frames":      s.TotalFrames,
				"expected":    s.FramesExpected,
				"received":    s.FramesReceived,
			}).Info("Ingest stats")
		}
	}
}
