// Package core wires the classification pipeline together: MQTT
// ingress, per-source routing, the classifier round trip and the
// output fan-out.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pastukhov/yaic/internal/classifier"
	"github.com/pastukhov/yaic/internal/config"
	"github.com/pastukhov/yaic/internal/control"
	"github.com/pastukhov/yaic/internal/discovery"
	"github.com/pastukhov/yaic/internal/emitter"
	"github.com/pastukhov/yaic/internal/observability"
	"github.com/pastukhov/yaic/internal/processor"
	"github.com/pastukhov/yaic/internal/router"
	"github.com/pastukhov/yaic/internal/types"
)

// publisher is the output surface the pipeline needs; satisfied by the
// MQTT emitter.
type publisher interface {
	FanOut(sourceID, device string, result types.ClassificationResult, image []byte, imageChanged bool)
	PublishOperation(sourceID, status string) error
	PublishStatus(sourceID, status string) error
	PublishDiscovery(swVersion, sourceID string)
}

// Yaic is the main service orchestrator.
type Yaic struct {
	cfg     *config.Config
	topics  discovery.Topics
	version string

	emitter        *emitter.Emitter
	pub            publisher
	router         *router.Router
	processor      *processor.Processor
	controlHandler *control.Handler
	metrics        *observability.Metrics
	metricsSrv     *observability.Server

	started   time.Time
	baseLog   slog.Handler
	mu        sync.RWMutex
	isPaused  bool
	known     map[string]bool
	cancelRun context.CancelFunc
}

// New creates a service instance from a configuration file.
func New(configPath, version string) (*Yaic, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"broker", cfg.MQTT.Broker,
		"input_topic", cfg.MQTT.Topics.Input,
	)

	client := classifier.New(classifier.Config{
		Endpoint:    cfg.Classifier.Endpoint,
		APIKey:      cfg.Classifier.APIKey,
		Model:       cfg.Classifier.Model,
		Language:    cfg.Language,
		Timeout:     time.Duration(cfg.Classifier.TimeoutS) * time.Second,
		MaxAttempts: cfg.Classifier.MaxAttempts,
		BackoffBase: time.Duration(cfg.Classifier.BackoffBaseMs) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.Classifier.BackoffMaxMs) * time.Millisecond,
	})

	y := newService(cfg, version, nil, client)

	metrics := y.metrics
	em := emitter.New(emitter.Config{
		Broker:    cfg.MQTT.Broker,
		ClientID:  cfg.InstanceID,
		Topics:    y.topics,
		QoS:       cfg.MQTT.QoS,
		OnConnect: y.onConnect,
		OnPublishError: func(target string) {
			metrics.PublishErrors.WithLabelValues(target).Inc()
		},
	})
	y.emitter = em
	y.pub = em
	y.metricsSrv = observability.NewServer(cfg.Metrics.Port)

	return y, nil
}

// newService builds the transport-independent part of the service.
func newService(cfg *config.Config, version string, pub publisher, cls processor.Classifier) *Yaic {
	y := &Yaic{
		cfg:       cfg,
		topics:    cfg.Topics(),
		version:   version,
		pub:       pub,
		processor: processor.New(cls),
		metrics:   observability.NewMetrics(),
		known:     make(map[string]bool),
	}

	metrics := y.metrics
	y.router = router.New(router.Config{
		QueueDepth: cfg.Router.QueueDepth,
		MaxSources: cfg.Router.MaxSources,
	}, y.processEvent, func(string) {
		metrics.EventsDropped.Inc()
	})

	return y
}

// Run starts the service and blocks until the context ends or a
// shutdown command arrives.
func (y *Yaic) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	y.mu.Lock()
	y.cancelRun = cancel
	y.started = time.Now()
	y.mu.Unlock()

	y.metricsSrv.Start()
	y.router.Start(runCtx)

	if err := y.emitter.Connect(runCtx); err != nil {
		cancel()
		return fmt.Errorf("mqtt connect failed: %w", err)
	}

	// Mirror warnings and errors to the shared log topic now that the
	// broker connection exists.
	y.baseLog = slog.Default().Handler()
	slog.SetDefault(slog.New(emitter.NewTeeHandler(
		y.baseLog,
		emitter.NewLogHandler(y.emitter, slog.LevelWarn),
	)))

	y.controlHandler = control.NewHandler(
		y.cfg.MQTT.Topics.Control,
		y.qos("control"),
		y.emitter.Client,
		control.Callbacks{
			OnGetStatus: y.statusData,
			OnPause:     y.pause,
			OnResume:    y.resume,
			OnShutdown: func() error {
				cancel()
				return nil
			},
		},
	)
	if err := y.controlHandler.Start(runCtx); err != nil {
		slog.Error("control plane unavailable", "error", err)
	}

	slog.Info("yaic service running", "version", y.version)

	<-runCtx.Done()
	return nil
}

// Shutdown stops the service gracefully: in-flight classifications
// finish (or are discarded unpublished), every known source goes
// offline, and the transport disconnects last so the offline statuses
// still get out.
func (y *Yaic) Shutdown(ctx context.Context) error {
	slog.Info("shutting down")

	if y.controlHandler != nil {
		y.controlHandler.Stop()
	}

	y.router.Close()

	for _, sourceID := range y.knownSources() {
		if err := y.pub.PublishStatus(sourceID, emitter.StatusOffline); err != nil {
			slog.Warn("failed to publish offline status", "source_id", sourceID, "error", err)
		}
	}

	// Detach the MQTT log mirror before the connection goes away.
	if y.baseLog != nil {
		slog.SetDefault(slog.New(y.baseLog))
	}

	y.emitter.Disconnect()

	if y.metricsSrv != nil {
		if err := y.metricsSrv.Shutdown(ctx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown window.
func (y *Yaic) ShutdownTimeout() time.Duration {
	return y.cfg.ShutdownTimeout()
}

func (y *Yaic) qos(class string) byte {
	if q, ok := y.cfg.MQTT.QoS[class]; ok {
		return q
	}
	return 1
}

func (y *Yaic) pause() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.isPaused = true
	slog.Info("processing paused")
	return nil
}

func (y *Yaic) resume() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.isPaused = false
	slog.Info("processing resumed")
	return nil
}

func (y *Yaic) paused() bool {
	y.mu.RLock()
	defer y.mu.RUnlock()
	return y.isPaused
}

func (y *Yaic) knownSources() []string {
	y.mu.RLock()
	defer y.mu.RUnlock()
	ids := make([]string, 0, len(y.known))
	for id := range y.known {
		ids = append(ids, id)
	}
	return ids
}

// statusData backs the get_status control command.
func (y *Yaic) statusData() map[string]any {
	y.mu.RLock()
	started := y.started
	paused := y.isPaused
	y.mu.RUnlock()

	sources := make(map[string]any)
	for id, s := range y.router.Stats() {
		sources[id] = map[string]any{
			"accepted":  s.Accepted,
			"dropped":   s.Dropped,
			"queued":    s.Queued,
			"in_flight": s.InFlight,
		}
	}

	data := map[string]any{
		"version":  y.version,
		"uptime_s": int(time.Since(started).Seconds()),
		"paused":   paused,
		"sources":  sources,
		"hostname": hostname(),
	}
	if y.emitter != nil {
		stats := y.emitter.Stats()
		data["mqtt_connected"] = stats.Connected
		data["publish_errors"] = stats.Errors
	}
	return data
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
