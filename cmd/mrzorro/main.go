package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jorgemp1270/mrzorro-esp32/internal/capture"
	"github.com/jorgemp1270/mrzorro-esp32/internal/config"
	"github.com/jorgemp1270/mrzorro-esp32/internal/controller"
	"github.com/jorgemp1270/mrzorro-esp32/internal/device"
	"github.com/jorgemp1270/mrzorro-esp32/internal/discovery"
	"github.com/jorgemp1270/mrzorro-esp32/internal/metrics"
	"github.com/jorgemp1270/mrzorro-esp32/internal/playback"
	"github.com/jorgemp1270/mrzorro-esp32/internal/protocol"
	"github.com/jorgemp1270/mrzorro-esp32/internal/provision"
	"github.com/jorgemp1270/mrzorro-esp32/internal/relay"
	"github.com/jorgemp1270/mrzorro-esp32/internal/server"
	"github.com/jorgemp1270/mrzorro-esp32/internal/storage"
	"github.com/jorgemp1270/mrzorro-esp32/internal/transport"
	"github.com/jorgemp1270/mrzorro-esp32/internal/upload"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "mrzorro"
	serviceVersion    = "1.0.0"

	// acceptWait bounds how long one relay step waits for an inbound link
	acceptWait = 50 * time.Millisecond
)

// runner is the main loop of a node role
type runner interface {
	Run(ctx context.Context) error
}

// node is a fully wired role ready to run
type node struct {
	loop    runner
	options server.Options
	final   func() any

	closers []io.Closer
}

func (n *node) close(logger *slog.Logger) {
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i].Close(); err != nil {
			logger.Warn("Error releasing resource", slog.String("error", err.Error()))
		}
	}
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	role := flag.String("role", "", "Override the configured role (device, relay, capture)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *role != "" {
		cfg.Role = *role
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration for role %s: %v\n", *role, err)
			os.Exit(1)
		}
	}

	logger := initLogger(cfg.Logging).With(slog.String("role", cfg.Role))

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Device.SampleRate),
		slog.Int("chunk_samples", cfg.Device.ChunkSamples),
		slog.String("source", cfg.Device.Source),
		slog.String("sink", cfg.Device.Sink),
		slog.String("link_kind", cfg.Link.Kind),
		slog.String("link_codec", cfg.Link.Codec),
		slog.Int("upload_chunk_size", cfg.Upload.ChunkSize),
		slog.Duration("last_chunk_timeout", cfg.Upload.GetLastChunkTimeout()),
		slog.String("storage_root", cfg.Storage.Root),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	n, err := newNode(cfg, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create node", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpConfig := server.HTTPServerConfig{
			Port:    cfg.HTTP.Port,
			Address: cfg.HTTP.Address,
			Enabled: cfg.HTTP.Enabled,
		}
		opts := n.options
		opts.Gatherer = registry
		httpServer = server.NewHTTPServer(httpConfig, logger, cfg, opts, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			n.close(logger)
			os.Exit(1)
		}
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- n.loop.Run(ctx)
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	stopped := false
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-runErr:
		stopped = true
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Node loop stopped", slog.String("error", err.Error()))
		}
	}

	logger.Info("Starting graceful shutdown...")
	cancel()

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// The loop abandons any session in progress before returning
	if !stopped {
		select {
		case <-runErr:
		case <-time.After(5 * time.Second):
			logger.Warn("Node loop did not stop in time")
		}
	}

	n.close(logger)

	logger.Info("Final node statistics", slog.Any("stats", n.final()))
	logger.Info("Service stopped")
}

// newNode wires the components of the configured role
func newNode(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*node, error) {
	switch cfg.Role {
	case config.RoleDevice:
		return newDevice(cfg, logger, m)
	case config.RoleRelay:
		return newRelay(cfg, logger, m)
	case config.RoleCapture:
		return newCapture(cfg, logger, m)
	default:
		return nil, fmt.Errorf("unknown role %q", cfg.Role)
	}
}

func newDevice(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*node, error) {
	n := &node{}

	store, err := storage.New(cfg.Storage.Root, logger)
	if err != nil {
		return nil, err
	}
	channel, err := newProvisioning(cfg, logger)
	if err != nil {
		return nil, err
	}

	source, err := openSource(cfg)
	if err != nil {
		return nil, err
	}
	n.closers = append(n.closers, source)

	player, sink := openPlayer(cfg, logger, m)
	if sink != nil {
		n.closers = append(n.closers, sink)
	}

	trigger := device.NewSoftTrigger()
	dev, err := controller.NewDevice(controller.DeviceConfig{
		ChunkSamples:  cfg.Device.ChunkSamples,
		ShiftBits:     cfg.Device.ShiftBits,
		CaptureGain:   cfg.Device.CaptureGain,
		PollInterval:  cfg.Device.GetPollInterval(),
		MaxRecording:  cfg.Device.GetMaxRecording(),
		RetryInterval: cfg.Link.GetRetryInterval(),
	}, controller.DeviceDeps{
		Source:       source,
		Trigger:      trigger,
		Indicator:    device.NewLogIndicator(logger),
		Player:       player,
		Store:        store,
		Provisioning: channel,
		Bringup:      newBringup(cfg, logger, m),
	}, logger, m)
	if err != nil {
		n.close(logger)
		return nil, err
	}

	n.loop = dev
	n.final = func() any { return dev.Stats() }
	n.options = server.Options{
		State:        func() any { return dev.Status() },
		Stats:        n.final,
		Trigger:      trigger,
		Provisioning: channel,
	}
	return n, nil
}

func newRelay(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*node, error) {
	n := &node{}

	store, err := storage.New(cfg.Storage.Root, logger)
	if err != nil {
		return nil, err
	}
	channel, err := newProvisioning(cfg, logger)
	if err != nil {
		return nil, err
	}
	decoder, err := protocol.NewDecoder(cfg.Link.Codec, cfg.Link.MaxPayload)
	if err != nil {
		return nil, err
	}

	player, sink := openPlayer(cfg, logger, m)
	if sink != nil {
		n.closers = append(n.closers, sink)
	}

	links := &linkHolder{}
	n.closers = append(n.closers, links)

	var reconnect relay.Reconnect
	if cfg.Link.Kind == config.LinkListen {
		listener := transport.NewWSListener(logger)
		n.closers = append(n.closers, listener)
		n.options.Link = listener
		reconnect = func(ctx context.Context) (*transport.Reader, error) {
			acceptCtx, acceptCancel := context.WithTimeout(ctx, acceptWait)
			defer acceptCancel()

			conn, err := listener.Accept(acceptCtx)
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, relay.ErrLinkPending
			}
			if err != nil {
				return nil, err
			}
			return links.start(ctx, conn, cfg.Link, logger), nil
		}
	} else {
		reconnect = func(ctx context.Context) (*transport.Reader, error) {
			conn, err := transport.Dial(ctx, cfg.Link.Kind, cfg.Link.Address)
			if err != nil {
				return nil, err
			}
			return links.start(ctx, conn, cfg.Link, logger), nil
		}
	}

	r, err := relay.New(relay.Config{
		PollInterval:    cfg.Device.GetPollInterval(),
		RetryInterval:   cfg.Link.GetRetryInterval(),
		MaxSessionBytes: cfg.Link.MaxSessionBytes,
		SampleRate:      cfg.Device.SampleRate,
		ArchiveWAV:      cfg.Storage.ArchiveWAV,
	}, relay.Deps{
		Decoder:      decoder,
		Player:       player,
		Store:        store,
		Indicator:    device.NewLogIndicator(logger),
		Provisioning: channel,
		Bringup:      newBringup(cfg, logger, m),
		Reconnect:    reconnect,
	}, logger, m)
	if err != nil {
		n.close(logger)
		return nil, err
	}

	n.loop = r
	n.final = func() any { return r.RelayStats() }
	n.options.State = func() any { return r.Status() }
	n.options.Stats = n.final
	n.options.Provisioning = channel
	return n, nil
}

func newCapture(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*node, error) {
	n := &node{}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dialCancel()

	conn, err := transport.Dial(dialCtx, cfg.Link.Kind, cfg.Link.Address)
	if err != nil {
		return nil, err
	}
	n.closers = append(n.closers, conn)

	encoder, err := protocol.NewEncoder(cfg.Link.Codec, conn, cfg.Link.MaxPayload)
	if err != nil {
		n.close(logger)
		return nil, err
	}

	source, err := openSource(cfg)
	if err != nil {
		n.close(logger)
		return nil, err
	}
	n.closers = append(n.closers, source)

	trigger := device.NewSoftTrigger()
	capNode := capture.NewNode(capture.Config{
		ChunkSamples: cfg.Device.ChunkSamples,
		ShiftBits:    cfg.Device.ShiftBits,
		Gain:         cfg.Device.CaptureGain,
		StartDelay:   cfg.Link.GetStartDelay(),
		StopDelay:    cfg.Link.GetStopDelay(),
		PollInterval: cfg.Device.GetPollInterval(),
	}, encoder, source, trigger, device.NewLogIndicator(logger), logger, m)

	logger.Info("Capture link connected",
		slog.String("kind", cfg.Link.Kind),
		slog.String("address", cfg.Link.Address))

	n.loop = capNode
	n.final = func() any { return capNode.Stats() }
	n.options = server.Options{
		State: func() any {
			return map[string]any{"role": config.RoleCapture, "streaming": capNode.Streaming()}
		},
		Stats:   n.final,
		Trigger: trigger,
	}
	return n, nil
}

// newProvisioning creates the configuration channel, preloading the payload
// file when one is configured
func newProvisioning(cfg *config.Config, logger *slog.Logger) (*provision.Channel, error) {
	channel := provision.NewChannel()
	if cfg.Provisioning.PayloadPath == "" {
		logger.Info("Waiting for configuration payload on /provision")
		return channel, nil
	}

	complete, err := channel.LoadFile(cfg.Provisioning.PayloadPath)
	if err != nil {
		return nil, err
	}
	if !complete {
		logger.Warn("Configuration payload incomplete, waiting for the rest on /provision",
			slog.String("path", cfg.Provisioning.PayloadPath),
			slog.Any("payload", channel.Pending()))
	}
	return channel, nil
}

// newBringup returns the network bring-up run once a payload is complete.
// An empty api_host falls back to mDNS discovery when enabled.
func newBringup(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) controller.Bringup {
	return func(ctx context.Context, p provision.Payload) (*upload.Client, error) {
		logger.Info("Joining network", slog.String("ssid", p.SSID))

		host, port := p.APIHost, cfg.Upload.Port
		if host == "" {
			if !cfg.Discovery.Enabled {
				return nil, errors.New("no api_host configured and discovery is disabled")
			}
			backend, err := discovery.Browse(ctx, cfg.Discovery.GetTimeout(), logger)
			if err != nil {
				return nil, fmt.Errorf("failed to discover backend: %w", err)
			}
			host, port = backend.Host, backend.Port
		}

		return upload.NewClient(upload.Config{
			BaseURL:          upload.BaseURL(host, port),
			ChunkSize:        cfg.Upload.ChunkSize,
			ChunkTimeout:     cfg.Upload.GetChunkTimeout(),
			LastChunkTimeout: cfg.Upload.GetLastChunkTimeout(),
			QueueSize:        cfg.Upload.QueueSize,
		}, logger, m)
	}
}

func openSource(cfg *config.Config) (device.Source, error) {
	return device.OpenSource(device.SourceOptions{
		Backend:      cfg.Device.Source,
		SampleRate:   cfg.Device.SampleRate,
		ChunkSamples: cfg.Device.ChunkSamples,
		ShiftBits:    cfg.Device.ShiftBits,
		File:         cfg.Device.SourceFile,
	})
}

// openPlayer brings up the speaker. Without one, replies are only stored.
func openPlayer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*playback.Decoder, io.Closer) {
	sink, err := device.OpenSink(device.SinkOptions{
		Backend:      cfg.Device.Sink,
		SampleRate:   cfg.Device.SampleRate,
		ClearSamples: cfg.Device.ClearSamples,
		File:         cfg.Device.SinkFile,
	})
	if err != nil {
		logger.Warn("Speaker unavailable, replies will only be stored",
			slog.String("error", err.Error()))
		return nil, nil
	}

	player := playback.NewDecoder(playback.Config{
		Gain:             cfg.Playback.Gain,
		WindowSize:       cfg.Playback.WindowSize,
		ProgressInterval: cfg.Playback.GetProgressInterval(),
		Settle:           cfg.Playback.GetSettle(),
	}, sink, logger, m)
	return player, sink
}

// linkHolder owns the current relay link and closes it when replaced
type linkHolder struct {
	mu      sync.Mutex
	current io.Closer
}

func (h *linkHolder) start(ctx context.Context, conn io.ReadWriteCloser, cfg config.LinkConfig, logger *slog.Logger) *transport.Reader {
	h.mu.Lock()
	if h.current != nil {
		_ = h.current.Close()
	}
	h.current = conn
	h.mu.Unlock()

	reader := transport.NewReader(conn, cfg.WindowSize, cfg.QueueSize, logger)
	reader.Start(ctx)
	return reader
}

func (h *linkHolder) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return nil
	}
	err := h.current.Close()
	h.current = nil
	return err
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
