// Package main is the entry point for the PostureWatch agent.
//
// It loads configuration, wires the frame sampler, classifier client, alert
// channels and metrics recorder into a monitor, and serves the operator API.
// Monitoring only begins on POST /v1/session/start unless AUTOSTART is set.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"posturewatch/internal/alert"
	"posturewatch/internal/api"
	"posturewatch/internal/capture"
	"posturewatch/internal/config"
	"posturewatch/internal/external"
	"posturewatch/internal/monitor"
	"posturewatch/internal/posture"
	"posturewatch/internal/render"
	"posturewatch/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closeLog := newLogger(cfg.Log, os.Stdout)
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("posture agent starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"camera", cfg.Camera.URL,
		"classifier_stub", cfg.Classifier.Stub,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsClients, err := loadAWSClients(ctx, cfg)
	if err != nil {
		return err
	}

	a, err := buildApp(cfg, logger, awsClients)
	if err != nil {
		return err
	}
	return a.serve(ctx)
}

// app holds the wired components and their shutdown order.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	server     *api.Server
	monitor    *monitor.Monitor
	dispatcher *alert.Dispatcher
	// metrics is nil when CloudWatch emission is disabled.
	metrics *telemetry.CloudWatchRecorder
}

// awsClients are only built when a feature needs them, so a default local
// run never touches the AWS credential chain.
type awsClients struct {
	cloudwatch telemetry.CloudWatchClient
	sqs        alert.SQSSender
}

func loadAWSClients(ctx context.Context, cfg *config.Config) (awsClients, error) {
	var clients awsClients
	if !cfg.Metrics.Enabled && cfg.Alert.QueueURL == "" {
		return clients, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Metrics.Region))
	if err != nil {
		return clients, fmt.Errorf("loading AWS config: %w", err)
	}

	endpoint := cfg.Metrics.EndpointURL
	if cfg.Metrics.Enabled {
		clients.cloudwatch = cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
	}
	if cfg.Alert.QueueURL != "" {
		clients.sqs = sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
	}
	return clients, nil
}

// buildApp wires every component. It performs no I/O: the camera is opened
// by the first session start.
func buildApp(cfg *config.Config, logger *slog.Logger, clients awsClients) (*app, error) {
	source, err := capture.NewSource(capture.SourceConfig{
		URL:     cfg.Camera.URL,
		Timeout: cfg.Camera.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating camera source: %w", err)
	}
	sampler := capture.NewSampler(capture.SamplerConfig{
		Source:      source,
		JPEGQuality: cfg.Camera.JPEGQuality,
		Logger:      logger,
	})

	var (
		classifier external.Classifier
		probes     []api.HealthProbe
	)
	if cfg.Classifier.Stub {
		logger.Warn("using stub classifier; posture results are synthetic")
		classifier = external.NewStubClassifier(logger)
	} else {
		client := external.NewClassifierClient(
			&http.Client{Timeout: cfg.Classifier.Timeout},
			external.ClassifierClientConfig{
				BaseURL:     cfg.Classifier.URL,
				APIKey:      cfg.Classifier.APIKey,
				ProcessPath: cfg.Classifier.ProcessPath,
				ConfigPath:  cfg.Classifier.ConfigPath,
				Logger:      logger,
			},
		)
		classifier = client
		probes = append(probes, client)
	}

	a := &app{cfg: cfg, logger: logger}

	var recorder telemetry.Recorder = telemetry.Nop{}
	if clients.cloudwatch != nil {
		a.metrics = telemetry.NewCloudWatchRecorder(clients.cloudwatch, telemetry.CloudWatchConfig{
			Namespace: cfg.Metrics.Namespace,
			Logger:    logger,
		})
		recorder = a.metrics
	}

	a.dispatcher = alert.NewDispatcher(alert.DispatcherConfig{
		Channels: alertChannels(cfg, logger, clients),
		Timeout:  cfg.Alert.Timeout,
		Recorder: recorder,
		Logger:   logger,
	})

	a.monitor = monitor.New(monitor.Config{
		Sampler:    sampler,
		Classifier: classifier,
		Settings:   posture.NewSettingsStore(cfg.Posture.ToPostureConfig(), nil),
		Renderer:   render.NewRenderer(render.DefaultStyle()),
		Alerts:     a.dispatcher,
		Recorder:   recorder,
		Interval:   cfg.Sampling.Interval,
		Logger:     logger,
	})

	a.server, err = api.NewServer(cfg, a.monitor, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	a.server.HealthProbes = probes
	a.server.MountRoutes()

	return a, nil
}

// alertChannels returns the audio channel plus whichever remote channels
// are configured.
func alertChannels(cfg *config.Config, logger *slog.Logger, clients awsClients) []alert.Channel {
	channels := []alert.Channel{
		alert.NewAudioChannel(alert.AudioConfig{
			Player:    cfg.Alert.Player,
			SoundFile: cfg.Alert.SoundFile,
			Logger:    logger,
		}),
	}

	if cfg.Alert.WebhookURL != "" {
		base := external.NewBaseClient(
			&http.Client{Timeout: cfg.Alert.Timeout},
			"webhook",
			external.DefaultRetryPolicy(),
			cfg.Build.UserAgent(),
		)
		channels = append(channels, alert.NewWebhookChannel(cfg.Alert.WebhookURL, base, logger))
	}

	if clients.sqs != nil {
		channels = append(channels, alert.NewQueueChannel(clients.sqs, cfg.Alert.QueueURL, logger))
	}

	return channels
}

// serve runs the HTTP listener and background workers until ctx is
// cancelled or one of them fails, then calls shutdown.
func (a *app) serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              ":" + a.cfg.Server.Port,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.metrics != nil {
		g.Go(func() error {
			return a.metrics.Run(gctx)
		})
	}

	if a.cfg.Autostart {
		if _, err := a.monitor.OnStart(gctx); err != nil {
			// The operator can retry from the API once the camera is back.
			a.logger.Warn("autostart failed", "error", err)
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.shutdown(shutdownCtx, httpServer)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("posture agent stopped")
	return nil
}

func (a *app) shutdown(ctx context.Context, httpServer *http.Server) error {
	var errs []error

	// Streams are hijacked and not drained by http.Server.Shutdown.
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("api shutdown: %w", err))
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
	}
	if err := a.monitor.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("monitor shutdown: %w", err))
	}

	delivered := make(chan struct{})
	go func() {
		a.dispatcher.Wait()
		close(delivered)
	}()
	select {
	case <-delivered:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("alert delivery: %w", ctx.Err()))
	}

	return errors.Join(errs...)
}

// newLogger creates a JSON slog.Logger. When cfg.File is set the output is
// also written to a size-rotated file. The returned func closes the file.
func newLogger(cfg config.LogConfig, stdout io.Writer) (*slog.Logger, func()) {
	out := stdout
	closeFn := func() {}

	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
		}
		out = io.MultiWriter(stdout, rotated)
		closeFn = func() { _ = rotated.Close() }
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	return slog.New(handler), closeFn
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
