package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gopcast/config"
	"gopcast/httpServer"
	"gopcast/internal/auth"
	"gopcast/internal/command"
	"gopcast/internal/metrics"
	"gopcast/internal/rtmp"
	"gopcast/internal/streammanager"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "gopcast",
		Short: "RTMP ingest and distribution server",
		Long: `gopcast accepts RTMP publishers and relays their audio, video and
data messages to RTMP players, replaying the codec configuration and the
current GOP to every player that joins late.

Every flag defaults to its environment variable, e.g. RTMP_ADDR or APP_NAME.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.RTMPAddr, "rtmp-addr", cfg.RTMPAddr, "RTMP listen address")
	flags.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP status API listen address (empty disables it)")
	flags.StringVar(&cfg.AppName, "app", cfg.AppName, "application name publishers must use")
	flags.DurationVar(&cfg.ReapInterval, "reap-interval", cfg.ReapInterval, "interval between sweeps of streams without a live publisher")
	flags.IntVar(&cfg.GOPLimit, "gop-limit", cfg.GOPLimit, "most messages cached per stream for late joiners")
	flags.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "outbound chunk size announced on connect")
	flags.IntVar(&cfg.WindowAckSize, "window-ack-size", cfg.WindowAckSize, "acknowledgement window announced on connect")
	flags.IntVar(&cfg.PeerBandwidth, "peer-bandwidth", cfg.PeerBandwidth, "peer bandwidth announced on connect")
	flags.IntVar(&cfg.WriteQueueSize, "write-queue-size", cfg.WriteQueueSize, "outbound messages buffered per connection before it is dropped")
	flags.IntVar(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "largest inbound message accepted, in bytes")
	flags.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "deadline for a single socket write")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text or json)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	log.Info("Starting gopcast server...")

	// Initialize metrics
	m := metrics.New(prometheus.NewRegistry())

	// Initialize managers
	streamManager := streammanager.New(log, m, cfg.ReapInterval)
	streamManager.SetGOPLimit(cfg.GOPLimit)
	authManager := auth.New(cfg.AppName)
	log.WithField("app", authManager.App()).Info("Stream manager and auth manager initialized")

	// Initialize RTMP server
	rtmpSrv := rtmp.New(rtmp.Config{
		Addr:           cfg.RTMPAddr,
		WriteQueueSize: cfg.WriteQueueSize,
		WriteTimeout:   cfg.WriteTimeout,
		MaxMessageSize: uint32(cfg.MaxMessageSize),
		Command: command.Config{
			WindowAckSize: uint32(cfg.WindowAckSize),
			PeerBandwidth: uint32(cfg.PeerBandwidth),
			ChunkSize:     uint32(cfg.ChunkSize),
		},
	}, streamManager, authManager, log, m)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go streamManager.Run(runCtx)
	go func() {
		if err := rtmpSrv.ListenAndServe(); err != nil && !errors.Is(err, rtmp.ErrServerClosed) {
			errCh <- fmt.Errorf("RTMP server failed: %w", err)
		}
	}()

	var httpSrv *httpServer.Server
	if cfg.HTTPAddr != "" {
		httpSrv = httpServer.New(streamManager, m, log)
		go func() {
			if err := httpSrv.Run(cfg.HTTPAddr); err != nil {
				errCh <- fmt.Errorf("HTTP server failed: %w", err)
			}
		}()
	}

	log.Info("gopcast server started successfully")

	var result *multierror.Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down...")
	case err := <-errCh:
		result = multierror.Append(result, err)
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("HTTP shutdown: %w", err))
		}
	}
	if err := rtmpSrv.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("RTMP shutdown: %w", err))
	}

	log.Info("Server stopped")
	return result.ErrorOrNil()
}
