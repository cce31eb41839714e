// Package run contains the command to run a docmediator server.
package run

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/docmediator/docmediator/cmd/util"
	"github.com/docmediator/docmediator/internal/mediator"
	serverconfig "github.com/docmediator/docmediator/internal/server/config"
	"github.com/docmediator/docmediator/pkg/logger"
	"github.com/docmediator/docmediator/pkg/server"
	"github.com/docmediator/docmediator/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"serve"},
		Short:   "Run the docmediator server",
		Long:    "Run the docmediator HTTP server answering find, explain and bulk requests.",
		Run:     run,
		Args:    cobra.NoArgs,
	}

	defaultConfig := serverconfig.DefaultConfig()
	flags := cmd.Flags()

	util.AddMetadataFlag(cmd, defaultConfig)

	flags.Int("bulk-parallelism", defaultConfig.BulkParallelism, "the number of bulk entries running concurrently")

	flags.String("http-addr", defaultConfig.HTTP.Addr, "the host:port address to serve the HTTP server on")

	flags.Duration("http-upstream-timeout", defaultConfig.HTTP.UpstreamTimeout, "the timeout duration for handling one HTTP request (0 means no timeout)")

	flags.StringSlice("http-cors-allowed-origins", defaultConfig.HTTP.CORSAllowedOrigins, "specifies the CORS allowed origins")

	flags.StringSlice("http-cors-allowed-headers", defaultConfig.HTTP.CORSAllowedHeaders, "specifies the CORS allowed headers")

	util.AddDatastoreFlags(cmd, defaultConfig)

	flags.Bool("datastore-metrics-enabled", defaultConfig.Datastore.Metrics.Enabled, "enable/disable sql metrics")

	util.AddFindFlags(cmd, defaultConfig)

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in")

	flags.String("log-level", defaultConfig.Log.Level, "the log level to use")

	flags.String("log-timestamp-format", defaultConfig.Log.TimestampFormat, "the timestamp format to use for log messages")

	flags.Bool("trace-enabled", defaultConfig.Trace.Enabled, "enable tracing")

	flags.String("trace-otlp-endpoint", defaultConfig.Trace.OTLP.Endpoint, "the endpoint of the trace collector")

	flags.Float64("trace-sample-ratio", defaultConfig.Trace.SampleRatio, "the fraction of traces to sample. 1 means all, 0 means none.")

	flags.String("trace-service-name", defaultConfig.Trace.ServiceName, "the service name included in sampled traces.")

	flags.Bool("metrics-enabled", defaultConfig.Metrics.Enabled, "enable/disable prometheus metrics on the '/metrics' endpoint")

	flags.String("metrics-addr", defaultConfig.Metrics.Addr, "the host:port address to serve the prometheus metrics server on")

	// NOTE: if you add a new flag here, update the function below, too

	cmd.PreRun = bindRunFlagsFunc(cmd)

	return cmd
}

func run(_ *cobra.Command, _ []string) {
	config, err := util.ReadConfig()
	if err != nil {
		panic(err)
	}

	if err := config.Verify(); err != nil {
		panic(err)
	}

	logger := logger.MustNewLogger(config.Log.Format, config.Log.Level, config.Log.TimestampFormat)
	serverCtx := &ServerContext{Logger: logger}
	if err := serverCtx.Run(context.Background(), config); err != nil {
		panic(err)
	}
}

type ServerContext struct {
	Logger logger.Logger

	// listening, when set, receives the address the HTTP server listens on.
	listening chan<- string
}

// telemetryConfig returns the function that must be called to shut down tracing.
func (s *ServerContext) telemetryConfig(config *serverconfig.Config) func() error {
	if config.Trace.Enabled {
		s.Logger.Info(fmt.Sprintf("tracing enabled: sampling ratio is %v and sending traces to '%s'", config.Trace.SampleRatio, config.Trace.OTLP.Endpoint))

		tp := telemetry.MustNewTracerProvider(
			telemetry.WithOTLPEndpoint(config.Trace.OTLP.Endpoint),
			telemetry.WithServiceName(config.Trace.ServiceName),
			telemetry.WithSamplingRatio(config.Trace.SampleRatio),
		)
		return func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
			defer cancel()
			return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
		}
	}
	otel.SetTracerProvider(noop.NewTracerProvider())
	return func() error {
		return nil
	}
}

// mediatorOptions maps the find knobs of config to mediator options.
func (s *ServerContext) mediatorOptions(config *serverconfig.Config) []mediator.Option {
	return []mediator.Option{
		mediator.WithLogger(s.Logger),
		mediator.WithBatchSize(config.Find.BatchSize),
		mediator.WithMemoryIndexThreshold(config.Find.MemoryIndexThreshold),
		mediator.WithAdaptiveIndexing(config.Find.AdaptiveIndexing),
		mediator.WithAssemblyParallelism(config.Find.AssemblyParallelism),
		mediator.WithMemoryThreshold(config.Find.MemoryThresholdBytes),
		mediator.WithPlanCache(config.Find.PlanCacheSize, config.Find.PlanCacheTTL),
		mediator.WithBruteForceLimit(config.Find.BruteForceLimit),
		mediator.WithBulkParallelism(config.BulkParallelism),
	}
}

// Run serves config until ctx is done or the process is interrupted.
func (s *ServerContext) Run(ctx context.Context, config *serverconfig.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerProviderCloser := s.telemetryConfig(config)

	backends, err := util.NewBackends(&config.Datastore, s.Logger)
	if err != nil {
		return err
	}
	defer backends.Close()
	s.Logger.Info(fmt.Sprintf("using '%v' storage engine", config.Datastore.Engine))

	registry, err := util.LoadMetadata(config.MetadataDir)
	if err != nil {
		return err
	}
	s.Logger.Info("metadata loaded", zap.Strings("entities", registry.Names()))

	m, err := mediator.New(registry, backends, s.mediatorOptions(config)...)
	if err != nil {
		return fmt.Errorf("initialize mediator: %w", err)
	}

	var metricsServer *http.Server
	if config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		metricsServer = &http.Server{Addr: config.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		go func() {
			s.Logger.Info(fmt.Sprintf("starting prometheus metrics server on '%s'", config.Metrics.Addr))
			if err := metricsServer.ListenAndServe(); err != nil {
				if !errors.Is(err, http.ErrServerClosed) {
					s.Logger.Fatal("failed to start prometheus metrics server", zap.Error(err))
				}
			}
			s.Logger.Info("metrics server shut down.")
		}()
	}

	svr := server.New(m,
		server.WithLogger(s.Logger),
		server.WithReadinessChecker(backends),
		server.WithRequestTimeout(config.HTTP.UpstreamTimeout),
		server.WithCORS(config.HTTP.CORSAllowedOrigins, config.HTTP.CORSAllowedHeaders),
		server.WithTracing(config.Trace.Enabled),
	)

	listener, err := net.Listen("tcp", config.HTTP.Addr)
	if err != nil {
		m.Close()
		return err
	}
	httpServer := &http.Server{
		Addr:              listener.Addr().String(),
		Handler:           svr.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.Logger.Info(fmt.Sprintf("starting HTTP server on '%s'...", httpServer.Addr))
		if err := httpServer.Serve(listener); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Fatal("HTTP server closed with unexpected error", zap.Error(err))
			}
		}
		s.Logger.Info("HTTP server shut down.")
	}()
	if s.listening != nil {
		s.listening <- httpServer.Addr
	}

	// wait for cancellation signal
	<-ctx.Done()
	s.Logger.Info("attempting to shutdown gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		s.Logger.Info("failed to shutdown the http server", zap.Error(err))
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			s.Logger.Info("failed to shutdown the prometheus metrics server", zap.Error(err))
		}
	}

	m.Close()

	if err := tracerProviderCloser(); err != nil {
		s.Logger.Error("failed to shutdown tracing", zap.Error(err))
	}

	s.Logger.Info("server exited. goodbye 👋")

	return nil
}
