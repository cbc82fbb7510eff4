package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/congraphcms/eav-sub001/pkg/startup"
	"github.com/congraphcms/eav-sub001/pkg/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine with its database, cache and event dependencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	app, shutdown, err := boot(ctx, func(app *application, deps *startup.Startup) {
		if app.cfg.RedisEnabled {
			deps.AddDependency(&startup.Dependency{Name: "redis", OnStart: app.openRedis, OnStop: app.closeRedis})
		}
		if app.cfg.KafkaEnabled {
			deps.AddDependency(&startup.Dependency{Name: "kafka", OnStart: app.openKafka, OnStop: app.closeKafka})
		}
	})
	if err != nil {
		return err
	}
	defer shutdown()

	cfg, logger := app.cfg, app.logger

	var exporters []sdktrace.SpanExporter
	if cfg.TracingEnabled {
		exporter, err := tracing.NewExporter(ctx, tracing.ExporterConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
		})
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporters = append(exporters, exporter)
	}
	provider := tracing.NewProvider(cfg.AppName, exporters...)
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Error("failed to shut down tracer provider")
		}
	}()

	eng, err := app.engine()
	if err != nil {
		return err
	}
	locales, err := eng.GetLocales(ctx)
	if err != nil {
		return err
	}
	logger.WithFields(map[string]any{
		"driver":  cfg.DatabaseDriver,
		"locales": len(locales),
		"redis":   cfg.RedisEnabled,
		"kafka":   cfg.KafkaEnabled,
	}).Info("EAV engine ready")

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
