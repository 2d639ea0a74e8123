// Command icee-server runs graphs behind the HTTP and WebSocket API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/enisisuko/ICee-agent/internal/app"
	"github.com/enisisuko/ICee-agent/internal/config"
	"github.com/enisisuko/ICee-agent/internal/hub"
	"github.com/enisisuko/ICee-agent/internal/logging"
	"github.com/enisisuko/ICee-agent/internal/notify"
	httpserver "github.com/enisisuko/ICee-agent/internal/transport/http"
	"github.com/enisisuko/ICee-agent/internal/transport/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging configuration: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting icee server",
		zap.Int("port", cfg.HTTPPort),
		zap.String("database", cfg.DatabaseURL),
		zap.String("graph_dir", cfg.GraphDir),
		zap.String("mode", cfg.Mode))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := notify.NewMetricsSink(registry)
	if err != nil {
		return errors.Wrap(err, "register metrics")
	}

	h := hub.NewHub(logger.Named("hub"))
	sinks := []notify.Sink{h, metrics, notify.NewLogSink(logger.Named("notify"))}

	var redisSink *notify.RedisSink
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		redisSink = notify.NewRedisSink(client, cfg.RedisChannel, logger.Named("redis"))
		sinks = append(sinks, redisSink)
		logger.Info("publishing notifications to redis",
			zap.String("addr", cfg.RedisAddr), zap.String("channel", cfg.RedisChannel))
	}

	engine, err := app.New(ctx, cfg, notify.NewMulti(logger, sinks...), logger)
	if err != nil {
		return err
	}
	otel.SetTracerProvider(engine.Tracing)
	logger.Info("tracing configured", zap.String("exporter", cfg.TraceExporter))
	if _, err := engine.Runtime.RecoverInterrupted(ctx); err != nil {
		logger.Error("failed to recover interrupted runs", zap.Error(err))
	}

	wsServer := ws.NewServer(cfg, h, engine.Service, logger.Named("ws"))
	e := httpserver.NewServer(engine.Service, wsServer, registry, logger.Named("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Run(gctx)
		return nil
	})
	if redisSink != nil {
		g.Go(func() error { return redisSink.Run(gctx) })
	}
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("http server listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown http server gracefully", zap.Error(err))
		}
		// Close also flushes the tracer provider.
		if err := engine.Close(shutdownCtx); err != nil {
			logger.Warn("failed to stop engine gracefully", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}
