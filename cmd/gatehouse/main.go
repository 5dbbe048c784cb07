package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	gatehouse "github.com/gatehouse-dev/gatehouse"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("GATEHOUSE_CONFIG", "gatehouse.yaml"), "path to the configuration file")
	logPath := flag.String("log", envOr("GATEHOUSE_LOG", ""), "path to the log file, empty for stdout only")
	logLevel := flag.String("level", envOr("GATEHOUSE_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level

	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}

	var writer io.Writer = os.Stdout

	if *logPath != "" {
		writer = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   *logPath,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		})
	}

	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := gatehouse.NewClient(logger, gatehouse.NewConfigProviderFromPath(*configPath))

	client.WithPanicHandler(func(_ *gatehouse.Client, r any) {
		logger.Error("Recovered panic", "panic", r)
	})

	configuration, err := gatehouse.NewConfigProviderFromPath(*configPath).GetConfig(ctx)
	if err != nil {
		logger.Error("Failed to read configuration", "error", err)
		os.Exit(1)
	}

	if configuration.MetricsAddress != "" {
		client.WithPrometheusService(
			&http.Server{Addr: configuration.MetricsAddress},
			nil,
			promhttp.HandlerOpts{},
		)
	}

	if err := client.Start(ctx); err != nil {
		logger.Error("Failed to start", "error", err)
		os.Exit(1)
	}

	client.StartBackgroundTasks(ctx)

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	logger.Info("Shutting down")

	client.Stop(ctx)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}
