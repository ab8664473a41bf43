// Command relayd runs the chatrelay server.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chatrelay/config"
	"github.com/opd-ai/chatrelay/relay"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML configuration")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logrus.WithField("error", err).Debug("No .env file loaded")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithField("error", err).Fatal("Failed to load configuration")
	}
	setupLogging(cfg)

	srv := relay.NewServer(relay.Options{
		RateLimitRPS:   cfg.Server.RateLimit.RPS,
		RateLimitBurst: cfg.Server.RateLimit.Burst,
	})
	if err := srv.Listen(cfg.ListenAddr()); err != nil {
		logrus.WithField("error", err).Fatal("Failed to start relay server")
	}

	if cfg.Server.MetricsAddress != "" {
		go serveMetrics(cfg.Server.MetricsAddress)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logrus.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithField("error", err).Warn("Shutdown incomplete")
	}
}

func setupLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.Logging.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logrus.WithField("address", addr).Info("Metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logrus.WithField("error", err).Warn("Metrics endpoint stopped")
	}
}
