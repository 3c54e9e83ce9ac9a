// Command server runs the MapFy backend: account auth and the per-user map
// store over HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/mapfy/mapfy/internal/config"
	"github.com/mapfy/mapfy/internal/influx"
	"github.com/mapfy/mapfy/internal/logging"
	"github.com/mapfy/mapfy/internal/monitor"
	intOtel "github.com/mapfy/mapfy/internal/otel"
	"github.com/mapfy/mapfy/internal/server"
	"github.com/mapfy/mapfy/internal/store"
)

var (
	Version   string = "0.1.0"
	BuildDate string = "unknown"
)

func main() {
	sessionStart := time.Now()

	slogManager := logging.NewSlogManager()
	slogManager.Setup(nil, "INFO", nil)
	logger := slogManager.Logger()

	if err := config.Load("."); err != nil {
		logger.Warn("Failed to load config, using defaults", "error", err)
	}

	logsDir := viper.GetString("logsDir")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		os.Mkdir(logsDir, 0755)
	}

	logPath := logging.LogFilePath(logsDir, "mapfy-server", sessionStart)
	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		logger.Error("Failed to open log file, staying on stdout", "error", err, "path", logPath)
	}

	var otelProvider *intOtel.Provider
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		otelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    logFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			logger.Error("Failed to initialize OTel provider", "error", err)
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if otelProvider != nil {
		otelLogProvider = otelProvider.LoggerProvider()
	}
	if logFile != nil {
		slogManager.Setup(logFile, viper.GetString("logLevel"), otelLogProvider)
	} else {
		slogManager.Setup(nil, viper.GetString("logLevel"), otelLogProvider)
	}
	logger = slogManager.Logger()
	logger.Info("MapFy server starting", "version", Version, "buildDate", BuildDate)

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()

	st := &store.Manager{Logger: zlog}
	if err := st.Connect(); err != nil {
		logger.Error("Failed to connect to any database", "error", err)
		os.Exit(1)
	}
	if err := st.Setup(); err != nil {
		logger.Error("Failed to migrate schema", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	if st.UsingSqlite {
		logger.Warn("Running on the SQLite fallback, data is not durable across hosts")
	}

	var sink monitor.Sink
	var telemetry *influx.Manager
	influxCfg := config.GetInfluxConfig()
	if influxCfg.Enabled {
		im := influx.NewManager(zlog, fmt.Sprintf("%s/influx_backup_%s.gz", logsDir, sessionStart.Format("20060102_150405")))
		if err := im.Connect(); err != nil {
			logger.Error("Failed to initialize telemetry sink", "error", err)
		} else {
			sink = im
			telemetry = im
		}
	}

	monitorService := monitor.NewService(monitor.Dependencies{
		Store:      st,
		Sink:       sink,
		SinkBucket: influx.BucketServerStats,
		LogManager: slogManager,
		Interval:   time.Minute,
	})
	monitorService.Start()
	defer monitorService.Stop()

	var google server.GoogleVerifier
	authCfg := config.GetAuthConfig()
	if clientID := viper.GetString("auth.googleClientId"); clientID != "" {
		google = &server.TokeninfoVerifier{ClientID: clientID}
	}

	srv := server.New(st, authCfg, google, zlog)
	if telemetry != nil {
		srv.SetTelemetry(telemetry)
	}
	httpServer := &http.Server{
		Addr:              viper.GetString("server.listen"),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("HTTP server failed", "error", err)
	case sig := <-stop:
		logger.Info("Shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("Shutdown error", "error", err)
		}
	}

	if otelProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		otelProvider.Shutdown(ctx)
	}
	if logFile != nil {
		logFile.Close()
	}
}
