package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vcam-daemon/internal/camera"
	"vcam-daemon/internal/daemon"
	"vcam-daemon/internal/ipc"
	"vcam-daemon/internal/overlay"
	"vcam-daemon/internal/platform/config"
	"vcam-daemon/internal/platform/logger"
	"vcam-daemon/internal/platform/metrics"
	"vcam-daemon/internal/publish"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8590")
	sharedDir := config.GetEnv("SHARED_DIR", defaultSharedDir())
	heartbeatEvery := config.GetEnvDuration("HEARTBEAT_INTERVAL", 2*time.Second)
	heartbeatTimeout := config.GetEnvDuration("HEARTBEAT_TIMEOUT", ipc.DefaultHeartbeatTimeout)
	refreshEvery := config.GetEnvDuration("REFRESH_INTERVAL", 5*time.Second)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	if err := os.MkdirAll(sharedDir, 0o755); err != nil {
		log.Error("shared dir unavailable", "dir", sharedDir, "error", err)
		os.Exit(1)
	}

	registry := camera.NewRegistry()
	registry.Register(camera.NewTestPatternDevice(config.GetEnv("TEST_DEVICE_NAME", "Test Pattern")))

	status := ipc.NewStatusStore(sharedDir)
	overlays := overlay.NewStore(sharedDir)
	bus := ipc.NewBus(log)
	met := metrics.New()

	session := camera.NewSessionManager(registry, camera.NewStaticAuthorizer(camera.AuthGranted), log)
	spec := camera.PresetHigh
	if session.Configure(status.Read().SelectedDeviceID) {
		spec = session.Spec()
	} else {
		log.Error("capture session configuration failed", "error", session.LastError())
		// Stay up: the controlling application can select another device and
		// signal request-switch-device.
	}

	d := daemon.New(daemon.Options{
		Session:           session,
		Overlays:          overlays,
		Status:            status,
		Bus:               bus,
		Metrics:           met,
		Log:               log,
		Spec:              spec,
		Authorize:         publish.AcceptAll,
		HeartbeatInterval: heartbeatEvery,
		RefreshInterval:   refreshEvery,
	})

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetAttachedConsumers(d.Publisher().Consumers()) }).ServeHTTP(w, req)
	})
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		health := ipc.EvaluateHealth(status.Read(), time.Now(), heartbeatTimeout)
		code := http.StatusOK
		if health != ipc.HealthHealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"health": string(health)})
	})
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status.Read())
	})
	r.Get("/stream.mjpeg", d.Publisher().Handler)
	r.Get("/ipc/signals", bus.Handler)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("daemon starting",
		"port", port,
		"shared_dir", sharedDir,
		"heartbeat_interval", heartbeatEvery.String(),
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("daemon stopped")
}

func defaultSharedDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.vcam/shared"
	}
	return "./vcam-shared"
}
