package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"safety-monitoring/internal/api"
	"safety-monitoring/internal/config"
	"safety-monitoring/internal/hub"
	"safety-monitoring/internal/pipeline"
	"safety-monitoring/internal/sensor"
	"safety-monitoring/internal/storage"
	"safety-monitoring/pkg/logger"
)

func main() {
	// Initialize logger
	logger.Init(os.Getenv("LOG_MODE") == "prod")
	log := logger.Get()
	defer logger.Sync()

	// Load configuration
	cfg := config.Load()
	log.Infow("loaded configuration",
		"db_host", cfg.DBHost,
		"db_name", cfg.DBName,
		"queue_size", cfg.QueueSize,
		"camera_fps", cfg.CameraFPS,
		"noise_threshold", cfg.NoiseThreshold,
		"flush_interval_ms", cfg.FlushInterval.Milliseconds(),
	)

	// Durable event log: MySQL primary, JSONL fallback
	backend, err := storage.NewMySQLBackend(cfg.DSN())
	if err != nil {
		log.Fatalw("failed to open MySQL backend", "error", err)
	}
	fallback, err := storage.NewFallbackLog(cfg.FallbackDir)
	if err != nil {
		log.Fatalw("failed to open fallback log", "error", err)
	}
	metrics := pipeline.NewMetrics()
	store := storage.New(context.Background(), backend, fallback, storage.Config{
		FlushInterval: cfg.FlushInterval,
		FlushSize:     cfg.FlushSize,
		Metrics:       metrics,
	})

	// Core pipeline components
	queue := pipeline.NewQueue(cfg.QueueSize)
	wsHub := hub.New(hub.Config{
		PingInterval: cfg.PingInterval,
		PongWait:     cfg.PongWait,
	})
	processor := pipeline.NewProcessor(queue, store, wsHub, metrics, 500*time.Millisecond)
	processor.Start()

	// Sensor workers: one per physical device. Sources and detectors
	// are simulations; real capture and inference are injected here.
	onError := func(name string, err error) {
		log.Errorw("worker out of service, manual restart required", "worker", name, "error", err)
	}
	workers := map[string]*sensor.Worker{
		"cam0": sensor.NewWorker(sensor.Config{
			Name:           "cam0",
			Source:         pipeline.SourceCam0,
			Type:           pipeline.TypeCameraDetection,
			Interval:       cfg.CameraInterval(),
			AcquireTimeout: cfg.AcquireTimeout,
			OnError:        onError,
		}, &simCamera{}, &simPeopleDetector{fps: sensor.NewFPSCounter()}, queue),
		"cam10": sensor.NewWorker(sensor.Config{
			Name:           "cam10",
			Source:         pipeline.SourceCam10,
			Type:           pipeline.TypeCameraDetection,
			Interval:       cfg.CameraInterval(),
			AcquireTimeout: cfg.AcquireTimeout,
			OnError:        onError,
		}, &simCamera{}, &simPPEDetector{fps: sensor.NewFPSCounter()}, queue),
		"audio": sensor.NewWorker(sensor.Config{
			Name:           "audio",
			Source:         pipeline.SourceAudio,
			Type:           pipeline.TypeNoiseLevel,
			Interval:       cfg.AudioInterval,
			AcquireTimeout: cfg.AcquireTimeout,
			OnError:        onError,
		}, &simMicrophone{}, &sensor.NoiseDetector{Threshold: cfg.NoiseThreshold}, queue),
	}
	for name, w := range workers {
		if err := w.Start(); err != nil {
			// One sensor down does not stop the pipeline.
			log.Errorw("worker failed to start", "worker", name, "error", err)
		}
	}

	// HTTP + WebSocket surface
	mux := http.NewServeMux()
	server := api.NewServer(store, wsHub, workers, queue, metrics)
	server.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
	go func() {
		log.Infow("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server error", "error", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server shutdown error", "error", err)
	}

	// Producers first, then drain the queue, then flush the store.
	for _, w := range workers {
		w.Stop()
	}
	processor.Stop()
	wsHub.Close()
	if err := store.Close(); err != nil {
		log.Errorw("store close error", "error", err)
	}
	log.Info("service stopped")
}
