package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"factory-edge/internal/backfill"
	sqlitebuf "factory-edge/internal/buffer/sqlite"
	"factory-edge/internal/cloud"
	"factory-edge/internal/commands"
	"factory-edge/internal/faults"
	"factory-edge/internal/generator"
	"factory-edge/internal/mqttbus"
	"factory-edge/internal/observability/metrics"
	"factory-edge/internal/pipeline"
	telemetry "factory-edge/internal/telemetry/domain"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	logger.Printf("factory edge agent starting")
	logger.Printf("mqtt broker: %s", cfg.brokerURL())
	logger.Printf("cloud api: %s", cfg.CloudAPIURL)
	logger.Printf("tenant: %s, plant: %s", cfg.TenantID, cfg.PlantID)
	logger.Printf("telemetry interval: %s", cfg.TelemetryInterval)

	metrics.Init()

	store, err := sqlitebuf.Open(cfg.BufferDBPath)
	if err != nil {
		logger.Fatalf("buffer store error: %v", err)
	}
	defer store.Close()
	logger.Printf("buffer database initialized at %s", cfg.BufferDBPath)

	state := faults.NewState()

	clientOpts := []cloud.Option{cloud.WithTimeout(cfg.CloudTimeout)}
	if cfg.IngestHMACSecret != "" {
		clientOpts = append(clientOpts, cloud.WithHMACSecret([]byte(cfg.IngestHMACSecret)))
	}
	if cfg.IngestJWTSecret != "" {
		clientOpts = append(clientOpts, cloud.WithJWTSecret([]byte(cfg.IngestJWTSecret)))
	}
	client, err := cloud.NewClient(cfg.CloudAPIURL, cfg.TenantID, state, clientOpts...)
	if err != nil {
		logger.Fatalf("cloud client error: %v", err)
	}

	handler, err := commands.NewHandler(state, store, logger)
	if err != nil {
		logger.Fatalf("command handler error: %v", err)
	}

	bus, err := mqttbus.NewBus(mqttbus.Config{
		BrokerURL:    cfg.brokerURL(),
		ClientID:     "edge-agent-" + cfg.PlantID,
		CommandTopic: telemetry.CommandTopic(cfg.TenantID, cfg.PlantID),
		OnCommand:    handler.Enqueue,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatalf("mqtt bus error: %v", err)
	}

	layout, err := generator.LoadLayout(cfg.FactoryLayoutPath)
	if err != nil {
		logger.Fatalf("factory layout error: %v", err)
	}
	gen, err := generator.New(cfg.TenantID, cfg.PlantID, layout, state)
	if err != nil {
		logger.Fatalf("generator error: %v", err)
	}

	pipe, err := pipeline.New(gen, bus, store, client, state, logger,
		pipeline.WithInterval(cfg.TelemetryInterval))
	if err != nil {
		logger.Fatalf("pipeline error: %v", err)
	}
	loop, err := backfill.NewLoop(store, client, state, logger,
		backfill.WithInterval(cfg.BackfillInterval),
		backfill.WithBatchSize(cfg.BackfillBatch))
	if err != nil {
		logger.Fatalf("backfill loop error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bus.Connect(ctx); err != nil {
		logger.Fatalf("mqtt connect error: %v", err)
	}
	defer bus.Close()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		handler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		pipe.Run(ctx)
	}()

	if cfg.BufferRetention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runCompaction(ctx, store, cfg.BufferRetention, cfg.CompactInterval, logger)
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	wg.Wait()
	logger.Printf("edge agent stopped")
}

// runCompaction periodically removes sent records older than the
// retention window. Unsent records are never compacted.
func runCompaction(ctx context.Context, store *sqlitebuf.Store, retention, interval time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.CompactSent(ctx, retention)
			if err != nil {
				logger.Printf("buffer compaction error: %v", err)
				continue
			}
			if removed > 0 {
				logger.Printf("buffer compaction removed %d sent records", removed)
			}
		}
	}
}

type config struct {
	MQTTHost          string
	MQTTPort          int
	CloudAPIURL       string
	TenantID          string
	PlantID           string
	HTTPAddr          string
	BufferDBPath      string
	FactoryLayoutPath string
	TelemetryInterval time.Duration
	BackfillInterval  time.Duration
	BackfillBatch     int
	CloudTimeout      time.Duration
	BufferRetention   time.Duration
	CompactInterval   time.Duration
	IngestHMACSecret  string
	IngestJWTSecret   string
}

func (c config) brokerURL() string {
	return "tcp://" + c.MQTTHost + ":" + strconv.Itoa(c.MQTTPort)
}

func loadConfig() config {
	cfg := config{
		MQTTHost:          getenvDefault("MQTT_HOST", "localhost"),
		MQTTPort:          getenvIntDefault("MQTT_PORT", 1883),
		CloudAPIURL:       getenvDefault("CLOUD_API_URL", "http://localhost:8000"),
		TenantID:          getenvDefault("TENANT_ID", "acme"),
		PlantID:           getenvDefault("PLANT_ID", "plant-01"),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":9090"),
		BufferDBPath:      getenvDefault("BUFFER_DB_PATH", "var/buffer/telemetry.db"),
		FactoryLayoutPath: getenvDefault("FACTORY_CONFIG", ""),
		TelemetryInterval: time.Duration(getenvIntDefault("TELEMETRY_INTERVAL_MS", 2000)) * time.Millisecond,
		BackfillInterval:  getenvDuration("BACKFILL_INTERVAL", 5*time.Second),
		BackfillBatch:     getenvIntDefault("BACKFILL_BATCH", 50),
		CloudTimeout:      getenvDuration("CLOUD_TIMEOUT", 5*time.Second),
		BufferRetention:   getenvDuration("BUFFER_RETENTION", 24*time.Hour),
		CompactInterval:   getenvDuration("BUFFER_COMPACT_INTERVAL", time.Hour),
		IngestHMACSecret:  getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestJWTSecret:   getenvDefault("INGEST_JWT_SECRET", ""),
	}
	if cfg.TelemetryInterval <= 0 {
		log.Fatal("TELEMETRY_INTERVAL_MS must be positive")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
