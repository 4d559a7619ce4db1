package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"journey-detector/internal/api"
	"journey-detector/internal/config"
	"journey-detector/internal/db"
	"journey-detector/internal/detection"
	"journey-detector/internal/ingest"
	"journey-detector/internal/journey"
	"journey-detector/internal/logger"
	"journey-detector/internal/metrics"
	"journey-detector/internal/publisher"
	"journey-detector/internal/store"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("config error: %v", err))
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mcol := metrics.NewCollector(cfg.StationaryTimeout, cfg.MinConfidence)
	if cfg.MetricsAddr != "" {
		srv := mcol.Serve(cfg.MetricsAddr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("store error", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer closeStore()

	var sinks publisher.Fanout
	var natsPub *publisher.NATSPublisher
	if cfg.HasSink(config.SinkNATS) || cfg.SubscribeSensors {
		natsPub, err = publisher.NewNATSPublisher(cfg.NATSURL, cfg.EventSubjectPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol), log.Named("nats"))
		if err != nil {
			log.Fatal("nats error", zap.Error(err))
		}
		defer natsPub.Close()
		if cfg.HasSink(config.SinkNATS) {
			sinks = append(sinks, natsPub)
		}
	}
	if cfg.HasSink(config.SinkKafka) {
		kp := publisher.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, wrapPublisherMetrics(mcol), log.Named("kafka"))
		defer func() { _ = kp.Close() }()
		sinks = append(sinks, kp)
	}

	mgr := detection.NewManager(st, sinks,
		detection.WithDeviceID(cfg.DeviceID),
		detection.WithLogger(log.Named("detection")),
		detection.WithMetrics(mcol),
		detection.WithStationaryTimeout(cfg.StationaryTimeout),
		detection.WithMinConfidence(cfg.MinConfidence),
		detection.WithThresholds(journey.Thresholds{
			MinDistanceMeters: cfg.MinJourneyDistance,
			MinDuration:       cfg.MinJourneyDuration,
		}),
	)
	defer mgr.Close()
	if cfg.AutoStart {
		if err := mgr.Start(ctx); err != nil {
			log.Fatal("start detection", zap.Error(err))
		}
	}
	mgr.StartSweeper(ctx, cfg.SweepInterval)
	defer mgr.StopSweeper()

	disp := ingest.NewDispatcher(mgr, ingest.DefaultBuffer, log.Named("ingest"), mcol)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := disp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("dispatcher stopped", zap.Error(err))
		}
	}()

	if cfg.SubscribeSensors {
		src := ingest.NewNATSSource(natsPub.Conn(), disp, cfg.SensorSubjectPrefix, cfg.DeviceID, log.Named("ingest"), mcol)
		if err := src.Start(ctx); err != nil {
			log.Fatal("sensor subscription", zap.Error(err))
		}
		defer src.Stop()
	}

	if cfg.HTTPAddr != "" {
		app := api.New(mgr, log.Named("api"))
		go func() {
			if err := app.Listen(cfg.HTTPAddr); err != nil {
				log.Error("http server error", zap.Error(err))
			}
		}()
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		defer func() { _ = app.ShutdownWithTimeout(3 * time.Second) }()
	}

	log.Info("journey detector running",
		zap.String("device_id", cfg.DeviceID),
		zap.String("store", cfg.StoreBackend),
		zap.Strings("sinks", cfg.EventSinks),
		zap.Bool("detecting", mgr.IsDetecting()))

	// Block until context cancelled
	<-ctx.Done()
	<-runDone
	// An open journey stays persisted and is recovered on the next start.
	log.Info("shutdown complete", zap.Bool("journey_open", mgr.CurrentJourney() != nil))
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("using postgres store", zap.String("dsn", db.Redact(cfg.DatabaseURL)))
		return store.NewPostgres(pool, cfg.DeviceID), pool.Close, nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		log.Info("using redis store", zap.String("addr", cfg.RedisAddr))
		return store.NewRedis(client, cfg.DeviceID), func() { _ = client.Close() }, nil
	}
	log.Warn("using in-memory store; journeys do not survive a restart")
	return store.NewMemory(), func() {}, nil
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) PublishedInc(sink string)       { p.c.EventsPublished.WithLabelValues(sink).Inc() }
func (p *pubMetrics) PublishErrInc(sink string)      { p.c.EventPublishErrors.WithLabelValues(sink).Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool)        { metrics.SetBool(p.c.NATSConnected, b) }
