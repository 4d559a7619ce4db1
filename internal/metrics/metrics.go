package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Collector struct {
	reg *prometheus.Registry

	DetectionActive prometheus.Gauge
	JourneysOpen    prometheus.Gauge

	JourneysStarted   prometheus.Counter
	JourneysCompleted prometheus.Counter
	JourneysDiscarded prometheus.Counter

	ActivitySamples *prometheus.CounterVec // kind label
	LocationFixes   prometheus.Counter
	InvalidSamples  *prometheus.CounterVec // source label: activity|location
	StorageErrors   *prometheus.CounterVec // op label

	EventsPublished    *prometheus.CounterVec // sink label: nats|kafka
	EventPublishErrors *prometheus.CounterVec // sink label
	NATSConnected      prometheus.Gauge

	JourneyDistance prometheus.Histogram // accepted journeys only
	HandleDuration  prometheus.Histogram
	PublishDuration prometheus.Histogram

	StationaryTimeout prometheus.Gauge // seconds
	MinConfidence     prometheus.Gauge
}

func NewCollector(stationaryTimeout time.Duration, minConfidence int) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		DetectionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "journeydetector_detection_active",
			Help: "1 while detection is running, 0 otherwise.",
		}),
		JourneysOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "journeydetector_journeys_open",
			Help: "Number of open journeys (0 or 1).",
		}),
		JourneysStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journeydetector_journeys_started_total",
			Help: "Total journeys opened.",
		}),
		JourneysCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journeydetector_journeys_completed_total",
			Help: "Total journeys accepted and archived.",
		}),
		JourneysDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journeydetector_journeys_discarded_total",
			Help: "Total journeys rejected as too short.",
		}),
		ActivitySamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journeydetector_activity_samples_total",
			Help: "Activity samples handled while detecting.",
		}, []string{"kind"}),
		LocationFixes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journeydetector_location_fixes_total",
			Help: "Location fixes appended to an open journey.",
		}),
		InvalidSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journeydetector_invalid_samples_total",
			Help: "Malformed samples rejected at the boundary.",
		}, []string{"source"}),
		StorageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journeydetector_storage_errors_total",
			Help: "Journey store failures by operation.",
		}, []string{"op"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journeydetector_events_published_total",
			Help: "Lifecycle events published per sink.",
		}, []string{"sink"}),
		EventPublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journeydetector_event_publish_errors_total",
			Help: "Lifecycle event publish failures per sink.",
		}, []string{"sink"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "journeydetector_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		JourneyDistance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "journeydetector_journey_distance_meters",
			Help:    "Distance of accepted journeys.",
			Buckets: prometheus.ExponentialBuckets(100, 2, 12),
		}),
		HandleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "journeydetector_handle_duration_seconds",
			Help:    "Duration of handling one sensor event, persistence included.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "journeydetector_publish_duration_seconds",
			Help:    "Duration to marshal and publish a lifecycle event.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		StationaryTimeout: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "journeydetector_stationary_timeout_seconds",
			Help: "Configured stillness before an open journey is closed.",
		}),
		MinConfidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "journeydetector_min_confidence",
			Help: "Configured minimum confidence for a moving sample.",
		}),
	}

	reg.MustRegister(
		c.DetectionActive, c.JourneysOpen,
		c.JourneysStarted, c.JourneysCompleted, c.JourneysDiscarded,
		c.ActivitySamples, c.LocationFixes, c.InvalidSamples, c.StorageErrors,
		c.EventsPublished, c.EventPublishErrors, c.NATSConnected,
		c.JourneyDistance, c.HandleDuration, c.PublishDuration,
		c.StationaryTimeout, c.MinConfidence,
	)

	c.StationaryTimeout.Set(stationaryTimeout.Seconds())
	c.MinConfidence.Set(float64(minConfidence))

	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", addr))
	return srv
}

// SetBool sets g to 1 or 0.
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}
