package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"journey-detector/internal/detection"
	"journey-detector/internal/journey"
)

const sinkNATS = "nats"

type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes JSON messages under a subject prefix. As an event
// sink it writes to <prefix>.<device>.<event_type>; the replay tool uses the
// same type with the sensor prefix.
type NATSPublisher struct {
	nc          *nats.Conn
	conn        natsConn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
	logger      *zap.Logger
}

type PublisherMetrics interface {
	PublishedInc(sink string)
	PublishErrInc(sink string)
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("journey-detector"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := newNATSPublisher(nc, prefix, logSubjects, m, logger)
	p.nc = nc
	return p, nil
}

func newNATSPublisher(conn natsConn, prefix string, logSubjects bool, m PublisherMetrics, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logSubjects: logSubjects, metrics: m, logger: logger}
}

// Conn exposes the underlying connection so subscribers can share it.
func (p *NATSPublisher) Conn() *nats.Conn { return p.nc }

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// Emit implements detection.Sink.
func (p *NATSPublisher) Emit(_ context.Context, ev detection.Event) error {
	return p.publish(Subject(p.prefix, ev.DeviceID, string(ev.Type)), ev)
}

func (p *NATSPublisher) PublishActivity(deviceID string, s journey.ActivitySample) error {
	return p.publish(Subject(p.prefix, deviceID, "activity"), s)
}

func (p *NATSPublisher) PublishFix(deviceID string, f journey.LocationFix) error {
	return p.publish(Subject(p.prefix, deviceID, "location"), f)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.logger.Debug("nats publish", zap.String("subject", subject))
	}
	start := time.Now()
	err = p.conn.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.PublishErrInc(sinkNATS)
		} else {
			p.metrics.PublishedInc(sinkNATS)
		}
	}
	if err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subject joins prefix with sanitized device and leaf tokens.
func Subject(prefix, deviceID, leaf string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, subjectToken(deviceID), subjectToken(leaf))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
