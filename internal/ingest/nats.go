package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"journey-detector/internal/journey"
	mmetrics "journey-detector/internal/metrics"
)

type activityMessage struct {
	Kind       string    `json:"kind"`
	Confidence int       `json:"confidence"`
	ObservedAt time.Time `json:"observed_at"`
}

// DecodeActivity parses and validates one activity message. The kind is
// normalized to its canonical name.
func DecodeActivity(data []byte) (journey.ActivitySample, error) {
	var msg activityMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return journey.ActivitySample{}, &journey.InvalidSampleError{Field: "body", Reason: err.Error()}
	}
	kind, err := journey.ParseActivityKind(msg.Kind)
	if err != nil {
		return journey.ActivitySample{}, err
	}
	s := journey.ActivitySample{Kind: kind, Confidence: msg.Confidence, ObservedAt: msg.ObservedAt}
	if err := s.Validate(); err != nil {
		return journey.ActivitySample{}, err
	}
	return s, nil
}

// DecodeFix parses and validates one location message.
func DecodeFix(data []byte) (journey.LocationFix, error) {
	var f journey.LocationFix
	if err := json.Unmarshal(data, &f); err != nil {
		return journey.LocationFix{}, &journey.InvalidSampleError{Field: "body", Reason: err.Error()}
	}
	if err := f.Validate(); err != nil {
		return journey.LocationFix{}, err
	}
	return f, nil
}

type subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// NATSSource feeds sensor messages from <prefix>.<device>.activity and
// <prefix>.<device>.location into a Dispatcher.
type NATSSource struct {
	conn    subscriber
	disp    *Dispatcher
	prefix  string
	device  string
	logger  *zap.Logger
	metrics *mmetrics.Collector

	ctx  context.Context
	subs []*nats.Subscription
}

func NewNATSSource(nc *nats.Conn, d *Dispatcher, prefix, deviceID string, logger *zap.Logger, m *mmetrics.Collector) *NATSSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSource{conn: nc, disp: d, prefix: prefix, device: deviceID, logger: logger, metrics: m}
}

func (s *NATSSource) ActivitySubject() string { return fmt.Sprintf("%s.%s.activity", s.prefix, s.device) }

func (s *NATSSource) LocationSubject() string { return fmt.Sprintf("%s.%s.location", s.prefix, s.device) }

// Start subscribes both subjects. Messages are submitted with ctx.
func (s *NATSSource) Start(ctx context.Context) error {
	s.ctx = ctx
	for _, sub := range []struct {
		subject string
		cb      nats.MsgHandler
	}{
		{s.ActivitySubject(), func(m *nats.Msg) { s.HandleActivity(m.Data) }},
		{s.LocationSubject(), func(m *nats.Msg) { s.HandleLocation(m.Data) }},
	} {
		ns, err := s.conn.Subscribe(sub.subject, sub.cb)
		if err != nil {
			s.Stop()
			return fmt.Errorf("subscribe %s: %w", sub.subject, err)
		}
		s.subs = append(s.subs, ns)
		s.logger.Info("subscribed", zap.String("subject", sub.subject))
	}
	return nil
}

func (s *NATSSource) Stop() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *NATSSource) HandleActivity(data []byte) {
	sample, err := DecodeActivity(data)
	if err != nil {
		s.drop("activity", err)
		return
	}
	if err := s.disp.SubmitActivity(s.context(), sample); err != nil {
		s.logger.Warn("activity not enqueued", zap.Error(err))
	}
}

func (s *NATSSource) HandleLocation(data []byte) {
	fix, err := DecodeFix(data)
	if err != nil {
		s.drop("location", err)
		return
	}
	if err := s.disp.SubmitFix(s.context(), fix); err != nil {
		s.logger.Warn("fix not enqueued", zap.Error(err))
	}
}

func (s *NATSSource) context() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *NATSSource) drop(source string, err error) {
	if s.metrics != nil {
		s.metrics.InvalidSamples.WithLabelValues(source).Inc()
	}
	s.logger.Warn("invalid sensor message dropped", zap.String("source", source), zap.Error(err))
}
