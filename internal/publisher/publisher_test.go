package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"journey-detector/internal/detection"
	"journey-detector/internal/journey"
)

type stubConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (s *stubConn) Publish(subject string, data []byte) error {
	if s.err != nil {
		return s.err
	}
	s.subjects = append(s.subjects, subject)
	s.payloads = append(s.payloads, data)
	return nil
}

type stubWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (s *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msgs...)
	return nil
}

func (s *stubWriter) Close() error {
	s.closed = true
	return nil
}

type stubMetrics struct {
	mu        sync.Mutex
	published map[string]int
	failed    map[string]int
	observed  int
	connected bool
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{published: map[string]int{}, failed: map[string]int{}}
}

func (m *stubMetrics) PublishedInc(sink string) {
	m.mu.Lock()
	m.published[sink]++
	m.mu.Unlock()
}

func (m *stubMetrics) PublishErrInc(sink string) {
	m.mu.Lock()
	m.failed[sink]++
	m.mu.Unlock()
}

func (m *stubMetrics) PublishObserve(time.Duration) {
	m.mu.Lock()
	m.observed++
	m.mu.Unlock()
}

func (m *stubMetrics) NATSSetConnected(b bool) { m.connected = b }

func completedEvent() detection.Event {
	j := journey.New(time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC), journey.Cycling)
	snap := j.Snapshot(j.StartedAt.Add(4 * time.Minute))
	return detection.Event{
		Type:       detection.JourneyCompleted,
		DeviceID:   "phone.1",
		OccurredAt: j.StartedAt.Add(4 * time.Minute),
		Journey:    &snap,
	}
}

func TestSubjectToken(t *testing.T) {
	require.Equal(t, "_", subjectToken("  "))
	require.Equal(t, "a_b_c_d", subjectToken("a.b c*d"))
	require.Equal(t, "journeys.phone_1.journey_completed", Subject("journeys", "phone.1", "journey_completed"))
}

func TestNATSPublisherEmit(t *testing.T) {
	conn := &stubConn{}
	m := newStubMetrics()
	p := newNATSPublisher(conn, "journeys", true, m, nil)

	ev := completedEvent()
	require.NoError(t, p.Emit(context.Background(), ev))
	require.Equal(t, []string{"journeys.phone_1.journey_completed"}, conn.subjects)

	var got detection.Event
	require.NoError(t, json.Unmarshal(conn.payloads[0], &got))
	require.Equal(t, detection.JourneyCompleted, got.Type)
	require.Equal(t, "phone.1", got.DeviceID)
	require.Equal(t, ev.Journey.ID, got.Journey.ID)
	require.Equal(t, "velo", got.Journey.TransportType)
	require.Equal(t, 1, m.published[sinkNATS])
	require.Equal(t, 1, m.observed)
}

func TestNATSPublisherSensorSubjects(t *testing.T) {
	conn := &stubConn{}
	p := newNATSPublisher(conn, "sensors", false, nil, nil)
	require.NoError(t, p.PublishActivity("dev1", journey.ActivitySample{Kind: journey.Walking, Confidence: 70}))
	require.NoError(t, p.PublishFix("dev1", journey.LocationFix{Latitude: 1, Longitude: 2}))
	require.Equal(t, []string{"sensors.dev1.activity", "sensors.dev1.location"}, conn.subjects)
	require.Contains(t, string(conn.payloads[1]), `"latitude":1`)
}

func TestNATSPublisherError(t *testing.T) {
	conn := &stubConn{err: errors.New("nats: connection closed")}
	m := newStubMetrics()
	p := newNATSPublisher(conn, "journeys", false, m, nil)
	err := p.Emit(context.Background(), completedEvent())
	require.Error(t, err)
	require.ErrorIs(t, err, conn.err)
	require.Equal(t, 1, m.failed[sinkNATS])
	require.Zero(t, m.published[sinkNATS])
}

func TestKafkaPublisherEmit(t *testing.T) {
	w := &stubWriter{}
	m := newStubMetrics()
	p := newKafkaPublisher(w, "journey_events", m, nil)

	ev := completedEvent()
	require.NoError(t, p.Emit(context.Background(), ev))
	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	require.Equal(t, "phone.1", string(msg.Key))
	require.Equal(t, ev.OccurredAt, msg.Time)
	require.Equal(t, []kafka.Header{
		{Key: "event_type", Value: []byte("journey_completed")},
		{Key: "device_id", Value: []byte("phone.1")},
	}, msg.Headers)

	var got detection.Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	require.Equal(t, ev.Journey.ID, got.Journey.ID)
	require.Equal(t, 1, m.published[sinkKafka])

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}

func TestKafkaPublisherError(t *testing.T) {
	w := &stubWriter{err: errors.New("leader not available")}
	m := newStubMetrics()
	p := newKafkaPublisher(w, "journey_events", m, nil)
	require.ErrorIs(t, p.Emit(context.Background(), completedEvent()), w.err)
	require.Equal(t, 1, m.failed[sinkKafka])
}

func TestFanoutJoinsErrors(t *testing.T) {
	var got []string
	ok := detection.SinkFunc(func(_ context.Context, ev detection.Event) error {
		got = append(got, string(ev.Type))
		return nil
	})
	errA := errors.New("a down")
	failing := detection.SinkFunc(func(context.Context, detection.Event) error { return errA })

	f := Fanout{failing, nil, ok}
	err := f.Emit(context.Background(), detection.Event{Type: detection.DetectionStarted})
	require.ErrorIs(t, err, errA)
	require.Equal(t, []string{"detection_started"}, got)

	require.NoError(t, Fanout{ok}.Emit(context.Background(), detection.Event{Type: detection.DetectionStopped}))
	require.NoError(t, Fanout{}.Emit(context.Background(), detection.Event{}))
}
