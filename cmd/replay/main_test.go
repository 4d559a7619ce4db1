package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"journey-detector/internal/journey"
)

const recording = `
# morning walk
{"type":"activity","kind":"walking","confidence":82,"observed_at":"2025-03-03T08:00:00Z"}
{"type":"location","latitude":48.8566,"longitude":2.3522,"accuracy_meters":5,"observed_at":"2025-03-03T08:00:30Z"}

{"type":"location","latitude":48.8566,"longitude":2.3532,"accuracy_meters":5,"observed_at":"2025-03-03T08:01:30Z"}
{"type":"activity","kind":"still","confidence":90,"observed_at":"2025-03-03T08:03:00Z"}
`

type fakePublisher struct {
	calls []string
	fail  error
	times []time.Time
}

func (p *fakePublisher) PublishActivity(deviceID string, s journey.ActivitySample) error {
	if p.fail != nil {
		return p.fail
	}
	p.calls = append(p.calls, deviceID+":activity:"+string(s.Kind))
	p.times = append(p.times, s.ObservedAt)
	return nil
}

func (p *fakePublisher) PublishFix(deviceID string, f journey.LocationFix) error {
	if p.fail != nil {
		return p.fail
	}
	p.calls = append(p.calls, deviceID+":location")
	p.times = append(p.times, f.ObservedAt)
	return nil
}

func TestReadRecordingRejectsUnknownKind(t *testing.T) {
	_, err := readRecording(strings.NewReader(recording))
	require.ErrorContains(t, err, "line 7")
	require.ErrorIs(t, err, journey.ErrInvalidSample)
}

func validRecording() string {
	return strings.Replace(recording, `"still"`, `"stationary"`, 1)
}

func TestReadRecording(t *testing.T) {
	recs, err := readRecording(strings.NewReader(validRecording()))
	require.NoError(t, err)
	require.Len(t, recs, 4)
	require.Equal(t, journey.Walking, recs[0].activity.Kind)
	require.Equal(t, 2.3532, recs[2].fix.Longitude)
	require.Equal(t, journey.Stationary, recs[3].activity.Kind)
}

func TestReadRecordingErrors(t *testing.T) {
	for name, body := range map[string]string{
		"bad json":     `{"type":`,
		"missing time": `{"type":"location","latitude":1,"longitude":1}`,
		"unknown type": `{"type":"heartbeat","observed_at":"2025-03-03T08:00:00Z"}`,
		"out of order": `{"type":"location","latitude":1,"longitude":1,"observed_at":"2025-03-03T08:00:10Z"}` + "\n" +
			`{"type":"location","latitude":1,"longitude":1,"observed_at":"2025-03-03T08:00:00Z"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := readRecording(strings.NewReader(body))
			require.Error(t, err)
		})
	}
}

func TestReplayKeepsScaledCadence(t *testing.T) {
	recs, err := readRecording(strings.NewReader(validRecording()))
	require.NoError(t, err)

	var gaps []time.Duration
	stamp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	pub := &fakePublisher{}
	r := &replayer{
		pub:      pub,
		deviceID: "dev1",
		speed:    30,
		rewrite:  true,
		now:      func() time.Time { return stamp },
		sleep: func(_ context.Context, d time.Duration) error {
			gaps = append(gaps, d)
			return nil
		},
		logger: zap.NewNop(),
	}
	n, err := r.run(context.Background(), recs)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, gaps)
	require.Equal(t, []string{"dev1:activity:WALKING", "dev1:location", "dev1:location", "dev1:activity:STATIONARY"}, pub.calls)
	for _, ts := range pub.times {
		require.Equal(t, stamp, ts)
	}
}

func TestReplayKeepsRecordedTimestamps(t *testing.T) {
	recs, err := readRecording(strings.NewReader(validRecording()))
	require.NoError(t, err)
	pub := &fakePublisher{}
	r := &replayer{pub: pub, speed: 1, now: time.Now, sleep: func(context.Context, time.Duration) error { return nil }, logger: zap.NewNop()}
	_, err = r.run(context.Background(), recs)
	require.NoError(t, err)
	require.Equal(t, recs[1].at, pub.times[1])
}

func TestReplayStops(t *testing.T) {
	recs, err := readRecording(strings.NewReader(validRecording()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &replayer{pub: &fakePublisher{}, speed: 1, now: time.Now, sleep: sleepCtx, logger: zap.NewNop()}
	n, err := r.run(ctx, recs)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, n)

	boom := errors.New("nats: connection closed")
	r = &replayer{pub: &fakePublisher{fail: boom}, speed: 1, now: time.Now, sleep: sleepCtx, logger: zap.NewNop()}
	n, err = r.run(context.Background(), recs)
	require.ErrorIs(t, err, boom)
	require.Zero(t, n)
}
