// Package detection turns activity samples and location fixes into journeys.
//
// Manager is the journey lifecycle state machine. Every mutating call runs
// under one lock, computes the next journey on a copy, persists it and only
// then commits it to memory, so a storage failure leaves state untouched.
// Events are queued under the lock and delivered to the sink outside it.
// Stillness and journey bounds are timed with the manager clock; sample
// timestamps are kept as reported but never drive the lifecycle.
package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"journey-detector/internal/journey"
	mmetrics "journey-detector/internal/metrics"
	"journey-detector/internal/store"
)

const (
	DefaultStationaryTimeout = 5 * time.Minute
	DefaultMinConfidence     = 60
)

type Manager struct {
	store    store.Store
	out      *outbox
	deviceID string
	now      func() time.Time
	logger   *zap.Logger
	metrics  *mmetrics.Collector

	stationaryTimeout time.Duration
	minConfidence     int
	thresholds        journey.Thresholds
	eventQueue        int
	emitTimeout       time.Duration

	mu              sync.RWMutex
	active          bool
	current         *journey.Journey
	lastActivity    *journey.ActivitySample
	stationarySince *time.Time
	// end time of a journey already archived whose slot clear failed
	archivedEnd *time.Time

	sweepCancel context.CancelFunc
	sweepWG     sync.WaitGroup
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.logger = l } }

func WithMetrics(c *mmetrics.Collector) Option { return func(m *Manager) { m.metrics = c } }

func WithDeviceID(id string) Option { return func(m *Manager) { m.deviceID = id } }

func WithStationaryTimeout(d time.Duration) Option {
	return func(m *Manager) { m.stationaryTimeout = d }
}

func WithMinConfidence(c int) Option { return func(m *Manager) { m.minConfidence = c } }

func WithThresholds(th journey.Thresholds) Option { return func(m *Manager) { m.thresholds = th } }

// WithEventQueue bounds the number of undelivered events. Events beyond it
// are dropped and logged.
func WithEventQueue(n int) Option { return func(m *Manager) { m.eventQueue = n } }

// WithEmitTimeout bounds a single Sink.Emit call.
func WithEmitTimeout(d time.Duration) Option { return func(m *Manager) { m.emitTimeout = d } }

// NewManager builds a manager bound to st. sink may be nil. With a sink, the
// manager owns a delivery goroutine that Close stops.
func NewManager(st store.Store, sink Sink, opts ...Option) *Manager {
	m := &Manager{
		store:             st,
		deviceID:          "default",
		now:               time.Now,
		stationaryTimeout: DefaultStationaryTimeout,
		minConfidence:     DefaultMinConfidence,
		thresholds:        journey.DefaultThresholds,
		eventQueue:        DefaultEventQueue,
		emitTimeout:       DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.With(zap.String("device_id", m.deviceID))
	if sink != nil {
		m.out = newOutbox(sink, m.eventQueue, m.emitTimeout, m.logger)
	}
	return m
}

// Now is the manager clock. Durations of open journeys are measured with it.
func (m *Manager) Now() time.Time { return m.now() }

// Flush blocks until every event queued so far has reached the sink.
func (m *Manager) Flush() {
	if m.out != nil {
		m.out.flush()
	}
}

// Close delivers the queued events and stops the delivery goroutine. Events
// produced after Close are dropped.
func (m *Manager) Close() {
	if m.out != nil {
		m.out.close()
	}
}

// Start turns detection on and restores a journey left open by a previous
// process. It is a no-op when already detecting.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return nil
	}

	recovered, err := m.store.LoadOpenJourney(ctx)
	if err != nil {
		return m.storageFailed(err)
	}
	if recovered != nil && recovered.Status != journey.StatusOpen {
		return m.storageFailed(store.Wrap("load_open",
			fmt.Errorf("%w: slot holds %s journey %s", store.ErrCorruptRecord, recovered.Status, recovered.ID)))
	}

	m.active = true
	m.current = recovered
	m.stationarySince = nil
	m.archivedEnd = nil
	if m.metrics != nil {
		m.metrics.DetectionActive.Set(1)
		mmetrics.SetBool(m.metrics.JourneysOpen, recovered != nil)
	}

	ev := Event{Type: DetectionStarted}
	if recovered != nil {
		m.logger.Info("detection started, journey recovered",
			zap.String("journey_id", recovered.ID),
			zap.Int("fixes", len(recovered.Fixes)),
			zap.Float64("distance_m", recovered.DistanceMeters))
		ev.Journey = m.snapshot(recovered)
	} else {
		m.logger.Info("detection started")
	}
	m.emit(ev)
	return nil
}

// Stop finalizes an open journey, then turns detection off. If finalizing
// fails, detection stays on and the journey stays open.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil
	}
	if m.current != nil {
		if err := m.finalize(ctx, "detection stopped"); err != nil {
			return err
		}
	}
	m.active = false
	m.stationarySince = nil
	if m.metrics != nil {
		m.metrics.DetectionActive.Set(0)
	}
	m.logger.Info("detection stopped")
	m.emit(Event{Type: DetectionStopped})
	return nil
}

// OnActivitySample feeds one classification. Samples are ignored while
// detection is off.
func (m *Manager) OnActivitySample(ctx context.Context, s journey.ActivitySample) error {
	s, err := s.Canonical()
	if err != nil {
		m.invalid("activity", err)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil
	}
	now := m.now()
	if s.ObservedAt.IsZero() {
		s.ObservedAt = now
	}
	sample := s
	m.lastActivity = &sample
	if m.metrics != nil {
		m.metrics.ActivitySamples.WithLabelValues(string(s.Kind)).Inc()
	}
	m.emit(Event{Type: ActivityChanged, Activity: &ActivityChange{Kind: s.Kind, Confidence: s.Confidence}})

	switch {
	case s.Kind == journey.Stationary:
		if m.stationarySince == nil {
			m.stationarySince = &now
		}
		return m.checkStationaryTimeout(ctx)
	case s.MovingConfident(m.minConfidence):
		return m.onMoving(ctx, s, now)
	}
	return nil
}

func (m *Manager) onMoving(ctx context.Context, s journey.ActivitySample, now time.Time) error {
	if m.current == nil {
		j := journey.New(now, s.Kind)
		if err := m.store.SaveOpenJourney(ctx, j); err != nil {
			return m.storageFailed(err)
		}
		m.current = j
		m.stationarySince = nil
		if m.metrics != nil {
			m.metrics.JourneysStarted.Inc()
			m.metrics.JourneysOpen.Set(1)
		}
		m.logger.Info("journey started", zap.String("journey_id", j.ID), zap.String("kind", string(j.ActivityKind)))
		m.emit(Event{Type: JourneyStarted, Journey: m.snapshot(j)})
		return nil
	}

	if m.current.ActivityKind == s.Kind {
		m.stationarySince = nil
		return nil
	}
	next := m.current.Clone()
	next.Retarget(s.Kind)
	if err := m.store.SaveOpenJourney(ctx, next); err != nil {
		return m.storageFailed(err)
	}
	m.logger.Debug("journey retargeted",
		zap.String("journey_id", next.ID),
		zap.String("from", string(m.current.ActivityKind)),
		zap.String("to", string(next.ActivityKind)))
	m.current = next
	m.stationarySince = nil
	return nil
}

// OnLocationFix appends fix to the open journey. Fixes are ignored while
// detection is off or no journey is open.
func (m *Manager) OnLocationFix(ctx context.Context, fix journey.LocationFix) error {
	if err := fix.Validate(); err != nil {
		m.invalid("location", err)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active || m.current == nil {
		return nil
	}
	next := m.current.Clone()
	next.AppendFix(fix)
	if err := m.store.SaveOpenJourney(ctx, next); err != nil {
		return m.storageFailed(err)
	}
	m.current = next
	if m.metrics != nil {
		m.metrics.LocationFixes.Inc()
	}
	m.emit(Event{Type: JourneyUpdated, Journey: m.snapshot(next)})
	return nil
}

// Sweep evaluates the stationary timeout against the clock without waiting
// for another stationary sample.
func (m *Manager) Sweep(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil
	}
	return m.checkStationaryTimeout(ctx)
}

func (m *Manager) checkStationaryTimeout(ctx context.Context) error {
	if m.current == nil || m.stationarySince == nil {
		return nil
	}
	if m.now().Sub(*m.stationarySince) <= m.stationaryTimeout {
		return nil
	}
	return m.finalize(ctx, "stationary timeout")
}

// finalize closes the open journey, archives it if valid and clears the
// slot. m.current is only dropped once both writes succeed. A retry after a
// failed clear reuses the end time already archived.
func (m *Manager) finalize(ctx context.Context, reason string) error {
	end := m.now()
	if m.archivedEnd != nil {
		end = *m.archivedEnd
	}
	next := m.current.Clone()
	next.Close(end)
	valid := next.ValidAgainst(m.thresholds, end)
	if err := next.Classify(valid); err != nil {
		return err
	}

	if valid {
		if err := m.store.AppendToArchive(ctx, next); err != nil {
			return m.storageFailed(err)
		}
		m.archivedEnd = &end
	}
	if err := m.store.ClearOpenJourney(ctx); err != nil {
		return m.storageFailed(err)
	}
	m.current = nil
	m.archivedEnd = nil

	fields := []zap.Field{
		zap.String("journey_id", next.ID),
		zap.String("reason", reason),
		zap.Float64("distance_m", next.DistanceMeters),
		zap.Int("duration_min", next.DurationMinutes(end)),
	}
	evType := JourneyDiscarded
	if valid {
		evType = JourneyCompleted
		m.logger.Info("journey completed", fields...)
	} else {
		m.logger.Info("journey discarded", fields...)
	}
	if m.metrics != nil {
		m.metrics.JourneysOpen.Set(0)
		if valid {
			m.metrics.JourneysCompleted.Inc()
			m.metrics.JourneyDistance.Observe(next.DistanceMeters)
		} else {
			m.metrics.JourneysDiscarded.Inc()
		}
	}
	m.emit(Event{Type: evType, Journey: m.snapshot(next)})
	return nil
}

func (m *Manager) IsDetecting() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// CurrentJourney returns a copy of the open journey, or nil.
func (m *Manager) CurrentJourney() *journey.Journey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// ArchivedJourneys returns finished journeys oldest first. The read lock
// keeps it from observing a finalization halfway through.
func (m *Manager) ArchivedJourneys(ctx context.Context) ([]*journey.Journey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	js, err := m.store.LoadArchive(ctx)
	if err != nil {
		return nil, m.storageFailed(err)
	}
	return js, nil
}

type Status struct {
	DeviceID        string                  `json:"device_id"`
	Detecting       bool                    `json:"detecting"`
	CurrentJourney  *journey.Snapshot       `json:"current_journey,omitempty"`
	LastActivity    *journey.ActivitySample `json:"last_activity,omitempty"`
	StationarySince *time.Time              `json:"stationary_since,omitempty"`
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Status{DeviceID: m.deviceID, Detecting: m.active}
	if m.current != nil {
		st.CurrentJourney = m.snapshot(m.current)
	}
	if m.lastActivity != nil {
		a := *m.lastActivity
		st.LastActivity = &a
	}
	if m.stationarySince != nil {
		t := *m.stationarySince
		st.StationarySince = &t
	}
	return st
}

// StartSweeper runs Sweep every interval until StopSweeper or ctx is done.
// A non-positive interval leaves the sweeper off.
func (m *Manager) StartSweeper(parent context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.sweepCancel = cancel
	m.sweepWG.Add(1)
	go func() {
		defer m.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Sweep(ctx); err != nil {
					m.logger.Error("stationary sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

func (m *Manager) StopSweeper() {
	if m.sweepCancel != nil {
		m.sweepCancel()
	}
	m.sweepWG.Wait()
}

func (m *Manager) snapshot(j *journey.Journey) *journey.Snapshot {
	s := j.Snapshot(m.now())
	return &s
}

// emit queues ev for delivery. It never waits on the sink.
func (m *Manager) emit(ev Event) {
	if m.out == nil {
		return
	}
	ev.DeviceID = m.deviceID
	ev.OccurredAt = m.now()
	if !m.out.push(ev) {
		if m.metrics != nil {
			m.metrics.EventPublishErrors.WithLabelValues("outbox").Inc()
		}
		m.logger.Warn("event dropped", zap.String("event", string(ev.Type)))
	}
}

func (m *Manager) storageFailed(err error) error {
	op := "unknown"
	var se *store.StorageError
	if errors.As(err, &se) {
		op = se.Op
	} else {
		err = store.Wrap(op, err)
	}
	if m.metrics != nil {
		m.metrics.StorageErrors.WithLabelValues(op).Inc()
	}
	m.logger.Error("journey store failure", zap.String("op", op), zap.Error(err))
	return err
}

func (m *Manager) invalid(source string, err error) {
	if m.metrics != nil {
		m.metrics.InvalidSamples.WithLabelValues(source).Inc()
	}
	m.logger.Warn("invalid sample rejected", zap.String("source", source), zap.Error(err))
}
