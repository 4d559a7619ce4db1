// Package ingest serializes the activity and location producers onto one
// ordered channel consumed by a single loop.
package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"journey-detector/internal/journey"
	mmetrics "journey-detector/internal/metrics"
)

type Kind int

const (
	KindActivity Kind = iota + 1
	KindLocation
)

func (k Kind) String() string {
	switch k {
	case KindActivity:
		return "activity"
	case KindLocation:
		return "location"
	}
	return "unknown"
}

type Event struct {
	Kind     Kind
	Activity journey.ActivitySample
	Fix      journey.LocationFix
}

// Handler is the lifecycle side of the dispatcher; *detection.Manager
// satisfies it.
type Handler interface {
	OnActivitySample(ctx context.Context, s journey.ActivitySample) error
	OnLocationFix(ctx context.Context, f journey.LocationFix) error
}

type Dispatcher struct {
	ch      chan Event
	handler Handler
	logger  *zap.Logger
	metrics *mmetrics.Collector
}

const DefaultBuffer = 256

func NewDispatcher(h Handler, buffer int, logger *zap.Logger, m *mmetrics.Collector) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{ch: make(chan Event, buffer), handler: h, logger: logger, metrics: m}
}

// Submit enqueues ev, blocking while the buffer is full.
func (d *Dispatcher) Submit(ctx context.Context, ev Event) error {
	select {
	case d.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) SubmitActivity(ctx context.Context, s journey.ActivitySample) error {
	return d.Submit(ctx, Event{Kind: KindActivity, Activity: s})
}

func (d *Dispatcher) SubmitFix(ctx context.Context, f journey.LocationFix) error {
	return d.Submit(ctx, Event{Kind: KindLocation, Fix: f})
}

// Run handles events in arrival order until ctx is done. Handler errors are
// logged and the loop continues.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.ch:
			d.handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) {
	start := time.Now()
	var err error
	switch ev.Kind {
	case KindActivity:
		err = d.handler.OnActivitySample(ctx, ev.Activity)
	case KindLocation:
		err = d.handler.OnLocationFix(ctx, ev.Fix)
	default:
		d.logger.Warn("unknown ingest event dropped", zap.Int("kind", int(ev.Kind)))
		return
	}
	if d.metrics != nil {
		d.metrics.HandleDuration.Observe(time.Since(start).Seconds())
	}
	if err == nil {
		return
	}
	if errors.Is(err, journey.ErrInvalidSample) {
		d.logger.Warn("sample rejected", zap.Stringer("kind", ev.Kind), zap.Error(err))
		return
	}
	d.logger.Error("sample handling failed", zap.Stringer("kind", ev.Kind), zap.Error(err))
}
