package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"journey-detector/internal/config"
	"journey-detector/internal/ingest"
	"journey-detector/internal/journey"
	"journey-detector/internal/logger"
	"journey-detector/internal/publisher"
)

func main() {
	cfg, err := config.LoadReplay()
	if err != nil {
		panic(fmt.Sprintf("config error: %v", err))
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	path := cfg.File
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if path == "" {
		log.Fatal("no recording given: pass a path or set REPLAY_FILE")
	}
	f, err := os.Open(path)
	if err != nil {
		log.Fatal("open recording", zap.Error(err))
	}
	recs, err := readRecording(f)
	_ = f.Close()
	if err != nil {
		log.Fatal("read recording", zap.String("path", path), zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.SensorSubjectPrefix, false, nil, log.Named("nats"))
	if err != nil {
		log.Fatal("nats error", zap.Error(err))
	}
	defer pub.Close()

	r := &replayer{
		pub:      pub,
		deviceID: cfg.DeviceID,
		speed:    cfg.SpeedMultiplier,
		rewrite:  cfg.RewriteTimestamps,
		now:      time.Now,
		sleep:    sleepCtx,
		logger:   log,
	}
	log.Info("replaying recording",
		zap.String("path", path),
		zap.Int("records", len(recs)),
		zap.Float64("speed", cfg.SpeedMultiplier),
		zap.String("device_id", cfg.DeviceID))
	n, err := r.run(ctx, recs)
	if err != nil {
		log.Error("replay stopped", zap.Int("published", n), zap.Error(err))
		return
	}
	log.Info("replay complete", zap.Int("published", n))
}

type record struct {
	at       time.Time
	activity *journey.ActivitySample
	fix      *journey.LocationFix
}

type recordHeader struct {
	Type       string    `json:"type"`
	ObservedAt time.Time `json:"observed_at"`
}

// readRecording parses JSON lines of the form
// {"type":"activity","kind":"walking","confidence":80,"observed_at":...} or
// {"type":"location","latitude":...,"longitude":...,"observed_at":...}.
// Blank lines and lines starting with '#' are skipped. Records must be in
// chronological order.
func readRecording(r io.Reader) ([]record, error) {
	var out []record
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var h recordHeader
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if h.ObservedAt.IsZero() {
			return nil, fmt.Errorf("line %d: observed_at is required", line)
		}
		rec := record{at: h.ObservedAt}
		switch h.Type {
		case "activity":
			s, err := ingest.DecodeActivity([]byte(raw))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			rec.activity = &s
		case "location":
			f, err := ingest.DecodeFix([]byte(raw))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			rec.fix = &f
		default:
			return nil, fmt.Errorf("line %d: unknown record type %q", line, h.Type)
		}
		if n := len(out); n > 0 && rec.at.Before(out[n-1].at) {
			return nil, fmt.Errorf("line %d: out of order record", line)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type sensorPublisher interface {
	PublishActivity(deviceID string, s journey.ActivitySample) error
	PublishFix(deviceID string, f journey.LocationFix) error
}

type replayer struct {
	pub      sensorPublisher
	deviceID string
	speed    float64
	rewrite  bool
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	logger   *zap.Logger
}

// run publishes recs keeping their recorded spacing divided by speed. With
// rewrite set, each record is stamped with the publish time.
func (r *replayer) run(ctx context.Context, recs []record) (int, error) {
	published := 0
	for i, rec := range recs {
		if i > 0 {
			gap := time.Duration(float64(rec.at.Sub(recs[i-1].at)) / r.speed)
			if err := r.sleep(ctx, gap); err != nil {
				return published, err
			}
		}
		var err error
		switch {
		case rec.activity != nil:
			s := *rec.activity
			if r.rewrite {
				s.ObservedAt = r.now()
			}
			err = r.pub.PublishActivity(r.deviceID, s)
		case rec.fix != nil:
			f := *rec.fix
			if r.rewrite {
				f.ObservedAt = r.now()
			}
			err = r.pub.PublishFix(r.deviceID, f)
		}
		if err != nil {
			return published, err
		}
		published++
		r.logger.Debug("record published", zap.Int("index", i), zap.Time("recorded_at", rec.at))
	}
	return published, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
