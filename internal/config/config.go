package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"journey-detector/internal/db"
)

type Config struct {
	DeviceID     string
	StoreBackend string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NATSURL             string
	SubscribeSensors    bool
	SensorSubjectPrefix string
	EventSubjectPrefix  string
	LogNATSSubjects     bool

	EventSinks   []string
	KafkaBrokers []string
	KafkaTopic   string

	HTTPAddr    string
	MetricsAddr string

	StationaryTimeout  time.Duration
	MinConfidence      int
	MinJourneyDistance float64
	MinJourneyDuration time.Duration
	SweepInterval      time.Duration
	AutoStart          bool

	LogLevel  string
	LogFormat string
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"

	SinkNATS  = "nats"
	SinkKafka = "kafka"
)

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.DeviceID = getenvDefault("DEVICE_ID", "default")

	cfg.StoreBackend = strings.ToLower(getenvDefault("STORE_BACKEND", BackendMemory))
	switch cfg.StoreBackend {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND: %q", cfg.StoreBackend)
	}

	if cfg.StoreBackend == BackendPostgres {
		dsn, err := databaseURL()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
	}

	cfg.RedisAddr = getenvDefault("REDIS_ADDR", "127.0.0.1:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid REDIS_DB: %q", v)
		}
		cfg.RedisDB = n
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	var err error
	if cfg.SubscribeSensors, err = getenvBool("SUBSCRIBE_SENSORS", true); err != nil {
		return nil, err
	}
	cfg.SensorSubjectPrefix = getenvDefault("SENSOR_SUBJECT_PREFIX", "sensors")
	cfg.EventSubjectPrefix = getenvDefault("EVENT_SUBJECT_PREFIX", "journeys")

	// Debug logging for NATS publish subjects
	if cfg.LogNATSSubjects, err = getenvBool("LOG_NATS_SUBJECTS", false); err != nil {
		return nil, err
	}

	sinks, set := os.LookupEnv("EVENT_SINKS")
	if !set {
		sinks = SinkNATS
	}
	for _, s := range splitList(sinks) {
		s = strings.ToLower(s)
		if s != SinkNATS && s != SinkKafka {
			return nil, fmt.Errorf("invalid EVENT_SINKS entry: %q", s)
		}
		cfg.EventSinks = append(cfg.EventSinks, s)
	}

	cfg.KafkaBrokers = splitList(getenvDefault("KAFKA_BROKERS", "127.0.0.1:9092"))
	cfg.KafkaTopic = getenvDefault("KAFKA_TOPIC", "journey_events")
	if cfg.HasSink(SinkKafka) && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS must be set when EVENT_SINKS includes kafka")
	}

	// Empty disables the listener.
	cfg.HTTPAddr = ":8080"
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}
	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	if cfg.StationaryTimeout, err = getenvSeconds("STATIONARY_TIMEOUT_SEC", 300, false); err != nil {
		return nil, err
	}
	if cfg.MinJourneyDuration, err = getenvSeconds("MIN_JOURNEY_DURATION_SEC", 120, true); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getenvSeconds("STATIONARY_SWEEP_INTERVAL_SEC", 0, true); err != nil {
		return nil, err
	}

	cfg.MinConfidence = 60
	if v := os.Getenv("MIN_CONFIDENCE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			return nil, fmt.Errorf("invalid MIN_CONFIDENCE: %q", v)
		}
		cfg.MinConfidence = n
	}

	cfg.MinJourneyDistance = 100
	if v := os.Getenv("MIN_JOURNEY_DISTANCE_M"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid MIN_JOURNEY_DISTANCE_M: %q", v)
		}
		cfg.MinJourneyDistance = f
	}

	if cfg.AutoStart, err = getenvBool("AUTO_START", true); err != nil {
		return nil, err
	}

	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getenvDefault("LOG_FORMAT", "json")

	return cfg, nil
}

func (c *Config) HasSink(name string) bool {
	for _, s := range c.EventSinks {
		if s == name {
			return true
		}
	}
	return false
}

// databaseURL prefers DATABASE_URL / PG_DSN, else builds from PG* vars.
// PGDATABASE alongside a URL overrides the URL's database name.
func databaseURL() (string, error) {
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn != "" {
		if name := os.Getenv("PGDATABASE"); name != "" {
			return db.WithDBName(dsn, name)
		}
		return dsn, nil
	}

	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	name := os.Getenv("PGDATABASE")
	if name == "" {
		return "", errors.New("PGDATABASE or DATABASE_URL must be set when STORE_BACKEND=postgres")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, name, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, name, sslmode), nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvBool(k string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s: %q", k, v)
}

func getenvSeconds(k string, def int, allowZero bool) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return time.Duration(def) * time.Second, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec < 0 || (sec == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}

// Replay configures cmd/replay.
type Replay struct {
	NATSURL             string
	DeviceID            string
	SensorSubjectPrefix string
	File                string
	SpeedMultiplier     float64
	RewriteTimestamps   bool
	LogLevel            string
	LogFormat           string
}

func LoadReplay() (*Replay, error) {
	_ = godotenv.Load()

	cfg := &Replay{
		NATSURL:             getenvDefault("NATS_URL", "nats://127.0.0.1:4222"),
		DeviceID:            getenvDefault("DEVICE_ID", "default"),
		SensorSubjectPrefix: getenvDefault("SENSOR_SUBJECT_PREFIX", "sensors"),
		File:                os.Getenv("REPLAY_FILE"),
		LogLevel:            getenvDefault("LOG_LEVEL", "info"),
		LogFormat:           getenvDefault("LOG_FORMAT", "text"),
	}

	// Speed multiplier
	if v := os.Getenv("SPEED_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid SPEED_MULTIPLIER: %q", v)
		}
		cfg.SpeedMultiplier = f
	} else {
		cfg.SpeedMultiplier = 1.0
	}

	var err error
	if cfg.RewriteTimestamps, err = getenvBool("REPLAY_REWRITE_TIMESTAMPS", true); err != nil {
		return nil, err
	}
	return cfg, nil
}
