package db

import (
	"errors"
	"net/url"
	"strings"
)

var errEmptyDSN = errors.New("empty DSN")

func parseDSN(dsn string) (*url.URL, error) {
	if dsn == "" {
		return nil, errEmptyDSN
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	return url.Parse(dsn)
}

// WithDBName returns dsn with its database path replaced by database. A DSN
// without scheme is treated as postgres://.
func WithDBName(dsn, database string) (string, error) {
	u, err := parseDSN(dsn)
	if err != nil {
		return "", err
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}

// Redact masks the password of dsn so it can be logged.
func Redact(dsn string) string {
	u, err := parseDSN(dsn)
	if err != nil {
		return "<invalid dsn>"
	}
	return u.Redacted()
}
