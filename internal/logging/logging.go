// Package logging configures the logrus logger used across the server.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	log "github.com/sirupsen/logrus"
)

// Options selects level, format and destination of the log output.
type Options struct {
	Level  string // logrus level name
	Format string // text or json
	File   string // base name of a daily rotated log file, stdout when empty
}

// LogName returns the rotated log name for base, tagged with the hostname
// or the pod name in a k8s environment.
func LogName(base string) string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = ""
	}
	if pod := os.Getenv("MY_POD_NAME"); pod != "" {
		hostname = pod
	}
	if hostname != "" {
		return fmt.Sprintf("%s_%s", base, hostname) + "_%Y%m%d"
	}
	return base + "_%Y%m%d"
}

// New builds a logger from opts. The returned closer releases the log file
// and is never nil.
func New(opts Options) (*log.Logger, io.Closer, error) {
	logger := log.New()

	level := opts.Level
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}
	logger.SetLevel(lvl)

	switch opts.Format {
	case "json":
		logger.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	if opts.File == "" {
		logger.SetOutput(os.Stdout)
		return logger, nopCloser{}, nil
	}
	rl, err := rotatelogs.New(LogName(opts.File), rotatelogs.WithRotationTime(24*time.Hour))
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open rotated log %s: %w", opts.File, err)
	}
	logger.SetOutput(rl)
	return logger, rl, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
