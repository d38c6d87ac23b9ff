// Package logging configures the shared logrus logger used by both
// binaries from the logging section of their TOML configuration.
package logging

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/netsentinel/netsentinel/internal/config"
)

// Setup configures the standard logrus logger in place, matching
// log_level/file/stdout/format one-to-one against the supplied section.
func Setup(section config.LoggingSection) error {
	level, err := log.ParseLevel(section.Level)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	log.SetLevel(level)

	switch section.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	var writers []io.Writer
	if section.Stdout {
		writers = append(writers, os.Stdout)
	}
	if section.File != "" {
		f, err := os.OpenFile(section.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("logging: open log file %q: %w", section.File, err)
		}
		writers = append(writers, f)
	}

	switch len(writers) {
	case 0:
		log.SetOutput(io.Discard)
	case 1:
		log.SetOutput(writers[0])
	default:
		log.SetOutput(io.MultiWriter(writers...))
	}

	return nil
}
