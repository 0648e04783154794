// Package logging builds the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup returns a logger writing to stderr and, when file is set, to a
// rotated log file as well. An unknown level falls back to info.
func Setup(level, format, file string) (*log.Logger, error) {
	logger := log.New()
	logger.SetOutput(os.Stderr)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logger.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    32, // MB
			MaxBackups: 3,
			MaxAge:     14,
		}))
	}

	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		logger.SetLevel(log.InfoLevel)
		logger.WithField("level", level).Warn("Invalid LOG_LEVEL, using info")
		return logger, nil
	}
	logger.SetLevel(lvl)
	return logger, nil
}
