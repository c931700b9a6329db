// Package logging configures the shared logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/HsiangNianian/cumo/internal/config"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// Setup applies the log level and destination. With cfg.File set, output goes
// to a size-rotated file instead of stderr.
func Setup(cfg config.LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	writerMu.Lock()
	defer writerMu.Unlock()

	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
	var out io.Writer = os.Stderr
	if cfg.File != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		logWriter = &lumberjack.Logger{
			Filename: cfg.File,
			MaxSize:  maxSize,
		}
		out = logWriter
	}
	log.SetOutput(out)
	return nil
}

// Close releases the rotating file, if any.
func Close() {
	writerMu.Lock()
	defer writerMu.Unlock()
	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
}

// Discard returns an entry that drops everything. Used by tests.
func Discard() *log.Entry {
	l := log.New()
	l.SetOutput(io.Discard)
	return log.NewEntry(l)
}
