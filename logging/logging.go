package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the log format, level and optional file output.
type Options struct {
	Debug  bool
	Format string
	// File, when set, receives a rotated copy of every entry.
	File string
}

// New builds the service logger. The returned closer releases the log file.
func New(o Options) (*log.Logger, io.Closer) {
	logger := log.New()
	if o.Format == "text" {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	if o.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if o.File == "" {
		logger.SetOutput(os.Stdout)
		return logger, nopCloser{}
	}
	file := &lumberjack.Logger{
		Filename:   o.File,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, file))
	return logger, file
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
