package main

import (
	"io"

	"github.com/sirupsen/logrus"
)

// newLogger builds the session logger. Every entry carries the session id so
// logs from concurrent captures can be told apart.
func newLogger(cfg *Config, out io.Writer, session string) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(cfg.LogLevel)
	if cfg.LogJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger.WithField("session", session)
}
