// Package logging builds the logrus loggers shared by the blelink commands.
package logging

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogArgs is embedded in command argument structs.
type LogArgs struct {
	LogLevel string `arg:"-l, --log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("[%s] %s\n", strings.ToUpper(entry.Level.String()), entry.Message)), nil
}

// NewLogger returns a logger at the given level.
func NewLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(new(customFormatter))
	SetLogLevel(log, level)
	return log
}

func SetLogLevel(log *logrus.Logger, level string) {
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		log.Warnf("Unknown log level '%s', defaulting to info", level)
	}
}
