package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus logger
type Logger struct {
	*logrus.Logger
}

// Fields type alias for logrus.Fields
type Fields = logrus.Fields

// New creates a logger at the given level. Production logs are JSON, everything
// else uses the text formatter.
func New(level, environment string) *Logger {
	log := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	if environment == "production" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	log.SetOutput(os.Stdout)

	return &Logger{Logger: log}
}

// NewDiscard creates a logger that drops everything, for tests
func NewDiscard() *Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Logger{Logger: log}
}

// Writer returns the logger writer for use with gin
func (l *Logger) Writer() io.Writer {
	return l.Logger.Out
}

// Component returns an entry tagged with the component name
func (l *Logger) Component(name string) *logrus.Entry {
	return l.Logger.WithField("component", name)
}
