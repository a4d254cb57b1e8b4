package logger

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. It is usable before Init is called so that
// library packages and tests can log without setup.
var Log = newLogger(os.Stdout, "info")

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		level := os.Getenv("LOG_LEVEL")
		if level == "" {
			level = "info"
		}
		Log = newLogger(os.Stdout, level)
	})
}

// SetOutput redirects log output, mostly for commands that print tables to stdout.
func SetOutput(w io.Writer) {
	Log.SetOutput(w)
}

func newLogger(w io.Writer, level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	l.SetLevel(logLevel)
	return l
}

func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}
