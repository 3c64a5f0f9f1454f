package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// QuietLogger returns a logger that only prints when the test runs verbose.
func QuietLogger(t testing.TB) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	if testing.Verbose() {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetOutput(logWriter{t})
	}
	return logger
}

type logWriter struct{ t testing.TB }

func (w logWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// Eventually polls cond until it holds or timeout expires.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}
