package lib

import (
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

// Log field names shared by all the components
const (
	FieldComponent = "component"
	FieldAccount   = "account"
	FieldMailbox   = "mailbox"
	FieldUID       = "uid"
	FieldIdentity  = "identity"
	FieldThread    = "thread"
	FieldOutcome   = "outcome"
)

// Outcomes of an event
const (
	OutcomeStored    = "stored"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
	OutcomeDone      = "done"
)

// NoLog returns a logger discarding everything
func NoLog() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// NewTestLogger sends log entries to the test output
func NewTestLogger(t *testing.T, prefix string) logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(&testWriter{t: t, prefix: prefix})
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	return logger
}

type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	if w.prefix != "" {
		line = w.prefix + ": " + line
	}
	w.t.Log(line)
	return len(p), nil
}
