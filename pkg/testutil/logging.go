package testutil

import (
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func init() {
	var isVerbose bool
	for _, arg := range os.Args {
		if arg == "-test.v=true" {
			isVerbose = true
		}
	}

	logrus.SetLevel(logrus.TraceLevel)

	if !isVerbose {
		logrus.StandardLogger().Out = io.Discard
	}
}

// DisableLogging discards standard logger output until reset is called.
func DisableLogging() (reset func()) {
	originalLogOutput := logrus.StandardLogger().Out
	logrus.StandardLogger().Out = io.Discard
	return func() {
		logrus.StandardLogger().Out = originalLogOutput
	}
}

// CaptureLogs records every entry written to the standard logger for the
// remainder of the test.
func CaptureLogs(t *testing.T) *test.Hook {
	hook := test.NewGlobal()
	t.Cleanup(func() {
		logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))
		hook.Reset()
	})
	return hook
}

// FindLogEntry returns the first captured entry with the provided message and
// "type" field, or nil if there isn't one.
func FindLogEntry(hook *test.Hook, component, message string) *logrus.Entry {
	for _, entry := range hook.AllEntries() {
		if entry.Message == message && entry.Data["type"] == component {
			return entry
		}
	}
	return nil
}
