package test

import (
	"os"
	"testing"

	"github.com/ktopiwo/psi/pkg/log"
)

// Logger returns a JSON logger tagged with the test name.
// Debug output is enabled with PSI_TEST_LOGS=DEBUG.
func Logger(t testing.TB) log.Logger {
	level := log.WarnLevel
	if os.Getenv("PSI_TEST_LOGS") == "DEBUG" {
		t.Log("Enabling DebugLevel logs")
		level = log.DebugLevel
	}
	return log.New(nil, level, true).With("testName", t.Name())
}
