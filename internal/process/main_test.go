package process

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies the supervisor's watchdog/restart/watch goroutines
// are not leaked across test runs.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
