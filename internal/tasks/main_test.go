package tasks

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies the engine's concurrent worker fan-out and the
// external provider's reader goroutine are not leaked across test runs.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
