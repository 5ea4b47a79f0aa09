package evaluator

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies SubprocessEvaluator's stdio reader goroutine is not
// leaked across test runs.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
