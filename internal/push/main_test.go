package push

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies the client's reconnect/reader goroutines are not
// leaked across test runs.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
