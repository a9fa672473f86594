package watch

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain catches a Watcher's processEvents goroutine left running past
// the end of a test that forgot to call Stop.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}
