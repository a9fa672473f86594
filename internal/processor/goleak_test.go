package processor

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain ensures Run/RunDaemon never leaves a worker goroutine running
// past the end of a test, since the scheduler's whole job is spinning
// those goroutines up and down to match queue depth.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("time.Sleep"),
	)
}
