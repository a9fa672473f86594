package assetpipe

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain catches a Server or Client goroutine left running past a test,
// which is exactly the kind of bug a socket-accept loop or a stuck dial
// retry would produce.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}
