package usage

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain enables goroutine leak detection for all tests in the usage
// package. The tracker runs a background write worker, so a test that
// forgets Close leaks it.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
