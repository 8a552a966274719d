package hub

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// Room actors are goroutines; every test must shut its hub down.
	goleak.VerifyTestMain(m)
}
