package testing

import (
	"testing"

	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/types"
)

// NewTestLogger creates a logger that writes to the test log.
// This is useful for seeing component output when a test fails.
func NewTestLogger(tb testing.TB) types.Logger {
	return logging.NewTest(tb)
}
