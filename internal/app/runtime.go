package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

// TestModeEnv disables rate limiting and process startup for end-to-end runs.
const TestModeEnv = "ODYSSEY_TEST_MODE"

// testMode holds nil until first read, then the parsed flag.
var testMode atomic.Pointer[bool]

func readTestMode() *bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	on = on && err == nil
	return &on
}

// InTestMode reports whether ODYSSEY_TEST_MODE is set to a true value.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	testMode.CompareAndSwap(nil, readTestMode())
	return *testMode.Load()
}

// RefreshTestMode re-reads the environment after it changed.
func RefreshTestMode() {
	testMode.Store(readTestMode())
}
