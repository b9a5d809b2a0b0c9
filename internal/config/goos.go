package config

import "runtime"

// goos is swapped in tests to exercise per-platform terminator selection.
var goos = runtime.GOOS
