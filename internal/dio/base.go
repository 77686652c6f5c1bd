package dio

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// FallbackChipBase matches the first controller chip on current kernels when
// the descriptor cannot be read.
const FallbackChipBase = 512

// DefaultChipBasePath is the sysfs descriptor holding the controller chip's
// base line number.
const DefaultChipBasePath = "/sys/class/gpio/gpiochip512/base"

var (
	baseOnce sync.Once
	baseVal  int
)

// ChipBase resolves the controller-chip base offset from the descriptor at
// path, once per process. Logical pin numbers are offset by this value to
// obtain kernel line numbers. Falls back to FallbackChipBase when the
// descriptor is missing or malformed.
func ChipBase(path string) int {
	baseOnce.Do(func() {
		baseVal = readChipBase(path)
	})
	return baseVal
}

func readChipBase(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return FallbackChipBase
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || v < 0 {
		return FallbackChipBase
	}
	return v
}
