//go:build arm64

package hwcaps

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// detectVectorWidths reads the CPU feature flags for usable SIMD widths.
// NEON (ASIMD) is architecturally mandatory on arm64, but darwin does not
// expose the hwcap bits, so it is assumed there.
func detectVectorWidths() ([]int, bool) {
	if runtime.GOOS == "darwin" {
		return []int{128}, true
	}
	var widths []int
	if cpu.ARM64.HasASIMD {
		widths = append(widths, 128)
	}
	if cpu.ARM64.HasSVE {
		widths = append(widths, 256)
	}
	return widths, cpu.ARM64.HasASIMD
}
