//go:build amd64

package hwcaps

import "golang.org/x/sys/cpu"

// detectVectorWidths reads the CPU feature flags for usable SIMD widths.
// AVX-512 needs the foundation subset at minimum; AVX2 is only counted
// together with FMA, matching what the vectorized kernels require.
func detectVectorWidths() ([]int, bool) {
	var widths []int
	if cpu.X86.HasSSE41 || cpu.X86.HasSSE42 {
		widths = append(widths, 128)
	}
	if cpu.X86.HasAVX2 && cpu.X86.HasFMA {
		widths = append(widths, 256)
	}
	if cpu.X86.HasAVX512F {
		widths = append(widths, 512)
	}
	return widths, cpu.X86.HasFMA
}
