//go:build !amd64 && !arm64

package hwcaps

// detectVectorWidths reports scalar-only execution on architectures
// without a dedicated probe.
func detectVectorWidths() ([]int, bool) {
	return nil, false
}
