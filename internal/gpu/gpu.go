// Package gpu provides best-effort GPU offload for large workloads via
// WebGPU. The device is probed lazily, once per process; hosts without a
// compatible adapter (or without the wgpu native library) degrade to
// ErrUnavailable and the runtime falls back to CPU execution.
package gpu

import "errors"

// ErrUnavailable is returned when no compute device can be initialized.
var ErrUnavailable = errors.New("gpu: no compute device available")

// offloadable lists the operations with a GPU kernel.
var offloadable = map[string]bool{
	"matmul": true,
	"add":    true,
	"scale":  true,
}

// Supports reports whether op has a GPU kernel. Available() still decides
// whether the kernel can actually run on this host.
func Supports(op string) bool {
	return offloadable[op]
}
