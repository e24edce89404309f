// Package hwcaps inspects the host once per process and produces the
// immutable capability descriptor the rest of the runtime plans against.
package hwcaps

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/pbnjay/memory"
	"github.com/sirupsen/logrus"

	"github.com/keel-sci/keel/internal/gpu"
	"github.com/keel-sci/keel/internal/linalg"
)

var log = logrus.WithField("sys", "hwcaps")

// GPUInfo describes the accelerator device, if any.
type GPUInfo struct {
	Present bool
	Adapter string
}

// Descriptor is an immutable snapshot of what the host supports. It is
// created once, shared by reference, and never mutated afterwards.
type Descriptor struct {
	// VectorWidths lists the usable SIMD register widths in bits,
	// ascending. Empty means scalar only.
	VectorWidths []int

	// HasFMA reports fused multiply-add support.
	HasFMA bool

	// Workers is the host's logical CPU count.
	Workers int

	// TotalMemory is the host's physical memory in bytes.
	TotalMemory uint64

	// GPU describes the accelerator device, if one was found.
	GPU GPUInfo

	// BLASBackend names the linked linear-algebra library.
	BLASBackend string
}

var (
	detectOnce sync.Once
	detected   *Descriptor
)

// Detect probes the host exactly once and returns the shared descriptor.
// Safe for concurrent use; every caller sees the same instance. A feature
// that cannot be probed is reported as absent, never as an error.
func Detect() *Descriptor {
	detectOnce.Do(func() {
		widths, fma := detectVectorWidths()
		detected = &Descriptor{
			VectorWidths: widths,
			HasFMA:       fma,
			Workers:      runtime.NumCPU(),
			TotalMemory:  memory.TotalMemory(),
			GPU: GPUInfo{
				Present: gpu.Available(),
				Adapter: gpu.AdapterName(),
			},
			BLASBackend: linalg.BackendName(),
		}
		log.WithFields(logrus.Fields{
			"simd":    detected.VectorWidths,
			"workers": detected.Workers,
			"gpu":     detected.GPU.Present,
			"blas":    detected.BLASBackend,
		}).Debug("host capabilities detected")
	})
	return detected
}

// MaxVectorWidth returns the widest usable SIMD width in bits, or 0.
func (d *Descriptor) MaxVectorWidth() int {
	if len(d.VectorWidths) == 0 {
		return 0
	}
	return d.VectorWidths[len(d.VectorWidths)-1]
}

// HasSIMD reports whether any vector width is usable.
func (d *Descriptor) HasSIMD() bool {
	return len(d.VectorWidths) > 0
}

// String returns a one-line summary for diagnostics.
func (d *Descriptor) String() string {
	simd := "none"
	if d.HasSIMD() {
		parts := make([]string, len(d.VectorWidths))
		for i, w := range d.VectorWidths {
			parts[i] = fmt.Sprintf("%d", w)
		}
		simd = strings.Join(parts, "/")
	}
	gpuName := "none"
	if d.GPU.Present {
		gpuName = d.GPU.Adapter
	}
	return fmt.Sprintf("simd=%sbit fma=%t workers=%d gpu=%s blas=%s",
		simd, d.HasFMA, d.Workers, gpuName, d.BLASBackend)
}
