//go:build !windows

package gpu

// The wgpu native library is only shipped for Windows builds today; other
// platforms report the device as unavailable and the runtime stays on CPU.

// Available reports whether a compute device could be initialized.
func Available() bool { return false }

// AdapterName returns the active adapter's name, or "" when unavailable.
func AdapterName() string { return "" }

// AddF32 computes a + b element-wise on the GPU.
func AddF32(_, _ []float32) ([]float32, error) { return nil, ErrUnavailable }

// ScaleF32 computes alpha * x element-wise on the GPU.
func ScaleF32(_ float32, _ []float32) ([]float32, error) { return nil, ErrUnavailable }

// MatMulF32 computes the [m,k] x [k,n] product on the GPU.
func MatMulF32(_, _ []float32, _, _, _ int) ([]float32, error) { return nil, ErrUnavailable }
