//go:build windows

package gpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("sys", "gpu")

// device is the process-wide WebGPU session, created on first use.
type deviceState struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	name     string

	mu        sync.Mutex
	pipelines map[string]*wgpu.ComputePipeline
}

var (
	initOnce sync.Once
	dev      *deviceState
)

// open initializes the WebGPU device once. A missing native library panics
// inside wgpu, which is recovered and reported as unavailable.
func open() *deviceState {
	initOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("cause", r).Debug("wgpu native library not available")
				dev = nil
			}
		}()

		instance := wgpu.CreateInstance(nil)
		adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
			PowerPreference: wgpu.PowerPreferenceHighPerformance,
		})
		if err != nil {
			instance.Release()
			log.WithError(err).Debug("no webgpu adapter")
			return
		}
		name := "unknown adapter"
		if info := adapter.GetInfo(); info != nil {
			name = fmt.Sprintf("%s %s", info.Name, info.VendorName)
		}

		device, err := adapter.RequestDevice(nil)
		if err != nil {
			adapter.Release()
			instance.Release()
			log.WithError(err).Debug("webgpu device request failed")
			return
		}
		queue := device.GetQueue()
		if queue == nil {
			device.Release()
			adapter.Release()
			instance.Release()
			return
		}

		dev = &deviceState{
			instance:  instance,
			adapter:   adapter,
			device:    device,
			queue:     queue,
			name:      name,
			pipelines: make(map[string]*wgpu.ComputePipeline),
		}
		log.WithField("adapter", dev.name).Debug("webgpu device initialized")
	})
	return dev
}

// Available reports whether a compute device could be initialized.
func Available() bool {
	return open() != nil
}

// AdapterName returns the active adapter's name, or "" when unavailable.
func AdapterName() string {
	if d := open(); d != nil {
		return d.name
	}
	return ""
}

func (d *deviceState) pipeline(name, code string) *wgpu.ComputePipeline {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pipelines[name]; ok {
		return p
	}
	shader := d.device.CreateShaderModuleWGSL(code)
	p := d.device.CreateComputePipelineSimple(nil, shader, "main")
	d.pipelines[name] = p
	return p
}

// upload creates a storage buffer initialized with data.
func (d *deviceState) upload(data []byte) *wgpu.Buffer {
	size := uint64(len(data))
	buffer := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mapped := unsafe.Slice((*byte)(buffer.GetMappedRange(0, size)), size)
	copy(mapped, data)
	buffer.Unmap()
	return buffer
}

// uniform creates a 16-byte-aligned uniform buffer.
func (d *deviceState) uniform(data []byte) *wgpu.Buffer {
	aligned := (uint64(len(data)) + 15) &^ 15
	buffer := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             aligned,
		MappedAtCreation: wgpu.True,
	})
	mapped := unsafe.Slice((*byte)(buffer.GetMappedRange(0, aligned)), aligned)
	copy(mapped, data)
	buffer.Unmap()
	return buffer
}

// readback copies a storage buffer into CPU memory via a staging buffer.
func (d *deviceState) readback(src *wgpu.Buffer, size uint64) ([]byte, error) {
	staging := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := d.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	d.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(d.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("gpu: map staging buffer: %w", err)
	}
	mapped := unsafe.Slice((*byte)(staging.GetMappedRange(0, size)), size)
	out := make([]byte, size)
	copy(out, mapped)
	staging.Unmap()
	return out, nil
}

// dispatch runs one compute pass over the bound pipeline.
func (d *deviceState) dispatch(pipeline *wgpu.ComputePipeline, entries []wgpu.BindGroupEntry, x, y uint32) error {
	layout := pipeline.GetBindGroupLayout(0)
	bindGroup := d.device.CreateBindGroupSimple(layout, entries)
	defer bindGroup.Release()

	encoder := d.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(x, y, 1)
	pass.End()
	d.queue.Submit(encoder.Finish(nil))
	return nil
}

func asBytes(f []float32) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*4)
}

func asFloats(b []byte) []float32 {
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// AddF32 computes a + b element-wise on the GPU.
func AddF32(a, b []float32) ([]float32, error) {
	d := open()
	if d == nil {
		return nil, ErrUnavailable
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("gpu: add length mismatch: %d vs %d", len(a), len(b))
	}

	size := uint64(len(a) * 4)
	bufA := d.upload(asBytes(a))
	defer bufA.Release()
	bufB := d.upload(asBytes(b))
	defer bufB.Release()
	bufOut := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer bufOut.Release()

	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(len(a)))
	bufParams := d.uniform(params)
	defer bufParams.Release()

	pipeline := d.pipeline("add", addShader)
	groups := uint32((len(a) + workgroupSize - 1) / workgroupSize)
	err := d.dispatch(pipeline, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufA, 0, size),
		wgpu.BufferBindingEntry(1, bufB, 0, size),
		wgpu.BufferBindingEntry(2, bufOut, 0, size),
		wgpu.BufferBindingEntry(3, bufParams, 0, 16),
	}, groups, 1)
	if err != nil {
		return nil, err
	}

	raw, err := d.readback(bufOut, size)
	if err != nil {
		return nil, err
	}
	return asFloats(raw), nil
}

// ScaleF32 computes alpha * x element-wise on the GPU.
func ScaleF32(alpha float32, x []float32) ([]float32, error) {
	d := open()
	if d == nil {
		return nil, ErrUnavailable
	}

	size := uint64(len(x) * 4)
	bufX := d.upload(asBytes(x))
	defer bufX.Release()
	bufOut := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer bufOut.Release()

	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(len(x)))
	binary.LittleEndian.PutUint32(params[4:8], math.Float32bits(alpha))
	bufParams := d.uniform(params)
	defer bufParams.Release()

	pipeline := d.pipeline("scale", scaleShader)
	groups := uint32((len(x) + workgroupSize - 1) / workgroupSize)
	err := d.dispatch(pipeline, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufX, 0, size),
		wgpu.BufferBindingEntry(1, bufOut, 0, size),
		wgpu.BufferBindingEntry(2, bufParams, 0, 16),
	}, groups, 1)
	if err != nil {
		return nil, err
	}

	raw, err := d.readback(bufOut, size)
	if err != nil {
		return nil, err
	}
	return asFloats(raw), nil
}

// MatMulF32 computes the [m,k] x [k,n] product on the GPU.
func MatMulF32(a, b []float32, m, k, n int) ([]float32, error) {
	d := open()
	if d == nil {
		return nil, ErrUnavailable
	}
	if len(a) != m*k || len(b) != k*n {
		return nil, fmt.Errorf("gpu: matmul shape mismatch: %dx%d @ %dx%d", m, k, k, n)
	}

	outSize := uint64(m * n * 4)
	bufA := d.upload(asBytes(a))
	defer bufA.Release()
	bufB := d.upload(asBytes(b))
	defer bufB.Release()
	bufOut := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  outSize,
	})
	defer bufOut.Release()

	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(m))
	binary.LittleEndian.PutUint32(params[4:8], uint32(k))
	binary.LittleEndian.PutUint32(params[8:12], uint32(n))
	bufParams := d.uniform(params)
	defer bufParams.Release()

	pipeline := d.pipeline("matmul", matmulShader)
	groupsX := uint32((n + 15) / 16)
	groupsY := uint32((m + 15) / 16)
	err := d.dispatch(pipeline, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufA, 0, uint64(len(a)*4)),
		wgpu.BufferBindingEntry(1, bufB, 0, uint64(len(b)*4)),
		wgpu.BufferBindingEntry(2, bufOut, 0, outSize),
		wgpu.BufferBindingEntry(3, bufParams, 0, 16),
	}, groupsX, groupsY)
	if err != nil {
		return nil, err
	}

	raw, err := d.readback(bufOut, outSize)
	if err != nil {
		return nil, err
	}
	return asFloats(raw), nil
}
