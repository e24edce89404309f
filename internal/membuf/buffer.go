package membuf

import (
	"fmt"
	"unsafe"
)

// Buffer is an owned, contiguous numeric storage region with shape metadata.
// A Buffer has exactly one live owner at a time; ownership moves explicitly
// with the value, and Release hands the storage back to the pool it came
// from. Views produced by a ChunkIter do not own storage and their Release
// is a no-op.
type Buffer struct {
	slab     []byte // full size-class allocation, nil for views
	data     []byte // slab[:byteSize]
	shape    Shape
	stride   []int
	dtype    DataType
	class    int
	pool     *Pool
	view     bool
	released bool
}

// Shape returns the buffer's shape.
func (b *Buffer) Shape() Shape {
	return b.shape
}

// Strides returns the buffer's row-major strides.
func (b *Buffer) Strides() []int {
	return b.stride
}

// DType returns the buffer's element type.
func (b *Buffer) DType() DataType {
	return b.dtype
}

// NumElements returns the total number of elements.
func (b *Buffer) NumElements() int {
	return b.shape.NumElements()
}

// ByteSize returns the occupied memory size in bytes.
func (b *Buffer) ByteSize() int {
	return len(b.data)
}

// Bytes returns the raw storage.
// WARNING: direct access to underlying memory. Use with caution.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// IsView reports whether the buffer is a non-owning view.
func (b *Buffer) IsView() bool {
	return b.view
}

// Release returns the buffer's storage to its pool. Releasing a view is a
// no-op; releasing an owned buffer twice panics, because by then the storage
// may already have a new owner.
func (b *Buffer) Release() {
	if b.view {
		return
	}
	if b.released {
		panic("membuf: buffer released twice")
	}
	b.released = true
	b.pool.recycle(b)
	b.slab = nil
	b.data = nil
}

// AsFloat32 interprets the data as []float32.
// Panics if the buffer's dtype is not Float32.
func (b *Buffer) AsFloat32() []float32 {
	if b.dtype != Float32 {
		panic(fmt.Sprintf("buffer dtype is %s, not float32", b.dtype))
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b.data[0])), b.NumElements())
}

// AsFloat64 interprets the data as []float64.
// Panics if the buffer's dtype is not Float64.
func (b *Buffer) AsFloat64() []float64 {
	if b.dtype != Float64 {
		panic(fmt.Sprintf("buffer dtype is %s, not float64", b.dtype))
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&b.data[0])), b.NumElements())
}

// AsInt32 interprets the data as []int32.
// Panics if the buffer's dtype is not Int32.
func (b *Buffer) AsInt32() []int32 {
	if b.dtype != Int32 {
		panic(fmt.Sprintf("buffer dtype is %s, not int32", b.dtype))
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b.data[0])), b.NumElements())
}

// AsInt64 interprets the data as []int64.
// Panics if the buffer's dtype is not Int64.
func (b *Buffer) AsInt64() []int64 {
	if b.dtype != Int64 {
		panic(fmt.Sprintf("buffer dtype is %s, not int64", b.dtype))
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&b.data[0])), b.NumElements())
}

// viewOf returns a non-owning view over the first n elements.
func (b *Buffer) viewOf(n int) *Buffer {
	shape := Shape{n}
	return &Buffer{
		data:   b.data[:n*b.dtype.Size()],
		shape:  shape,
		stride: shape.ComputeStrides(),
		dtype:  b.dtype,
		view:   true,
	}
}
