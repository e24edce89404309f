package membuf

import "fmt"

// ArraySource describes a logical numeric array that may be far larger than
// the configured working set. Sources are read front to back, one chunk at a
// time; they never need to be resident as a whole.
type ArraySource interface {
	// Len returns the total element count.
	Len() int
	// DType returns the element type.
	DType() DataType
	// Read fills dst with the elements [start, start+dst.NumElements()).
	Read(dst *Buffer, start int) error
}

// ChunkIter is a lazy, finite, single-pass sequence of buffer views over an
// ArraySource. One chunk-sized buffer is resident at a time, so a streaming
// pass holds at most chunkBytes (rounded to a size class) of pooled memory.
//
// Usage follows the scanner idiom:
//
//	it, err := pool.ChunkedView(src, 64<<20)
//	defer it.Close()
//	for it.Next() {
//	    process(it.Chunk(), it.Offset())
//	}
//	if err := it.Err(); err != nil { ... }
type ChunkIter struct {
	src        ArraySource
	buf        *Buffer // reused backing buffer, owned by the iterator
	cur        *Buffer // view over buf for the current chunk
	chunkElems int
	pos        int
	off        int
	err        error
	closed     bool
}

// ChunkedView returns an iterator of views over src, each holding at most
// chunkBytes of data.
func (p *Pool) ChunkedView(src ArraySource, chunkBytes uint64) (*ChunkIter, error) {
	elemSize := uint64(src.DType().Size())
	if chunkBytes < elemSize {
		return nil, fmt.Errorf("membuf: chunk size %d below element size %d", chunkBytes, elemSize)
	}
	chunkElems := int(chunkBytes / elemSize)
	if n := src.Len(); n > 0 && n < chunkElems {
		chunkElems = n
	}
	buf, err := p.Acquire(Shape{chunkElems}, src.DType())
	if err != nil {
		return nil, err
	}
	return &ChunkIter{src: src, buf: buf, chunkElems: chunkElems}, nil
}

// Next advances to the next chunk. It returns false at the end of the source
// or on a read error; check Err afterwards.
func (it *ChunkIter) Next() bool {
	if it.closed || it.err != nil || it.pos >= it.src.Len() {
		it.Close()
		return false
	}
	n := it.src.Len() - it.pos
	if n > it.chunkElems {
		n = it.chunkElems
	}
	view := it.buf.viewOf(n)
	if err := it.src.Read(view, it.pos); err != nil {
		it.err = fmt.Errorf("membuf: chunk read at %d: %w", it.pos, err)
		it.Close()
		return false
	}
	it.cur = view
	it.off = it.pos
	it.pos += n
	return true
}

// Chunk returns the current view. Valid until the next call to Next or Close.
func (it *ChunkIter) Chunk() *Buffer {
	return it.cur
}

// Offset returns the element offset of the current chunk within the source.
func (it *ChunkIter) Offset() int {
	return it.off
}

// Err returns the first read error, if any.
func (it *ChunkIter) Err() error {
	return it.err
}

// Close releases the backing buffer. Safe to call more than once.
func (it *ChunkIter) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.cur = nil
	it.buf.Release()
}

// SliceSource adapts an in-memory slice to ArraySource.
type SliceSource[T Elem] struct {
	data []T
}

// NewSliceSource wraps data without copying it.
func NewSliceSource[T Elem](data []T) *SliceSource[T] {
	return &SliceSource[T]{data: data}
}

// Len returns the element count.
func (s *SliceSource[T]) Len() int { return len(s.data) }

// DType returns the element type tag.
func (s *SliceSource[T]) DType() DataType { return DTypeOf[T]() }

// Read copies elements [start, start+dst.NumElements()) into dst.
func (s *SliceSource[T]) Read(dst *Buffer, start int) error {
	n := dst.NumElements()
	if start < 0 || start+n > len(s.data) {
		return fmt.Errorf("read [%d, %d) out of range [0, %d)", start, start+n, len(s.data))
	}
	copy(asSlice[T](dst), s.data[start:start+n])
	return nil
}

// FuncSource is a synthetic float64 ArraySource generated element-wise. It
// lets callers stream arrays that never exist in memory, such as test loads
// far larger than the working set.
type FuncSource struct {
	N   int
	Gen func(i int) float64
}

// Len returns the element count.
func (f *FuncSource) Len() int { return f.N }

// DType returns Float64.
func (f *FuncSource) DType() DataType { return Float64 }

// Read generates elements [start, start+dst.NumElements()) into dst.
func (f *FuncSource) Read(dst *Buffer, start int) error {
	out := dst.AsFloat64()
	for i := range out {
		out[i] = f.Gen(start + i)
	}
	return nil
}

// asSlice views a buffer's storage as a typed slice.
func asSlice[T Elem](b *Buffer) []T {
	switch any(*new(T)).(type) {
	case float32:
		return any(b.AsFloat32()).([]T)
	case float64:
		return any(b.AsFloat64()).([]T)
	case int32:
		return any(b.AsInt32()).([]T)
	default:
		return any(b.AsInt64()).([]T)
	}
}
