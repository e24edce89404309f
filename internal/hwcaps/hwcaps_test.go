package hwcaps

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectReturnsSharedInstance(t *testing.T) {
	first := Detect()
	second := Detect()
	assert.Same(t, first, second)
}

func TestDetectConcurrent(t *testing.T) {
	results := make([]*Descriptor, 16)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Detect()
		}(i)
	}
	wg.Wait()

	for _, d := range results {
		assert.Same(t, results[0], d)
	}
}

func TestDescriptorSanity(t *testing.T) {
	d := Detect()

	require.Greater(t, d.Workers, 0)
	assert.Greater(t, d.TotalMemory, uint64(0))
	assert.NotEmpty(t, d.BLASBackend)

	// Widths ascend and the max matches the last entry.
	for i := 1; i < len(d.VectorWidths); i++ {
		assert.Less(t, d.VectorWidths[i-1], d.VectorWidths[i])
	}
	if d.HasSIMD() {
		assert.Equal(t, d.VectorWidths[len(d.VectorWidths)-1], d.MaxVectorWidth())
	} else {
		assert.Zero(t, d.MaxVectorWidth())
	}

	assert.NotEmpty(t, d.String())
}
