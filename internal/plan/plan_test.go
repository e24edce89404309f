package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keel-sci/keel/internal/hwcaps"
	"github.com/keel-sci/keel/internal/membuf"
)

func capsWith(gpu bool, simd bool, workers int) *hwcaps.Descriptor {
	d := &hwcaps.Descriptor{Workers: workers, TotalMemory: 16 << 30, BLASBackend: "gonum"}
	if simd {
		d.VectorWidths = []int{128, 256}
		d.HasFMA = true
	}
	if gpu {
		d.GPU = hwcaps.GPUInfo{Present: true, Adapter: "test adapter"}
	}
	return d
}

func baseOpts() Options {
	return Options{
		Hint:                Auto,
		GPUMinElements:      1 << 22,
		ParallelMinElements: 1 << 14,
		Workers:             8,
		GPUSupported:        true,
	}
}

func TestSelectIsPure(t *testing.T) {
	caps := capsWith(true, true, 8)
	opts := baseOpts()

	first, err := Select(5_000_000, membuf.Float32, opts, caps)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Select(5_000_000, membuf.Float32, opts, caps)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPolicyTable(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		dtype   membuf.DataType
		gpu     bool
		simd    bool
		workers int
		want    Strategy
	}{
		{"tiny input stays scalar", 100, membuf.Float32, true, true, 8, Scalar},
		{"small input below parallel threshold", 1 << 13, membuf.Float32, true, true, 8, Scalar},
		{"medium input goes parallel", 1 << 16, membuf.Float32, true, true, 8, Parallel},
		{"huge float32 with device goes gpu", 1 << 23, membuf.Float32, true, true, 8, GPU},
		{"huge float64 stays on cpu", 1 << 23, membuf.Float64, true, true, 8, Parallel},
		{"huge input without device goes parallel", 1 << 23, membuf.Float32, false, true, 8, Parallel},
		{"single core with simd", 1 << 16, membuf.Float32, false, true, 1, SIMD},
		{"single core without simd", 1 << 16, membuf.Float32, false, false, 1, Scalar},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := baseOpts()
			if tt.workers == 1 {
				opts.Workers = 1
			}
			p, err := Select(tt.n, tt.dtype, opts, capsWith(tt.gpu, tt.simd, tt.workers))
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Strategy)
		})
	}
}

func TestThresholdsAreConfiguration(t *testing.T) {
	caps := capsWith(true, true, 8)
	opts := baseOpts()
	opts.GPUMinElements = 1000

	p, err := Select(2000, membuf.Float32, opts, caps)
	require.NoError(t, err)
	assert.Equal(t, GPU, p.Strategy)

	opts.GPUMinElements = 5000
	p, err = Select(2000, membuf.Float32, opts, caps)
	require.NoError(t, err)
	assert.NotEqual(t, GPU, p.Strategy)
}

func TestHintDegradesWithoutRequire(t *testing.T) {
	caps := capsWith(false, true, 8) // no GPU
	opts := baseOpts()
	opts.Hint = GPU

	p, err := Select(1<<16, membuf.Float32, opts, caps)
	require.NoError(t, err)
	assert.Equal(t, Parallel, p.Strategy, "gpu hint degrades to the next rung")

	caps = capsWith(false, false, 1)
	opts.Workers = 1
	p, err = Select(1<<16, membuf.Float32, opts, caps)
	require.NoError(t, err)
	assert.Equal(t, Scalar, p.Strategy, "degradation walks all the way down")
}

func TestHintRequireFails(t *testing.T) {
	caps := capsWith(false, true, 8)
	opts := baseOpts()
	opts.Hint = GPU
	opts.Require = true

	_, err := Select(1<<16, membuf.Float32, opts, caps)
	assert.ErrorIs(t, err, ErrCapabilityUnavailable)
}

func TestScalarHintHonored(t *testing.T) {
	caps := capsWith(true, true, 8)
	opts := baseOpts()
	opts.Hint = Scalar

	p, err := Select(1<<23, membuf.Float32, opts, caps)
	require.NoError(t, err)
	assert.Equal(t, Scalar, p.Strategy)
}

func TestParallelPlanShape(t *testing.T) {
	caps := capsWith(false, true, 8)
	opts := baseOpts()

	p, err := Select(1<<20, membuf.Float64, opts, caps)
	require.NoError(t, err)

	require.Equal(t, Parallel, p.Strategy)
	assert.Greater(t, p.ChunkSize, 0)
	assert.LessOrEqual(t, p.Workers, 8)
	assert.Greater(t, p.Workers, 1)
	units := (1<<20 + p.ChunkSize - 1) / p.ChunkSize
	assert.GreaterOrEqual(t, units, p.Workers, "every worker gets at least one unit")
}

func TestWorkersNeverExceedUnits(t *testing.T) {
	caps := capsWith(false, true, 64)
	opts := baseOpts()
	opts.Workers = 64
	opts.ParallelMinElements = 1

	p, err := Select(2048, membuf.Float64, opts, caps)
	require.NoError(t, err)
	if p.Strategy == Parallel {
		units := (2048 + p.ChunkSize - 1) / p.ChunkSize
		assert.LessOrEqual(t, p.Workers, units)
	}
}

func TestStrategyStrings(t *testing.T) {
	assert.Equal(t, "scalar", Scalar.String())
	assert.Equal(t, "simd", SIMD.String())
	assert.Equal(t, "parallel", Parallel.String())
	assert.Equal(t, "gpu", GPU.String())
	assert.Equal(t, "auto", Auto.String())
}
