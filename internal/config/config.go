// Package config holds the process-wide tunables for the Keel runtime.
//
// Values come from three layers, later layers winning: built-in defaults
// derived from the host, an optional YAML file named by KEEL_CONFIG, and
// individual KEEL_* environment variables. The merged result is read exactly
// once per process; components receive it by value and never re-read the
// environment.
package config

import (
	"os"
	"runtime"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pbnjay/memory"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var log = logrus.WithField("sys", "config")

// Config is the merged set of runtime tunables.
type Config struct {
	// Workers is the size of the shared worker pool. Defaults to the
	// number of logical CPUs.
	Workers int

	// PoolCeiling is the maximum number of bytes the buffer pool may hold
	// (live plus free-listed). Defaults to half of total system memory.
	PoolCeiling uint64

	// PoolBlock selects blocking acquisition when the ceiling is reached.
	// When false (the default) acquisition fails fast instead.
	PoolBlock bool

	// CacheBudget is the result cache's byte budget. Zero disables caching.
	CacheBudget uint64

	// GPUMinElements is the element count above which GPU offload is
	// considered.
	GPUMinElements int

	// ParallelMinElements is the element count above which SIMD and
	// multi-threaded execution are considered.
	ParallelMinElements int

	// WorkingSetLimit bounds the resident bytes of a chunked streaming
	// pass. Defaults to PoolCeiling / 4.
	WorkingSetLimit uint64
}

// fileConfig mirrors Config for the optional YAML file. Byte quantities are
// strings so they can use humanized forms ("512MB").
type fileConfig struct {
	Workers             int    `yaml:"workers"`
	PoolCeiling         string `yaml:"pool_ceiling"`
	PoolBlock           bool   `yaml:"pool_block"`
	CacheBudget         string `yaml:"cache_budget"`
	GPUMinElements      int    `yaml:"gpu_min_elements"`
	ParallelMinElements int    `yaml:"parallel_min_elements"`
	WorkingSetLimit     string `yaml:"working_set_limit"`
}

var (
	loadOnce sync.Once
	loaded   Config
)

// Default returns the built-in defaults for this host.
func Default() Config {
	total := memory.TotalMemory()
	if total == 0 {
		total = 8 << 30
	}
	return Config{
		Workers:             runtime.NumCPU(),
		PoolCeiling:         total / 2,
		PoolBlock:           false,
		CacheBudget:         256 << 20,
		GPUMinElements:      1 << 22,
		ParallelMinElements: 1 << 14,
		WorkingSetLimit:     total / 8,
	}
}

// Load returns the process configuration. The environment and the optional
// config file are consulted on the first call only; subsequent calls return
// the same value.
func Load() Config {
	loadOnce.Do(func() {
		loaded = FromEnv(Default(), os.Getenv)
	})
	return loaded
}

// FromEnv merges the optional YAML file and KEEL_* variables over base using
// the supplied environment lookup. Exposed separately from Load so tests can
// exercise the merge without touching the process environment.
func FromEnv(base Config, getenv func(string) string) Config {
	cfg := base

	if path := getenv("KEEL_CONFIG"); path != "" {
		applyFile(&cfg, path)
	}

	if v := getenv("KEEL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		} else {
			log.WithField("value", v).Warn("ignoring invalid KEEL_WORKERS")
		}
	}
	applyBytes(&cfg.PoolCeiling, getenv("KEEL_POOL_CEILING"), "KEEL_POOL_CEILING")
	applyBytes(&cfg.CacheBudget, getenv("KEEL_CACHE_BUDGET"), "KEEL_CACHE_BUDGET")
	applyBytes(&cfg.WorkingSetLimit, getenv("KEEL_WORKING_SET"), "KEEL_WORKING_SET")
	if v := getenv("KEEL_POOL_BLOCK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.PoolBlock = b
		} else {
			log.WithField("value", v).Warn("ignoring invalid KEEL_POOL_BLOCK")
		}
	}
	if v := getenv("KEEL_GPU_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.GPUMinElements = n
		} else {
			log.WithField("value", v).Warn("ignoring invalid KEEL_GPU_THRESHOLD")
		}
	}
	if v := getenv("KEEL_SIMD_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ParallelMinElements = n
		} else {
			log.WithField("value", v).Warn("ignoring invalid KEEL_SIMD_THRESHOLD")
		}
	}

	return cfg
}

func applyFile(cfg *Config, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("cannot read config file")
		return
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		log.WithError(err).WithField("path", path).Warn("cannot parse config file")
		return
	}
	if fc.Workers > 0 {
		cfg.Workers = fc.Workers
	}
	applyBytes(&cfg.PoolCeiling, fc.PoolCeiling, "pool_ceiling")
	applyBytes(&cfg.CacheBudget, fc.CacheBudget, "cache_budget")
	applyBytes(&cfg.WorkingSetLimit, fc.WorkingSetLimit, "working_set_limit")
	if fc.PoolBlock {
		cfg.PoolBlock = true
	}
	if fc.GPUMinElements > 0 {
		cfg.GPUMinElements = fc.GPUMinElements
	}
	if fc.ParallelMinElements > 0 {
		cfg.ParallelMinElements = fc.ParallelMinElements
	}
}

func applyBytes(dst *uint64, value, name string) {
	if value == "" {
		return
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		log.WithField("value", value).Warnf("ignoring invalid %s", name)
		return
	}
	*dst = n
}
