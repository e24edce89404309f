// Package main provides the keelinfo diagnostic CLI for the Keel runtime.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/keel-sci/keel/compute"
)

const version = "v0.1.0-dev"

func main() {
	cmd := "caps"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "version":
		fmt.Printf("keelinfo %s\n", version)
	case "caps":
		if err := printCaps(); err != nil {
			fail(err)
		}
	case "check":
		if err := runCheck(); err != nil {
			fail(err)
		}
		fmt.Println("check: all strategies agree")
	default:
		fmt.Println("Keel - scientific computing runtime for Go")
		fmt.Printf("Version: %s\n\n", version)
		fmt.Println("Commands:")
		fmt.Println("  caps       Show detected host capabilities and tunables (default)")
		fmt.Println("  check      Run a small computation across all strategies and compare")
		fmt.Println("  version    Show version")
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "keelinfo: %v\n", err)
	os.Exit(1)
}

func printCaps() error {
	rt, err := compute.Open()
	if err != nil {
		return err
	}
	defer rt.Close()

	caps := rt.Capabilities()
	fmt.Println("Host capabilities:")
	fmt.Printf("  %s\n", caps)
	fmt.Printf("  total memory: %s\n", humanize.IBytes(caps.TotalMemory))
	if caps.GPU.Present {
		fmt.Printf("  gpu adapter:  %s\n", caps.GPU.Adapter)
	} else {
		fmt.Println("  gpu adapter:  none")
	}
	fmt.Printf("  blas backend: %s\n", rt.Stats().Backend)
	return nil
}

// runCheck multiplies the same pair of matrices under every CPU strategy
// and verifies the results agree within reassociation tolerance.
func runCheck() error {
	rt, err := compute.Open()
	if err != nil {
		return err
	}
	defer rt.Close()

	const dim = 96
	a, err := rt.AcquireBuffer(compute.Shape{dim, dim}, compute.Float64)
	if err != nil {
		return err
	}
	defer a.Release()
	b, err := rt.AcquireBuffer(compute.Shape{dim, dim}, compute.Float64)
	if err != nil {
		return err
	}
	defer b.Release()

	av, bv := a.AsFloat64(), b.AsFloat64()
	for i := range av {
		av[i] = float64(i%17) - 8
		bv[i] = float64(i%13) - 6
	}

	ctx := context.Background()
	ref, err := rt.Do(ctx, compute.Request{
		Op: compute.OpMatMul, Inputs: []*compute.Buffer{a, b}, Hint: compute.Scalar,
	})
	if err != nil {
		return err
	}
	defer ref.Release()

	for _, hint := range []compute.Strategy{compute.SIMD, compute.Parallel, compute.GPU} {
		out, err := rt.Do(ctx, compute.Request{
			Op: compute.OpMatMul, Inputs: []*compute.Buffer{a, b}, Hint: hint,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", hint, err)
		}
		ok := compute.BuffersWithinTolerance(ref, out, 1e-9)
		out.Release()
		if !ok {
			return fmt.Errorf("%s: result diverges from scalar", hint)
		}
		fmt.Printf("  %-8s ok\n", hint)
	}
	return nil
}
