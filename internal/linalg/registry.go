// Package linalg routes dense linear-algebra primitives to the BLAS/LAPACK
// implementation linked into the build and normalizes its failures into a
// small error taxonomy.
//
// Exactly one external backend may be linked per build. The backend/
// packages register themselves from init under mutually exclusive build
// tags; registering two different backends is a build configuration error
// and panics at startup. With no registration the pure-Go gonum
// implementation is used.
package linalg

import (
	"fmt"
	"sync"
)

const defaultBackend = "gonum"

var (
	regMu        sync.Mutex
	regName      string
	regReentrant = true
)

// Use records the linked backend. reentrant declares whether the library
// tolerates concurrent calls; when false the adapter serializes access.
func Use(name string, reentrant bool) {
	regMu.Lock()
	defer regMu.Unlock()
	if regName != "" && regName != name {
		panic(fmt.Sprintf("linalg: conflicting BLAS backends linked: %s and %s", regName, name))
	}
	regName = name
	regReentrant = reentrant
}

// BackendName returns the linked backend's identity.
func BackendName() string {
	regMu.Lock()
	defer regMu.Unlock()
	if regName == "" {
		return defaultBackend
	}
	return regName
}

func backendReentrant() bool {
	regMu.Lock()
	defer regMu.Unlock()
	return regReentrant
}
