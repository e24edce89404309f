package rescache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/keel-sci/keel/internal/membuf"
)

// Fingerprint is a content hash of an operation's inputs and configuration,
// used as the cache key. Equal fingerprints mean the computation would
// produce equal results.
type Fingerprint [32]byte

// String returns the fingerprint as lowercase hex.
func (fp Fingerprint) String() string {
	return hex.EncodeToString(fp[:])
}

// FingerprintOf hashes the operation identifier, its configuration bytes,
// and the full contents, shapes, and dtypes of the input buffers.
func FingerprintOf(op string, cfg []byte, inputs ...*membuf.Buffer) Fingerprint {
	h := sha256.New()
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write(cfg)

	var scratch [8]byte
	for _, in := range inputs {
		binary.LittleEndian.PutUint64(scratch[:], uint64(in.DType()))
		h.Write(scratch[:])
		for _, dim := range in.Shape() {
			binary.LittleEndian.PutUint64(scratch[:], uint64(dim))
			h.Write(scratch[:])
		}
		h.Write([]byte{0})
		h.Write(in.Bytes())
	}

	var fp Fingerprint
	h.Sum(fp[:0])
	return fp
}
