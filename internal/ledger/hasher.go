package ledger

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "CustodyVault:genesis:v1"

// GenesisHash is the chain tip before the first journal.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// StateHasher chains journal digests:
// state_hash[N] = SHA-256(prev_hash || sequence || digest)
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: GenesisHash()}
}

// NewStateHasherAt resumes a chain from a persisted tip.
func NewStateHasherAt(tip [32]byte) *StateHasher {
	return &StateHasher{prevHash: tip}
}

// ComputeHash returns the hash for sequence and advances the tip.
func (h *StateHasher) ComputeHash(sequence int64, digest []byte) [32]byte {
	hash := h.Peek(sequence, digest)
	h.prevHash = hash
	return hash
}

// Peek computes the hash without advancing the tip.
func (h *StateHasher) Peek(sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// Tip returns the current chain tip
func (h *StateHasher) Tip() [32]byte {
	return h.prevHash
}
