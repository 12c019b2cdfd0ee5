package ledger

import "fmt"

// ChainValidator re-derives the state hash chain from persisted journals.
type ChainValidator struct {
	hasher   *StateHasher
	sequence int64
}

// NewChainValidator starts verification from the genesis hash.
func NewChainValidator() *ChainValidator {
	return &ChainValidator{hasher: NewStateHasher()}
}

// Verify checks one entry against the running chain and advances it.
// Entries must be supplied in sequence order.
func (v *ChainValidator) Verify(j *Journal) error {
	if j.Sequence != v.sequence+1 {
		return fmt.Errorf("journal %s: sequence gap: got %d, want %d", j.JournalID, j.Sequence, v.sequence+1)
	}
	if j.PrevHash != v.hasher.Tip() {
		return fmt.Errorf("journal %d: prev_hash %x does not match chain tip %x", j.Sequence, j.PrevHash, v.hasher.Tip())
	}
	want := v.hasher.Peek(j.Sequence, j.Digest())
	if j.StateHash != want {
		return fmt.Errorf("journal %d: state_hash mismatch: stored %x, computed %x", j.Sequence, j.StateHash, want)
	}

	v.hasher.ComputeHash(j.Sequence, j.Digest())
	v.sequence = j.Sequence
	return nil
}

// Sequence returns the last verified sequence.
func (v *ChainValidator) Sequence() int64 {
	return v.sequence
}

// Tip returns the hash of the last verified entry.
func (v *ChainValidator) Tip() [32]byte {
	return v.hasher.Tip()
}
