// Package pcr implements a Platform Configuration Register bank: a small
// set of hash-chained registers that accumulate measurements over a
// device's boot and runtime lifetime, the way a TPM's PCRs do.
package pcr

import (
	"sync"

	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/keccak"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/pqcerr"
)

// N is the fixed number of PCR registers in a Bank.
const N = 8

// Bank is N independent 32-byte hash-chain registers. The zero value is a
// bank with every register at its reset state. A Bank is safe for
// concurrent use.
type Bank struct {
	mu      sync.Mutex
	values  [N][32]byte
	counts  [N]uint32
	valid   [N]bool
}

// New returns a Bank with every register zeroed.
func New() *Bank {
	return &Bank{}
}

// Read returns the current 32-byte value of register i.
func (b *Bank) Read(i int) ([32]byte, error) {
	if i < 0 || i >= N {
		return [32]byte{}, pqcerr.Wrap("pcr.Read", pqcerr.ErrInvalidPcr)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.values[i], nil
}

// Extend folds measurement into register i: new = SHA3-256(current ||
// measurement). It increments the register's extend counter and marks it
// valid.
func (b *Bank) Extend(i int, measurement [32]byte) error {
	if i < 0 || i >= N {
		return pqcerr.Wrap("pcr.Extend", pqcerr.ErrInvalidPcr)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[i] = keccak.SHA3_256(b.values[i][:], measurement[:])
	b.counts[i]++
	b.valid[i] = true
	return nil
}

// Reset sets register i back to zero and clears its extend counter. Unlike
// a hardware TPM, which restricts reset to specific registers under
// specific locality rules, this bank allows reset on any index.
func (b *Bank) Reset(i int) error {
	if i < 0 || i >= N {
		return pqcerr.Wrap("pcr.Reset", pqcerr.ErrInvalidPcr)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[i] = [32]byte{}
	b.counts[i] = 0
	b.valid[i] = false
	return nil
}

// ExtendCount returns the number of times register i has been extended
// since creation or its last Reset.
func (b *Bank) ExtendCount(i int) (uint32, error) {
	if i < 0 || i >= N {
		return 0, pqcerr.Wrap("pcr.ExtendCount", pqcerr.ErrInvalidPcr)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[i], nil
}

// Valid reports whether register i has been extended since creation or its
// last Reset.
func (b *Bank) Valid(i int) (bool, error) {
	if i < 0 || i >= N {
		return false, pqcerr.Wrap("pcr.Valid", pqcerr.ErrInvalidPcr)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.valid[i], nil
}

// Snapshot returns a copy of every register's current value, in index
// order, for embedding into a report.
func (b *Bank) Snapshot() [N][32]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.values
}
