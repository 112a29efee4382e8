package system

import (
	"math"

	"github.com/pkg/errors"

	"github.com/code-payments/solana-counter/pkg/solana/binary"
)

const (
	// RentSize is the size of the serialized Rent sysvar.
	RentSize = 17

	// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/program/src/rent.rs#L41
	accountStorageOverhead = 128
)

// Rent mirrors the Rent sysvar, which determines the minimum balance for an
// account of a given size to be exempt from rent collection.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  float64
	BurnPercent         uint8
}

// DefaultRent are the rent parameters used by every public cluster.
var DefaultRent = Rent{
	LamportsPerByteYear: 3480,
	ExemptionThreshold:  2.0,
	BurnPercent:         50,
}

// MinimumBalance returns the lamports required for an account holding size
// bytes of data to be rent exempt.
func (r Rent) MinimumBalance(size uint64) uint64 {
	return uint64(float64((accountStorageOverhead+size)*r.LamportsPerByteYear) * r.ExemptionThreshold)
}

// IsExempt reports whether balance is sufficient for an account holding size
// bytes of data.
func (r Rent) IsExempt(balance, size uint64) bool {
	return balance >= r.MinimumBalance(size)
}

func (r Rent) Marshal() []byte {
	res := make([]byte, RentSize)

	var offset int
	binary.PutUint64(res[offset:], r.LamportsPerByteYear, &offset)
	binary.PutUint64(res[offset:], math.Float64bits(r.ExemptionThreshold), &offset)
	binary.PutUint8(res[offset:], r.BurnPercent, &offset)

	return res
}

func (r *Rent) Unmarshal(data []byte) error {
	if len(data) != RentSize {
		return errors.Errorf("invalid rent sysvar size: %d", len(data))
	}

	var offset int
	var threshold uint64
	binary.GetUint64(data[offset:], &r.LamportsPerByteYear, &offset)
	binary.GetUint64(data[offset:], &threshold, &offset)
	binary.GetUint8(data[offset:], &r.BurnPercent, &offset)
	r.ExemptionThreshold = math.Float64frombits(threshold)

	return nil
}
