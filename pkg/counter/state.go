package counter

import (
	"github.com/near/borsh-go"
	"github.com/pkg/errors"
)

// Size is the size of the counter account's data region. It is fixed when the
// account is created and never changes.
const Size = 8

var (
	// ErrMalformedState indicates account data could not be decoded as a Counter.
	ErrMalformedState = errors.New("malformed counter state")

	// ErrAccountDataTooSmall indicates the account's data region cannot hold
	// an encoded Counter.
	ErrAccountDataTooSmall = errors.New("account data too small for counter")

	// ErrCounterOverflow indicates the counter is already at its maximum value.
	ErrCounterOverflow = errors.New("counter overflow")
)

// Counter is the state held by the counter account.
type Counter struct {
	Count uint64
}

// Marshal encodes the counter as a little endian u64.
func (c Counter) Marshal() ([]byte, error) {
	b, err := borsh.Serialize(c)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode counter")
	}
	return b, nil
}

// Unmarshal decodes a counter. The data must be exactly Size bytes.
func (c *Counter) Unmarshal(data []byte) error {
	if len(data) != Size {
		return errors.Wrapf(ErrMalformedState, "expected %d bytes, got %d", Size, len(data))
	}

	var decoded Counter
	if err := borsh.Deserialize(&decoded, data); err != nil {
		return errors.Wrap(ErrMalformedState, err.Error())
	}

	*c = decoded
	return nil
}

// Increment returns the counter advanced by one.
func (c Counter) Increment() (Counter, error) {
	if c.Count == ^uint64(0) {
		return c, ErrCounterOverflow
	}
	return Counter{Count: c.Count + 1}, nil
}
