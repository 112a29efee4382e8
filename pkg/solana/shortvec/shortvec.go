// Package shortvec implements the compact length prefix used by the Solana
// wire format for signatures, account keys, instructions and instruction data.
package shortvec

import (
	"io"
	"math"

	"github.com/pkg/errors"
)

// maxEncodedLen is the number of bytes needed to encode math.MaxUint16.
const maxEncodedLen = 3

var (
	ErrLenTooLarge     = errors.Errorf("len exceeds %d", math.MaxUint16)
	ErrNonCanonical    = errors.New("non-canonical shortvec encoding")
	ErrEncodingTooLong = errors.Errorf("encoding exceeds %d bytes", maxEncodedLen)
)

// EncodedSize returns the number of bytes EncodeLen writes for len.
func EncodedSize(len int) int {
	switch {
	case len < 1<<7:
		return 1
	case len < 1<<14:
		return 2
	default:
		return 3
	}
}

// EncodeLen encodes the specified len into the writer.
//
// If len is negative or greater than math.MaxUint16, ErrLenTooLarge is returned.
func EncodeLen(w io.Writer, len int) (n int, err error) {
	if len < 0 || len > math.MaxUint16 {
		return 0, ErrLenTooLarge
	}

	var buf [maxEncodedLen]byte
	size := 0
	for {
		buf[size] = byte(len & 0x7f)
		len >>= 7
		if len == 0 {
			size++
			break
		}

		buf[size] |= 0x80
		size++
	}

	return w.Write(buf[:size])
}

// DecodeLen decodes a shortvec encoded len from the reader.
//
// Encodings longer than three bytes, values above math.MaxUint16 and
// encodings with a redundant trailing zero byte are rejected, matching the
// runtime's deserializer.
func DecodeLen(r io.Reader) (val int, err error) {
	var b [1]byte

	for offset := 0; offset < maxEncodedLen; offset++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			if offset > 0 && err == io.EOF {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}

		if offset > 0 && b[0] == 0 {
			return 0, ErrNonCanonical
		}

		val |= int(b[0]&0x7f) << (offset * 7)
		if val > math.MaxUint16 {
			return 0, ErrLenTooLarge
		}

		if b[0]&0x80 == 0 {
			return val, nil
		}
	}

	return 0, ErrEncodingTooLong
}
