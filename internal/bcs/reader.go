package bcs

import (
	"encoding/hex"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// AddressLength is the width of account addresses and object identifiers
const AddressLength = 32

// maxVarintLen is the longest valid ULEB128 encoding of a uint64
const maxVarintLen = 10

var (
	// ErrTruncated is returned when the buffer ends before a field does
	ErrTruncated = errors.New("bcs: truncated input")
	// ErrOverflow is returned when a varint does not fit in 64 bits
	ErrOverflow = errors.New("bcs: varint overflows uint64")
	// ErrInvalidEncoding is returned when string bytes are not valid UTF-8
	ErrInvalidEncoding = errors.New("bcs: invalid utf-8 string")
)

// Address is a 32 byte account address or object identifier
type Address [AddressLength]byte

// String renders the address the way the chain does: 0x followed by 64 lowercase hex digits
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// ParseAddress parses a 0x-prefixed hex address. Short forms are left padded with zeros
func ParseAddress(s string) (Address, error) {
	var a Address
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s) > 2*AddressLength {
		return a, errors.Errorf("address %q is longer than %d bytes", s, AddressLength)
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, errors.Wrap(err, "invalid address hex")
	}
	copy(a[AddressLength-len(b):], b)
	return a, nil
}

// Reader decodes primitives from an immutable buffer. The cursor only moves
// forward and every read checks the remaining length first.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a reader positioned at the start of buf
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Offset returns the current cursor position
func (r *Reader) Offset() int {
	return r.pos
}

// Remaining returns the number of unread bytes
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// ReadVarint reads an unsigned LEB128 integer of at most 10 bytes
func (r *Reader) ReadVarint() (uint64, error) {
	var value uint64
	var shift uint
	for i := 0; i < maxVarintLen; i++ {
		if r.pos >= len(r.buf) {
			return 0, errors.Wrapf(ErrTruncated, "varint at offset %d", r.pos)
		}
		b := r.buf[r.pos]
		r.pos++
		// the tenth byte may only carry the top bit of the value
		if i == maxVarintLen-1 && b > 1 {
			return 0, errors.Wrapf(ErrOverflow, "varint ending at offset %d", r.pos)
		}
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, nil
		}
		shift += 7
	}
	return 0, errors.Wrapf(ErrOverflow, "varint ending at offset %d", r.pos)
}

// ReadLength reads a varint used as a length or element count and checks it
// against the bytes left in the buffer.
func (r *Reader) ReadLength() (int, error) {
	n, err := r.ReadVarint()
	if err != nil {
		return 0, err
	}
	if n > uint64(r.Remaining()) {
		return 0, errors.Wrapf(ErrTruncated, "length %d at offset %d exceeds %d remaining bytes", n, r.pos, r.Remaining())
	}
	return int(n), nil
}

// ReadFixed reads exactly n bytes. The returned slice aliases the buffer
func (r *Reader) ReadFixed(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, errors.Wrapf(ErrTruncated, "need %d bytes at offset %d, have %d", n, r.pos, r.Remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadAddress reads a 32 byte address or object identifier
func (r *Reader) ReadAddress() (Address, error) {
	var a Address
	b, err := r.ReadFixed(AddressLength)
	if err != nil {
		return a, err
	}
	copy(a[:], b)
	return a, nil
}

// ReadString reads a length prefixed UTF-8 string
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadLength()
	if err != nil {
		return "", err
	}
	b, err := r.ReadFixed(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.Wrapf(ErrInvalidEncoding, "string of %d bytes ending at offset %d", n, r.pos)
	}
	return string(b), nil
}

// SkipString advances past a length prefixed string without validating it
func (r *Reader) SkipString() error {
	n, err := r.ReadLength()
	if err != nil {
		return err
	}
	_, err = r.ReadFixed(n)
	return err
}

// MarshalText encodes the address as 0x-prefixed hex
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses a 0x-prefixed hex address
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
