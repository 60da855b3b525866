// Package bcstest builds encoded payloads for tests
package bcstest

import (
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/bcs"
)

// Builder appends encoded fields to a byte buffer
type Builder struct {
	buf []byte
}

// New returns an empty builder
func New() *Builder {
	return &Builder{}
}

// Varint appends v as unsigned LEB128
func (b *Builder) Varint(v uint64) *Builder {
	b.buf = AppendVarint(b.buf, v)
	return b
}

// Address appends a 32 byte address
func (b *Builder) Address(a bcs.Address) *Builder {
	b.buf = append(b.buf, a[:]...)
	return b
}

// String appends a length prefixed string
func (b *Builder) String(s string) *Builder {
	b.buf = AppendVarint(b.buf, uint64(len(s)))
	b.buf = append(b.buf, s...)
	return b
}

// Raw appends bytes as is
func (b *Builder) Raw(p ...byte) *Builder {
	b.buf = append(b.buf, p...)
	return b
}

// Bytes returns the encoded buffer
func (b *Builder) Bytes() []byte {
	return b.buf
}

// AppendVarint appends the LEB128 encoding of v to dst
func AppendVarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// Addr returns an address whose 32 bytes all equal fill
func Addr(fill byte) bcs.Address {
	var a bcs.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

// Tier describes a tier record for ServiceObject
type Tier struct {
	Level uint64
	Name  string
	Price uint64
	Flags uint64
}

// Post describes a post record for ServiceObject
type Post struct {
	ID           uint64
	Title        string
	MetadataRef  string
	DataRef      string
	RequiredTier uint64
	CreatedAtMs  uint64
}

// ServiceObject describes the contents of a service object
type ServiceObject struct {
	ID          bcs.Address
	Owner       bcs.Address
	Name        string
	Description string
	Avatar      string
	Tiers       []Tier
	Posts       []Post
}

// Encode returns the on-chain byte layout of the service object
func (s ServiceObject) Encode() []byte {
	b := New().
		Address(s.ID).
		Address(s.Owner).
		String(s.Name).
		String(s.Description).
		String(s.Avatar).
		Varint(uint64(len(s.Tiers)))
	for _, t := range s.Tiers {
		b.Varint(t.Level).String(t.Name).Varint(t.Price).Varint(t.Flags)
	}
	b.Varint(uint64(len(s.Posts)))
	for _, p := range s.Posts {
		b.Varint(p.ID).String(p.Title).String(p.MetadataRef).String(p.DataRef).Varint(p.RequiredTier).Varint(p.CreatedAtMs)
	}
	return b.Bytes()
}
