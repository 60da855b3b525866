package events

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/bcs"
)

// Namespace scopes event and object types to one published package.
// It is immutable once built.
type Namespace struct {
	address   bcs.Address
	packageID string
	prefix    string
}

// NewNamespace builds a namespace from a package id such as "0x778e...".
// The id is normalized to its full 32 byte form.
func NewNamespace(packageID string) (Namespace, error) {
	if strings.TrimSpace(packageID) == "" {
		return Namespace{}, errors.New("package id is empty")
	}
	addr, err := bcs.ParseAddress(strings.TrimSpace(packageID))
	if err != nil {
		return Namespace{}, errors.Wrap(err, "invalid package id")
	}
	id := addr.String()
	return Namespace{address: addr, packageID: id, prefix: id + "::"}, nil
}

// MustNamespace is NewNamespace for constants; it panics on a bad id
func MustNamespace(packageID string) Namespace {
	ns, err := NewNamespace(packageID)
	if err != nil {
		panic(err)
	}
	return ns
}

// PackageID returns the normalized package id
func (n Namespace) PackageID() string {
	return n.packageID
}

// Prefix returns the canonical type tag prefix, "<package id>::". Tags may
// spell the address in short form, so use Owns for matching.
func (n Namespace) Prefix() string {
	return n.prefix
}

// Owns reports whether a type tag belongs to the namespace. The address part
// of the tag is compared by value, so "0x2::m::T" and the zero padded form
// are the same package.
func (n Namespace) Owns(typeTag string) bool {
	if n.packageID == "" {
		return false
	}
	i := strings.Index(typeTag, "::")
	if i <= 0 {
		return false
	}
	addr, err := bcs.ParseAddress(typeTag[:i])
	if err != nil {
		return false
	}
	return addr == n.address
}

// Matches reports whether a type tag belongs to the namespace and ends with
// the given "::module::Name" suffix.
func (n Namespace) Matches(typeTag, suffix string) bool {
	return n.Owns(typeTag) && strings.HasSuffix(typeTag, suffix)
}
