package ble

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddrType tags a device address with its class as defined by the Core
// Specification [Vol 6, Part B, 1.3].
type AddrType uint8

const (
	AddrPublic AddrType = iota
	AddrRandomStatic
	AddrRandomPrivateResolvable
	AddrRandomPrivateNonResolvable
	AddrAnonymous
)

func (t AddrType) String() string {
	switch t {
	case AddrPublic:
		return "public"
	case AddrRandomStatic:
		return "random-static"
	case AddrRandomPrivateResolvable:
		return "random-private-resolvable"
	case AddrRandomPrivateNonResolvable:
		return "random-private-non-resolvable"
	case AddrAnonymous:
		return "anonymous"
	}
	return fmt.Sprintf("addr-type(%d)", uint8(t))
}

// Random reports whether the type is one of the random classes.
func (t AddrType) Random() bool {
	switch t {
	case AddrRandomStatic, AddrRandomPrivateResolvable, AddrRandomPrivateNonResolvable:
		return true
	}
	return false
}

// Addr is a 6-byte Bluetooth device address. Addr[5] holds the most
// significant byte; the top two bits of it select the random sub-class.
type Addr [6]byte

// ParseAddr parses "aa:bb:cc:dd:ee:ff" into an Addr, first octet most
// significant.
func ParseAddr(s string) (Addr, error) {
	var a Addr
	clean := strings.Replace(strings.ToLower(s), ":", "", -1)
	b, err := hex.DecodeString(clean)
	if err != nil || len(b) != 6 {
		return a, fmt.Errorf("invalid address %q", s)
	}
	for i := 0; i < 6; i++ {
		a[5-i] = b[i]
	}
	return a, nil
}

func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[5], a[4], a[3], a[2], a[1], a[0])
}

// IsZero reports whether every octet is zero.
func (a Addr) IsZero() bool {
	return a == Addr{}
}

const (
	randomClassMask          = 0xc0
	randomStaticClass        = 0xc0
	randomResolvableClass    = 0x40
	randomNonResolvableClass = 0x00
)

// randomPartValid implements the prand validity rule: the pseudo-random
// bits of a random address must contain at least one zero and at least one
// one. lowBytes counts the full octets below a[5] that belong to the random
// part (5 for static/non-resolvable, 2 for the resolvable prand).
func (a Addr) randomPartValid(lowBytes int) bool {
	var ones, zeros int
	for i := 6 - 1 - lowBytes; i < 5; i++ {
		ones += bitCount(a[i])
		zeros += 8 - bitCount(a[i])
	}
	// a[5] contributes its six low-order bits.
	top := a[5] & 0x3f
	ones += bitCount(top)
	zeros += 6 - bitCount(top)
	return ones > 0 && zeros > 0
}

func bitCount(b byte) int {
	n := 0
	for ; b != 0; b >>= 1 {
		n += int(b & 1)
	}
	return n
}

// IsRandomStatic reports whether the address is a valid random static
// address: top two bits 0b11 and a valid 46-bit random part.
func (a Addr) IsRandomStatic() bool {
	return a[5]&randomClassMask == randomStaticClass && a.randomPartValid(5)
}

// IsRandomPrivateResolvable reports whether the address is a valid
// resolvable private address: top two bits 0b01 and a valid 22-bit prand.
func (a Addr) IsRandomPrivateResolvable() bool {
	return a[5]&randomClassMask == randomResolvableClass && a.randomPartValid(2)
}

// IsRandomPrivateNonResolvable reports whether the address is a valid
// non-resolvable private address: top two bits 0b00 and a valid 46-bit
// random part.
func (a Addr) IsRandomPrivateNonResolvable() bool {
	return a[5]&randomClassMask == randomNonResolvableClass && a.randomPartValid(5)
}

// ClassifyRandom returns the random class of the address. ok is false when
// the address fails the prand rule or carries the reserved 0b10 top bits.
func (a Addr) ClassifyRandom() (AddrType, bool) {
	switch {
	case a.IsRandomStatic():
		return AddrRandomStatic, true
	case a.IsRandomPrivateResolvable():
		return AddrRandomPrivateResolvable, true
	case a.IsRandomPrivateNonResolvable():
		return AddrRandomPrivateNonResolvable, true
	}
	return 0, false
}

// WhitelistEntry is one (type, address) pair of the controller whitelist.
type WhitelistEntry struct {
	Type AddrType
	Addr Addr
}

// Valid checks the address/type consistency rules for whitelist entries:
// public entries must not carry an address that classifies as random, and
// random entries must be valid random static addresses.
func (e WhitelistEntry) Valid() bool {
	switch e.Type {
	case AddrPublic:
		_, looksRandom := e.Addr.ClassifyRandom()
		return !looksRandom
	case AddrRandomStatic:
		return e.Addr.IsRandomStatic()
	}
	return false
}
