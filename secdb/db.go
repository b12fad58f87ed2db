// Package secdb defines the durable per-peer security database consumed by
// the Security Manager engine, and a file-backed implementation of it.
// All get operations are asynchronous: the result is delivered through a
// callback carrying either the value or nil for "not found".
package secdb

import "github.com/blekit/ble"

// EntryHandle identifies an open database entry. Handles are small
// integers; Invalid marks "no entry".
type EntryHandle int

const Invalid EntryHandle = -1

// DistributionFlags is the snapshot of what was exchanged and under which
// protection during the pairing that produced an entry. The Security
// Manager's control block embeds it and the database persists it.
type DistributionFlags struct {
	PeerAddressIsPublic bool

	LTKStored      bool
	LTKMitm        bool
	CSRKStored     bool
	CSRKMitm       bool
	IRKStored      bool
	IdentityStored bool

	SecureConnections bool
}

// EntryKeys is the LTK bundle used to enable or resume encryption.
type EntryKeys struct {
	LTK  ble.LTK
	Ediv uint16
	Rand uint64
}

// EntryIdentity is the identity address/IRK pair used for privacy
// resolution.
type EntryIdentity struct {
	AddressIsPublic bool
	Address         ble.Addr
	IRK             ble.IRK
}

type (
	// KeysCallback delivers an LTK lookup result; keys is nil on miss.
	KeysCallback func(h EntryHandle, keys *EntryKeys)
	// CSRKCallback delivers a signing key lookup; csrk is nil on miss.
	CSRKCallback func(h EntryHandle, csrk *ble.CSRK, signCounter uint32)
	// IdentityCallback delivers an identity lookup; identity is nil on miss.
	IdentityCallback func(h EntryHandle, identity *EntryIdentity)
	// IdentityListCallback delivers every stored identity.
	IdentityListCallback func(identities []EntryIdentity)
	// WhitelistCallback delivers the whitelist derived from the bond table.
	WhitelistCallback func(entries []ble.WhitelistEntry)
)

// Database is the store of per-bonded-peer security material.
type Database interface {
	// OpenEntry finds or creates the entry for a peer; CloseEntry releases
	// it. An entry stays resident while open.
	OpenEntry(peerType ble.AddrType, peer ble.Addr) EntryHandle
	CloseEntry(EntryHandle)

	DistributionFlags(EntryHandle) (DistributionFlags, bool)
	SetDistributionFlags(EntryHandle, DistributionFlags)

	LocalCSRK() (ble.CSRK, bool)
	SetLocalCSRK(ble.CSRK)
	LocalSignCounter() uint32
	SetLocalSignCounter(uint32)

	EntryLocalKeys(cb KeysCallback, h EntryHandle, ediv uint16, rand uint64)
	EntryLocalKeysSC(cb KeysCallback, h EntryHandle)
	SetEntryLocalLTK(h EntryHandle, ltk ble.LTK)
	SetEntryLocalEdivRand(h EntryHandle, ediv uint16, rand uint64)

	EntryPeerKeys(cb KeysCallback, h EntryHandle)
	EntryPeerCSRK(cb CSRKCallback, h EntryHandle)
	SetEntryPeerLTK(h EntryHandle, ltk ble.LTK)
	SetEntryPeerEdivRand(h EntryHandle, ediv uint16, rand uint64)
	SetEntryPeerIRK(h EntryHandle, irk ble.IRK)
	SetEntryPeerIdentity(h EntryHandle, addressIsPublic bool, address ble.Addr)
	SetEntryPeerCSRK(h EntryHandle, csrk ble.CSRK)
	SetEntryPeerSignCounter(h EntryHandle, counter uint32)

	EntryIdentity(cb IdentityCallback, h EntryHandle)
	IdentityList(cb IdentityListCallback)
	WhitelistFromBondTable(cb WhitelistCallback, capacity int)

	Restore() error
	Sync() error
	Clear() error
	SetRestore(enabled bool)
}
