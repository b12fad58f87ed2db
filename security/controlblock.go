package security

import (
	"github.com/blekit/ble"
	"github.com/blekit/ble/pal"
	"github.com/blekit/ble/secdb"
)

// defaultControlBlockCount bounds concurrent secured links. Blocks are
// acquired on connect and released on disconnect.
const defaultControlBlockCount = 5

// controlBlock is the per-connection pairing state. It embeds the
// distribution-flags snapshot that the database persists on pairing
// completion and disconnection.
type controlBlock struct {
	inUse      bool
	connection ble.ConnectionHandle
	dbEntry    secdb.EntryHandle

	peerAddressType ble.AddrType
	peerAddress     ble.Addr
	localAddress    ble.Addr

	isMaster bool

	secdb.DistributionFlags

	encryptionRequested bool
	encryptionFailed    bool
	encrypted           bool

	// mitmPerformed records whether an MITM procedure actually ran during
	// the current pairing; every key store is tagged with it.
	mitmRequested bool
	mitmPerformed bool

	signingOverrideDefault bool
	signingRequested       bool

	attemptOOB              bool
	oobMitmProtection       bool
	legacyOOBRequestPending bool

	initiatorDist pal.KeyDistribution
	responderDist pal.KeyDistribution

	csrkFailures int
}

// acquireBlock claims the first free slot for a new connection. A reused
// slot is fully reset; stale state from the previous tenant must never
// leak into a new link.
func (m *Manager) acquireBlock(conn ble.ConnectionHandle) *controlBlock {
	for i := range m.blocks {
		if m.blocks[i].inUse {
			continue
		}
		m.blocks[i] = controlBlock{
			inUse:      true,
			connection: conn,
			dbEntry:    secdb.Invalid,
		}
		return &m.blocks[i]
	}
	return nil
}

func (m *Manager) blockByConnection(conn ble.ConnectionHandle) *controlBlock {
	for i := range m.blocks {
		if m.blocks[i].inUse && m.blocks[i].connection == conn {
			return &m.blocks[i]
		}
	}
	return nil
}

func (m *Manager) blockByAddress(t ble.AddrType, a ble.Addr) *controlBlock {
	for i := range m.blocks {
		if m.blocks[i].inUse && m.blocks[i].peerAddressType == t && m.blocks[i].peerAddress == a {
			return &m.blocks[i]
		}
	}
	return nil
}

func (m *Manager) blockByDBEntry(h secdb.EntryHandle) *controlBlock {
	if h == secdb.Invalid {
		return nil
	}
	for i := range m.blocks {
		if m.blocks[i].inUse && m.blocks[i].dbEntry == h {
			return &m.blocks[i]
		}
	}
	return nil
}

func (m *Manager) releaseBlock(b *controlBlock) {
	*b = controlBlock{}
}
