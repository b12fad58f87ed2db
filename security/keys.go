package security

import (
	"github.com/pkg/errors"

	"github.com/blekit/ble"
	"github.com/blekit/ble/secdb"
)

// initSigning lazily provisions the local CSRK: reuse the stored one or
// generate a fresh key, then hand it to the driver with the current sign
// counter.
func (m *Manager) initSigning() error {
	if m.signingInitialized {
		return nil
	}
	csrk, ok := m.db.LocalCSRK()
	if !ok {
		if err := m.pal.RandomBytes(csrk[:]); err != nil {
			return errors.Wrap(err, "security: csrk generation")
		}
		m.db.SetLocalCSRK(csrk)
		m.db.SetLocalSignCounter(0)
	}
	if err := m.pal.SetCSRK(csrk, m.db.LocalSignCounter()); err != nil {
		return err
	}
	m.defaultKeyDist = m.defaultKeyDist.WithSigning(true)
	m.signingInitialized = true
	return nil
}

// EnableSigning overrides the signing-distribution policy on one link.
// Enabling it without a stored peer CSRK provisions the local key and
// asks the link to re-pair so the keys get exchanged.
func (m *Manager) EnableSigning(conn ble.ConnectionHandle, enabled bool) error {
	return m.run(func() error {
		b := m.blockByConnection(conn)
		if b == nil {
			return errors.Wrapf(ble.ErrInvalidParameter, "security: unknown connection %d", conn)
		}
		b.signingOverrideDefault = true
		wasRequested := b.signingRequested
		b.signingRequested = enabled
		if !enabled || wasRequested {
			return nil
		}
		if b.CSRKStored {
			// the bond already carries the peer key; push it down so
			// inbound signed writes verify without a fresh exchange
			m.db.EntryPeerCSRK(m.signingKeyCb, b.dbEntry)
			return nil
		}
		if err := m.initSigning(); err != nil {
			return err
		}
		return m.startPairing(b)
	})
}

// SigningKey delivers the peer signing key through OnSigningKey. A stored
// key that satisfies the authentication requirement is fetched from the
// database; otherwise the link pairs first and the key arrives through
// distribution.
func (m *Manager) SigningKey(conn ble.ConnectionHandle, authenticated bool) error {
	return m.run(func() error {
		b := m.blockByConnection(conn)
		if b == nil {
			return errors.Wrapf(ble.ErrInvalidParameter, "security: unknown connection %d", conn)
		}
		if b.CSRKStored && (b.CSRKMitm || !authenticated) {
			m.db.EntryPeerCSRK(m.signingKeyCb, b.dbEntry)
			return nil
		}
		b.signingOverrideDefault = true
		b.signingRequested = true
		if authenticated {
			b.mitmRequested = true
		}
		if err := m.initSigning(); err != nil {
			return err
		}
		return m.startPairing(b)
	})
}

func (m *Manager) signingKeyCb(h secdb.EntryHandle, csrk *ble.CSRK, signCounter uint32) {
	b := m.blockByDBEntry(h)
	if b == nil || csrk == nil {
		return
	}
	if err := m.pal.SetPeerCSRK(b.connection, *csrk, b.CSRKMitm, signCounter); err != nil {
		m.log.Errorf("set peer csrk on %d: %v", b.connection, err)
		return
	}
	if m.handler != nil {
		m.handler.OnSigningKey(b.connection, *csrk, b.CSRKMitm)
	}
}

// Distributed-key stores. Each arriving key is persisted exactly once,
// tagged with whether an MITM procedure ran during this pairing.

func (m *Manager) onKeysDistributedLTK(conn ble.ConnectionHandle, ltk ble.LTK) {
	b := m.blockByConnection(conn)
	if b == nil {
		return
	}
	b.LTKStored = true
	b.LTKMitm = b.mitmPerformed
	m.db.SetEntryPeerLTK(b.dbEntry, ltk)
}

func (m *Manager) onKeysDistributedEdivRand(conn ble.ConnectionHandle, ediv uint16, rand uint64) {
	b := m.blockByConnection(conn)
	if b == nil {
		return
	}
	m.db.SetEntryPeerEdivRand(b.dbEntry, ediv, rand)
}

func (m *Manager) onKeysDistributedLocalLTK(conn ble.ConnectionHandle, ltk ble.LTK) {
	b := m.blockByConnection(conn)
	if b == nil {
		return
	}
	m.db.SetEntryLocalLTK(b.dbEntry, ltk)
}

func (m *Manager) onKeysDistributedLocalEdivRand(conn ble.ConnectionHandle, ediv uint16, rand uint64) {
	b := m.blockByConnection(conn)
	if b == nil {
		return
	}
	m.db.SetEntryLocalEdivRand(b.dbEntry, ediv, rand)
}

func (m *Manager) onKeysDistributedIRK(conn ble.ConnectionHandle, irk ble.IRK) {
	b := m.blockByConnection(conn)
	if b == nil {
		return
	}
	b.IRKStored = true
	m.db.SetEntryPeerIRK(b.dbEntry, irk)
}

func (m *Manager) onKeysDistributedIdentity(conn ble.ConnectionHandle, addressIsPublic bool, address ble.Addr) {
	b := m.blockByConnection(conn)
	if b == nil {
		return
	}
	b.IdentityStored = true
	b.PeerAddressIsPublic = addressIsPublic
	m.db.SetEntryPeerIdentity(b.dbEntry, addressIsPublic, address)
}

func (m *Manager) onKeysDistributedCSRK(conn ble.ConnectionHandle, csrk ble.CSRK) {
	b := m.blockByConnection(conn)
	if b == nil {
		return
	}
	b.CSRKStored = true
	b.CSRKMitm = b.mitmPerformed
	m.db.SetEntryPeerCSRK(b.dbEntry, csrk)
	if m.handler != nil {
		m.handler.OnSigningKey(conn, csrk, b.CSRKMitm)
	}
}

func (m *Manager) onSecureConnectionsLTKGenerated(conn ble.ConnectionHandle, ltk ble.LTK) {
	b := m.blockByConnection(conn)
	if b == nil {
		return
	}
	b.LTKStored = true
	b.LTKMitm = b.mitmPerformed
	b.SecureConnections = true
	m.db.SetEntryPeerLTK(b.dbEntry, ltk)
}

// Peer-initiated encryption resume: answer LTK requests from an
// asynchronous local key lookup, replying not-found on a miss.

func (m *Manager) onLTKRequest(conn ble.ConnectionHandle, ediv uint16, rand uint64) {
	b := m.blockByConnection(conn)
	if b == nil {
		return
	}
	m.db.EntryLocalKeys(m.setLTKCb, b.dbEntry, ediv, rand)
}

func (m *Manager) onSecureConnectionsLTKRequest(conn ble.ConnectionHandle) {
	b := m.blockByConnection(conn)
	if b == nil {
		return
	}
	m.db.EntryLocalKeysSC(m.setLTKCb, b.dbEntry)
}

func (m *Manager) setLTKCb(h secdb.EntryHandle, keys *secdb.EntryKeys) {
	b := m.blockByDBEntry(h)
	if b == nil {
		return
	}
	if keys == nil {
		if err := m.pal.SetLTKNotFound(b.connection); err != nil {
			m.log.Errorf("ltk not-found reply on %d: %v", b.connection, err)
		}
		return
	}
	b.encryptionRequested = true
	if err := m.pal.SetLTK(b.connection, keys.LTK, b.LTKMitm, b.SecureConnections); err != nil {
		m.log.Errorf("ltk reply on %d: %v", b.connection, err)
	}
}
