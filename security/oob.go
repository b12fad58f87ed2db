package security

import (
	"github.com/pkg/errors"

	"github.com/blekit/ble"
	"github.com/blekit/ble/pal"
)

// GenerateOOB produces out-of-band pairing material for the given local
// address: a temporary key for legacy pairing, delivered through
// OnLegacyPairingOOBGenerated, and with secure connections support the
// random/confirm pair delivered through OnOOBGenerated once the
// controller finishes. A zero local random marks a generation in flight;
// a second request meanwhile is rejected as busy.
func (m *Manager) GenerateOOB(address ble.Addr) error {
	return m.run(func() error {
		secureConnections := m.defaultAuth.SecureConnections()
		if secureConnections && m.scOOBStarted && m.oobLocalRandom.IsZero() {
			// reject before the legacy track so a busy call leaves no
			// trace, neither state nor an application event
			return errors.Wrap(ble.ErrBusy, "security: oob generation already in flight")
		}

		var tk ble.TemporaryKey
		if err := m.pal.RandomBytes(tk[:]); err != nil {
			return errors.Wrap(err, "security: temporary key generation")
		}
		m.oobTemporaryKey = tk
		m.oobTKCreator = address
		m.oobTKCreatorValid = true
		if m.handler != nil {
			m.handler.OnLegacyPairingOOBGenerated(address, tk)
		}

		if !secureConnections {
			return nil
		}
		// zero the local random while the calculation is pending
		m.oobLocalRandom = ble.OOBRandom{}
		m.scOOBStarted = true
		m.oobLocalAddress = address
		return m.pal.GenerateSecureConnectionsOOB()
	})
}

// SetOOBDataUsage declares whether the next pairing on the link should
// attempt out-of-band data, and whether that data is exchanged over an
// MITM-protected channel.
func (m *Manager) SetOOBDataUsage(conn ble.ConnectionHandle, useOOB, oobProvidesMITM bool) error {
	return m.run(func() error {
		b := m.blockByConnection(conn)
		if b == nil {
			return errors.Wrapf(ble.ErrInvalidParameter, "security: unknown connection %d", conn)
		}
		b.attemptOOB = useOOB
		b.oobMitmProtection = oobProvidesMITM
		return nil
	})
}

// LegacyPairingOOBReceived stores an out-of-band temporary key obtained
// from the peer at the given address. Only one creator address is
// remembered; new data overwrites the old. A pairing already waiting on
// this key is answered immediately.
func (m *Manager) LegacyPairingOOBReceived(address ble.Addr, tk ble.TemporaryKey) error {
	return m.run(func() error {
		m.oobTemporaryKey = tk
		m.oobTKCreator = address
		m.oobTKCreatorValid = true

		b := m.blockByAddressOnly(address)
		if b == nil || !b.legacyOOBRequestPending {
			return nil
		}
		b.legacyOOBRequestPending = false
		return m.pal.LegacyPairingOOBRequestReply(b.connection, tk)
	})
}

// OOBReceived stores the secure connections peer triplet. It is consumed
// on first use so stale material cannot be replayed.
func (m *Manager) OOBReceived(address ble.Addr, random ble.OOBRandom, confirm ble.OOBConfirm) error {
	return m.run(func() error {
		m.oobPeerAddress = address
		m.oobPeerRandom = random
		m.oobPeerConfirm = confirm
		return nil
	})
}

func (m *Manager) blockByAddressOnly(a ble.Addr) *controlBlock {
	for i := range m.blocks {
		if m.blocks[i].inUse && m.blocks[i].peerAddress == a {
			return &m.blocks[i]
		}
	}
	return nil
}

func (m *Manager) onSecureConnectionsOOBRequest(conn ble.ConnectionHandle) {
	b := m.blockByConnection(conn)
	if b == nil {
		return
	}
	if m.oobPeerAddress != b.peerAddress {
		if err := m.pal.CancelPairing(conn, pal.FailureOOBNotAvailable); err != nil {
			m.log.Errorf("cancel pairing on %d: %v", conn, err)
		}
		return
	}
	random, confirm := m.oobPeerRandom, m.oobPeerConfirm
	m.oobPeerAddress = ble.Addr{}
	m.oobPeerRandom = ble.OOBRandom{}
	m.oobPeerConfirm = ble.OOBConfirm{}
	if err := m.pal.SecureConnectionsOOBRequestReply(conn, m.oobLocalRandom, random, confirm); err != nil {
		m.log.Errorf("oob reply on %d: %v", conn, err)
	}
}

func (m *Manager) onLegacyPairingOOBRequest(conn ble.ConnectionHandle) {
	b := m.blockByConnection(conn)
	if b == nil {
		return
	}
	if m.oobTKCreatorValid && m.oobTKCreator == b.peerAddress {
		if err := m.pal.LegacyPairingOOBRequestReply(conn, m.oobTemporaryKey); err != nil {
			m.log.Errorf("legacy oob reply on %d: %v", conn, err)
		}
		return
	}
	if m.handler == nil {
		m.log.Errorf("legacy oob request on %d with no event handler, cancelling", conn)
		if err := m.pal.CancelPairing(conn, pal.FailureOOBNotAvailable); err != nil {
			m.log.Errorf("cancel pairing on %d: %v", conn, err)
		}
		return
	}
	b.legacyOOBRequestPending = true
	m.handler.OnLegacyPairingOOBRequest(conn)
}

func (m *Manager) onSecureConnectionsOOBGenerated(random ble.OOBRandom, confirm ble.OOBConfirm) {
	m.oobLocalRandom = random
	if m.handler != nil {
		m.handler.OnOOBGenerated(m.oobLocalAddress, random, confirm)
	}
}
