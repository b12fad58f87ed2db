package security

import (
	"github.com/pkg/errors"

	"github.com/blekit/ble"
	"github.com/blekit/ble/pal"
	"github.com/blekit/ble/secdb"
)

// palEvents adapts the driver event-handler contract onto the engine.
// Every callback is posted onto the event queue.
type palEvents Manager

func (e *palEvents) mgr() *Manager { return (*Manager)(e) }

func (e *palEvents) OnPairingRequest(conn ble.ConnectionHandle, oob bool, auth pal.AuthenticationMask, initiator, responder pal.KeyDistribution) {
	m := e.mgr()
	m.q.Post(func() {
		b := m.blockByConnection(conn)
		if b == nil {
			return
		}
		b.initiatorDist = initiator
		b.responderDist = responder
		if auth.MITM() {
			b.mitmRequested = true
		}
		if m.pairingAuthorisation && m.handler != nil {
			m.handler.OnPairingRequest(conn)
			return
		}
		if err := m.doAcceptPairingRequest(b); err != nil {
			m.log.Errorf("auto-accept pairing on %d: %v", conn, err)
		}
	})
}

func (e *palEvents) OnPairingError(conn ble.ConnectionHandle, reason pal.PairingFailure) {
	m := e.mgr()
	m.q.Post(func() {
		b := m.blockByConnection(conn)
		if b != nil {
			b.mitmPerformed = false
			b.encryptionRequested = false
		}
		if m.handler != nil {
			m.handler.OnPairingResult(conn, errors.Wrapf(ble.ErrUnspecified, "pairing failed with reason 0x%02x", uint8(reason)))
		}
	})
}

func (e *palEvents) OnPairingTimedOut(conn ble.ConnectionHandle) {
	m := e.mgr()
	m.q.Post(func() {
		b := m.blockByConnection(conn)
		if b != nil {
			b.mitmPerformed = false
			b.encryptionRequested = false
		}
		if m.handler != nil {
			m.handler.OnPairingResult(conn, errors.Wrap(ble.ErrUnspecified, "pairing timed out"))
		}
	})
}

func (e *palEvents) OnPairingCompleted(conn ble.ConnectionHandle) {
	m := e.mgr()
	m.q.Post(func() {
		b := m.blockByConnection(conn)
		if b != nil && b.dbEntry != secdb.Invalid {
			m.db.SetDistributionFlags(b.dbEntry, b.DistributionFlags)
			if err := m.db.Sync(); err != nil {
				m.log.Errorf("bond database sync: %v", err)
			}
		}
		if m.handler != nil {
			m.handler.OnPairingResult(conn, nil)
		}
	})
}

func (e *palEvents) OnSlaveSecurityRequest(conn ble.ConnectionHandle, auth pal.AuthenticationMask) {
	m := e.mgr()
	m.q.Post(func() {
		b := m.blockByConnection(conn)
		if b == nil {
			return
		}
		if auth.MITM() && !b.LTKMitm {
			b.mitmRequested = true
			if err := m.doRequestPairing(b); err != nil {
				m.log.Errorf("pairing after security request on %d: %v", conn, err)
			}
			return
		}
		b.encryptionRequested = true
		if err := m.enableEncryption(b); err != nil {
			m.log.Errorf("encryption after security request on %d: %v", conn, err)
		}
	})
}

func (e *palEvents) OnLinkEncryptionResult(conn ble.ConnectionHandle, level ble.LinkEncryption) {
	m := e.mgr()
	m.q.Post(func() { m.onLinkEncryptionResult(conn, level) })
}

func (e *palEvents) OnLinkEncryptionRequestTimedOut(conn ble.ConnectionHandle) {
	m := e.mgr()
	m.q.Post(func() {
		if b := m.blockByConnection(conn); b != nil {
			b.encryptionRequested = false
		}
		if m.handler != nil {
			m.handler.OnLinkEncryptionRequestTimedOut(conn)
		}
	})
}

func (e *palEvents) OnValidMICTimeout(conn ble.ConnectionHandle) {
	m := e.mgr()
	m.q.Post(func() {
		if m.handler != nil {
			m.handler.OnValidMICTimeout(conn)
		}
	})
}

func (e *palEvents) OnPasskeyDisplay(conn ble.ConnectionHandle, passkey ble.Passkey) {
	m := e.mgr()
	m.q.Post(func() {
		e.markMITM(conn)
		if m.handler != nil {
			m.handler.OnPasskeyDisplay(conn, passkey)
		}
	})
}

func (e *palEvents) OnPasskeyRequest(conn ble.ConnectionHandle) {
	m := e.mgr()
	m.q.Post(func() {
		e.markMITM(conn)
		if m.handler != nil {
			m.handler.OnPasskeyRequest(conn)
		}
	})
}

func (e *palEvents) OnConfirmationRequest(conn ble.ConnectionHandle) {
	m := e.mgr()
	m.q.Post(func() {
		e.markMITM(conn)
		if m.handler != nil {
			m.handler.OnConfirmationRequest(conn)
		}
	})
}

func (e *palEvents) OnKeypressNotification(conn ble.ConnectionHandle, k ble.Keypress) {
	m := e.mgr()
	m.q.Post(func() {
		if m.handler != nil {
			m.handler.OnKeypressNotification(conn, k)
		}
	})
}

// markMITM records that an MITM procedure ran during the current pairing;
// every subsequent key store on this link is tagged authenticated.
func (e *palEvents) markMITM(conn ble.ConnectionHandle) {
	if b := e.mgr().blockByConnection(conn); b != nil {
		b.mitmPerformed = true
	}
}

func (e *palEvents) OnLegacyPairingOOBRequest(conn ble.ConnectionHandle) {
	m := e.mgr()
	m.q.Post(func() {
		e.markMITM(conn)
		m.onLegacyPairingOOBRequest(conn)
	})
}

func (e *palEvents) OnSecureConnectionsOOBRequest(conn ble.ConnectionHandle) {
	m := e.mgr()
	m.q.Post(func() {
		e.markMITM(conn)
		m.onSecureConnectionsOOBRequest(conn)
	})
}

func (e *palEvents) OnSecureConnectionsOOBGenerated(random ble.OOBRandom, confirm ble.OOBConfirm) {
	m := e.mgr()
	m.q.Post(func() { m.onSecureConnectionsOOBGenerated(random, confirm) })
}

func (e *palEvents) OnSecureConnectionsLTKGenerated(conn ble.ConnectionHandle, ltk ble.LTK) {
	m := e.mgr()
	m.q.Post(func() { m.onSecureConnectionsLTKGenerated(conn, ltk) })
}

func (e *palEvents) OnKeysDistributedLTK(conn ble.ConnectionHandle, ltk ble.LTK) {
	m := e.mgr()
	m.q.Post(func() { m.onKeysDistributedLTK(conn, ltk) })
}

func (e *palEvents) OnKeysDistributedEdivRand(conn ble.ConnectionHandle, ediv uint16, rand uint64) {
	m := e.mgr()
	m.q.Post(func() { m.onKeysDistributedEdivRand(conn, ediv, rand) })
}

func (e *palEvents) OnKeysDistributedLocalLTK(conn ble.ConnectionHandle, ltk ble.LTK) {
	m := e.mgr()
	m.q.Post(func() { m.onKeysDistributedLocalLTK(conn, ltk) })
}

func (e *palEvents) OnKeysDistributedLocalEdivRand(conn ble.ConnectionHandle, ediv uint16, rand uint64) {
	m := e.mgr()
	m.q.Post(func() { m.onKeysDistributedLocalEdivRand(conn, ediv, rand) })
}

func (e *palEvents) OnKeysDistributedIRK(conn ble.ConnectionHandle, irk ble.IRK) {
	m := e.mgr()
	m.q.Post(func() { m.onKeysDistributedIRK(conn, irk) })
}

func (e *palEvents) OnKeysDistributedIdentity(conn ble.ConnectionHandle, addressIsPublic bool, address ble.Addr) {
	m := e.mgr()
	m.q.Post(func() { m.onKeysDistributedIdentity(conn, addressIsPublic, address) })
}

func (e *palEvents) OnKeysDistributedCSRK(conn ble.ConnectionHandle, csrk ble.CSRK) {
	m := e.mgr()
	m.q.Post(func() { m.onKeysDistributedCSRK(conn, csrk) })
}

func (e *palEvents) OnLTKRequest(conn ble.ConnectionHandle, ediv uint16, rand uint64) {
	m := e.mgr()
	m.q.Post(func() { m.onLTKRequest(conn, ediv, rand) })
}

func (e *palEvents) OnSecureConnectionsLTKRequest(conn ble.ConnectionHandle) {
	m := e.mgr()
	m.q.Post(func() { m.onSecureConnectionsLTKRequest(conn) })
}

func (e *palEvents) OnSignedWriteReceived(conn ble.ConnectionHandle, signCounter uint32) {
	m := e.mgr()
	m.q.Post(func() {
		b := m.blockByConnection(conn)
		if b == nil {
			return
		}
		b.csrkFailures = 0
		m.db.SetEntryPeerSignCounter(b.dbEntry, signCounter)
	})
}

func (e *palEvents) OnSignedWriteVerificationFailure(conn ble.ConnectionHandle) {
	m := e.mgr()
	m.q.Post(func() { m.onSignedWriteVerificationFailure(conn) })
}

func (e *palEvents) OnSignedWrite() {
	m := e.mgr()
	m.q.Post(func() {
		m.db.SetLocalSignCounter(m.db.LocalSignCounter() + 1)
	})
}
