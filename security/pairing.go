package security

import (
	"github.com/pkg/errors"

	"github.com/blekit/ble"
	"github.com/blekit/ble/pal"
)

// RequestPairing starts a pairing procedure as initiator. With legacy
// pairing disallowed and no secure connections support the request fails
// up front instead of negotiating a doomed exchange.
func (m *Manager) RequestPairing(conn ble.ConnectionHandle) error {
	return m.run(func() error {
		b := m.blockByConnection(conn)
		if b == nil {
			return errors.Wrapf(ble.ErrInvalidParameter, "security: unknown connection %d", conn)
		}
		return m.doRequestPairing(b)
	})
}

func (m *Manager) doRequestPairing(b *controlBlock) error {
	if !m.legacyAllowed && !m.defaultAuth.SecureConnections() {
		return errors.Wrap(ble.ErrInvalidState, "security: legacy pairing disallowed and secure connections unavailable")
	}

	auth := m.defaultAuth
	if b.mitmRequested {
		auth = auth.WithMITM(true)
	}

	// the slave defaults to sending its keys; the master only offers its
	// own when a future role reversal is expected
	initiator := pal.KeyDistIdentity | pal.KeyDistLink
	if m.masterSendsKeys {
		initiator = m.defaultKeyDist
	}
	initiator = initiator.WithIdentity(true)
	responder := m.defaultKeyDist

	initiator, responder = m.applySigningPolicy(b, initiator, responder)

	// a fresh pairing starts with no MITM procedure performed
	b.mitmPerformed = false

	return m.pal.SendPairingRequest(b.connection, b.attemptOOB, auth, initiator, responder)
}

func (m *Manager) applySigningPolicy(b *controlBlock, initiator, responder pal.KeyDistribution) (pal.KeyDistribution, pal.KeyDistribution) {
	if b.signingOverrideDefault {
		initiator = initiator.WithSigning(b.signingRequested)
		responder = responder.WithSigning(b.signingRequested)
		return initiator, responder
	}
	initiator = initiator.WithSigning(m.defaultKeyDist.Signing())
	responder = responder.WithSigning(m.defaultKeyDist.Signing())
	return initiator, responder
}

// AcceptPairingRequest answers a peer-initiated pairing previously
// surfaced through OnPairingRequest. The offered distributions are the
// intersection of the peer's wish and local policy.
func (m *Manager) AcceptPairingRequest(conn ble.ConnectionHandle) error {
	return m.run(func() error {
		b := m.blockByConnection(conn)
		if b == nil {
			return errors.Wrapf(ble.ErrInvalidParameter, "security: unknown connection %d", conn)
		}
		return m.doAcceptPairingRequest(b)
	})
}

func (m *Manager) doAcceptPairingRequest(b *controlBlock) error {
	auth := m.defaultAuth
	if b.mitmRequested {
		auth = auth.WithMITM(true)
	}

	initiator := b.initiatorDist
	if m.masterSendsKeys {
		initiator = initiator.And(m.defaultKeyDist)
	} else {
		initiator = initiator.And(pal.KeyDistIdentity | pal.KeyDistLink)
	}
	responder := b.responderDist.And(m.defaultKeyDist)

	initiator, responder = m.applySigningPolicy(b, initiator, responder)

	b.mitmPerformed = false

	return m.pal.SendPairingResponse(b.connection, b.attemptOOB, auth, initiator, responder)
}

// CancelPairingRequest aborts an in-flight pairing.
func (m *Manager) CancelPairingRequest(conn ble.ConnectionHandle) error {
	return m.run(func() error {
		if b := m.blockByConnection(conn); b == nil {
			return errors.Wrapf(ble.ErrInvalidParameter, "security: unknown connection %d", conn)
		}
		return m.pal.CancelPairing(conn, pal.FailureUnspecifiedReason)
	})
}

// SetPairingRequestAuthorisation selects whether peer-initiated pairings
// are surfaced to the application or accepted automatically.
func (m *Manager) SetPairingRequestAuthorisation(required bool) error {
	return m.run(func() error {
		m.pairingAuthorisation = required
		return nil
	})
}

// startPairing initiates from the role-appropriate side: the master sends
// a pairing request, the slave a security request.
func (m *Manager) startPairing(b *controlBlock) error {
	if b.isMaster {
		return m.doRequestPairing(b)
	}
	return m.slaveSecurityRequest(b)
}

func (m *Manager) slaveSecurityRequest(b *controlBlock) error {
	auth := m.defaultAuth
	if b.mitmRequested {
		auth = auth.WithMITM(true)
	}
	return m.pal.SendSecurityRequest(b.connection, auth)
}

// PasskeyEntered forwards the user-typed passkey.
func (m *Manager) PasskeyEntered(conn ble.ConnectionHandle, passkey ble.Passkey) error {
	return m.run(func() error {
		if b := m.blockByConnection(conn); b == nil {
			return errors.Wrapf(ble.ErrInvalidParameter, "security: unknown connection %d", conn)
		}
		return m.pal.PasskeyRequestReply(conn, passkey)
	})
}

// ConfirmationEntered forwards the numeric comparison verdict.
func (m *Manager) ConfirmationEntered(conn ble.ConnectionHandle, confirmed bool) error {
	return m.run(func() error {
		if b := m.blockByConnection(conn); b == nil {
			return errors.Wrapf(ble.ErrInvalidParameter, "security: unknown connection %d", conn)
		}
		return m.pal.ConfirmationEntered(conn, confirmed)
	})
}

// SendKeypressNotification reports passkey entry activity to the peer.
func (m *Manager) SendKeypressNotification(conn ble.ConnectionHandle, k ble.Keypress) error {
	return m.run(func() error {
		if b := m.blockByConnection(conn); b == nil {
			return errors.Wrapf(ble.ErrInvalidParameter, "security: unknown connection %d", conn)
		}
		return m.pal.SendKeypressNotification(conn, k)
	})
}
