package security

import (
	"github.com/pkg/errors"

	"github.com/blekit/ble"
	"github.com/blekit/ble/secdb"
)

// LinkEncryption reports the current encryption level of a link.
func (m *Manager) LinkEncryption(conn ble.ConnectionHandle) (ble.LinkEncryption, error) {
	var level ble.LinkEncryption
	err := m.run(func() error {
		b := m.blockByConnection(conn)
		if b == nil {
			return errors.Wrapf(ble.ErrInvalidParameter, "security: unknown connection %d", conn)
		}
		level = m.linkEncryptionLevel(b)
		return nil
	})
	return level, err
}

func (m *Manager) linkEncryptionLevel(b *controlBlock) ble.LinkEncryption {
	switch {
	case b.encrypted && (b.LTKMitm || b.mitmPerformed) && b.SecureConnections:
		return ble.EncryptedWithSCAndMITM
	case b.encrypted && (b.LTKMitm || b.mitmPerformed):
		return ble.EncryptedWithMITM
	case b.encrypted:
		return ble.Encrypted
	case b.encryptionRequested:
		return ble.EncryptionInProgress
	}
	return ble.NotEncrypted
}

// SetLinkEncryption drives the link toward the requested level. The level
// only ratchets upward: downgrades are rejected, an already-met level is
// a no-op that still reports the current level, and a request made while
// a negotiation is in flight is not permitted.
func (m *Manager) SetLinkEncryption(conn ble.ConnectionHandle, target ble.LinkEncryption) error {
	return m.run(func() error {
		b := m.blockByConnection(conn)
		if b == nil {
			return errors.Wrapf(ble.ErrInvalidParameter, "security: unknown connection %d", conn)
		}
		current := m.linkEncryptionLevel(b)
		if target == current {
			m.emitEncryptionResult(conn, current)
			return nil
		}
		if current == ble.EncryptionInProgress {
			return errors.Wrap(ble.ErrNotPermitted, "security: encryption negotiation in progress")
		}

		switch target {
		case ble.NotEncrypted:
			return errors.Wrap(ble.ErrNotPermitted, "security: links cannot be downgraded")

		case ble.Encrypted:
			if current != ble.NotEncrypted {
				// already at or above the target
				m.emitEncryptionResult(conn, current)
				return nil
			}
			b.encryptionRequested = true
			return m.enableEncryption(b)

		case ble.EncryptedWithMITM:
			if current == ble.EncryptedWithSCAndMITM {
				m.emitEncryptionResult(conn, current)
				return nil
			}
			b.encryptionRequested = true
			if b.LTKMitm && !b.encrypted {
				return m.enableEncryption(b)
			}
			return m.doRequestAuthentication(b)

		case ble.EncryptedWithSCAndMITM:
			b.encryptionRequested = true
			if b.LTKMitm && b.SecureConnections && !b.encrypted {
				return m.enableEncryption(b)
			}
			if !b.SecureConnections {
				// a legacy key can never satisfy this level; only a
				// fresh secure connections pairing can
				b.mitmRequested = true
				return m.startPairing(b)
			}
			return m.doRequestAuthentication(b)

		default:
			return errors.Wrapf(ble.ErrInvalidParameter, "security: invalid target level %v", target)
		}
	})
}

// RequestAuthentication brings the link to an MITM-protected level, via a
// stored authenticated key when one exists and a full re-pair otherwise.
func (m *Manager) RequestAuthentication(conn ble.ConnectionHandle) error {
	return m.run(func() error {
		b := m.blockByConnection(conn)
		if b == nil {
			return errors.Wrapf(ble.ErrInvalidParameter, "security: unknown connection %d", conn)
		}
		return m.doRequestAuthentication(b)
	})
}

func (m *Manager) doRequestAuthentication(b *controlBlock) error {
	if b.LTKMitm {
		if b.encrypted {
			m.emitEncryptionResult(b.connection, m.linkEncryptionLevel(b))
			return nil
		}
		b.encryptionRequested = true
		return m.enableEncryption(b)
	}
	b.encryptionRequested = true
	b.mitmRequested = true
	return m.startPairing(b)
}

// enableEncryption starts encryption as master via an asynchronous key
// lookup; a miss falls back to pairing. The slave can only ask.
func (m *Manager) enableEncryption(b *controlBlock) error {
	if !b.isMaster {
		return m.slaveSecurityRequest(b)
	}
	if b.SecureConnections {
		m.db.EntryPeerKeys(m.enableSCEncryptionCb, b.dbEntry)
		return nil
	}
	m.db.EntryPeerKeys(m.enableEncryptionCb, b.dbEntry)
	return nil
}

func (m *Manager) enableEncryptionCb(h secdb.EntryHandle, keys *secdb.EntryKeys) {
	b := m.blockByDBEntry(h)
	if b == nil {
		return
	}
	if keys == nil {
		// no stored key, a fresh pairing will produce one
		if err := m.doRequestPairing(b); err != nil {
			m.log.Errorf("pairing after key miss on %d: %v", b.connection, err)
		}
		return
	}
	if err := m.pal.EnableEncryption(b.connection, keys.LTK, keys.Rand, keys.Ediv, b.LTKMitm); err != nil {
		m.log.Errorf("enable encryption on %d: %v", b.connection, err)
	}
}

func (m *Manager) enableSCEncryptionCb(h secdb.EntryHandle, keys *secdb.EntryKeys) {
	b := m.blockByDBEntry(h)
	if b == nil {
		return
	}
	if keys == nil {
		if err := m.doRequestPairing(b); err != nil {
			m.log.Errorf("pairing after key miss on %d: %v", b.connection, err)
		}
		return
	}
	if err := m.pal.EnableSecureConnectionsEncryption(b.connection, keys.LTK, b.LTKMitm); err != nil {
		m.log.Errorf("enable encryption on %d: %v", b.connection, err)
	}
}

// onLinkEncryptionResult folds the controller outcome into the block. The
// first failure of a requested encryption silently retries via a full
// re-pair, covering a peer that lost its key; only a repeat failure
// reaches the application.
func (m *Manager) onLinkEncryptionResult(conn ble.ConnectionHandle, level ble.LinkEncryption) {
	b := m.blockByConnection(conn)
	if b == nil {
		return
	}
	switch level {
	case ble.Encrypted, ble.EncryptedWithMITM, ble.EncryptedWithSCAndMITM:
		b.encryptionRequested = false
		b.encryptionFailed = false
		b.encrypted = true
	case ble.NotEncrypted:
		if b.encryptionRequested && !b.encryptionFailed {
			b.encryptionFailed = true
			if err := m.doRequestPairing(b); err != nil {
				m.log.Errorf("re-pair after encryption failure on %d: %v", conn, err)
			}
			return
		}
		b.encryptionRequested = false
		b.encrypted = false
	}
	m.emitEncryptionResult(conn, m.linkEncryptionLevel(b))
}

// emitEncryptionResult guards against a missing handler; Init requires
// one, but encryption events can still race a teardown.
func (m *Manager) emitEncryptionResult(conn ble.ConnectionHandle, level ble.LinkEncryption) {
	if m.handler == nil {
		m.log.Errorf("encryption result for %d dropped, no event handler", conn)
		return
	}
	m.handler.OnLinkEncryptionResult(conn, level)
}
