// Package security implements the portable Security Manager engine:
// pairing, link encryption, key distribution and data signing, layered
// over a pal.SecurityManager driver and a secdb.Database bond store.
//
// The engine shares the serialized event queue of the GAP engine. It
// learns about links by implementing ble.ConnectionObserver; register it
// on the GAP engine with SetConnectionObserver.
package security

import (
	"github.com/pkg/errors"

	"github.com/blekit/ble"
	"github.com/blekit/ble/eventq"
	"github.com/blekit/ble/pal"
	"github.com/blekit/ble/secdb"
)

// Manager is the Security Manager engine instance.
type Manager struct {
	pal pal.SecurityManager
	db  secdb.Database
	q   *eventq.Queue
	log ble.Logger

	handler EventHandler

	initialized bool

	defaultAuth    pal.AuthenticationMask
	defaultKeyDist pal.KeyDistribution

	pairingAuthorisation bool
	legacyAllowed        bool
	masterSendsKeys      bool
	signingInitialized   bool

	displayPasskey    ble.Passkey
	hasDisplayPasskey bool

	// legacy OOB: one temporary key, tagged with the address that produced
	// it; receiving new data overwrites the previous pair.
	oobTemporaryKey   ble.TemporaryKey
	oobTKCreator      ble.Addr
	oobTKCreatorValid bool

	// secure connections OOB: a zero local random is the sentinel for
	// "generation in flight". The peer triplet is consumed on first use.
	scOOBStarted    bool
	oobLocalAddress ble.Addr
	oobLocalRandom  ble.OOBRandom
	oobPeerAddress  ble.Addr
	oobPeerRandom   ble.OOBRandom
	oobPeerConfirm  ble.OOBConfirm

	signingFailureThreshold int

	blocks []controlBlock
}

// Option configures a Manager.
type Option func(*Manager) error

// WithLogger overrides the default logger.
func WithLogger(l ble.Logger) Option {
	return func(m *Manager) error {
		m.log = l
		return nil
	}
}

// WithControlBlockCount overrides the concurrent secured-link bound.
func WithControlBlockCount(n int) Option {
	return func(m *Manager) error {
		if n < 1 {
			return errors.Wrap(ble.ErrInvalidParameter, "control block count must be positive")
		}
		m.blocks = make([]controlBlock, n)
		return nil
	}
}

// WithSigningFailureThreshold overrides how many consecutive signed-write
// verification failures trigger a re-pair. The default of 3 is policy
// against a stale peer CSRK, not a protocol constant.
func WithSigningFailureThreshold(n int) Option {
	return func(m *Manager) error {
		if n < 1 {
			return errors.Wrap(ble.ErrInvalidParameter, "signing failure threshold must be positive")
		}
		m.signingFailureThreshold = n
		return nil
	}
}

// New creates a Security Manager engine over the given driver, bond
// database and event queue, and registers itself as the driver's event
// handler. Call Init before any pairing operation.
func New(p pal.SecurityManager, db secdb.Database, q *eventq.Queue, opts ...Option) (*Manager, error) {
	m := &Manager{
		pal:                     p,
		db:                      db,
		q:                       q,
		legacyAllowed:           true,
		pairingAuthorisation:    false,
		defaultKeyDist:          pal.KeyDistAll,
		signingFailureThreshold: 3,
		blocks:                  make([]controlBlock, defaultControlBlockCount),
	}
	for _, o := range opts {
		if err := o(m); err != nil {
			return nil, err
		}
	}
	if m.log == nil {
		m.log = ble.GetLogger().ChildLogger(map[string]interface{}{"component": "security"})
	}
	if err := p.Initialize(); err != nil {
		return nil, errors.Wrap(err, "security: driver initialize")
	}
	p.SetEventHandler((*palEvents)(m))
	return m, nil
}

// SetEventHandler registers the application event handler. Init fails
// without one: pairing mandates application decisions.
func (m *Manager) SetEventHandler(h EventHandler) {
	m.q.Sync(func() { m.handler = h })
}

// Init configures the engine's default security policy and restores the
// bond database. Identities restored from the database are pushed into
// the controller resolving list.
func (m *Manager) Init(bondable, mitm bool, iocaps ble.IOCapability, signing bool) error {
	return m.run(func() error {
		if m.handler == nil {
			return errors.Wrap(ble.ErrInvalidState, "security: no event handler registered")
		}
		if err := m.pal.SetIOCapability(iocaps); err != nil {
			return err
		}
		if m.hasDisplayPasskey {
			if err := m.pal.SetDisplayPasskey(m.displayPasskey); err != nil {
				return err
			}
		}
		m.defaultAuth = pal.AuthenticationMask(0).
			WithBondable(bondable).
			WithMITM(mitm)
		if sc, err := m.pal.SecureConnectionsSupport(); err == nil && sc {
			m.defaultAuth = m.defaultAuth.WithSecureConnections(true)
		}
		if signing {
			if err := m.initSigning(); err != nil {
				return err
			}
		} else {
			m.defaultKeyDist = m.defaultKeyDist.WithSigning(false)
		}
		if err := m.db.Restore(); err != nil {
			return errors.Wrap(err, "security: bond database restore")
		}
		m.db.IdentityList(func(ids []secdb.EntryIdentity) {
			for _, id := range ids {
				t := ble.AddrRandomStatic
				if id.AddressIsPublic {
					t = ble.AddrPublic
				}
				if err := m.pal.AddDeviceToResolvingList(t, id.Address, id.IRK); err != nil {
					m.log.Warnf("resolving list restore for %s: %v", id.Address, err)
				}
			}
		})
		m.initialized = true
		return nil
	})
}

// Reset releases all control blocks and returns the driver to its
// post-initialize state. Bonds survive according to the restore flag,
// see PreserveBondingStateOnReset.
func (m *Manager) Reset() error {
	return m.run(func() error {
		for i := range m.blocks {
			if !m.blocks[i].inUse {
				continue
			}
			m.db.CloseEntry(m.blocks[i].dbEntry)
			m.releaseBlock(&m.blocks[i])
		}
		m.initialized = false
		return m.pal.Reset()
	})
}

// PreserveBondingStateOnReset selects whether the bond database is
// reloaded on the next Init.
func (m *Manager) PreserveBondingStateOnReset(enable bool) error {
	return m.run(func() error {
		m.db.SetRestore(enable)
		return nil
	})
}

// PurgeAllBondingState erases every stored bond. Available with zero
// active connections.
func (m *Manager) PurgeAllBondingState() error {
	return m.run(m.db.Clear)
}

// GenerateWhitelistFromBondTable derives a whitelist from the stored
// bonds and delivers it through cb on the event queue.
func (m *Manager) GenerateWhitelistFromBondTable(capacity int, cb func([]ble.WhitelistEntry)) error {
	if cb == nil {
		return errors.Wrap(ble.ErrInvalidParameter, "security: nil whitelist callback")
	}
	return m.run(func() error {
		m.db.WhitelistFromBondTable(secdb.WhitelistCallback(cb), capacity)
		return nil
	})
}

// AllowLegacyPairing permits or forbids pairing without secure
// connections support.
func (m *Manager) AllowLegacyPairing(allow bool) error {
	return m.run(func() error {
		m.legacyAllowed = allow
		return nil
	})
}

// SetSecureConnectionsSupport toggles secure connections in the driver
// and the default authentication requirements.
func (m *Manager) SetSecureConnectionsSupport(enable bool) error {
	return m.run(func() error {
		if err := m.pal.SetSecureConnectionsSupport(enable); err != nil {
			return err
		}
		m.defaultAuth = m.defaultAuth.WithSecureConnections(enable)
		return nil
	})
}

// SetDisplayPasskey pins the passkey shown during display pairing instead
// of a random one.
func (m *Manager) SetDisplayPasskey(p ble.Passkey) error {
	return m.run(func() error {
		m.displayPasskey = p
		m.hasDisplayPasskey = true
		if m.initialized {
			return m.pal.SetDisplayPasskey(p)
		}
		return nil
	})
}

// SetKeypressNotification toggles keypress notifications in the default
// authentication requirements.
func (m *Manager) SetKeypressNotification(enable bool) error {
	return m.run(func() error {
		m.defaultAuth = m.defaultAuth.WithKeypress(enable)
		return nil
	})
}

// SetEncryptionKeyRequirements forwards the acceptable key size range.
func (m *Manager) SetEncryptionKeyRequirements(minSize, maxSize uint8) error {
	return m.run(func() error { return m.pal.SetEncryptionKeyRequirements(minSize, maxSize) })
}

// EncryptionKeySize returns the negotiated key size of an encrypted link.
func (m *Manager) EncryptionKeySize(conn ble.ConnectionHandle) (uint8, error) {
	var size uint8
	err := m.run(func() error {
		if b := m.blockByConnection(conn); b == nil {
			return errors.Wrapf(ble.ErrInvalidParameter, "security: unknown connection %d", conn)
		}
		var err error
		size, err = m.pal.EncryptionKeySize(conn)
		return err
	})
	return size, err
}

// SetAuthenticationTimeout forwards the link authentication timeout.
func (m *Manager) SetAuthenticationTimeout(conn ble.ConnectionHandle, timeout10ms uint16) error {
	return m.run(func() error { return m.pal.SetAuthenticationTimeout(conn, timeout10ms) })
}

// SetHintFutureRoleReversal marks that the local device expects to act as
// peripheral later, so the master distributes its own keys during
// pairing too.
func (m *Manager) SetHintFutureRoleReversal(enable bool) error {
	return m.run(func() error {
		m.masterSendsKeys = enable
		return nil
	})
}

func (m *Manager) run(fn func() error) error {
	var err error
	m.q.Sync(func() { err = fn() })
	return err
}

// OnConnected implements ble.ConnectionObserver: it claims a control
// block and opens the database entry for the peer. Invoked on the queue
// by the GAP engine.
func (m *Manager) OnConnected(peer ble.ConnectedPeer) {
	b := m.acquireBlock(peer.Handle)
	if b == nil {
		m.log.Errorf("control block pool exhausted, connection %d is unsecurable", peer.Handle)
		return
	}
	b.peerAddressType = peer.PeerAddressType
	b.peerAddress = peer.PeerAddress
	b.localAddress = peer.LocalAddress
	b.isMaster = peer.Role == ble.RoleCentral
	b.dbEntry = m.db.OpenEntry(peer.PeerAddressType, peer.PeerAddress)

	if peer.RequireAuthentication {
		if err := m.doRequestAuthentication(b); err != nil {
			m.log.Errorf("authentication required on connect %d: %v", peer.Handle, err)
		}
		return
	}
	if peer.RequirePairing {
		if err := m.startPairing(b); err != nil {
			m.log.Errorf("pairing required on connect %d: %v", peer.Handle, err)
		}
	}
}

// OnDisconnected implements ble.ConnectionObserver: it persists the
// distribution flags, closes the database entry and releases the block.
func (m *Manager) OnDisconnected(conn ble.ConnectionHandle, reason uint8) {
	b := m.blockByConnection(conn)
	if b == nil {
		return
	}
	if b.dbEntry != secdb.Invalid {
		m.db.SetDistributionFlags(b.dbEntry, b.DistributionFlags)
		m.db.CloseEntry(b.dbEntry)
	}
	m.releaseBlock(b)
	if err := m.db.Sync(); err != nil {
		m.log.Errorf("bond database sync: %v", err)
	}
}
