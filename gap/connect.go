package gap

import (
	"github.com/pkg/errors"

	"github.com/blekit/ble"
	"github.com/blekit/ble/pal"
)

// ConnectionParameters carries the per-PHY parameter sets for a connection
// attempt. At least one PHY must be present.
type ConnectionParameters struct {
	UseWhitelist bool
	Phys         map[ble.Phy]ble.ConnectionParams
}

// Connect initiates a connection to the peer. Any active scan is disabled
// first. Pre-extended controllers require exactly one enabled 1M PHY.
func (g *Gap) Connect(peerType ble.AddrType, peer ble.Addr, p ConnectionParameters) error {
	return g.run(func() error { return g.doConnect(peerType, peer, p) })
}

func (g *Gap) doConnect(peerType ble.AddrType, peer ble.Addr, p ConnectionParameters) error {
	if peerType == ble.AddrAnonymous {
		return errors.Wrap(ble.ErrInvalidParameter, "gap: cannot connect to an anonymous peer")
	}
	if len(p.Phys) == 0 {
		return errors.Wrap(ble.ErrInvalidParameter, "gap: no PHY enabled")
	}
	for phy, cp := range p.Phys {
		if !ble.SupervisionTimeoutValid(cp.MaxConnectionInterval, cp.SlaveLatency, cp.SupervisionTimeout) {
			return errors.Wrapf(ble.ErrInvalidParameter,
				"gap: phy %d supervision timeout %d below (1+%d)*%d*2",
				phy, cp.SupervisionTimeout, cp.SlaveLatency, cp.MaxConnectionInterval)
		}
	}

	if g.scanning {
		if err := g.doStopScan(); err != nil {
			return err
		}
	}

	if !g.pal.IsFeatureSupported(pal.FeatureExtendedAdvertising) {
		cp, ok := p.Phys[ble.Phy1M]
		if !ok || len(p.Phys) != 1 {
			return errors.Wrap(ble.ErrInvalidParameter, "gap: legacy connect needs exactly the 1M PHY")
		}
		return g.pal.CreateConnection(pal.CreateConnectionParams{
			ScanIntervalUnits: cp.ScanIntervalUnits,
			ScanWindowUnits:   cp.ScanWindowUnits,
			UseWhitelist:      p.UseWhitelist,
			PeerAddressType:   peerType,
			PeerAddress:       peer,
			OwnAddressType:    g.ownType,
			Params:            cp,
		})
	}

	return g.pal.ExtendedCreateConnection(pal.ExtendedCreateConnectionParams{
		UseWhitelist:    p.UseWhitelist,
		PeerAddressType: peerType,
		PeerAddress:     peer,
		OwnAddressType:  g.ownType,
		Phys:            p.Phys,
	})
}

// CancelConnect abandons a pending connection attempt.
func (g *Gap) CancelConnect() error {
	return g.run(g.pal.CancelConnectionCreation)
}

// Disconnect terminates a link.
func (g *Gap) Disconnect(conn ble.ConnectionHandle, reason uint8) error {
	return g.run(func() error { return g.pal.Disconnect(conn, reason) })
}

// UpdateConnectionParameters renegotiates link parameters; the supervision
// timeout gate applies exactly as on Connect.
func (g *Gap) UpdateConnectionParameters(conn ble.ConnectionHandle, p ble.ConnectionParams) error {
	return g.run(func() error {
		if !ble.SupervisionTimeoutValid(p.MaxConnectionInterval, p.SlaveLatency, p.SupervisionTimeout) {
			return errors.Wrap(ble.ErrInvalidParameter, "gap: supervision timeout below minimum")
		}
		return g.pal.ConnectionParameterUpdate(conn, p)
	})
}

// ManageConnectionParametersUpdateRequest opts in or out of manual handling
// of peer-initiated parameter updates. Opting in without a registered
// event handler is a configuration error.
func (g *Gap) ManageConnectionParametersUpdateRequest(manual bool) error {
	return g.run(func() error {
		if manual {
			if _, err := g.requireHandler(); err != nil {
				return err
			}
		}
		g.manualConnParams = manual
		return nil
	})
}

// AcceptConnectionParametersUpdate answers a pending peer request; the
// supervision timeout gate applies.
func (g *Gap) AcceptConnectionParametersUpdate(conn ble.ConnectionHandle, p ble.ConnectionParams) error {
	return g.run(func() error {
		if !ble.SupervisionTimeoutValid(p.MaxConnectionInterval, p.SlaveLatency, p.SupervisionTimeout) {
			return errors.Wrap(ble.ErrInvalidParameter, "gap: supervision timeout below minimum")
		}
		return g.pal.AcceptConnectionParameterRequest(conn, p)
	})
}

// RejectConnectionParametersUpdate declines a pending peer request.
func (g *Gap) RejectConnectionParametersUpdate(conn ble.ConnectionHandle) error {
	return g.run(func() error {
		return g.pal.RejectConnectionParameterRequest(conn, ble.ReasonUnacceptableParameters)
	})
}

// ReadPhy requests the current PHYs of a link; the result arrives as a PHY
// update event.
func (g *Gap) ReadPhy(conn ble.ConnectionHandle) error {
	return g.run(func() error { return g.pal.ReadPhy(conn) })
}

// SetPhy requests a PHY change on a link.
func (g *Gap) SetPhy(conn ble.ConnectionHandle, tx, rx ble.PhySet, codedOptions uint8) error {
	return g.run(func() error { return g.pal.SetPhy(conn, tx, rx, codedOptions) })
}

// SetPreferredPhys sets the default PHY preference for new links.
func (g *Gap) SetPreferredPhys(tx, rx ble.PhySet) error {
	return g.run(func() error { return g.pal.SetPreferredPhys(tx, rx) })
}
