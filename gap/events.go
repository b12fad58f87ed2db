package gap

import (
	"github.com/blekit/ble"
	"github.com/blekit/ble/pal"
)

// palEvents adapts the controller event-handler contract onto the engine.
// Every callback is posted onto the event queue; controller drivers may
// therefore invoke it from any goroutine.
type palEvents Gap

func (e *palEvents) gap() *Gap { return (*Gap)(e) }

// legacyEventType maps a legacy advertising PDU type onto the extended
// report event-type encoding, so consumers see one format regardless of
// the controller generation.
var legacyEventType = [...]uint16{
	0x13, // ADV_IND: connectable, scannable, legacy
	0x15, // ADV_DIRECT_IND: connectable, directed, legacy
	0x12, // ADV_SCAN_IND: scannable, legacy
	0x10, // ADV_NONCONN_IND: legacy
	0x1b, // SCAN_RSP: scan response to a connectable, scannable PDU
}

func (e *palEvents) OnConnectionComplete(ev pal.ConnectionComplete) {
	g := e.gap()
	g.q.Post(func() { g.onConnectionComplete(ev) })
}

func (g *Gap) onConnectionComplete(ev pal.ConnectionComplete) {
	out := ConnectionCompleteEvent{
		Status:              ev.Status,
		Handle:              ev.Handle,
		Role:                ev.Role,
		PeerAddressType:     ev.PeerAddressType,
		PeerAddress:         ev.PeerAddress,
		LocalResolvableAddr: ev.LocalResolvableAddr,
		PeerResolvableAddr:  ev.PeerResolvableAddr,
		IntervalUnits:       ev.IntervalUnits,
		Latency:             ev.Latency,
		SupervisionTimeout:  ev.SupervisionTimeout,
	}
	if ev.Status != 0 {
		if g.handler != nil {
			g.handler.OnConnectionComplete(out)
		}
		return
	}

	peer := ble.ConnectedPeer{
		Handle:           ev.Handle,
		Role:             ev.Role,
		PeerAddressType:  ev.PeerAddressType,
		PeerAddress:      ev.PeerAddress,
		LocalAddressType: g.ownType,
		LocalAddress:     g.ownAddr,
	}

	if ev.Role == ble.RolePeripheral && g.unresolvedPeer(ev.PeerAddressType, ev.PeerAddress) {
		switch g.peripheralPrivacy.ResolutionStrategy {
		case PeripheralPrivacyRejectUnresolved:
			g.log.Infof("rejecting unresolved peer %s on connection %d", ev.PeerAddress, ev.Handle)
			if err := g.pal.Disconnect(ev.Handle, ble.ReasonAuthenticationFailure); err != nil {
				g.log.Errorf("privacy reject: disconnect: %v", err)
			}
			return
		case PeripheralPrivacyPairUnresolved:
			peer.RequirePairing = true
		case PeripheralPrivacyAuthenticateUnresolved:
			peer.RequirePairing = true
			peer.RequireAuthentication = true
		}
	}

	if g.observer != nil {
		g.observer.OnConnected(peer)
	}
	if g.handler != nil {
		g.handler.OnConnectionComplete(out)
	}
}

// unresolvedPeer reports whether the peer address is a resolvable private
// address the controller failed to resolve into an identity.
func (g *Gap) unresolvedPeer(t ble.AddrType, a ble.Addr) bool {
	if !g.privacyEnabled || !t.Random() {
		return false
	}
	return a.IsRandomPrivateResolvable()
}

func (e *palEvents) OnDisconnectionComplete(ev pal.DisconnectionComplete) {
	g := e.gap()
	g.q.Post(func() {
		if ev.Status != 0 {
			g.log.Warnf("disconnection complete with status 0x%02x on connection %d", ev.Status, ev.Handle)
			return
		}
		if g.observer != nil {
			g.observer.OnDisconnected(ev.Handle, ev.Reason)
		}
		if g.handler != nil {
			g.handler.OnDisconnectionComplete(DisconnectionEvent{Handle: ev.Handle, Reason: ev.Reason})
		}
	})
}

func (e *palEvents) OnConnectionUpdate(ev pal.ConnectionUpdate) {
	g := e.gap()
	g.q.Post(func() {
		if g.handler == nil {
			return
		}
		g.handler.OnConnectionParametersUpdateComplete(ConnectionParametersUpdateCompleteEvent{
			Status:             ev.Status,
			Handle:             ev.Handle,
			IntervalUnits:      ev.IntervalUnits,
			Latency:            ev.Latency,
			SupervisionTimeout: ev.SupervisionTimeout,
		})
	})
}

func (e *palEvents) OnRemoteConnectionParameterRequest(ev pal.RemoteConnectionParameterRequest) {
	g := e.gap()
	g.q.Post(func() {
		if g.manualConnParams && g.handler != nil {
			g.handler.OnConnectionParametersUpdateRequest(ConnectionParametersUpdateRequestEvent{
				Handle:             ev.Handle,
				IntervalMinUnits:   ev.IntervalMinUnits,
				IntervalMaxUnits:   ev.IntervalMaxUnits,
				Latency:            ev.Latency,
				SupervisionTimeout: ev.SupervisionTimeout,
			})
			return
		}
		// automatic mode accepts whatever the peer proposed
		err := g.pal.AcceptConnectionParameterRequest(ev.Handle, ble.ConnectionParams{
			MinConnectionInterval: ev.IntervalMinUnits,
			MaxConnectionInterval: ev.IntervalMaxUnits,
			SlaveLatency:          ev.Latency,
			SupervisionTimeout:    ev.SupervisionTimeout,
		})
		if err != nil {
			g.log.Errorf("auto-accept connection parameters on %d: %v", ev.Handle, err)
		}
	})
}

func (e *palEvents) OnAdvertisingReport(ev pal.AdvertisingReport) {
	g := e.gap()
	g.q.Post(func() {
		if g.handler == nil || !g.scanning {
			return
		}
		eventType := ev.EventType
		if ev.Legacy {
			if int(ev.LegacyPDUType) >= len(legacyEventType) {
				g.log.Debugf("dropping report with unknown legacy pdu type 0x%02x", ev.LegacyPDUType)
				return
			}
			eventType = legacyEventType[ev.LegacyPDUType]
		}
		if g.privacyEnabled &&
			g.centralPrivacy.ResolutionStrategy == CentralPrivacyResolveAndFilter &&
			ev.AddressType.Random() && ev.Address.IsRandomPrivateResolvable() {
			return
		}
		g.handler.OnAdvertisingReport(AdvertisingReportEvent{
			EventType:         eventType,
			AddressType:       ev.AddressType,
			Address:           ev.Address,
			PrimaryPhy:        ev.PrimaryPhy,
			SecondaryPhy:      ev.SecondaryPhy,
			SID:               ev.SID,
			TxPower:           ev.TxPower,
			RSSI:              ev.RSSI,
			PeriodicInterval:  ev.PeriodicInterval,
			DirectAddressType: ev.DirectAddressType,
			DirectAddress:     ev.DirectAddress,
			Data:              ev.Data,
		})
	})
}

func (e *palEvents) OnScanTimeout() {
	g := e.gap()
	g.q.Post(func() {
		if !g.scanning {
			return
		}
		g.scanTimer.Stop()
		g.scanTimer = nil
		g.scanning = false
		if g.handler != nil {
			g.handler.OnScanTimeout()
		}
	})
}

func (e *palEvents) OnAdvertisingSetTerminated(ev pal.AdvertisingSetTerminated) {
	g := e.gap()
	g.q.Post(func() {
		if int(ev.Handle) < len(g.sets) && g.sets[ev.Handle].exists {
			s := &g.sets[ev.Handle]
			s.active = false
			s.durationTimer.Stop()
			s.durationTimer = nil
		}
		if g.handler != nil {
			g.handler.OnAdvertisingEnd(AdvertisingEndEvent{
				Handle:          ev.Handle,
				Connection:      ev.Connection,
				Connected:       ev.Status == 0,
				CompletedEvents: ev.CompletedEvents,
			})
		}
	})
}

func (e *palEvents) OnScanRequestReceived(ev pal.ScanRequestReceived) {
	g := e.gap()
	g.q.Post(func() {
		if g.handler == nil {
			return
		}
		g.handler.OnScanRequestReceived(ScanRequestEvent{
			Handle:          ev.Handle,
			ScannerAddrType: ev.ScannerAddrType,
			ScannerAddr:     ev.ScannerAddr,
		})
	})
}

func (e *palEvents) OnPeriodicSyncEstablished(ev pal.PeriodicSyncEstablished) {
	g := e.gap()
	g.q.Post(func() {
		if g.handler == nil {
			return
		}
		g.handler.OnPeriodicSyncEstablished(PeriodicSyncEstablishedEvent{
			Status:        ev.Status,
			SyncHandle:    ev.SyncHandle,
			SID:           ev.SID,
			PeerAddrType:  ev.PeerAddrType,
			PeerAddr:      ev.PeerAddr,
			Phy:           ev.Phy,
			IntervalUnits: ev.IntervalUnits,
		})
	})
}

func (e *palEvents) OnPeriodicReport(ev pal.PeriodicReport) {
	g := e.gap()
	g.q.Post(func() {
		if g.handler == nil {
			return
		}
		g.handler.OnPeriodicReport(PeriodicReportEvent{
			SyncHandle: ev.SyncHandle,
			TxPower:    ev.TxPower,
			RSSI:       ev.RSSI,
			DataStatus: ev.DataStatus,
			Data:       ev.Data,
		})
	})
}

func (e *palEvents) OnPeriodicSyncLoss(syncHandle uint16) {
	g := e.gap()
	g.q.Post(func() {
		if g.handler != nil {
			g.handler.OnPeriodicSyncLoss(syncHandle)
		}
	})
}

func (e *palEvents) OnPhyUpdateComplete(ev pal.PhyUpdateComplete) {
	g := e.gap()
	g.q.Post(func() {
		if g.handler == nil {
			return
		}
		g.handler.OnPhyUpdateComplete(PhyUpdateEvent{
			Status: ev.Status,
			Handle: ev.Handle,
			TxPhy:  ev.TxPhy,
			RxPhy:  ev.RxPhy,
		})
	})
}

func (e *palEvents) OnDataLengthChange(ev pal.DataLengthChange) {
	g := e.gap()
	g.q.Post(func() {
		if g.handler == nil {
			return
		}
		g.handler.OnDataLengthChange(DataLengthChangeEvent{
			Handle:      ev.Handle,
			MaxTxOctets: ev.MaxTxOctets,
			MaxTxTime:   ev.MaxTxTime,
			MaxRxOctets: ev.MaxRxOctets,
			MaxRxTime:   ev.MaxRxTime,
		})
	})
}
