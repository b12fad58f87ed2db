package gap

import (
	"time"

	"github.com/pkg/errors"

	"github.com/blekit/ble"
	"github.com/blekit/ble/pal"
)

// AdvertisingParameters programs one advertising set.
type AdvertisingParameters struct {
	Connectable      bool
	Scannable        bool
	AnonymousAdvertising bool
	UseLegacyPDU     bool
	IntervalMinUnits uint32 // 0.625 ms units
	IntervalMaxUnits uint32
	TxPower          int8
	PrimaryPhy       ble.Phy
	SecondaryPhy     ble.Phy
	SID              uint8
	PeerAddressType  ble.AddrType
	PeerAddress      ble.Addr
	FilterPolicy     uint8
	ScanRequestNotify bool
}

func (g *Gap) extendedAdvertising() bool {
	return g.pal.IsFeatureSupported(pal.FeatureExtendedAdvertising)
}

func (g *Gap) set(h ble.AdvHandle) (*advSet, error) {
	if int(h) >= len(g.sets) || !g.sets[h].exists {
		return nil, errors.Wrapf(ble.ErrInvalidParameter, "gap: advertising set %d does not exist", h)
	}
	return &g.sets[h], nil
}

// CreateAdvertisingSet allocates a new set and programs its parameters.
// Requires extended advertising; the legacy path multiplexes everything
// onto LegacyAdvertisingHandle, which needs no explicit create.
func (g *Gap) CreateAdvertisingSet(p AdvertisingParameters) (ble.AdvHandle, error) {
	var h ble.AdvHandle
	err := g.run(func() error {
		if !g.extendedAdvertising() {
			return errors.Wrap(ble.ErrNotImplemented, "gap: extended advertising unsupported")
		}
		free := -1
		for i := int(ble.LegacyAdvertisingHandle) + 1; i < len(g.sets); i++ {
			if !g.sets[i].exists {
				free = i
				break
			}
		}
		if free < 0 {
			return errors.Wrap(ble.ErrNoMemory, "gap: no free advertising set handle")
		}
		h = ble.AdvHandle(free)
		if err := g.pal.SetExtendedAdvertisingParameters(h, extendedAdvParams(p)); err != nil {
			return err
		}
		g.sets[free] = advSet{exists: true, connectable: p.Connectable}
		return nil
	})
	return h, err
}

// DestroyAdvertisingSet frees a set's handle. Only inactive sets may be
// destroyed; the legacy handle cannot be destroyed.
func (g *Gap) DestroyAdvertisingSet(h ble.AdvHandle) error {
	return g.run(func() error {
		s, err := g.set(h)
		if err != nil {
			return err
		}
		if h == ble.LegacyAdvertisingHandle {
			return errors.Wrap(ble.ErrNotPermitted, "gap: legacy advertising set cannot be destroyed")
		}
		if s.active {
			return errors.Wrap(ble.ErrNotPermitted, "gap: set is advertising")
		}
		if s.periodicActive {
			return errors.Wrap(ble.ErrNotPermitted, "gap: set has periodic advertising active")
		}
		if err := g.pal.RemoveAdvertisingSet(h); err != nil {
			return err
		}
		g.sets[h] = advSet{}
		return nil
	})
}

// SetAdvertisingParameters reprograms an existing, inactive set.
func (g *Gap) SetAdvertisingParameters(h ble.AdvHandle, p AdvertisingParameters) error {
	return g.run(func() error {
		s, err := g.set(h)
		if err != nil {
			return err
		}
		if s.active {
			return errors.Wrap(ble.ErrNotPermitted, "gap: cannot reconfigure an active set")
		}
		if !g.extendedAdvertising() {
			if h != ble.LegacyAdvertisingHandle {
				return errors.Wrap(ble.ErrInvalidParameter, "gap: only the legacy set exists on this controller")
			}
			s.connectable = p.Connectable
			return g.pal.SetAdvertisingParameters(legacyAdvParams(p))
		}
		if err := g.pal.SetExtendedAdvertisingParameters(h, extendedAdvParams(p)); err != nil {
			return err
		}
		s.connectable = p.Connectable
		return nil
	})
}

// SetAdvertisingPayload replaces a set's advertising data, fragmenting
// oversized payloads across HCI-sized chunks.
func (g *Gap) SetAdvertisingPayload(h ble.AdvHandle, data []byte) error {
	return g.run(func() error { return g.setAdvData(h, data, false) })
}

// SetAdvertisingScanResponse replaces a set's scan response data.
func (g *Gap) SetAdvertisingScanResponse(h ble.AdvHandle, data []byte) error {
	return g.run(func() error { return g.setAdvData(h, data, true) })
}

func (g *Gap) setAdvData(h ble.AdvHandle, data []byte, scanResponse bool) error {
	s, err := g.set(h)
	if err != nil {
		return err
	}

	if !g.extendedAdvertising() {
		if h != ble.LegacyAdvertisingHandle {
			return errors.Wrap(ble.ErrInvalidParameter, "gap: only the legacy set exists on this controller")
		}
		if len(data) > legacyAdvDataMax {
			return errors.Wrapf(ble.ErrInvalidParameter, "gap: payload %d exceeds legacy maximum %d", len(data), legacyAdvDataMax)
		}
		if scanResponse {
			return g.pal.SetScanResponseData(data)
		}
		return g.pal.SetAdvertisingData(data)
	}

	max := int(g.pal.MaxAdvertisingDataLength())
	if len(data) > max {
		return errors.Wrapf(ble.ErrInvalidParameter, "gap: payload %d exceeds controller maximum %d", len(data), max)
	}
	if s.active && len(data) > connectableAdvDataMax && s.connectable {
		return errors.Wrap(ble.ErrInvalidState, "gap: payload exceeds connectable ceiling while set is active")
	}
	if !scanResponse {
		s.payloadOversized = len(data) > connectableAdvDataMax
	}

	send := g.pal.SetExtendedAdvertisingData
	if scanResponse {
		send = g.pal.SetExtendedScanResponseData
	}

	if len(data) <= advFragmentMax {
		return send(h, pal.AdvDataComplete, false, data)
	}

	// first/intermediate/last chunking
	for off := 0; off < len(data); off += advFragmentMax {
		end := off + advFragmentMax
		if end > len(data) {
			end = len(data)
		}
		op := pal.AdvDataIntermediate
		switch {
		case off == 0:
			op = pal.AdvDataFirst
		case end == len(data):
			op = pal.AdvDataLast
		}
		if err := send(h, op, false, data[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// StartAdvertising enables a set. A connectable set whose payload exceeds
// the connectable ceiling is rejected. Legacy-mode duration runs on a
// local timer because pre-5.0 controllers have no duration primitive.
func (g *Gap) StartAdvertising(h ble.AdvHandle, duration time.Duration, maxEvents uint8) error {
	return g.run(func() error { return g.doStartAdvertising(h, duration, maxEvents) })
}

func (g *Gap) doStartAdvertising(h ble.AdvHandle, duration time.Duration, maxEvents uint8) error {
	s, err := g.set(h)
	if err != nil {
		return err
	}
	if s.connectable && s.payloadOversized {
		return errors.Wrap(ble.ErrInvalidState, "gap: connectable payload exceeds connectable ceiling")
	}

	if g.extendedAdvertising() {
		durationUnits := uint16(duration / (10 * time.Millisecond))
		if err := g.pal.ExtendedAdvertisingEnable(true, h, durationUnits, maxEvents); err != nil {
			return err
		}
		s.active = true
		return nil
	}

	if h != ble.LegacyAdvertisingHandle {
		return errors.Wrap(ble.ErrInvalidParameter, "gap: only the legacy set exists on this controller")
	}
	if err := g.pal.AdvertisingEnable(true); err != nil {
		return err
	}
	s.active = true
	if duration > 0 {
		s.durationTimer.Stop()
		s.durationTimer = g.q.CallAfter(duration, func() {
			if !g.sets[h].active {
				return
			}
			if err := g.doStopAdvertising(h); err != nil {
				g.log.Errorf("advertising duration: stop: %v", err)
				return
			}
			if g.handler != nil {
				g.handler.OnAdvertisingEnd(AdvertisingEndEvent{Handle: h})
			}
		})
	}
	return nil
}

// StopAdvertising disables an active set; stopping an inactive set is an
// InvalidState error per the Core Specification.
func (g *Gap) StopAdvertising(h ble.AdvHandle) error {
	return g.run(func() error {
		s, err := g.set(h)
		if err != nil {
			return err
		}
		if !s.active {
			return errors.Wrap(ble.ErrInvalidState, "gap: set is not advertising")
		}
		return g.doStopAdvertising(h)
	})
}

func (g *Gap) doStopAdvertising(h ble.AdvHandle) error {
	s := &g.sets[h]
	s.durationTimer.Stop()
	s.durationTimer = nil
	var err error
	if g.extendedAdvertising() {
		err = g.pal.ExtendedAdvertisingEnable(false, h, 0, 0)
	} else {
		err = g.pal.AdvertisingEnable(false)
	}
	if err != nil {
		return err
	}
	s.active = false
	return nil
}

// IsAdvertisingActive reports whether the set is currently enabled.
func (g *Gap) IsAdvertisingActive(h ble.AdvHandle) (bool, error) {
	var active bool
	err := g.run(func() error {
		s, err := g.set(h)
		if err != nil {
			return err
		}
		active = s.active
		return nil
	})
	return active, err
}

// SetPeriodicAdvertisingParameters programs the periodic train of a set.
func (g *Gap) SetPeriodicAdvertisingParameters(h ble.AdvHandle, minUnits, maxUnits uint16, includeTxPower bool) error {
	return g.run(func() error {
		if !g.pal.IsFeatureSupported(pal.FeaturePeriodicAdvertising) {
			return errors.Wrap(ble.ErrNotImplemented, "gap: periodic advertising unsupported")
		}
		if h == ble.LegacyAdvertisingHandle {
			return errors.Wrap(ble.ErrInvalidParameter, "gap: legacy set cannot advertise periodically")
		}
		if _, err := g.set(h); err != nil {
			return err
		}
		return g.pal.SetPeriodicAdvertisingParameters(h, minUnits, maxUnits, includeTxPower)
	})
}

// SetPeriodicAdvertisingPayload replaces the periodic payload of a set.
func (g *Gap) SetPeriodicAdvertisingPayload(h ble.AdvHandle, data []byte) error {
	return g.run(func() error {
		if !g.pal.IsFeatureSupported(pal.FeaturePeriodicAdvertising) {
			return errors.Wrap(ble.ErrNotImplemented, "gap: periodic advertising unsupported")
		}
		if _, err := g.set(h); err != nil {
			return err
		}
		if len(data) <= advFragmentMax {
			return g.pal.SetPeriodicAdvertisingData(h, pal.AdvDataComplete, data)
		}
		for off := 0; off < len(data); off += advFragmentMax {
			end := off + advFragmentMax
			if end > len(data) {
				end = len(data)
			}
			op := pal.AdvDataIntermediate
			switch {
			case off == 0:
				op = pal.AdvDataFirst
			case end == len(data):
				op = pal.AdvDataLast
			}
			if err := g.pal.SetPeriodicAdvertisingData(h, op, data[off:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

// StartPeriodicAdvertising enables the periodic train.
func (g *Gap) StartPeriodicAdvertising(h ble.AdvHandle) error {
	return g.run(func() error {
		s, err := g.set(h)
		if err != nil {
			return err
		}
		if err := g.pal.PeriodicAdvertisingEnable(true, h); err != nil {
			return err
		}
		s.periodicActive = true
		return nil
	})
}

// StopPeriodicAdvertising disables the periodic train.
func (g *Gap) StopPeriodicAdvertising(h ble.AdvHandle) error {
	return g.run(func() error {
		s, err := g.set(h)
		if err != nil {
			return err
		}
		if !s.periodicActive {
			return errors.Wrap(ble.ErrInvalidState, "gap: periodic advertising is not active")
		}
		if err := g.pal.PeriodicAdvertisingEnable(false, h); err != nil {
			return err
		}
		s.periodicActive = false
		return nil
	})
}

// IsPeriodicAdvertisingActive reports whether the periodic train runs.
func (g *Gap) IsPeriodicAdvertisingActive(h ble.AdvHandle) (bool, error) {
	var active bool
	err := g.run(func() error {
		s, err := g.set(h)
		if err != nil {
			return err
		}
		active = s.periodicActive
		return nil
	})
	return active, err
}

// CreateSync starts synchronizing to a periodic advertising train.
func (g *Gap) CreateSync(p pal.SyncParams) error {
	return g.run(func() error {
		if !g.pal.IsFeatureSupported(pal.FeaturePeriodicAdvertising) {
			return errors.Wrap(ble.ErrNotImplemented, "gap: periodic advertising unsupported")
		}
		return g.pal.CreateSync(p)
	})
}

// CancelCreateSync abandons a pending sync establishment.
func (g *Gap) CancelCreateSync() error {
	return g.run(g.pal.CancelSyncCreation)
}

// TerminateSync drops an established sync.
func (g *Gap) TerminateSync(syncHandle uint16) error {
	return g.run(func() error { return g.pal.TerminateSync(syncHandle) })
}

func extendedAdvParams(p AdvertisingParameters) pal.ExtendedAdvParams {
	props := uint16(0)
	if p.Connectable {
		props |= pal.AdvEventConnectable
	}
	if p.Scannable {
		props |= pal.AdvEventScannable
	}
	if p.UseLegacyPDU {
		props |= pal.AdvEventLegacyPDU
	}
	return pal.ExtendedAdvParams{
		EventProperties:      props,
		IntervalMinUnits:     p.IntervalMinUnits,
		IntervalMaxUnits:     p.IntervalMaxUnits,
		ChannelMap:           0x07,
		PeerAddressType:      p.PeerAddressType,
		PeerAddress:          p.PeerAddress,
		FilterPolicy:         p.FilterPolicy,
		TxPower:              p.TxPower,
		PrimaryPhy:           p.PrimaryPhy,
		SecondaryPhy:         p.SecondaryPhy,
		SID:                  p.SID,
		ScanRequestNotify:    p.ScanRequestNotify,
		AnonymousAdvertising: p.AnonymousAdvertising,
	}
}

func legacyAdvParams(p AdvertisingParameters) pal.AdvParams {
	t := uint8(0x03) // ADV_NONCONN_IND
	switch {
	case p.Connectable:
		t = 0x00 // ADV_IND
	case p.Scannable:
		t = 0x02 // ADV_SCAN_IND
	}
	return pal.AdvParams{
		IntervalMinUnits: uint16(p.IntervalMinUnits),
		IntervalMaxUnits: uint16(p.IntervalMaxUnits),
		Type:             t,
		PeerAddressType:  p.PeerAddressType,
		PeerAddress:      p.PeerAddress,
		ChannelMap:       0x07,
		FilterPolicy:     p.FilterPolicy,
	}
}
