package gap

import (
	"time"

	"github.com/pkg/errors"

	"github.com/blekit/ble"
	"github.com/blekit/ble/pal"
)

// ScanParameters describes one scan activity.
type ScanParameters struct {
	Active           bool
	IntervalUnits    uint16 // 0.625 ms units
	WindowUnits      uint16
	FilterDuplicates bool
	UseWhitelist     bool
	// Duration limits the scan; zero scans until StopScan. On pre-extended
	// controllers the duration runs on a local timer.
	Duration time.Duration
	// Phys selects scanning PHYs on extended controllers; empty means 1M.
	Phys ble.PhySet
}

// StartScan begins scanning. A scan already in progress is replaced.
func (g *Gap) StartScan(p ScanParameters) error {
	return g.run(func() error { return g.doStartScan(p) })
}

func (g *Gap) doStartScan(p ScanParameters) error {
	if p.WindowUnits > p.IntervalUnits {
		return errors.Wrap(ble.ErrInvalidParameter, "gap: scan window exceeds interval")
	}

	filter := uint8(0)
	if p.UseWhitelist {
		filter = 1
	}

	if g.pal.IsFeatureSupported(pal.FeatureExtendedAdvertising) {
		phys := p.Phys
		if phys.Empty() {
			phys = ble.PhySet(0).With(ble.Phy1M)
		}
		params := pal.ExtendedScanParams{
			OwnAddrType:  g.ownType,
			FilterPolicy: filter,
			Phys:         map[ble.Phy]pal.PhyScanParams{},
		}
		for _, phy := range []ble.Phy{ble.Phy1M, ble.PhyCoded} {
			if phys.Has(phy) {
				params.Phys[phy] = pal.PhyScanParams{
					Active:        p.Active,
					IntervalUnits: p.IntervalUnits,
					WindowUnits:   p.WindowUnits,
				}
			}
		}
		if err := g.pal.SetExtendedScanParameters(params); err != nil {
			return err
		}
		duration := uint16(p.Duration / (10 * time.Millisecond))
		if err := g.pal.ExtendedScanEnable(true, p.FilterDuplicates, duration, 0); err != nil {
			return err
		}
		g.scanning = true
		return nil
	}

	if err := g.pal.SetScanParameters(pal.ScanParams{
		Active:        p.Active,
		IntervalUnits: p.IntervalUnits,
		WindowUnits:   p.WindowUnits,
		OwnAddrType:   g.ownType,
		FilterPolicy:  filter,
	}); err != nil {
		return err
	}
	if err := g.pal.ScanEnable(true, p.FilterDuplicates); err != nil {
		return err
	}
	g.scanning = true

	// pre-5.0 controllers have no native scan duration; run it locally and
	// surface the expiry as a user-context scan timeout event
	if p.Duration > 0 {
		g.scanTimer.Stop()
		g.scanTimer = g.q.CallAfter(p.Duration, func() {
			if !g.scanning {
				return
			}
			if err := g.doStopScan(); err != nil {
				g.log.Errorf("scan timeout: stop: %v", err)
			}
			if g.handler != nil {
				g.handler.OnScanTimeout()
			}
		})
	}
	return nil
}

// StopScan ends scanning. Stopping an already-stopped scan is a no-op.
func (g *Gap) StopScan() error {
	return g.run(func() error {
		if !g.scanning {
			return nil
		}
		return g.doStopScan()
	})
}

func (g *Gap) doStopScan() error {
	g.scanTimer.Stop()
	g.scanTimer = nil
	var err error
	if g.pal.IsFeatureSupported(pal.FeatureExtendedAdvertising) {
		err = g.pal.ExtendedScanEnable(false, false, 0, 0)
	} else {
		err = g.pal.ScanEnable(false, false)
	}
	if err != nil {
		return err
	}
	g.scanning = false
	return nil
}
