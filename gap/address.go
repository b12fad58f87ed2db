package gap

import (
	"github.com/pkg/errors"

	"github.com/blekit/ble"
	"github.com/blekit/ble/pal"
)

// SetRandomStaticAddress programs the fixed random identity address. The
// address must carry the random-static top bits and a valid random part.
func (g *Gap) SetRandomStaticAddress(a ble.Addr) error {
	return g.run(func() error {
		if !a.IsRandomStatic() {
			return errors.Wrapf(ble.ErrInvalidParameter, "gap: %v is not a random static address", a)
		}
		if err := g.pal.SetRandomAddress(a); err != nil {
			return err
		}
		g.randomStatic = a
		g.ownType = ble.AddrRandomStatic
		g.ownAddr = a
		return nil
	})
}

// Address returns the currently active own address and its type.
func (g *Gap) Address() (ble.AddrType, ble.Addr) {
	var (
		t ble.AddrType
		a ble.Addr
	)
	g.q.Sync(func() {
		t = g.ownType
		a = g.ownAddr
	})
	return t, a
}

// generateNonResolvableAddress draws random octets until the result passes
// the non-resolvable private classification. It does not terminate if the
// random source never produces a valid value; that hazard is accepted
// rather than masked.
func (g *Gap) generateNonResolvableAddress() (ble.Addr, error) {
	var a ble.Addr
	for {
		if _, err := g.rnd.Read(a[:]); err != nil {
			return a, errors.Wrap(err, "gap: random source")
		}
		a[5] &^= 0xc0
		if a.IsRandomPrivateNonResolvable() {
			return a, nil
		}
	}
}

// rotateAddress generates and programs a fresh non-resolvable private
// address for the default identity and, when extended advertising is
// available, for every existing advertising set. The rotation timer is
// re-armed first so a failed attempt is retried on the next period
// instead of stopping rotation for good.
func (g *Gap) rotateAddress() error {
	g.rotationTimer.Stop()
	g.rotationTimer = g.q.CallAfter(g.rotationInterval, func() {
		if err := g.rotateAddress(); err != nil {
			g.log.Errorf("address rotation: %v", err)
		}
	})

	a, err := g.generateNonResolvableAddress()
	if err != nil {
		return err
	}
	if err := g.pal.SetRandomAddress(a); err != nil {
		return err
	}
	g.ownAddr = a
	g.ownType = ble.AddrRandomPrivateNonResolvable

	if g.pal.IsFeatureSupported(pal.FeatureExtendedAdvertising) {
		for h := range g.sets {
			if !g.sets[h].exists {
				continue
			}
			if err := g.pal.SetAdvertisingSetRandomAddress(ble.AdvHandle(h), a); err != nil {
				g.log.Warnf("address rotation: set %d: %v", h, err)
			}
		}
	}
	return nil
}

// startRotation kicks off the background rotation activity; the first
// address is generated immediately.
func (g *Gap) startRotation() error {
	return g.rotateAddress()
}

// stopRotation cancels the timer and restores the fixed random static
// identity address.
func (g *Gap) stopRotation() {
	g.rotationTimer.Stop()
	g.rotationTimer = nil
	if g.ownType == ble.AddrRandomPrivateNonResolvable {
		g.ownAddr = g.randomStatic
		g.ownType = ble.AddrRandomStatic
		if err := g.pal.SetRandomAddress(g.randomStatic); err != nil {
			g.log.Warnf("restore static address: %v", err)
		}
	}
}
