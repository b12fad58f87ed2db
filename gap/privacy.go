package gap

import (
	"github.com/pkg/errors"

	"github.com/blekit/ble"
	"github.com/blekit/ble/pal"
)

// PeripheralPrivacyResolutionStrategy selects what the engine does when a
// peer connects with a resolvable private address the controller did not
// resolve.
type PeripheralPrivacyResolutionStrategy uint8

const (
	// PeripheralPrivacyDoNotResolve forwards the link untouched.
	PeripheralPrivacyDoNotResolve PeripheralPrivacyResolutionStrategy = iota
	// PeripheralPrivacyRejectUnresolved drops the link with an
	// authentication failure.
	PeripheralPrivacyRejectUnresolved
	// PeripheralPrivacyPairUnresolved requires a pairing procedure to
	// complete on the new link.
	PeripheralPrivacyPairUnresolved
	// PeripheralPrivacyAuthenticateUnresolved requires full authentication
	// on the new link.
	PeripheralPrivacyAuthenticateUnresolved
)

// CentralPrivacyResolutionStrategy selects how received advertising reports
// with unresolved resolvable addresses are handled.
type CentralPrivacyResolutionStrategy uint8

const (
	// CentralPrivacyDoNotResolve forwards reports untouched.
	CentralPrivacyDoNotResolve CentralPrivacyResolutionStrategy = iota
	// CentralPrivacyResolveAndForward forwards reports after resolution.
	CentralPrivacyResolveAndForward
	// CentralPrivacyResolveAndFilter silently drops reports whose address
	// could not be resolved.
	CentralPrivacyResolveAndFilter
)

type PeripheralPrivacyConfiguration struct {
	UseNonResolvableAddress bool
	ResolutionStrategy      PeripheralPrivacyResolutionStrategy
}

type CentralPrivacyConfiguration struct {
	UseNonResolvableAddress bool
	ResolutionStrategy      CentralPrivacyResolutionStrategy
}

// EnablePrivacy turns the privacy feature on or off, re-deriving whether
// controller-level address resolution and address rotation should run.
func (g *Gap) EnablePrivacy(enable bool) error {
	return g.run(func() error {
		if enable && !g.pal.IsFeatureSupported(pal.FeaturePrivacy) {
			return errors.Wrap(ble.ErrNotImplemented, "gap: controller has no privacy support")
		}
		g.privacyEnabled = enable
		return g.applyPrivacyPolicy()
	})
}

// SetPeripheralPrivacyConfiguration overrides the peripheral-role policy.
func (g *Gap) SetPeripheralPrivacyConfiguration(c PeripheralPrivacyConfiguration) error {
	return g.run(func() error {
		g.peripheralPrivacy = c
		return g.applyPrivacyPolicy()
	})
}

// SetCentralPrivacyConfiguration overrides the central-role policy.
func (g *Gap) SetCentralPrivacyConfiguration(c CentralPrivacyConfiguration) error {
	return g.run(func() error {
		g.centralPrivacy = c
		return g.applyPrivacyPolicy()
	})
}

// PeripheralPrivacyConfiguration returns the active peripheral policy.
func (g *Gap) PeripheralPrivacyConfiguration() PeripheralPrivacyConfiguration {
	var c PeripheralPrivacyConfiguration
	g.q.Sync(func() { c = g.peripheralPrivacy })
	return c
}

// CentralPrivacyConfiguration returns the active central policy.
func (g *Gap) CentralPrivacyConfiguration() CentralPrivacyConfiguration {
	var c CentralPrivacyConfiguration
	g.q.Sync(func() { c = g.centralPrivacy })
	return c
}

func (g *Gap) applyPrivacyPolicy() error {
	resolution := g.privacyEnabled &&
		(g.centralPrivacy.ResolutionStrategy != CentralPrivacyDoNotResolve ||
			g.peripheralPrivacy.ResolutionStrategy != PeripheralPrivacyDoNotResolve)
	if err := g.pal.SetAddressResolution(resolution); err != nil && !ble.Kind(err, ble.ErrNotImplemented) {
		return err
	}

	rotate := g.privacyEnabled &&
		(g.peripheralPrivacy.UseNonResolvableAddress || g.centralPrivacy.UseNonResolvableAddress)
	if rotate {
		if g.rotationTimer == nil {
			return g.startRotation()
		}
		return nil
	}
	g.stopRotation()
	return nil
}
