// Package gap implements the portable GAP engine: device address
// management, whitelist reconciliation, scanning, connection establishment
// and advertising-set lifecycle, layered over a pal.Gap controller driver.
//
// The engine runs on a single serialized event queue. Public methods may be
// called from any goroutine; they are executed on the queue. Controller
// events and timer fires are posted onto the same queue, so no two
// state-mutating paths ever run concurrently.
package gap

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/blekit/ble"
	"github.com/blekit/ble/eventq"
	"github.com/blekit/ble/pal"
)

const (
	// legacyAdvDataMax is the legacy advertising payload ceiling.
	legacyAdvDataMax = 31
	// connectableAdvDataMax is the largest payload a connectable extended
	// set may carry.
	connectableAdvDataMax = 191
	// advFragmentMax is the largest chunk one set-data primitive accepts.
	advFragmentMax = 251

	// defaultRotationInterval between private address regenerations.
	defaultRotationInterval = 15 * time.Minute
)

type advSet struct {
	exists         bool
	active         bool
	connectable    bool
	periodicActive bool
	// payloadOversized marks payloads above the connectable ceiling; such a
	// set may only be started non-connectable.
	payloadOversized bool

	durationTimer *eventq.Timer
}

// Gap is the GAP engine instance. Construct it once per controller with
// New.
type Gap struct {
	pal pal.Gap
	q   *eventq.Queue
	log ble.Logger
	rnd io.Reader

	handler  EventHandler
	observer ble.ConnectionObserver

	randomStatic ble.Addr
	ownType      ble.AddrType
	ownAddr      ble.Addr

	privacyEnabled    bool
	peripheralPrivacy PeripheralPrivacyConfiguration
	centralPrivacy    CentralPrivacyConfiguration
	rotationInterval  time.Duration
	rotationTimer     *eventq.Timer

	whitelist         []ble.WhitelistEntry
	whitelistCapacity int

	scanning  bool
	scanTimer *eventq.Timer

	manualConnParams bool

	sets []advSet
}

// Option configures a Gap engine.
type Option func(*Gap) error

// WithLogger overrides the default logger.
func WithLogger(l ble.Logger) Option {
	return func(g *Gap) error {
		g.log = l
		return nil
	}
}

// WithRotationInterval overrides the private address rotation period.
// The 15 minute default is policy, not a Core Specification mandate.
func WithRotationInterval(d time.Duration) Option {
	return func(g *Gap) error {
		if d <= 0 {
			return errors.Wrap(ble.ErrInvalidParameter, "rotation interval must be positive")
		}
		g.rotationInterval = d
		return nil
	}
}

// WithRandomSource overrides the random source used for private address
// generation.
func WithRandomSource(r io.Reader) Option {
	return func(g *Gap) error {
		g.rnd = r
		return nil
	}
}

// New creates a GAP engine over the given controller driver and event
// queue, and registers itself as the driver's event handler.
func New(p pal.Gap, q *eventq.Queue, opts ...Option) (*Gap, error) {
	g := &Gap{
		pal:               p,
		q:                 q,
		rnd:               rand.Reader,
		rotationInterval:  defaultRotationInterval,
		whitelistCapacity: -1,
	}
	for _, o := range opts {
		if err := o(g); err != nil {
			return nil, err
		}
	}
	if g.log == nil {
		g.log = ble.GetLogger().ChildLogger(map[string]interface{}{"component": "gap"})
	}

	n := int(p.MaxAdvertisingSetNumber())
	if n < 1 {
		n = 1
	}
	g.sets = make([]advSet, n)
	// handle 0 is the legacy set and always exists
	g.sets[ble.LegacyAdvertisingHandle].exists = true

	if err := p.Initialize(); err != nil {
		return nil, errors.Wrap(err, "gap: controller initialize")
	}
	p.SetEventHandler((*palEvents)(g))
	return g, nil
}

// SetEventHandler registers the application event handler. Operations that
// mandate an application decision (manual connection parameter management)
// fail until one is registered.
func (g *Gap) SetEventHandler(h EventHandler) {
	g.q.Sync(func() { g.handler = h })
}

// SetConnectionObserver registers the connected-peer notification consumer,
// normally the Security Manager. The observer is invoked on the engine's
// queue context.
func (g *Gap) SetConnectionObserver(o ble.ConnectionObserver) {
	g.q.Sync(func() { g.observer = o })
}

// Reset returns the controller and engine state to post-initialize
// defaults.
func (g *Gap) Reset() error {
	var err error
	g.q.Sync(func() { err = g.doReset() })
	return err
}

func (g *Gap) doReset() error {
	g.stopRotation()
	g.scanTimer.Stop()
	for i := range g.sets {
		g.sets[i].durationTimer.Stop()
		g.sets[i] = advSet{}
	}
	g.sets[ble.LegacyAdvertisingHandle].exists = true
	g.scanning = false
	g.whitelist = nil
	g.whitelistCapacity = -1
	return g.pal.Reset()
}

func (g *Gap) run(fn func() error) error {
	var err error
	g.q.Sync(func() { err = fn() })
	return err
}

// requireHandler returns the registered handler; a missing handler where a
// decision is mandated is a configuration error, not a recoverable one.
func (g *Gap) requireHandler() (EventHandler, error) {
	if g.handler == nil {
		return nil, errors.Wrap(ble.ErrInvalidState, "gap: no event handler registered")
	}
	return g.handler, nil
}
