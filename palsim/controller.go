// Package palsim provides an in-memory controller implementing both PAL
// contracts. It backs the engine test suites and the demo command:
// operations mutate plain tables, every call is recorded for assertions,
// and any operation can be made to fail once with FailNext.
package palsim

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/blekit/ble"
	"github.com/blekit/ble/pal"
)

const (
	defaultWhitelistCapacity = 8
	defaultResolvingCapacity = 8
	defaultAdvSetCount       = 4
	defaultAdvDataLength     = 1650
)

type resolvingEntry struct {
	peerType ble.AddrType
	peer     ble.Addr
	peerIRK  ble.IRK
	localIRK ble.IRK
}

type advSetState struct {
	created bool
	params  pal.ExtendedAdvParams
	address ble.Addr
	data    []byte
	scanRsp []byte

	periodicData []byte

	advertising bool
	periodic    bool
}

// Controller is the in-memory controller. The zero value is not usable;
// construct with New.
type Controller struct {
	mu sync.Mutex

	gapHandler pal.GapEventHandler
	smHandler  pal.SecurityManagerEventHandler

	calls    []string
	failNext map[string]error
	failAt   map[string]*failure

	features map[pal.Feature]bool

	randomAddress ble.Addr

	whitelist         []ble.WhitelistEntry
	whitelistCapacity int

	resolving         []resolvingEntry
	resolvingCapacity int
	resolutionEnabled bool

	scanning    bool
	legacyAdv   pal.AdvParams
	legacyData  []byte
	legacyRsp   []byte
	legacyOn    bool
	sets        []advSetState
	maxDataLen  uint16
	syncPending bool

	secureConnections bool
	ioCapability      ble.IOCapability

	oobKeys *keyPair
}

// Option configures a Controller.
type Option func(*Controller)

// WithFeature marks an optional capability as supported.
func WithFeature(f pal.Feature) Option {
	return func(c *Controller) { c.features[f] = true }
}

// WithWhitelistCapacity overrides the whitelist size.
func WithWhitelistCapacity(n int) Option {
	return func(c *Controller) { c.whitelistCapacity = n }
}

// WithResolvingListCapacity overrides the resolving list size.
func WithResolvingListCapacity(n int) Option {
	return func(c *Controller) { c.resolvingCapacity = n }
}

// New creates a controller with no optional features; enable them with
// WithFeature.
func New(opts ...Option) *Controller {
	c := &Controller{
		failNext:          make(map[string]error),
		failAt:            make(map[string]*failure),
		features:          make(map[pal.Feature]bool),
		whitelistCapacity: defaultWhitelistCapacity,
		resolvingCapacity: defaultResolvingCapacity,
		sets:              make([]advSetState, defaultAdvSetCount),
		maxDataLen:        defaultAdvDataLength,
		secureConnections: true,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FailNext makes the next call of the named operation return err.
func (c *Controller) FailNext(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext[op] = err
}

type failure struct {
	left int
	err  error
}

// FailCall makes the nth upcoming call of the named operation return err;
// earlier calls succeed. One-shot, like FailNext.
func (c *Controller) FailCall(op string, nth int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failAt[op] = &failure{left: nth, err: err}
}

// Calls returns the recorded operation names in call order.
func (c *Controller) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns how often the named operation was invoked.
func (c *Controller) CallCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		if v == op {
			n++
		}
	}
	return n
}

// ClearCalls drops the recorded history.
func (c *Controller) ClearCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

// Whitelist returns a copy of the controller whitelist.
func (c *Controller) Whitelist() []ble.WhitelistEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ble.WhitelistEntry, len(c.whitelist))
	copy(out, c.whitelist)
	return out
}

// RandomAddress returns the programmed default random address.
func (c *Controller) RandomAddress() ble.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.randomAddress
}

// AdvertisingSetData returns the reassembled advertising data of a set.
func (c *Controller) AdvertisingSetData(h ble.AdvHandle) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(h) >= len(c.sets) {
		return nil
	}
	out := make([]byte, len(c.sets[h].data))
	copy(out, c.sets[h].data)
	return out
}

// LegacyAdvertisingData returns the programmed legacy advertising data.
func (c *Controller) LegacyAdvertisingData() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.legacyData))
	copy(out, c.legacyData)
	return out
}

// GapEvents returns the registered GAP event sink for scripted delivery.
func (c *Controller) GapEvents() pal.GapEventHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gapHandler
}

// SecurityEvents returns the registered security event sink.
func (c *Controller) SecurityEvents() pal.SecurityManagerEventHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.smHandler
}

// op records the call and returns the injected failure, if any.
func (c *Controller) op(name string) error {
	c.calls = append(c.calls, name)
	if f, ok := c.failAt[name]; ok {
		f.left--
		if f.left <= 0 {
			delete(c.failAt, name)
			return f.err
		}
	}
	if err, ok := c.failNext[name]; ok {
		delete(c.failNext, name)
		return err
	}
	return nil
}

// pal.Gap implementation.

func (c *Controller) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("Initialize")
}

func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("Reset"); err != nil {
		return err
	}
	c.whitelist = nil
	c.resolving = nil
	c.scanning = false
	c.legacyOn = false
	c.sets = make([]advSetState, len(c.sets))
	return nil
}

// Gap returns the pal.Gap facet of the controller. Facets exist because
// both PAL contracts name a SetEventHandler method with different
// signatures.
func (c *Controller) Gap() pal.Gap { return gapFacet{c} }

type gapFacet struct{ *Controller }

func (f gapFacet) SetEventHandler(h pal.GapEventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gapHandler = h
}

func (c *Controller) SetRandomAddress(a ble.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("SetRandomAddress"); err != nil {
		return err
	}
	c.randomAddress = a
	return nil
}

func (c *Controller) SetAdvertisingSetRandomAddress(h ble.AdvHandle, a ble.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("SetAdvertisingSetRandomAddress"); err != nil {
		return err
	}
	if int(h) >= len(c.sets) {
		return errors.Wrapf(ble.ErrInvalidParameter, "palsim: set %d", h)
	}
	c.sets[h].address = a
	return nil
}

func (c *Controller) ReadWhiteListCapacity() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("ReadWhiteListCapacity"); err != nil {
		return 0, err
	}
	return c.whitelistCapacity, nil
}

func (c *Controller) AddDeviceToWhiteList(e ble.WhitelistEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("AddDeviceToWhiteList"); err != nil {
		return err
	}
	if len(c.whitelist) >= c.whitelistCapacity {
		return errors.Wrap(ble.ErrNoMemory, "palsim: whitelist full")
	}
	c.whitelist = append(c.whitelist, e)
	return nil
}

func (c *Controller) RemoveDeviceFromWhiteList(e ble.WhitelistEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("RemoveDeviceFromWhiteList"); err != nil {
		return err
	}
	for i, v := range c.whitelist {
		if v == e {
			c.whitelist = append(c.whitelist[:i], c.whitelist[i+1:]...)
			return nil
		}
	}
	return errors.Wrap(ble.ErrInvalidParameter, "palsim: entry not in whitelist")
}

func (c *Controller) ClearWhiteList() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("ClearWhiteList"); err != nil {
		return err
	}
	c.whitelist = nil
	return nil
}

func (c *Controller) SetScanParameters(pal.ScanParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SetScanParameters")
}

func (c *Controller) ScanEnable(enable, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("ScanEnable"); err != nil {
		return err
	}
	c.scanning = enable
	return nil
}

func (c *Controller) SetExtendedScanParameters(pal.ExtendedScanParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SetExtendedScanParameters")
}

func (c *Controller) ExtendedScanEnable(enable, _ bool, _, _ uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("ExtendedScanEnable"); err != nil {
		return err
	}
	c.scanning = enable
	return nil
}

func (c *Controller) CreateConnection(pal.CreateConnectionParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("CreateConnection"); err != nil {
		return err
	}
	if c.scanning {
		return errors.Wrap(ble.ErrInvalidState, "palsim: connect while scanning")
	}
	return nil
}

func (c *Controller) ExtendedCreateConnection(pal.ExtendedCreateConnectionParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("ExtendedCreateConnection")
}

func (c *Controller) CancelConnectionCreation() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("CancelConnectionCreation")
}

func (c *Controller) Disconnect(ble.ConnectionHandle, uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("Disconnect")
}

func (c *Controller) ConnectionParameterUpdate(ble.ConnectionHandle, ble.ConnectionParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("ConnectionParameterUpdate")
}

func (c *Controller) AcceptConnectionParameterRequest(ble.ConnectionHandle, ble.ConnectionParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("AcceptConnectionParameterRequest")
}

func (c *Controller) RejectConnectionParameterRequest(ble.ConnectionHandle, uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("RejectConnectionParameterRequest")
}

func (c *Controller) SetAdvertisingParameters(p pal.AdvParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("SetAdvertisingParameters"); err != nil {
		return err
	}
	c.legacyAdv = p
	return nil
}

func (c *Controller) SetAdvertisingData(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("SetAdvertisingData"); err != nil {
		return err
	}
	c.legacyData = append([]byte(nil), data...)
	return nil
}

func (c *Controller) SetScanResponseData(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("SetScanResponseData"); err != nil {
		return err
	}
	c.legacyRsp = append([]byte(nil), data...)
	return nil
}

func (c *Controller) AdvertisingEnable(enable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("AdvertisingEnable"); err != nil {
		return err
	}
	c.legacyOn = enable
	return nil
}

func (c *Controller) SetExtendedAdvertisingParameters(h ble.AdvHandle, p pal.ExtendedAdvParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("SetExtendedAdvertisingParameters"); err != nil {
		return err
	}
	if int(h) >= len(c.sets) {
		return errors.Wrapf(ble.ErrInvalidParameter, "palsim: set %d", h)
	}
	c.sets[h].created = true
	c.sets[h].params = p
	return nil
}

func (c *Controller) SetExtendedAdvertisingData(h ble.AdvHandle, op pal.AdvDataOp, _ bool, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("SetExtendedAdvertisingData"); err != nil {
		return err
	}
	return appendFragment(&c.sets[h].data, op, data)
}

func (c *Controller) SetExtendedScanResponseData(h ble.AdvHandle, op pal.AdvDataOp, _ bool, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("SetExtendedScanResponseData"); err != nil {
		return err
	}
	return appendFragment(&c.sets[h].scanRsp, op, data)
}

func appendFragment(dst *[]byte, op pal.AdvDataOp, data []byte) error {
	switch op {
	case pal.AdvDataComplete, pal.AdvDataFirst:
		*dst = append([]byte(nil), data...)
	case pal.AdvDataIntermediate, pal.AdvDataLast:
		*dst = append(*dst, data...)
	case pal.AdvDataUnchanged:
	default:
		return errors.Wrapf(ble.ErrInvalidParameter, "palsim: data op %d", op)
	}
	return nil
}

func (c *Controller) ExtendedAdvertisingEnable(enable bool, h ble.AdvHandle, _ uint16, _ uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("ExtendedAdvertisingEnable"); err != nil {
		return err
	}
	if int(h) >= len(c.sets) {
		return errors.Wrapf(ble.ErrInvalidParameter, "palsim: set %d", h)
	}
	c.sets[h].advertising = enable
	return nil
}

func (c *Controller) RemoveAdvertisingSet(h ble.AdvHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("RemoveAdvertisingSet"); err != nil {
		return err
	}
	if int(h) >= len(c.sets) || !c.sets[h].created {
		return errors.Wrapf(ble.ErrInvalidParameter, "palsim: set %d", h)
	}
	c.sets[h] = advSetState{}
	return nil
}

func (c *Controller) ClearAdvertisingSets() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("ClearAdvertisingSets"); err != nil {
		return err
	}
	c.sets = make([]advSetState, len(c.sets))
	return nil
}

func (c *Controller) SetPeriodicAdvertisingParameters(h ble.AdvHandle, _, _ uint16, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("SetPeriodicAdvertisingParameters"); err != nil {
		return err
	}
	if int(h) >= len(c.sets) {
		return errors.Wrapf(ble.ErrInvalidParameter, "palsim: set %d", h)
	}
	return nil
}

func (c *Controller) SetPeriodicAdvertisingData(h ble.AdvHandle, op pal.AdvDataOp, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("SetPeriodicAdvertisingData"); err != nil {
		return err
	}
	return appendFragment(&c.sets[h].periodicData, op, data)
}

func (c *Controller) PeriodicAdvertisingEnable(enable bool, h ble.AdvHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("PeriodicAdvertisingEnable"); err != nil {
		return err
	}
	if int(h) >= len(c.sets) {
		return errors.Wrapf(ble.ErrInvalidParameter, "palsim: set %d", h)
	}
	c.sets[h].periodic = enable
	return nil
}

func (c *Controller) CreateSync(pal.SyncParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("CreateSync"); err != nil {
		return err
	}
	c.syncPending = true
	return nil
}

func (c *Controller) CancelSyncCreation() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("CancelSyncCreation"); err != nil {
		return err
	}
	if !c.syncPending {
		return errors.Wrap(ble.ErrInvalidState, "palsim: no sync establishment pending")
	}
	c.syncPending = false
	return nil
}

func (c *Controller) TerminateSync(uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("TerminateSync")
}

func (c *Controller) ReadPhy(ble.ConnectionHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("ReadPhy")
}

func (c *Controller) SetPhy(ble.ConnectionHandle, ble.PhySet, ble.PhySet, uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SetPhy")
}

func (c *Controller) SetPreferredPhys(ble.PhySet, ble.PhySet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SetPreferredPhys")
}

// AddDeviceToResolvingList lives on the facets: the two PAL contracts
// disagree on whether a local IRK accompanies the entry.
func (f gapFacet) AddDeviceToResolvingList(peerType ble.AddrType, peer ble.Addr, peerIRK, localIRK ble.IRK) error {
	return f.addResolving(peerType, peer, peerIRK, localIRK)
}

func (c *Controller) addResolving(peerType ble.AddrType, peer ble.Addr, peerIRK, localIRK ble.IRK) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("AddDeviceToResolvingList"); err != nil {
		return err
	}
	if len(c.resolving) >= c.resolvingCapacity {
		return errors.Wrap(ble.ErrNoMemory, "palsim: resolving list full")
	}
	c.resolving = append(c.resolving, resolvingEntry{peerType, peer, peerIRK, localIRK})
	return nil
}

func (c *Controller) RemoveDeviceFromResolvingList(peerType ble.AddrType, peer ble.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("RemoveDeviceFromResolvingList"); err != nil {
		return err
	}
	for i, v := range c.resolving {
		if v.peerType == peerType && v.peer == peer {
			c.resolving = append(c.resolving[:i], c.resolving[i+1:]...)
			return nil
		}
	}
	return errors.Wrap(ble.ErrInvalidParameter, "palsim: entry not in resolving list")
}

func (c *Controller) ClearResolvingList() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("ClearResolvingList"); err != nil {
		return err
	}
	c.resolving = nil
	return nil
}

func (c *Controller) SetAddressResolution(enable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("SetAddressResolution"); err != nil {
		return err
	}
	c.resolutionEnabled = enable
	return nil
}

func (c *Controller) SetResolvablePrivateAddressTimeout(uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SetResolvablePrivateAddressTimeout")
}

func (c *Controller) IsFeatureSupported(f pal.Feature) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.features[f]
}

func (c *Controller) MaxAdvertisingSetNumber() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.features[pal.FeatureExtendedAdvertising] {
		return 1
	}
	return uint8(len(c.sets))
}

func (c *Controller) MaxAdvertisingDataLength() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.features[pal.FeatureExtendedAdvertising] {
		return 31
	}
	return c.maxDataLen
}
