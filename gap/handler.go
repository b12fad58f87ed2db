package gap

import "github.com/blekit/ble"

// ConnectionCompleteEvent reports an established (or failed) link.
type ConnectionCompleteEvent struct {
	Status              uint8
	Handle              ble.ConnectionHandle
	Role                ble.Role
	PeerAddressType     ble.AddrType
	PeerAddress         ble.Addr
	LocalResolvableAddr ble.Addr
	PeerResolvableAddr  ble.Addr
	IntervalUnits       uint16
	Latency             uint16
	SupervisionTimeout  uint16
}

// DisconnectionEvent reports a terminated link.
type DisconnectionEvent struct {
	Handle ble.ConnectionHandle
	Reason uint8
}

// ConnectionParametersUpdateRequestEvent is delivered in manual parameter
// management mode; the application must answer with
// AcceptConnectionParametersUpdate or RejectConnectionParametersUpdate.
type ConnectionParametersUpdateRequestEvent struct {
	Handle             ble.ConnectionHandle
	IntervalMinUnits   uint16
	IntervalMaxUnits   uint16
	Latency            uint16
	SupervisionTimeout uint16
}

// ConnectionParametersUpdateCompleteEvent reports the outcome of a
// parameter negotiation.
type ConnectionParametersUpdateCompleteEvent struct {
	Status             uint8
	Handle             ble.ConnectionHandle
	IntervalUnits      uint16
	Latency            uint16
	SupervisionTimeout uint16
}

// AdvertisingReportEvent is one received advertisement in the extended
// event-type encoding.
type AdvertisingReportEvent struct {
	EventType         uint16
	AddressType       ble.AddrType
	Address           ble.Addr
	PrimaryPhy        ble.Phy
	SecondaryPhy      ble.Phy
	SID               uint8
	TxPower           int8
	RSSI              int8
	PeriodicInterval  uint16
	DirectAddressType ble.AddrType
	DirectAddress     ble.Addr
	Data              []byte
}

// AdvertisingEndEvent reports that an advertising set stopped, either on
// its own (duration/max events, or a connection) or via StopAdvertising.
type AdvertisingEndEvent struct {
	Handle          ble.AdvHandle
	Connection      ble.ConnectionHandle
	Connected       bool
	CompletedEvents uint8
}

type ScanRequestEvent struct {
	Handle          ble.AdvHandle
	ScannerAddrType ble.AddrType
	ScannerAddr     ble.Addr
}

type PhyUpdateEvent struct {
	Status uint8
	Handle ble.ConnectionHandle
	TxPhy  ble.Phy
	RxPhy  ble.Phy
}

type DataLengthChangeEvent struct {
	Handle      ble.ConnectionHandle
	MaxTxOctets uint16
	MaxTxTime   uint16
	MaxRxOctets uint16
	MaxRxTime   uint16
}

type PeriodicSyncEstablishedEvent struct {
	Status        uint8
	SyncHandle    uint16
	SID           uint8
	PeerAddrType  ble.AddrType
	PeerAddr      ble.Addr
	Phy           ble.Phy
	IntervalUnits uint16
}

type PeriodicReportEvent struct {
	SyncHandle uint16
	TxPower    int8
	RSSI       int8
	DataStatus uint8
	Data       []byte
}

// EventHandler is implemented by the application to consume GAP results.
// Callbacks run on the engine's event queue; they must not block.
// Embed NopEventHandler to implement only a subset.
type EventHandler interface {
	OnConnectionComplete(ConnectionCompleteEvent)
	OnDisconnectionComplete(DisconnectionEvent)
	OnConnectionParametersUpdateRequest(ConnectionParametersUpdateRequestEvent)
	OnConnectionParametersUpdateComplete(ConnectionParametersUpdateCompleteEvent)
	OnAdvertisingReport(AdvertisingReportEvent)
	OnAdvertisingEnd(AdvertisingEndEvent)
	OnScanTimeout()
	OnScanRequestReceived(ScanRequestEvent)
	OnPhyUpdateComplete(PhyUpdateEvent)
	OnDataLengthChange(DataLengthChangeEvent)
	OnPeriodicSyncEstablished(PeriodicSyncEstablishedEvent)
	OnPeriodicReport(PeriodicReportEvent)
	OnPeriodicSyncLoss(syncHandle uint16)
}

// NopEventHandler ignores every event.
type NopEventHandler struct{}

func (NopEventHandler) OnConnectionComplete(ConnectionCompleteEvent)         {}
func (NopEventHandler) OnDisconnectionComplete(DisconnectionEvent)           {}
func (NopEventHandler) OnConnectionParametersUpdateRequest(ConnectionParametersUpdateRequestEvent) {
}
func (NopEventHandler) OnConnectionParametersUpdateComplete(ConnectionParametersUpdateCompleteEvent) {
}
func (NopEventHandler) OnAdvertisingReport(AdvertisingReportEvent)           {}
func (NopEventHandler) OnAdvertisingEnd(AdvertisingEndEvent)                 {}
func (NopEventHandler) OnScanTimeout()                                       {}
func (NopEventHandler) OnScanRequestReceived(ScanRequestEvent)               {}
func (NopEventHandler) OnPhyUpdateComplete(PhyUpdateEvent)                   {}
func (NopEventHandler) OnDataLengthChange(DataLengthChangeEvent)             {}
func (NopEventHandler) OnPeriodicSyncEstablished(PeriodicSyncEstablishedEvent) {}
func (NopEventHandler) OnPeriodicReport(PeriodicReportEvent)                 {}
func (NopEventHandler) OnPeriodicSyncLoss(uint16)                            {}
