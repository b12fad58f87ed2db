// Package pal defines the platform abstraction boundary between the
// portable GAP/Security Manager engines and a vendor HCI driver. The
// contracts are operation-shaped, not wire-shaped: marshalling HCI packets
// is the transport's job. All operations are dispatch-only; completions
// arrive later through the event-handler interfaces, never as re-entrant
// calls from inside the primitive itself.
package pal

import "github.com/blekit/ble"

// Feature is an optional controller capability the engines probe before
// choosing a code path.
type Feature uint8

const (
	FeatureExtendedAdvertising Feature = iota
	FeaturePeriodicAdvertising
	FeaturePrivacy
	Feature2MPhy
	FeatureCodedPhy
)

// AdvDataOp selects how a fragment of advertising payload relates to the
// whole, mirroring the HCI extended-advertising-data operation field.
type AdvDataOp uint8

const (
	AdvDataIntermediate AdvDataOp = iota
	AdvDataFirst
	AdvDataLast
	AdvDataComplete
	AdvDataUnchanged
)

// ScanParams for the legacy scan primitive.
type ScanParams struct {
	Active        bool
	IntervalUnits uint16 // 0.625 ms units
	WindowUnits   uint16
	OwnAddrType   ble.AddrType
	FilterPolicy  uint8
}

// PhyScanParams is the per-PHY portion of an extended scan setup.
type PhyScanParams struct {
	Active        bool
	IntervalUnits uint16
	WindowUnits   uint16
}

// ExtendedScanParams for the extended scan primitive.
type ExtendedScanParams struct {
	OwnAddrType  ble.AddrType
	FilterPolicy uint8
	Phys         map[ble.Phy]PhyScanParams
}

// CreateConnectionParams for the legacy single-PHY create-connection
// primitive.
type CreateConnectionParams struct {
	ScanIntervalUnits uint16
	ScanWindowUnits   uint16
	UseWhitelist      bool
	PeerAddressType   ble.AddrType
	PeerAddress       ble.Addr
	OwnAddressType    ble.AddrType
	Params            ble.ConnectionParams
}

// ExtendedCreateConnectionParams carries one parameter set per initiating
// PHY.
type ExtendedCreateConnectionParams struct {
	UseWhitelist    bool
	PeerAddressType ble.AddrType
	PeerAddress     ble.Addr
	OwnAddressType  ble.AddrType
	Phys            map[ble.Phy]ble.ConnectionParams
}

// AdvParams for the legacy advertising parameter primitive.
type AdvParams struct {
	IntervalMinUnits uint16 // 0.625 ms units
	IntervalMaxUnits uint16
	Type             uint8
	OwnAddressType   ble.AddrType
	PeerAddressType  ble.AddrType
	PeerAddress      ble.Addr
	ChannelMap       uint8
	FilterPolicy     uint8
}

// ExtendedAdvParams programs (and implicitly creates) an advertising set.
type ExtendedAdvParams struct {
	EventProperties     uint16
	IntervalMinUnits    uint32
	IntervalMaxUnits    uint32
	ChannelMap          uint8
	OwnAddressType      ble.AddrType
	PeerAddressType     ble.AddrType
	PeerAddress         ble.Addr
	FilterPolicy        uint8
	TxPower             int8
	PrimaryPhy          ble.Phy
	SecondaryMaxSkip    uint8
	SecondaryPhy        ble.Phy
	SID                 uint8
	ScanRequestNotify   bool
	AnonymousAdvertising bool
}

const (
	// AdvEventConnectable is the connectable bit of EventProperties.
	AdvEventConnectable uint16 = 0x0001
	AdvEventScannable   uint16 = 0x0002
	AdvEventLegacyPDU   uint16 = 0x0010
)

// SyncParams for periodic advertising sync establishment.
type SyncParams struct {
	UseAdvertiserList bool
	SID               uint8
	PeerAddressType   ble.AddrType
	PeerAddress       ble.Addr
	SkipCount         uint16
	SyncTimeoutUnits  uint16 // 10 ms units
}

// Gap is the set of HCI-shaped primitive operations the GAP engine consumes.
type Gap interface {
	Initialize() error
	Reset() error
	SetEventHandler(GapEventHandler)

	SetRandomAddress(ble.Addr) error
	SetAdvertisingSetRandomAddress(h ble.AdvHandle, a ble.Addr) error

	ReadWhiteListCapacity() (int, error)
	AddDeviceToWhiteList(ble.WhitelistEntry) error
	RemoveDeviceFromWhiteList(ble.WhitelistEntry) error
	ClearWhiteList() error

	SetScanParameters(ScanParams) error
	ScanEnable(enable, filterDuplicates bool) error
	SetExtendedScanParameters(ExtendedScanParams) error
	ExtendedScanEnable(enable, filterDuplicates bool, durationUnits, periodUnits uint16) error

	CreateConnection(CreateConnectionParams) error
	ExtendedCreateConnection(ExtendedCreateConnectionParams) error
	CancelConnectionCreation() error
	Disconnect(conn ble.ConnectionHandle, reason uint8) error
	ConnectionParameterUpdate(conn ble.ConnectionHandle, p ble.ConnectionParams) error
	AcceptConnectionParameterRequest(conn ble.ConnectionHandle, p ble.ConnectionParams) error
	RejectConnectionParameterRequest(conn ble.ConnectionHandle, reason uint8) error

	SetAdvertisingParameters(AdvParams) error
	SetAdvertisingData([]byte) error
	SetScanResponseData([]byte) error
	AdvertisingEnable(bool) error

	SetExtendedAdvertisingParameters(h ble.AdvHandle, p ExtendedAdvParams) error
	SetExtendedAdvertisingData(h ble.AdvHandle, op AdvDataOp, minimizeFragmentation bool, data []byte) error
	SetExtendedScanResponseData(h ble.AdvHandle, op AdvDataOp, minimizeFragmentation bool, data []byte) error
	ExtendedAdvertisingEnable(enable bool, h ble.AdvHandle, durationUnits uint16, maxEvents uint8) error
	RemoveAdvertisingSet(h ble.AdvHandle) error
	ClearAdvertisingSets() error

	SetPeriodicAdvertisingParameters(h ble.AdvHandle, minUnits, maxUnits uint16, includeTxPower bool) error
	SetPeriodicAdvertisingData(h ble.AdvHandle, op AdvDataOp, data []byte) error
	PeriodicAdvertisingEnable(enable bool, h ble.AdvHandle) error
	CreateSync(SyncParams) error
	CancelSyncCreation() error
	TerminateSync(syncHandle uint16) error

	ReadPhy(conn ble.ConnectionHandle) error
	SetPhy(conn ble.ConnectionHandle, tx, rx ble.PhySet, codedOptions uint8) error
	SetPreferredPhys(tx, rx ble.PhySet) error

	AddDeviceToResolvingList(peerType ble.AddrType, peer ble.Addr, peerIRK, localIRK ble.IRK) error
	RemoveDeviceFromResolvingList(peerType ble.AddrType, peer ble.Addr) error
	ClearResolvingList() error
	SetAddressResolution(enable bool) error
	SetResolvablePrivateAddressTimeout(seconds uint16) error

	IsFeatureSupported(Feature) bool
	MaxAdvertisingSetNumber() uint8
	MaxAdvertisingDataLength() uint16
}

// ConnectionComplete is delivered when a link establishment finishes.
type ConnectionComplete struct {
	Status             uint8
	Handle             ble.ConnectionHandle
	Role               ble.Role
	PeerAddressType    ble.AddrType
	PeerAddress        ble.Addr
	LocalResolvableAddr ble.Addr
	PeerResolvableAddr  ble.Addr
	IntervalUnits      uint16
	Latency            uint16
	SupervisionTimeout uint16
}

type DisconnectionComplete struct {
	Status uint8
	Handle ble.ConnectionHandle
	Reason uint8
}

type ConnectionUpdate struct {
	Status             uint8
	Handle             ble.ConnectionHandle
	IntervalUnits      uint16
	Latency            uint16
	SupervisionTimeout uint16
}

type RemoteConnectionParameterRequest struct {
	Handle             ble.ConnectionHandle
	IntervalMinUnits   uint16
	IntervalMaxUnits   uint16
	Latency            uint16
	SupervisionTimeout uint16
}

// AdvertisingReport carries one received advertisement, already in the
// extended event-type encoding; the engine maps legacy PDU types into it.
type AdvertisingReport struct {
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
	Legacy            bool
	LegacyPDUType     uint8
}

// Extended advertising report event-type bits.
const (
	ReportConnectable  uint16 = 0x0001
	ReportScannable    uint16 = 0x0002
	ReportDirected     uint16 = 0x0004
	ReportScanResponse uint16 = 0x0008
	ReportLegacy       uint16 = 0x0010
)

type AdvertisingSetTerminated struct {
	Status          uint8
	Handle          ble.AdvHandle
	Connection      ble.ConnectionHandle
	CompletedEvents uint8
}

type ScanRequestReceived struct {
	Handle          ble.AdvHandle
	ScannerAddrType ble.AddrType
	ScannerAddr     ble.Addr
}

type PeriodicSyncEstablished struct {
	Status        uint8
	SyncHandle    uint16
	SID           uint8
	PeerAddrType  ble.AddrType
	PeerAddr      ble.Addr
	Phy           ble.Phy
	IntervalUnits uint16
}

type PeriodicReport struct {
	SyncHandle uint16
	TxPower    int8
	RSSI       int8
	DataStatus uint8
	Data       []byte
}

type PhyUpdateComplete struct {
	Status uint8
	Handle ble.ConnectionHandle
	TxPhy  ble.Phy
	RxPhy  ble.Phy
}

type DataLengthChange struct {
	Handle      ble.ConnectionHandle
	MaxTxOctets uint16
	MaxTxTime   uint16
	MaxRxOctets uint16
	MaxRxTime   uint16
}

// GapEventHandler receives controller indications. Implementations must
// funnel the calls onto the engine's serialized event queue.
type GapEventHandler interface {
	OnConnectionComplete(ConnectionComplete)
	OnDisconnectionComplete(DisconnectionComplete)
	OnConnectionUpdate(ConnectionUpdate)
	OnRemoteConnectionParameterRequest(RemoteConnectionParameterRequest)
	OnAdvertisingReport(AdvertisingReport)
	OnScanTimeout()
	OnAdvertisingSetTerminated(AdvertisingSetTerminated)
	OnScanRequestReceived(ScanRequestReceived)
	OnPeriodicSyncEstablished(PeriodicSyncEstablished)
	OnPeriodicReport(PeriodicReport)
	OnPeriodicSyncLoss(syncHandle uint16)
	OnPhyUpdateComplete(PhyUpdateComplete)
	OnDataLengthChange(DataLengthChange)
}
