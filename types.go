package ble

import "fmt"

// ConnectionHandle identifies an active link, as assigned by the controller.
type ConnectionHandle uint16

// AdvHandle identifies an advertising set. Handle 0 is reserved for the
// legacy advertising path and always exists implicitly.
type AdvHandle uint8

const LegacyAdvertisingHandle AdvHandle = 0x00

// Role of the local device on a link.
type Role uint8

const (
	RoleCentral Role = iota
	RolePeripheral
)

func (r Role) String() string {
	if r == RoleCentral {
		return "central"
	}
	return "peripheral"
}

// Phy is a single LE physical layer.
type Phy uint8

const (
	Phy1M Phy = iota
	Phy2M
	PhyCoded
)

// PhySet is a set of PHYs.
type PhySet uint8

const (
	PhySet1M    PhySet = 1 << iota // LE 1M
	PhySet2M                       // LE 2M
	PhySetCoded                    // LE Coded
)

func (s PhySet) Has(p Phy) bool    { return s&(1<<p) != 0 }
func (s PhySet) Empty() bool       { return s == 0 }
func (s PhySet) With(p Phy) PhySet { return s | 1<<p }

func (s PhySet) Count() int {
	n := 0
	for b := s; b != 0; b &= b - 1 {
		n++
	}
	return n
}

// ConnectionParams carries the negotiable link parameters in controller
// units: intervals in 1.25 ms, supervision timeout in 10 ms.
type ConnectionParams struct {
	ScanIntervalUnits   uint16
	ScanWindowUnits     uint16
	MinConnectionInterval uint16
	MaxConnectionInterval uint16
	SlaveLatency          uint16
	SupervisionTimeout    uint16
	MinEventLength        uint16
	MaxEventLength        uint16
}

// SupervisionTimeoutValid applies the Core Specification minimum: the
// timeout must strictly exceed (1+latency)*interval*2.
func SupervisionTimeoutValid(maxInterval, latency, timeout uint16) bool {
	return uint32(timeout) > (1+uint32(latency))*uint32(maxInterval)*2
}

// LinkEncryption is the encryption state of a link, ordered from weakest to
// strongest; EncryptionInProgress sits outside the order.
type LinkEncryption uint8

const (
	NotEncrypted LinkEncryption = iota
	EncryptionInProgress
	Encrypted
	EncryptedWithMITM
	EncryptedWithSCAndMITM
)

func (e LinkEncryption) String() string {
	switch e {
	case NotEncrypted:
		return "not-encrypted"
	case EncryptionInProgress:
		return "encryption-in-progress"
	case Encrypted:
		return "encrypted"
	case EncryptedWithMITM:
		return "encrypted-with-mitm"
	case EncryptedWithSCAndMITM:
		return "encrypted-with-sc-and-mitm"
	}
	return fmt.Sprintf("link-encryption(%d)", uint8(e))
}

// Key material.
type (
	LTK          [16]byte
	IRK          [16]byte
	CSRK         [16]byte
	TemporaryKey [16]byte
	OOBRandom    [16]byte
	OOBConfirm   [16]byte
)

func (k OOBRandom) IsZero() bool { return k == OOBRandom{} }
func (k CSRK) IsZero() bool      { return k == CSRK{} }

// Passkey is a 6-digit numeric pairing passkey.
type Passkey uint32

const PasskeyMax Passkey = 999999

// ParsePasskey converts a 6-character ASCII digit string.
func ParsePasskey(s string) (Passkey, error) {
	if len(s) != 6 {
		return 0, fmt.Errorf("passkey must be 6 digits, got %q", s)
	}
	var v uint32
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("passkey must be numeric, got %q", s)
		}
		v = v*10 + uint32(c-'0')
	}
	return Passkey(v), nil
}

func (p Passkey) String() string { return fmt.Sprintf("%06d", uint32(p)) }

// IOCapability of the local device for pairing [Vol 3, Part H, 2.3.2].
type IOCapability uint8

const (
	IODisplayOnly IOCapability = iota
	IODisplayYesNo
	IOKeyboardOnly
	IONoInputNoOutput
	IOKeyboardDisplay
)

// Keypress notification types sent during passkey entry.
type Keypress uint8

const (
	KeypressEntryStarted Keypress = iota
	KeypressDigitEntered
	KeypressDigitErased
	KeypressCleared
	KeypressEntryCompleted
)

// Controller-level disconnect/failure reasons used by the engines.
const (
	ReasonAuthenticationFailure  uint8 = 0x05
	ReasonRemoteUserTerminated   uint8 = 0x13
	ReasonUnacceptableParameters uint8 = 0x3b
)

// ConnectedPeer is the cross-component notification the GAP engine emits to
// the Security Manager when a link comes up. RequirePairing and
// RequireAuthentication carry the peripheral privacy resolution outcome.
type ConnectedPeer struct {
	Handle           ConnectionHandle
	Role             Role
	PeerAddressType  AddrType
	PeerAddress      Addr
	LocalAddressType AddrType
	LocalAddress     Addr

	RequirePairing        bool
	RequireAuthentication bool
}

// ConnectionObserver consumes link lifecycle notifications. The Security
// Manager implements it; the GAP engine drives it.
type ConnectionObserver interface {
	OnConnected(ConnectedPeer)
	OnDisconnected(conn ConnectionHandle, reason uint8)
}
