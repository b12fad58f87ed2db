package pal

import "github.com/blekit/ble"

// PairingFailure reasons sent with a pairing cancel [Vol 3, Part H, 3.5.5].
type PairingFailure uint8

const (
	FailurePasskeyEntryFailed PairingFailure = 0x01
	FailureOOBNotAvailable    PairingFailure = 0x02
	FailureAuthRequirements   PairingFailure = 0x03
	FailureConfirmValueFailed PairingFailure = 0x04
	FailurePairingNotSupported PairingFailure = 0x05
	FailureEncryptionKeySize  PairingFailure = 0x06
	FailureUnspecifiedReason  PairingFailure = 0x08
)

// SecurityManager is the set of SMP-shaped primitive operations the pairing
// engine consumes.
type SecurityManager interface {
	Initialize() error
	Terminate() error
	Reset() error
	SetEventHandler(SecurityManagerEventHandler)

	ReadResolvingListCapacity() (int, error)
	AddDeviceToResolvingList(peerType ble.AddrType, peer ble.Addr, peerIRK ble.IRK) error
	RemoveDeviceFromResolvingList(peerType ble.AddrType, peer ble.Addr) error
	ClearResolvingList() error

	SecureConnectionsSupport() (bool, error)
	SetSecureConnectionsSupport(enabled bool) error
	SetIOCapability(ble.IOCapability) error
	SetDisplayPasskey(ble.Passkey) error
	SetAuthenticationTimeout(conn ble.ConnectionHandle, timeout10ms uint16) error
	AuthenticationTimeout(conn ble.ConnectionHandle) (uint16, error)
	SetEncryptionKeyRequirements(minSize, maxSize uint8) error
	SetPrivateAddressTimeout(seconds uint16) error

	// EnableEncryption starts encryption as master using a legacy LTK
	// identified by ediv/rand; EnableSecureConnectionsEncryption uses an LTK
	// generated by a secure connections pairing.
	EnableEncryption(conn ble.ConnectionHandle, ltk ble.LTK, rand uint64, ediv uint16, mitm bool) error
	EnableSecureConnectionsEncryption(conn ble.ConnectionHandle, ltk ble.LTK, mitm bool) error
	EncryptionKeySize(conn ble.ConnectionHandle) (uint8, error)

	SetLTK(conn ble.ConnectionHandle, ltk ble.LTK, mitm, secureConnections bool) error
	SetLTKNotFound(conn ble.ConnectionHandle) error
	SetIRK(ble.IRK) error
	SetCSRK(csrk ble.CSRK, signCounter uint32) error
	SetPeerCSRK(conn ble.ConnectionHandle, csrk ble.CSRK, mitm bool, signCounter uint32) error
	RemovePeerCSRK(conn ble.ConnectionHandle) error

	SendPairingRequest(conn ble.ConnectionHandle, oob bool, auth AuthenticationMask, initiator, responder KeyDistribution) error
	SendPairingResponse(conn ble.ConnectionHandle, oob bool, auth AuthenticationMask, initiator, responder KeyDistribution) error
	CancelPairing(conn ble.ConnectionHandle, reason PairingFailure) error
	SendSecurityRequest(conn ble.ConnectionHandle, auth AuthenticationMask) error

	PasskeyRequestReply(conn ble.ConnectionHandle, passkey ble.Passkey) error
	ConfirmationEntered(conn ble.ConnectionHandle, confirmed bool) error
	SendKeypressNotification(conn ble.ConnectionHandle, k ble.Keypress) error
	LegacyPairingOOBRequestReply(conn ble.ConnectionHandle, tk ble.TemporaryKey) error
	SecureConnectionsOOBRequestReply(conn ble.ConnectionHandle, localRandom, peerRandom ble.OOBRandom, peerConfirm ble.OOBConfirm) error
	GenerateSecureConnectionsOOB() error

	// RandomBytes fills b from the controller's cryptographically secure
	// random source.
	RandomBytes(b []byte) error
}

// SecurityManagerEventHandler receives pairing/encryption indications from
// the controller. Implementations must funnel the calls onto the engine's
// serialized event queue.
type SecurityManagerEventHandler interface {
	OnPairingRequest(conn ble.ConnectionHandle, oob bool, auth AuthenticationMask, initiator, responder KeyDistribution)
	OnPairingError(conn ble.ConnectionHandle, reason PairingFailure)
	OnPairingTimedOut(conn ble.ConnectionHandle)
	OnPairingCompleted(conn ble.ConnectionHandle)

	OnSlaveSecurityRequest(conn ble.ConnectionHandle, auth AuthenticationMask)

	OnLinkEncryptionResult(conn ble.ConnectionHandle, level ble.LinkEncryption)
	OnLinkEncryptionRequestTimedOut(conn ble.ConnectionHandle)
	OnValidMICTimeout(conn ble.ConnectionHandle)

	OnPasskeyDisplay(conn ble.ConnectionHandle, passkey ble.Passkey)
	OnPasskeyRequest(conn ble.ConnectionHandle)
	OnConfirmationRequest(conn ble.ConnectionHandle)
	OnKeypressNotification(conn ble.ConnectionHandle, k ble.Keypress)
	OnLegacyPairingOOBRequest(conn ble.ConnectionHandle)
	OnSecureConnectionsOOBRequest(conn ble.ConnectionHandle)
	OnSecureConnectionsOOBGenerated(random ble.OOBRandom, confirm ble.OOBConfirm)

	OnSecureConnectionsLTKGenerated(conn ble.ConnectionHandle, ltk ble.LTK)
	OnKeysDistributedLTK(conn ble.ConnectionHandle, ltk ble.LTK)
	OnKeysDistributedEdivRand(conn ble.ConnectionHandle, ediv uint16, rand uint64)
	OnKeysDistributedLocalLTK(conn ble.ConnectionHandle, ltk ble.LTK)
	OnKeysDistributedLocalEdivRand(conn ble.ConnectionHandle, ediv uint16, rand uint64)
	OnKeysDistributedIRK(conn ble.ConnectionHandle, irk ble.IRK)
	OnKeysDistributedIdentity(conn ble.ConnectionHandle, addressIsPublic bool, address ble.Addr)
	OnKeysDistributedCSRK(conn ble.ConnectionHandle, csrk ble.CSRK)

	// OnLTKRequest resolves an encryption resume keyed by ediv/rand (legacy
	// pairing); OnSecureConnectionsLTKRequest resolves it unconditionally.
	OnLTKRequest(conn ble.ConnectionHandle, ediv uint16, rand uint64)
	OnSecureConnectionsLTKRequest(conn ble.ConnectionHandle)

	OnSignedWriteReceived(conn ble.ConnectionHandle, signCounter uint32)
	OnSignedWriteVerificationFailure(conn ble.ConnectionHandle)
	OnSignedWrite()
}
