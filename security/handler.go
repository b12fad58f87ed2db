package security

import "github.com/blekit/ble"

// EventHandler is implemented by the application to consume pairing and
// encryption outcomes. Callbacks run on the engine's event queue; they
// must not block. Embed NopEventHandler to implement only a subset.
type EventHandler interface {
	// OnPairingRequest asks the application to authorize a peer-initiated
	// pairing; answer with AcceptPairingRequest or CancelPairingRequest.
	OnPairingRequest(conn ble.ConnectionHandle)
	// OnPairingResult reports a finished pairing; err is nil on success.
	OnPairingResult(conn ble.ConnectionHandle, err error)

	OnLinkEncryptionResult(conn ble.ConnectionHandle, level ble.LinkEncryption)

	OnPasskeyDisplay(conn ble.ConnectionHandle, passkey ble.Passkey)
	OnPasskeyRequest(conn ble.ConnectionHandle)
	OnConfirmationRequest(conn ble.ConnectionHandle)
	OnKeypressNotification(conn ble.ConnectionHandle, k ble.Keypress)

	// OnLegacyPairingOOBRequest asks the application to supply a temporary
	// key via LegacyPairingOOBReceived.
	OnLegacyPairingOOBRequest(conn ble.ConnectionHandle)
	OnLegacyPairingOOBGenerated(addr ble.Addr, tk ble.TemporaryKey)
	OnOOBGenerated(addr ble.Addr, random ble.OOBRandom, confirm ble.OOBConfirm)

	// OnSigningKey delivers the peer signing key once it is available,
	// either freshly distributed or retrieved from the database.
	OnSigningKey(conn ble.ConnectionHandle, csrk ble.CSRK, authenticated bool)

	OnLinkEncryptionRequestTimedOut(conn ble.ConnectionHandle)
	OnValidMICTimeout(conn ble.ConnectionHandle)
}

// NopEventHandler ignores every event.
type NopEventHandler struct{}

func (NopEventHandler) OnPairingRequest(ble.ConnectionHandle)                          {}
func (NopEventHandler) OnPairingResult(ble.ConnectionHandle, error)                    {}
func (NopEventHandler) OnLinkEncryptionResult(ble.ConnectionHandle, ble.LinkEncryption) {}
func (NopEventHandler) OnPasskeyDisplay(ble.ConnectionHandle, ble.Passkey)             {}
func (NopEventHandler) OnPasskeyRequest(ble.ConnectionHandle)                          {}
func (NopEventHandler) OnConfirmationRequest(ble.ConnectionHandle)                     {}
func (NopEventHandler) OnKeypressNotification(ble.ConnectionHandle, ble.Keypress)      {}
func (NopEventHandler) OnLegacyPairingOOBRequest(ble.ConnectionHandle)                 {}
func (NopEventHandler) OnLegacyPairingOOBGenerated(ble.Addr, ble.TemporaryKey)         {}
func (NopEventHandler) OnOOBGenerated(ble.Addr, ble.OOBRandom, ble.OOBConfirm)         {}
func (NopEventHandler) OnSigningKey(ble.ConnectionHandle, ble.CSRK, bool)              {}
func (NopEventHandler) OnLinkEncryptionRequestTimedOut(ble.ConnectionHandle)           {}
func (NopEventHandler) OnValidMICTimeout(ble.ConnectionHandle)                         {}
