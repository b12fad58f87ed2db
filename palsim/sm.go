package palsim

import (
	"crypto/rand"

	"github.com/pkg/errors"

	"github.com/blekit/ble"
	"github.com/blekit/ble/pal"
)

// SecurityManager returns the pal.SecurityManager facet of the
// controller.
func (c *Controller) SecurityManager() pal.SecurityManager { return smFacet{c} }

type smFacet struct{ *Controller }

func (f smFacet) SetEventHandler(h pal.SecurityManagerEventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.smHandler = h
}

func (f smFacet) AddDeviceToResolvingList(peerType ble.AddrType, peer ble.Addr, peerIRK ble.IRK) error {
	return f.addResolving(peerType, peer, peerIRK, ble.IRK{})
}

func (c *Controller) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("Terminate")
}

func (c *Controller) ReadResolvingListCapacity() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("ReadResolvingListCapacity"); err != nil {
		return 0, err
	}
	return c.resolvingCapacity, nil
}

func (c *Controller) SecureConnectionsSupport() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("SecureConnectionsSupport"); err != nil {
		return false, err
	}
	return c.secureConnections, nil
}

func (c *Controller) SetSecureConnectionsSupport(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("SetSecureConnectionsSupport"); err != nil {
		return err
	}
	c.secureConnections = enabled
	return nil
}

func (c *Controller) SetIOCapability(cap ble.IOCapability) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("SetIOCapability"); err != nil {
		return err
	}
	c.ioCapability = cap
	return nil
}

func (c *Controller) SetDisplayPasskey(ble.Passkey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SetDisplayPasskey")
}

func (c *Controller) SetAuthenticationTimeout(ble.ConnectionHandle, uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SetAuthenticationTimeout")
}

func (c *Controller) AuthenticationTimeout(ble.ConnectionHandle) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("AuthenticationTimeout"); err != nil {
		return 0, err
	}
	return 3000, nil // 30 s default in 10 ms units
}

func (c *Controller) SetEncryptionKeyRequirements(minSize, maxSize uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("SetEncryptionKeyRequirements"); err != nil {
		return err
	}
	if minSize < 7 || maxSize > 16 || minSize > maxSize {
		return errors.Wrapf(ble.ErrInvalidParameter, "palsim: key size range %d..%d", minSize, maxSize)
	}
	return nil
}

func (c *Controller) SetPrivateAddressTimeout(uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SetPrivateAddressTimeout")
}

func (c *Controller) EnableEncryption(ble.ConnectionHandle, ble.LTK, uint64, uint16, bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("EnableEncryption")
}

func (c *Controller) EnableSecureConnectionsEncryption(ble.ConnectionHandle, ble.LTK, bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("EnableSecureConnectionsEncryption")
}

func (c *Controller) EncryptionKeySize(ble.ConnectionHandle) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.op("EncryptionKeySize"); err != nil {
		return 0, err
	}
	return 16, nil
}

func (c *Controller) SetLTK(ble.ConnectionHandle, ble.LTK, bool, bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SetLTK")
}

func (c *Controller) SetLTKNotFound(ble.ConnectionHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SetLTKNotFound")
}

func (c *Controller) SetIRK(ble.IRK) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SetIRK")
}

func (c *Controller) SetCSRK(ble.CSRK, uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SetCSRK")
}

func (c *Controller) SetPeerCSRK(ble.ConnectionHandle, ble.CSRK, bool, uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SetPeerCSRK")
}

func (c *Controller) RemovePeerCSRK(ble.ConnectionHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("RemovePeerCSRK")
}

func (c *Controller) SendPairingRequest(ble.ConnectionHandle, bool, pal.AuthenticationMask, pal.KeyDistribution, pal.KeyDistribution) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SendPairingRequest")
}

func (c *Controller) SendPairingResponse(ble.ConnectionHandle, bool, pal.AuthenticationMask, pal.KeyDistribution, pal.KeyDistribution) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SendPairingResponse")
}

func (c *Controller) CancelPairing(ble.ConnectionHandle, pal.PairingFailure) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("CancelPairing")
}

func (c *Controller) SendSecurityRequest(ble.ConnectionHandle, pal.AuthenticationMask) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SendSecurityRequest")
}

func (c *Controller) PasskeyRequestReply(ble.ConnectionHandle, ble.Passkey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("PasskeyRequestReply")
}

func (c *Controller) ConfirmationEntered(ble.ConnectionHandle, bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("ConfirmationEntered")
}

func (c *Controller) SendKeypressNotification(ble.ConnectionHandle, ble.Keypress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SendKeypressNotification")
}

func (c *Controller) LegacyPairingOOBRequestReply(ble.ConnectionHandle, ble.TemporaryKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("LegacyPairingOOBRequestReply")
}

func (c *Controller) SecureConnectionsOOBRequestReply(ble.ConnectionHandle, ble.OOBRandom, ble.OOBRandom, ble.OOBConfirm) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op("SecureConnectionsOOBRequestReply")
}

// GenerateSecureConnectionsOOB derives a fresh P-256 key pair, computes
// the confirm value over the public key X coordinate with f4 and delivers
// the result through the registered event handler.
func (c *Controller) GenerateSecureConnectionsOOB() error {
	c.mu.Lock()
	if err := c.op("GenerateSecureConnectionsOOB"); err != nil {
		c.mu.Unlock()
		return err
	}
	handler := c.smHandler
	c.mu.Unlock()

	kp, err := generateKeyPair()
	if err != nil {
		return errors.Wrap(err, "palsim: oob key pair")
	}
	c.mu.Lock()
	c.oobKeys = kp
	c.mu.Unlock()

	var r ble.OOBRandom
	if _, err := rand.Read(r[:]); err != nil {
		return errors.Wrap(err, "palsim: oob random")
	}
	x := publicKeyX(kp.public)
	confirm, err := confirmF4(x, x, r[:], 0)
	if err != nil {
		return errors.Wrap(err, "palsim: oob confirm")
	}
	var cf ble.OOBConfirm
	copy(cf[:], confirm)

	if handler != nil {
		handler.OnSecureConnectionsOOBGenerated(r, cf)
	}
	return nil
}

func (c *Controller) RandomBytes(b []byte) error {
	c.mu.Lock()
	err := c.op("RandomBytes")
	c.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = rand.Read(b)
	return err
}
