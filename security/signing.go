package security

import (
	"crypto/aes"
	"crypto/subtle"
	"encoding/binary"

	"github.com/aead/cmac"
	"github.com/pkg/errors"

	"github.com/blekit/ble"
)

// SignatureLength of a signed write: 4 byte sign counter followed by an
// 8 byte AES-CMAC tag [Vol 3, Part H, 2.4.5].
const SignatureLength = 12

const signatureMACLength = 8

// Sign computes the signed-write signature over message with the given
// CSRK and sign counter.
func Sign(csrk ble.CSRK, message []byte, counter uint32) ([]byte, error) {
	mac, err := signMAC(csrk, message, counter)
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 0, SignatureLength)
	sig = append(sig, 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(sig[:4], counter)
	return append(sig, mac...), nil
}

// Verify checks a signed-write signature and returns the embedded sign
// counter. A malformed signature is an error; a wrong tag returns false.
func Verify(csrk ble.CSRK, message []byte, signature []byte) (uint32, bool, error) {
	if len(signature) != SignatureLength {
		return 0, false, errors.Wrapf(ble.ErrInvalidParameter, "security: signature length %d", len(signature))
	}
	counter := binary.LittleEndian.Uint32(signature[:4])
	mac, err := signMAC(csrk, message, counter)
	if err != nil {
		return 0, false, err
	}
	ok := subtle.ConstantTimeCompare(mac, signature[4:]) == 1
	return counter, ok, nil
}

func signMAC(csrk ble.CSRK, message []byte, counter uint32) ([]byte, error) {
	block, err := aes.NewCipher(csrk[:])
	if err != nil {
		return nil, err
	}
	mac, err := cmac.New(block)
	if err != nil {
		return nil, err
	}
	mac.Write(message)
	var c [4]byte
	binary.LittleEndian.PutUint32(c[:], counter)
	mac.Write(c[:])
	return mac.Sum(nil)[:signatureMACLength], nil
}

// onSignedWriteVerificationFailure counts consecutive failures per link.
// Hitting the threshold resets the counter and forces a fresh key
// exchange, on the assumption the stored peer CSRK went stale.
func (m *Manager) onSignedWriteVerificationFailure(conn ble.ConnectionHandle) {
	b := m.blockByConnection(conn)
	if b == nil {
		return
	}
	b.csrkFailures++
	if b.csrkFailures < m.signingFailureThreshold {
		return
	}
	b.csrkFailures = 0
	if err := m.startPairing(b); err != nil {
		m.log.Errorf("re-pair after signing failures on %d: %v", conn, err)
	}
}
