package palsim

import (
	"crypto"
	"crypto/aes"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/aead/cmac"
	ecdh "github.com/wsddn/go-ecdh"
)

type keyPair struct {
	public  crypto.PublicKey
	private crypto.PrivateKey
}

func generateKeyPair() (*keyPair, error) {
	var err error
	kp := keyPair{}
	e := ecdh.NewEllipticECDH(elliptic.P256())

	kp.private, kp.public, err = e.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &kp, nil
}

// publicKeyX returns the X coordinate of the public key in little endian,
// as it travels in SMP public key PDUs.
func publicKeyX(k crypto.PublicKey) []byte {
	e := ecdh.NewEllipticECDH(elliptic.P256())
	ba := e.Marshal(k)
	ba = ba[1:] // strip the uncompressed-point header
	return swapBuf(ba[:32])
}

// confirmF4 is the confirm value generation function f4
// [Vol 3, Part H, 2.2.6].
func confirmF4(u, v, x []byte, z uint8) ([]byte, error) {
	m := []byte{z}
	m = append(m, v...)
	m = append(m, u...)
	return aesCMAC(x, m)
}

func aesCMAC(key, msg []byte) ([]byte, error) {
	block, err := aes.NewCipher(swapBuf(key))
	if err != nil {
		return nil, err
	}
	mac, err := cmac.New(block)
	if err != nil {
		return nil, err
	}
	mac.Write(swapBuf(msg))
	return swapBuf(mac.Sum(nil)), nil
}

func swapBuf(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[len(in)-1-i] = b
	}
	return out
}
