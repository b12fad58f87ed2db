package pal

import "testing"

func TestAuthenticationMaskAccessors(t *testing.T) {
	m := AuthenticationMask(0).WithBondable(true).WithMITM(true)
	if !m.Bondable() || !m.MITM() || m.SecureConnections() || m.Keypress() {
		t.Fatalf("unexpected mask 0x%02x", uint8(m))
	}

	m = m.WithMITM(false).WithSecureConnections(true)
	if m.MITM() || !m.SecureConnections() {
		t.Fatalf("unexpected mask 0x%02x", uint8(m))
	}
}

func TestKeyDistributionAlgebra(t *testing.T) {
	local := KeyDistAll
	peer := KeyDistEncryption | KeyDistIdentity

	negotiated := local.And(peer)
	if !negotiated.Encryption() || !negotiated.Identity() {
		t.Fatalf("negotiated 0x%02x lost offered keys", uint8(negotiated))
	}
	if negotiated.Signing() || negotiated.Link() {
		t.Fatalf("negotiated 0x%02x kept keys the peer never offered", uint8(negotiated))
	}

	if got := negotiated.Or(KeyDistSigning); !got.Signing() {
		t.Fatalf("or lost the signing bit: 0x%02x", uint8(got))
	}
	if got := negotiated.WithSigning(true).WithSigning(false); got.Signing() {
		t.Fatalf("WithSigning(false) kept the bit: 0x%02x", uint8(got))
	}
}
