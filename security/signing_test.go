package security

import (
	"bytes"
	"testing"

	"github.com/blekit/ble"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	csrk := ble.CSRK{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	message := []byte{0x52, 0x00, 0x23, 0x00, 0xde, 0xad, 0xbe, 0xef}

	sig, err := Sign(csrk, message, 7)
	if err != nil {
		t.Fatalf("sign: %s", err)
	}
	if len(sig) != SignatureLength {
		t.Fatalf("signature length %d", len(sig))
	}

	counter, ok, err := Verify(csrk, message, sig)
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}
	if counter != 7 {
		t.Fatalf("counter = %d", counter)
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	csrk := ble.CSRK{0xaa}
	message := []byte("write without response")

	sig, err := Sign(csrk, message, 1)
	if err != nil {
		t.Fatalf("sign: %s", err)
	}

	tampered := append([]byte(nil), message...)
	tampered[0] ^= 0x01
	if _, ok, err := Verify(csrk, tampered, sig); err != nil || ok {
		t.Fatalf("tampered message verified: ok=%v err=%v", ok, err)
	}

	badSig := append([]byte(nil), sig...)
	badSig[len(badSig)-1] ^= 0x01
	if _, ok, err := Verify(csrk, message, badSig); err != nil || ok {
		t.Fatalf("tampered signature verified: ok=%v err=%v", ok, err)
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	if _, _, err := Verify(ble.CSRK{}, []byte("x"), make([]byte, 4)); !ble.Kind(err, ble.ErrInvalidParameter) {
		t.Fatalf("short signature accepted: %v", err)
	}
}

func TestSignCounterChangesSignature(t *testing.T) {
	csrk := ble.CSRK{0x42}
	message := []byte("same payload")

	a, err := Sign(csrk, message, 1)
	if err != nil {
		t.Fatalf("sign: %s", err)
	}
	b, err := Sign(csrk, message, 2)
	if err != nil {
		t.Fatalf("sign: %s", err)
	}
	if bytes.Equal(a[4:], b[4:]) {
		t.Fatal("counter not bound into the tag")
	}
}

func TestSigningFailureThresholdTriggersRepair(t *testing.T) {
	m, ctrl, q, _ := testManager(t)
	connect(t, m, q, 1, ble.RoleCentral, peerAddr(t, "c0:11:22:33:44:55"))
	ctrl.ClearCalls()

	ev := ctrl.SecurityEvents()
	ev.OnSignedWriteVerificationFailure(1)
	ev.OnSignedWriteVerificationFailure(1)
	flush(q)
	if n := ctrl.CallCount("SendPairingRequest"); n != 0 {
		t.Fatalf("re-paired after %d requests below threshold", n)
	}

	ev.OnSignedWriteVerificationFailure(1)
	flush(q)
	if n := ctrl.CallCount("SendPairingRequest"); n != 1 {
		t.Fatalf("SendPairingRequest called %d times at threshold", n)
	}
}

func TestValidSignedWriteResetsFailureCount(t *testing.T) {
	m, ctrl, q, _ := testManager(t)
	connect(t, m, q, 1, ble.RoleCentral, peerAddr(t, "c0:11:22:33:44:55"))
	ctrl.ClearCalls()

	ev := ctrl.SecurityEvents()
	ev.OnSignedWriteVerificationFailure(1)
	ev.OnSignedWriteVerificationFailure(1)
	ev.OnSignedWriteReceived(1, 9)
	ev.OnSignedWriteVerificationFailure(1)
	ev.OnSignedWriteVerificationFailure(1)
	flush(q)

	if n := ctrl.CallCount("SendPairingRequest"); n != 0 {
		t.Fatal("failure count survived a valid signed write")
	}
}

func TestEnableSigningWithoutPeerKeyPairs(t *testing.T) {
	m, ctrl, q, _ := testManager(t)
	connect(t, m, q, 1, ble.RoleCentral, peerAddr(t, "c0:11:22:33:44:55"))
	ctrl.ClearCalls()

	if err := m.EnableSigning(1, true); err != nil {
		t.Fatalf("enable: %s", err)
	}
	if n := ctrl.CallCount("SetCSRK"); n != 1 {
		t.Fatalf("SetCSRK called %d times, want local key provisioned", n)
	}
	if n := ctrl.CallCount("SendPairingRequest"); n != 1 {
		t.Fatalf("SendPairingRequest called %d times", n)
	}

	// repeating the request must not re-pair
	if err := m.EnableSigning(1, true); err != nil {
		t.Fatalf("enable again: %s", err)
	}
	if n := ctrl.CallCount("SendPairingRequest"); n != 1 {
		t.Fatal("second enable paired again")
	}
}

func TestEnableSigningWithStoredCSRKPushesKey(t *testing.T) {
	m, ctrl, q, rec := testManager(t)
	connect(t, m, q, 1, ble.RoleCentral, peerAddr(t, "c0:11:22:33:44:55"))

	csrk := ble.CSRK{0xc5, 0x02}
	ctrl.SecurityEvents().OnKeysDistributedCSRK(1, csrk)
	flush(q)
	ctrl.ClearCalls()
	rec.signingKeys = nil

	// the bonded key must reach the controller without a new exchange
	if err := m.EnableSigning(1, true); err != nil {
		t.Fatalf("enable: %s", err)
	}
	if n := ctrl.CallCount("SetPeerCSRK"); n != 1 {
		t.Fatalf("SetPeerCSRK called %d times, want the stored key pushed", n)
	}
	if n := ctrl.CallCount("SendPairingRequest"); n != 0 {
		t.Fatal("stored key still triggered a pairing")
	}
	flush(q)
	if len(rec.signingKeys) != 1 || rec.signingKeys[0] != csrk {
		t.Fatalf("keys = %v", rec.signingKeys)
	}
}

func TestDistributedCSRKReachesApplication(t *testing.T) {
	m, ctrl, q, rec := testManager(t)
	connect(t, m, q, 1, ble.RoleCentral, peerAddr(t, "c0:11:22:33:44:55"))

	csrk := ble.CSRK{0xc5}
	ctrl.SecurityEvents().OnKeysDistributedCSRK(1, csrk)
	flush(q)

	if len(rec.signingKeys) != 1 || rec.signingKeys[0] != csrk {
		t.Fatalf("keys = %v", rec.signingKeys)
	}
	if rec.signingAuth[0] {
		t.Fatal("unauthenticated pairing delivered an authenticated key")
	}
}

func TestStoredSigningKeyServedFromDatabase(t *testing.T) {
	m, ctrl, q, rec := testManager(t)
	connect(t, m, q, 1, ble.RoleCentral, peerAddr(t, "c0:11:22:33:44:55"))

	csrk := ble.CSRK{0xc5, 0x01}
	ctrl.SecurityEvents().OnKeysDistributedCSRK(1, csrk)
	flush(q)
	ctrl.ClearCalls()
	rec.signingKeys = nil

	if err := m.SigningKey(1, false); err != nil {
		t.Fatalf("signing key: %s", err)
	}
	if n := ctrl.CallCount("SetPeerCSRK"); n != 1 {
		t.Fatalf("SetPeerCSRK called %d times", n)
	}
	if n := ctrl.CallCount("SendPairingRequest"); n != 0 {
		t.Fatal("stored key still triggered a pairing")
	}
	flush(q)
	if len(rec.signingKeys) != 1 || rec.signingKeys[0] != csrk {
		t.Fatalf("keys = %v", rec.signingKeys)
	}
}
