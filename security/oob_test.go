package security

import (
	"testing"

	"github.com/blekit/ble"
)

func TestGenerateOOBDeliversBothTracks(t *testing.T) {
	m, _, q, rec := testManager(t)
	local := peerAddr(t, "c0:aa:bb:cc:dd:ee")

	if err := m.GenerateOOB(local); err != nil {
		t.Fatalf("generate: %s", err)
	}
	flush(q)

	if len(rec.legacyOOBTKs) != 1 {
		t.Fatalf("legacy TKs delivered: %d", len(rec.legacyOOBTKs))
	}
	if len(rec.oobRandoms) != 1 {
		t.Fatalf("secure connections randoms delivered: %d", len(rec.oobRandoms))
	}
	if rec.oobRandoms[0].IsZero() {
		t.Fatal("generated random is the in-flight sentinel")
	}

	// a finished generation does not block the next one
	if err := m.GenerateOOB(local); err != nil {
		t.Fatalf("second generate: %s", err)
	}
}

func TestGenerateOOBBusyWhileInFlight(t *testing.T) {
	m, ctrl, q, rec := testManager(t)
	local := peerAddr(t, "c0:aa:bb:cc:dd:ee")

	// a failed controller round leaves the generation pending
	ctrl.FailNext("GenerateSecureConnectionsOOB", ble.ErrUnspecified)
	if err := m.GenerateOOB(local); !ble.Kind(err, ble.ErrUnspecified) {
		t.Fatalf("injected failure lost: %v", err)
	}
	flush(q)
	tks := len(rec.legacyOOBTKs)

	if err := m.GenerateOOB(local); !ble.Kind(err, ble.ErrBusy) {
		t.Fatalf("concurrent generation accepted: %v", err)
	}

	// the rejected call must not have touched the legacy track either
	flush(q)
	if len(rec.legacyOOBTKs) != tks {
		t.Fatalf("busy call still delivered a temporary key: %d -> %d", tks, len(rec.legacyOOBTKs))
	}
}

func TestLegacyOOBAnswersPendingRequest(t *testing.T) {
	m, ctrl, q, rec := testManager(t)
	peer := peerAddr(t, "c0:11:22:33:44:55")
	connect(t, m, q, 1, ble.RolePeripheral, peer)
	ctrl.ClearCalls()

	// no temporary key on file: the request goes to the application
	ctrl.SecurityEvents().OnLegacyPairingOOBRequest(1)
	flush(q)
	if rec.legacyOOBReqs != 1 {
		t.Fatalf("requests surfaced: %d", rec.legacyOOBReqs)
	}
	if n := ctrl.CallCount("LegacyPairingOOBRequestReply"); n != 0 {
		t.Fatal("replied without a key")
	}

	// supplying the key answers the pending pairing immediately
	if err := m.LegacyPairingOOBReceived(peer, ble.TemporaryKey{0x7f}); err != nil {
		t.Fatalf("received: %s", err)
	}
	if n := ctrl.CallCount("LegacyPairingOOBRequestReply"); n != 1 {
		t.Fatalf("LegacyPairingOOBRequestReply called %d times", n)
	}
}

func TestLegacyOOBRepliesFromMatchingCreator(t *testing.T) {
	m, ctrl, q, rec := testManager(t)
	peer := peerAddr(t, "c0:11:22:33:44:55")
	connect(t, m, q, 1, ble.RolePeripheral, peer)

	if err := m.LegacyPairingOOBReceived(peer, ble.TemporaryKey{0x7f}); err != nil {
		t.Fatalf("received: %s", err)
	}
	ctrl.ClearCalls()

	ctrl.SecurityEvents().OnLegacyPairingOOBRequest(1)
	flush(q)
	if n := ctrl.CallCount("LegacyPairingOOBRequestReply"); n != 1 {
		t.Fatalf("LegacyPairingOOBRequestReply called %d times", n)
	}
	if rec.legacyOOBReqs != 0 {
		t.Fatal("stored key still surfaced the request")
	}
}

func TestSecureConnectionsOOBRequestWithoutPeerDataCancels(t *testing.T) {
	m, ctrl, q, _ := testManager(t)
	connect(t, m, q, 1, ble.RolePeripheral, peerAddr(t, "c0:11:22:33:44:55"))
	ctrl.ClearCalls()

	ctrl.SecurityEvents().OnSecureConnectionsOOBRequest(1)
	flush(q)
	if n := ctrl.CallCount("CancelPairing"); n != 1 {
		t.Fatalf("CancelPairing called %d times", n)
	}
}

func TestSecureConnectionsPeerTripletConsumedOnUse(t *testing.T) {
	m, ctrl, q, _ := testManager(t)
	peer := peerAddr(t, "c0:11:22:33:44:55")
	connect(t, m, q, 1, ble.RolePeripheral, peer)

	if err := m.OOBReceived(peer, ble.OOBRandom{0x01}, ble.OOBConfirm{0x02}); err != nil {
		t.Fatalf("received: %s", err)
	}
	ctrl.ClearCalls()

	ctrl.SecurityEvents().OnSecureConnectionsOOBRequest(1)
	flush(q)
	if n := ctrl.CallCount("SecureConnectionsOOBRequestReply"); n != 1 {
		t.Fatalf("SecureConnectionsOOBRequestReply called %d times", n)
	}

	// the triplet is single-use
	ctrl.SecurityEvents().OnSecureConnectionsOOBRequest(1)
	flush(q)
	if n := ctrl.CallCount("CancelPairing"); n != 1 {
		t.Fatalf("stale triplet reused, CancelPairing called %d times", n)
	}
}

func TestLTKRequestWithoutKeysRepliesNotFound(t *testing.T) {
	m, ctrl, q, _ := testManager(t)
	connect(t, m, q, 1, ble.RolePeripheral, peerAddr(t, "c0:11:22:33:44:55"))
	ctrl.ClearCalls()

	ctrl.SecurityEvents().OnLTKRequest(1, 0x1234, 0xdeadbeef)
	flush(q)
	if n := ctrl.CallCount("SetLTKNotFound"); n != 1 {
		t.Fatalf("SetLTKNotFound called %d times", n)
	}
}
