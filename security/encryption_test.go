package security

import (
	"testing"

	"github.com/blekit/ble"
)

func TestSetLinkEncryptionWithoutKeysStartsPairing(t *testing.T) {
	m, ctrl, q, _ := testManager(t)
	connect(t, m, q, 1, ble.RoleCentral, peerAddr(t, "c0:11:22:33:44:55"))
	ctrl.ClearCalls()

	if err := m.SetLinkEncryption(1, ble.Encrypted); err != nil {
		t.Fatalf("request: %s", err)
	}
	if n := ctrl.CallCount("SendPairingRequest"); n != 1 {
		t.Fatalf("SendPairingRequest called %d times, want 1", n)
	}

	level, err := m.LinkEncryption(1)
	if err != nil {
		t.Fatalf("level: %s", err)
	}
	if level != ble.EncryptionInProgress {
		t.Fatalf("level = %v, want in progress", level)
	}
}

func TestSetLinkEncryptionEqualLevelIsNoOp(t *testing.T) {
	m, ctrl, q, rec := testManager(t)
	connect(t, m, q, 1, ble.RoleCentral, peerAddr(t, "c0:11:22:33:44:55"))
	ctrl.ClearCalls()

	if err := m.SetLinkEncryption(1, ble.NotEncrypted); err != nil {
		t.Fatalf("request: %s", err)
	}
	if len(ctrl.Calls()) != 0 {
		t.Fatalf("no-op request reached the controller: %v", ctrl.Calls())
	}
	flush(q)
	if len(rec.encResults) != 1 || rec.encResults[0] != ble.NotEncrypted {
		t.Fatalf("results = %v, want the current level reported", rec.encResults)
	}
}

func TestSetLinkEncryptionWhileInProgress(t *testing.T) {
	m, _, q, _ := testManager(t)
	connect(t, m, q, 1, ble.RoleCentral, peerAddr(t, "c0:11:22:33:44:55"))

	if err := m.SetLinkEncryption(1, ble.Encrypted); err != nil {
		t.Fatalf("request: %s", err)
	}
	if err := m.SetLinkEncryption(1, ble.EncryptedWithMITM); !ble.Kind(err, ble.ErrNotPermitted) {
		t.Fatalf("second request during negotiation accepted: %v", err)
	}
}

func TestSetLinkEncryptionRejectsDowngrade(t *testing.T) {
	m, ctrl, q, _ := testManager(t)
	connect(t, m, q, 1, ble.RoleCentral, peerAddr(t, "c0:11:22:33:44:55"))

	ctrl.SecurityEvents().OnLinkEncryptionResult(1, ble.Encrypted)
	flush(q)

	if err := m.SetLinkEncryption(1, ble.NotEncrypted); !ble.Kind(err, ble.ErrNotPermitted) {
		t.Fatalf("downgrade accepted: %v", err)
	}
	level, err := m.LinkEncryption(1)
	if err != nil || level != ble.Encrypted {
		t.Fatalf("level = %v, %v", level, err)
	}
}

func TestEncryptionFailureRetriesOnceSilently(t *testing.T) {
	m, ctrl, q, rec := testManager(t)
	connect(t, m, q, 1, ble.RoleCentral, peerAddr(t, "c0:11:22:33:44:55"))
	ctrl.ClearCalls()

	if err := m.SetLinkEncryption(1, ble.Encrypted); err != nil {
		t.Fatalf("request: %s", err)
	}

	// first failure re-pairs without telling the application
	ctrl.SecurityEvents().OnLinkEncryptionResult(1, ble.NotEncrypted)
	flush(q)
	if len(rec.encResults) != 0 {
		t.Fatalf("first failure surfaced: %v", rec.encResults)
	}
	if n := ctrl.CallCount("SendPairingRequest"); n != 2 {
		t.Fatalf("SendPairingRequest called %d times, want initial plus retry", n)
	}

	// a repeat failure reaches the application
	ctrl.SecurityEvents().OnLinkEncryptionResult(1, ble.NotEncrypted)
	flush(q)
	if len(rec.encResults) != 1 || rec.encResults[0] != ble.NotEncrypted {
		t.Fatalf("results = %v, want one failure report", rec.encResults)
	}
	if n := ctrl.CallCount("SendPairingRequest"); n != 2 {
		t.Fatalf("second failure retried again, %d requests", n)
	}
}

func TestEncryptionSuccessClearsRetryState(t *testing.T) {
	m, ctrl, q, rec := testManager(t)
	connect(t, m, q, 1, ble.RoleCentral, peerAddr(t, "c0:11:22:33:44:55"))

	if err := m.SetLinkEncryption(1, ble.Encrypted); err != nil {
		t.Fatalf("request: %s", err)
	}
	ctrl.SecurityEvents().OnLinkEncryptionResult(1, ble.Encrypted)
	flush(q)

	if len(rec.encResults) != 1 || rec.encResults[0] != ble.Encrypted {
		t.Fatalf("results = %v", rec.encResults)
	}
	level, err := m.LinkEncryption(1)
	if err != nil || level != ble.Encrypted {
		t.Fatalf("level = %v, %v", level, err)
	}
}

func TestRequestAuthenticationWithoutKeyPairsWithMITM(t *testing.T) {
	m, ctrl, q, _ := testManager(t)
	connect(t, m, q, 1, ble.RoleCentral, peerAddr(t, "c0:11:22:33:44:55"))
	ctrl.ClearCalls()

	if err := m.RequestAuthentication(1); err != nil {
		t.Fatalf("request: %s", err)
	}
	if n := ctrl.CallCount("SendPairingRequest"); n != 1 {
		t.Fatalf("SendPairingRequest called %d times", n)
	}
}

func TestSlaveRequestsSecurityInsteadOfPairing(t *testing.T) {
	m, ctrl, q, _ := testManager(t)
	connect(t, m, q, 1, ble.RolePeripheral, peerAddr(t, "c0:11:22:33:44:55"))
	ctrl.ClearCalls()

	if err := m.SetLinkEncryption(1, ble.Encrypted); err != nil {
		t.Fatalf("request: %s", err)
	}
	if n := ctrl.CallCount("SendSecurityRequest"); n != 1 {
		t.Fatalf("SendSecurityRequest called %d times", n)
	}
	if n := ctrl.CallCount("SendPairingRequest"); n != 0 {
		t.Fatal("slave initiated a pairing request")
	}
}

func TestSecureConnectionsTargetAtMITMLevelForcesRepair(t *testing.T) {
	m, ctrl, q, rec := testManager(t)
	connect(t, m, q, 1, ble.RoleCentral, peerAddr(t, "c0:11:22:33:44:55"))

	// a legacy passkey pairing leaves the link at the plain MITM level
	ctrl.SecurityEvents().OnPasskeyRequest(1)
	ctrl.SecurityEvents().OnLinkEncryptionResult(1, ble.Encrypted)
	flush(q)
	ctrl.ClearCalls()

	// the legacy key cannot satisfy a secure connections target, so the
	// request must start a fresh pairing rather than report the lower
	// level as already met
	if err := m.SetLinkEncryption(1, ble.EncryptedWithSCAndMITM); err != nil {
		t.Fatalf("request: %s", err)
	}
	if n := ctrl.CallCount("SendPairingRequest"); n != 1 {
		t.Fatalf("SendPairingRequest called %d times, want a re-authentication", n)
	}
	flush(q)
	if len(rec.encResults) != 1 || rec.encResults[0] != ble.EncryptedWithMITM {
		t.Fatalf("results = %v, want only the original encryption report", rec.encResults)
	}
}

func TestMITMLevelTagsStoredKeys(t *testing.T) {
	m, ctrl, q, _ := testManager(t)
	connect(t, m, q, 1, ble.RoleCentral, peerAddr(t, "c0:11:22:33:44:55"))

	// a passkey exchange during pairing upgrades the reported level
	ctrl.SecurityEvents().OnPasskeyRequest(1)
	ctrl.SecurityEvents().OnLinkEncryptionResult(1, ble.Encrypted)
	flush(q)

	level, err := m.LinkEncryption(1)
	if err != nil {
		t.Fatalf("level: %s", err)
	}
	if level != ble.EncryptedWithSCAndMITM && level != ble.EncryptedWithMITM {
		t.Fatalf("level = %v, want an MITM level", level)
	}
}
