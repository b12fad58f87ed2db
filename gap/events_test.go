package gap

import (
	"testing"

	"github.com/blekit/ble"
	"github.com/blekit/ble/pal"
	"github.com/blekit/ble/palsim"
)

type reportRecorder struct {
	NopEventHandler
	reports []AdvertisingReportEvent
}

func (r *reportRecorder) OnAdvertisingReport(ev AdvertisingReportEvent) {
	r.reports = append(r.reports, ev)
}

type connRecorder struct {
	peers       []ble.ConnectedPeer
	disconnects []ble.ConnectionHandle
}

func (r *connRecorder) OnConnected(peer ble.ConnectedPeer) {
	r.peers = append(r.peers, peer)
}

func (r *connRecorder) OnDisconnected(conn ble.ConnectionHandle, reason uint8) {
	r.disconnects = append(r.disconnects, conn)
}

func legacyReport(pdu uint8, a ble.Addr) pal.AdvertisingReport {
	return pal.AdvertisingReport{
		AddressType:   ble.AddrRandomStatic,
		Address:       a,
		Legacy:        true,
		LegacyPDUType: pdu,
	}
}

func TestLegacyReportEventTypeMapping(t *testing.T) {
	g, ctrl, q := testEngine(t)
	rec := &reportRecorder{}
	g.SetEventHandler(rec)
	if err := g.StartScan(ScanParameters{Active: true, IntervalUnits: 0x60, WindowUnits: 0x30}); err != nil {
		t.Fatalf("scan: %s", err)
	}

	peer := addr(t, "ca:fe:12:34:56:78")
	for pdu := uint8(0); pdu < 6; pdu++ {
		ctrl.GapEvents().OnAdvertisingReport(legacyReport(pdu, peer))
	}
	q.Sync(func() {})

	// PDU type 5 has no mapping and is dropped
	want := []uint16{0x13, 0x15, 0x12, 0x10, 0x1b}
	if len(rec.reports) != len(want) {
		t.Fatalf("%d reports delivered, want %d", len(rec.reports), len(want))
	}
	for i, w := range want {
		if rec.reports[i].EventType != w {
			t.Fatalf("pdu %d mapped to 0x%02x, want 0x%02x", i, rec.reports[i].EventType, w)
		}
	}
}

func TestReportsDroppedWhileNotScanning(t *testing.T) {
	g, ctrl, q := testEngine(t)
	rec := &reportRecorder{}
	g.SetEventHandler(rec)

	ctrl.GapEvents().OnAdvertisingReport(legacyReport(0, addr(t, "ca:fe:12:34:56:78")))
	q.Sync(func() {})

	if len(rec.reports) != 0 {
		t.Fatalf("%d reports delivered outside a scan", len(rec.reports))
	}
}

func TestCentralResolveAndFilterDropsUnresolved(t *testing.T) {
	g, ctrl, q := testEngine(t, palsim.WithFeature(pal.FeaturePrivacy))
	rec := &reportRecorder{}
	g.SetEventHandler(rec)

	if err := g.SetCentralPrivacyConfiguration(CentralPrivacyConfiguration{
		ResolutionStrategy: CentralPrivacyResolveAndFilter,
	}); err != nil {
		t.Fatalf("policy: %s", err)
	}
	if err := g.EnablePrivacy(true); err != nil {
		t.Fatalf("privacy: %s", err)
	}
	if err := g.StartScan(ScanParameters{Active: true, IntervalUnits: 0x60, WindowUnits: 0x30}); err != nil {
		t.Fatalf("scan: %s", err)
	}

	rpa := pal.AdvertisingReport{
		AddressType: ble.AddrRandomPrivateResolvable,
		Address:     addr(t, "40:00:12:34:56:78"),
		Legacy:      true,
	}
	ctrl.GapEvents().OnAdvertisingReport(rpa)
	ctrl.GapEvents().OnAdvertisingReport(legacyReport(0, addr(t, "ca:fe:12:34:56:78")))
	q.Sync(func() {})

	if len(rec.reports) != 1 {
		t.Fatalf("%d reports delivered, want the unresolved one filtered", len(rec.reports))
	}
	if rec.reports[0].Address != addr(t, "ca:fe:12:34:56:78") {
		t.Fatalf("wrong report survived: %s", rec.reports[0].Address)
	}
}

func peripheralConnection(a ble.Addr) pal.ConnectionComplete {
	return pal.ConnectionComplete{
		Handle:          1,
		Role:            ble.RolePeripheral,
		PeerAddressType: ble.AddrRandomPrivateResolvable,
		PeerAddress:     a,
	}
}

func TestPeripheralPrivacyRejectDisconnectsUnresolved(t *testing.T) {
	g, ctrl, q := testEngine(t, palsim.WithFeature(pal.FeaturePrivacy))
	g.SetEventHandler(NopEventHandler{})
	obs := &connRecorder{}
	g.SetConnectionObserver(obs)

	if err := g.SetPeripheralPrivacyConfiguration(PeripheralPrivacyConfiguration{
		ResolutionStrategy: PeripheralPrivacyRejectUnresolved,
	}); err != nil {
		t.Fatalf("policy: %s", err)
	}
	if err := g.EnablePrivacy(true); err != nil {
		t.Fatalf("privacy: %s", err)
	}
	ctrl.ClearCalls()

	ctrl.GapEvents().OnConnectionComplete(peripheralConnection(addr(t, "40:00:12:34:56:78")))
	q.Sync(func() {})

	if n := ctrl.CallCount("Disconnect"); n != 1 {
		t.Fatalf("Disconnect called %d times", n)
	}
	if len(obs.peers) != 0 {
		t.Fatal("rejected link still reached the observer")
	}
}

func TestPeripheralPrivacyAuthenticateFlagsLink(t *testing.T) {
	g, ctrl, q := testEngine(t, palsim.WithFeature(pal.FeaturePrivacy))
	g.SetEventHandler(NopEventHandler{})
	obs := &connRecorder{}
	g.SetConnectionObserver(obs)

	if err := g.SetPeripheralPrivacyConfiguration(PeripheralPrivacyConfiguration{
		ResolutionStrategy: PeripheralPrivacyAuthenticateUnresolved,
	}); err != nil {
		t.Fatalf("policy: %s", err)
	}
	if err := g.EnablePrivacy(true); err != nil {
		t.Fatalf("privacy: %s", err)
	}

	ctrl.GapEvents().OnConnectionComplete(peripheralConnection(addr(t, "40:00:12:34:56:78")))
	q.Sync(func() {})

	if len(obs.peers) != 1 {
		t.Fatalf("%d peers observed", len(obs.peers))
	}
	if !obs.peers[0].RequirePairing || !obs.peers[0].RequireAuthentication {
		t.Fatalf("peer flags = %+v", obs.peers[0])
	}
}

func TestResolvedPeerPassesUntouched(t *testing.T) {
	g, ctrl, q := testEngine(t, palsim.WithFeature(pal.FeaturePrivacy))
	g.SetEventHandler(NopEventHandler{})
	obs := &connRecorder{}
	g.SetConnectionObserver(obs)

	if err := g.SetPeripheralPrivacyConfiguration(PeripheralPrivacyConfiguration{
		ResolutionStrategy: PeripheralPrivacyRejectUnresolved,
	}); err != nil {
		t.Fatalf("policy: %s", err)
	}
	if err := g.EnablePrivacy(true); err != nil {
		t.Fatalf("privacy: %s", err)
	}
	ctrl.ClearCalls()

	// a static address was already resolved by the controller
	ev := peripheralConnection(addr(t, "ca:fe:12:34:56:78"))
	ev.PeerAddressType = ble.AddrRandomStatic
	ctrl.GapEvents().OnConnectionComplete(ev)
	q.Sync(func() {})

	if n := ctrl.CallCount("Disconnect"); n != 0 {
		t.Fatal("resolved peer rejected")
	}
	if len(obs.peers) != 1 || obs.peers[0].RequirePairing {
		t.Fatalf("peers = %+v", obs.peers)
	}
}

func TestAutomaticConnectionParameterAcceptance(t *testing.T) {
	g, ctrl, q := testEngine(t)
	g.SetEventHandler(NopEventHandler{})
	ctrl.ClearCalls()

	ctrl.GapEvents().OnRemoteConnectionParameterRequest(pal.RemoteConnectionParameterRequest{
		Handle:           1,
		IntervalMinUnits: 0x10,
		IntervalMaxUnits: 0x20,
		Latency:          0,
		SupervisionTimeout: 0x100,
	})
	q.Sync(func() {})

	if n := ctrl.CallCount("AcceptConnectionParameterRequest"); n != 1 {
		t.Fatalf("AcceptConnectionParameterRequest called %d times", n)
	}
}

func TestDisconnectionReachesObserverAndHandler(t *testing.T) {
	g, ctrl, q := testEngine(t)
	g.SetEventHandler(NopEventHandler{})
	obs := &connRecorder{}
	g.SetConnectionObserver(obs)

	ctrl.GapEvents().OnDisconnectionComplete(pal.DisconnectionComplete{Handle: 7, Reason: 0x13})
	q.Sync(func() {})

	if len(obs.disconnects) != 1 || obs.disconnects[0] != 7 {
		t.Fatalf("disconnects = %v", obs.disconnects)
	}
}
