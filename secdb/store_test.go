package secdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/blekit/ble"
)

func testAddr(t *testing.T, s string) ble.Addr {
	t.Helper()
	a, err := ble.ParseAddr(s)
	if err != nil {
		t.Fatalf("parse %s: %s", s, err)
	}
	return a
}

func TestOpenEntryFindsOrCreates(t *testing.T) {
	s := NewStore("")
	peer := testAddr(t, "ca:fe:12:34:56:78")

	h := s.OpenEntry(ble.AddrRandomStatic, peer)
	if h == Invalid {
		t.Fatal("expected a fresh entry")
	}
	s.SetEntryPeerLTK(h, ble.LTK{1})
	s.CloseEntry(h)

	again := s.OpenEntry(ble.AddrRandomStatic, peer)
	if again != h {
		t.Fatalf("reopening the same peer returned %d, want %d", again, h)
	}
}

func TestCloseEvictsEmptyEntries(t *testing.T) {
	s := NewStore("")
	peer := testAddr(t, "ca:fe:12:34:56:78")

	h := s.OpenEntry(ble.AddrRandomStatic, peer)
	s.CloseEntry(h)

	got := &EntryKeys{}
	s.EntryPeerKeys(func(_ EntryHandle, keys *EntryKeys) { got = keys }, h)
	if got != nil {
		t.Fatal("entry without material must not survive a close")
	}
}

func TestKeyLookupsInvokeCallbacks(t *testing.T) {
	s := NewStore("")
	peer := testAddr(t, "ca:fe:12:34:56:78")
	h := s.OpenEntry(ble.AddrRandomStatic, peer)

	s.SetEntryLocalLTK(h, ble.LTK{0xaa})
	s.SetEntryLocalEdivRand(h, 0x1234, 0x5678)

	var hit *EntryKeys
	s.EntryLocalKeys(func(_ EntryHandle, keys *EntryKeys) { hit = keys }, h, 0x1234, 0x5678)
	if hit == nil || hit.LTK != (ble.LTK{0xaa}) {
		t.Fatalf("expected local keys, got %v", hit)
	}

	// wrong ediv/rand must miss
	miss := &EntryKeys{}
	s.EntryLocalKeys(func(_ EntryHandle, keys *EntryKeys) { miss = keys }, h, 0xffff, 0)
	if miss != nil {
		t.Fatal("expected a miss for the wrong ediv/rand")
	}

	s.EntryLocalKeysSC(func(_ EntryHandle, keys *EntryKeys) { hit = keys }, h)
	if hit == nil {
		t.Fatal("expected unconditional local keys")
	}
}

func TestSyncRestoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bonds.json")
	peer := testAddr(t, "ca:fe:12:34:56:78")
	identity := testAddr(t, "c0:11:22:33:44:55")

	s := NewStore(path)
	s.SetLocalCSRK(ble.CSRK{9})
	s.SetLocalSignCounter(7)
	h := s.OpenEntry(ble.AddrRandomStatic, peer)
	s.SetEntryPeerLTK(h, ble.LTK{2})
	s.SetEntryPeerEdivRand(h, 0x0102, 0x0304)
	s.SetEntryPeerIRK(h, ble.IRK{3})
	s.SetEntryPeerIdentity(h, false, identity)
	s.SetDistributionFlags(h, DistributionFlags{LTKStored: true, LTKMitm: true, IRKStored: true})
	if err := s.Sync(); err != nil {
		t.Fatalf("sync: %s", err)
	}

	r := NewStore(path)
	if err := r.Restore(); err != nil {
		t.Fatalf("restore: %s", err)
	}
	if csrk, ok := r.LocalCSRK(); !ok || csrk != (ble.CSRK{9}) {
		t.Fatalf("local csrk did not survive: %v %v", csrk, ok)
	}
	if r.LocalSignCounter() != 7 {
		t.Fatalf("sign counter = %d", r.LocalSignCounter())
	}

	rh := r.OpenEntry(ble.AddrRandomStatic, peer)
	var keys *EntryKeys
	r.EntryPeerKeys(func(_ EntryHandle, k *EntryKeys) { keys = k }, rh)
	if keys == nil || keys.LTK != (ble.LTK{2}) || keys.Ediv != 0x0102 || keys.Rand != 0x0304 {
		t.Fatalf("peer keys did not survive: %+v", keys)
	}
	flags, ok := r.DistributionFlags(rh)
	if !ok || !flags.LTKStored || !flags.LTKMitm {
		t.Fatalf("flags did not survive: %+v", flags)
	}
	r.IdentityList(func(ids []EntryIdentity) {
		if len(ids) != 1 || ids[0].Address != identity {
			t.Fatalf("identity list = %+v", ids)
		}
	})
}

func TestRestoreHonorsDisableFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bonds.json")
	s := NewStore(path)
	s.SetLocalSignCounter(42)
	if err := s.Sync(); err != nil {
		t.Fatalf("sync: %s", err)
	}

	r := NewStore(path)
	r.SetRestore(false)
	if err := r.Restore(); err != nil {
		t.Fatalf("restore: %s", err)
	}
	if r.LocalSignCounter() != 0 {
		t.Fatal("restore ran despite being disabled")
	}
}

func TestRestoreMissingFileIsNotAnError(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent.json"))
	if err := s.Restore(); err != nil {
		t.Fatalf("restore: %s", err)
	}
}

func TestClearErasesFileState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bonds.json")
	peer := testAddr(t, "ca:fe:12:34:56:78")

	s := NewStore(path)
	h := s.OpenEntry(ble.AddrRandomStatic, peer)
	s.SetEntryPeerLTK(h, ble.LTK{1})
	if err := s.Sync(); err != nil {
		t.Fatalf("sync: %s", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %s", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("clear should rewrite the file: %s", err)
	}
	r := NewStore(path)
	if err := r.Restore(); err != nil {
		t.Fatalf("restore: %s", err)
	}
	var keys *EntryKeys
	r.EntryPeerKeys(func(_ EntryHandle, k *EntryKeys) { keys = k }, r.OpenEntry(ble.AddrRandomStatic, peer))
	if keys != nil {
		t.Fatal("bond survived a clear")
	}
}

func TestWhitelistFromBondTable(t *testing.T) {
	s := NewStore("")
	for _, addr := range []string{"ca:fe:12:34:56:78", "c0:11:22:33:44:55"} {
		h := s.OpenEntry(ble.AddrRandomStatic, testAddr(t, addr))
		s.SetEntryPeerLTK(h, ble.LTK{1})
	}

	s.WhitelistFromBondTable(func(entries []ble.WhitelistEntry) {
		if len(entries) != 2 {
			t.Fatalf("whitelist size = %d", len(entries))
		}
	}, 8)

	// capacity bounds the result
	s.WhitelistFromBondTable(func(entries []ble.WhitelistEntry) {
		if len(entries) != 1 {
			t.Fatalf("capped whitelist size = %d", len(entries))
		}
	}, 1)
}
