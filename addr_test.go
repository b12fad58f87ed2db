package ble

import "testing"

func TestParseAddr(t *testing.T) {
	a, err := ParseAddr("ca:fe:12:34:56:78")
	if err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	if a.String() != "ca:fe:12:34:56:78" {
		t.Fatalf("round trip mismatch: %s", a)
	}

	if _, err := ParseAddr("not-an-address"); err == nil {
		t.Fatal("expected parse failure")
	}
}

func TestClassifyRandomStatic(t *testing.T) {
	a, _ := ParseAddr("ca:fe:12:34:56:78")
	if !a.IsRandomStatic() {
		t.Fatalf("%s should classify as random static", a)
	}
	if got, ok := a.ClassifyRandom(); !ok || got != AddrRandomStatic {
		t.Fatalf("classify %s = %v, %v", a, got, ok)
	}
}

func TestClassifyRejectsDegenerateRandomPart(t *testing.T) {
	// top bits 11 but every random bit set
	allOnes, _ := ParseAddr("ff:ff:ff:ff:ff:ff")
	if allOnes.IsRandomStatic() {
		t.Fatalf("%s must not classify as random static", allOnes)
	}
	// top bits 11 but every random bit clear
	allZero, _ := ParseAddr("c0:00:00:00:00:00")
	if allZero.IsRandomStatic() {
		t.Fatalf("%s must not classify as random static", allZero)
	}
	if _, ok := allZero.ClassifyRandom(); ok {
		t.Fatalf("%s must not classify at all", allZero)
	}
}

func TestClassifyPrivateAddresses(t *testing.T) {
	rpa, _ := ParseAddr("40:00:12:34:56:78")
	if !rpa.IsRandomPrivateResolvable() {
		t.Fatalf("%s should classify as resolvable private", rpa)
	}
	if got, _ := rpa.ClassifyRandom(); got != AddrRandomPrivateResolvable {
		t.Fatalf("classify %s = %v", rpa, got)
	}

	nrpa, _ := ParseAddr("3f:00:12:34:56:78")
	if !nrpa.IsRandomPrivateNonResolvable() {
		t.Fatalf("%s should classify as non-resolvable private", nrpa)
	}

	// top bits 10 never classify
	reserved, _ := ParseAddr("80:00:12:34:56:78")
	if _, ok := reserved.ClassifyRandom(); ok {
		t.Fatalf("%s must not classify", reserved)
	}
}

func TestWhitelistEntryValid(t *testing.T) {
	static, _ := ParseAddr("ca:fe:12:34:56:78")
	rpa, _ := ParseAddr("40:00:12:34:56:78")
	public, _ := ParseAddr("80:1f:12:34:56:78")

	cases := []struct {
		entry WhitelistEntry
		valid bool
	}{
		{WhitelistEntry{AddrRandomStatic, static}, true},
		{WhitelistEntry{AddrRandomStatic, rpa}, false},
		{WhitelistEntry{AddrRandomPrivateResolvable, rpa}, false},
		{WhitelistEntry{AddrPublic, public}, true},
		{WhitelistEntry{AddrPublic, static}, false},
		{WhitelistEntry{AddrAnonymous, static}, false},
	}
	for i, c := range cases {
		if got := c.entry.Valid(); got != c.valid {
			t.Fatalf("case %d: %s/%s valid = %v, want %v", i, c.entry.Type, c.entry.Addr, got, c.valid)
		}
	}
}

func TestSupervisionTimeoutValid(t *testing.T) {
	// timeout must strictly exceed (1+latency)*interval*2 in raw units
	if SupervisionTimeoutValid(0x10, 0, 0x20) {
		t.Fatal("boundary triple must be rejected")
	}
	if !SupervisionTimeoutValid(0x10, 0, 0x21) {
		t.Fatal("boundary-adjacent triple must be accepted")
	}
	if SupervisionTimeoutValid(0x50, 4, 0x320) {
		t.Fatal("latency-scaled boundary must be rejected")
	}
}
