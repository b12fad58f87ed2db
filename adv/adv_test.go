package adv

import (
	"bytes"
	"testing"

	"github.com/blekit/ble"
)

type testPdu struct {
	b []byte
}

func (t *testPdu) add(typ byte, data []byte) {
	t.b = append(t.b, byte(len(data)+1), typ)
	t.b = append(t.b, data...)
}

func (t *testPdu) addBad(typ byte, badLen byte, data []byte) {
	t.b = append(t.b, badLen, typ)
	t.b = append(t.b, data...)
}

func TestParseTypicalPayload(t *testing.T) {
	p := testPdu{}
	p.add(TypeFlags, []byte{0x06})
	p.add(TypeCompleteLocalName, []byte("thermometer"))
	p.add(TypeUUID16Complete, []byte{0x09, 0x18, 0x0f, 0x18})
	p.add(TypeTxPower, []byte{0xf8})

	f, err := Parse(p.b)
	if err != nil {
		t.Fatalf("parse: %s", err)
	}
	if !f.HasFlags || f.Flags != 0x06 {
		t.Fatalf("flags = %#x, present %v", f.Flags, f.HasFlags)
	}
	if f.LocalName != "thermometer" || f.NameShortened {
		t.Fatalf("name = %q shortened=%v", f.LocalName, f.NameShortened)
	}
	if len(f.Services) != 2 || f.Services[0].String() != "1809" || f.Services[1].String() != "180f" {
		t.Fatalf("services = %v", f.Services)
	}
	if !f.HasTxPower || f.TxPower != -8 {
		t.Fatalf("tx power = %d, present %v", f.TxPower, f.HasTxPower)
	}
}

func TestParseServiceData(t *testing.T) {
	p := testPdu{}
	p.add(TypeServiceData16, []byte{0x09, 0x18, 0x42, 0x43})

	f, err := Parse(p.b)
	if err != nil {
		t.Fatalf("parse: %s", err)
	}
	if len(f.ServiceData) != 1 {
		t.Fatalf("service data records: %d", len(f.ServiceData))
	}
	sd := f.ServiceData[0]
	if sd.UUID.String() != "1809" || !bytes.Equal(sd.Data, []byte{0x42, 0x43}) {
		t.Fatalf("service data = %s %x", sd.UUID, sd.Data)
	}
}

func TestParseCompleteNameWins(t *testing.T) {
	p := testPdu{}
	p.add(TypeShortenedLocalName, []byte("therm"))
	p.add(TypeCompleteLocalName, []byte("thermometer"))

	f, err := Parse(p.b)
	if err != nil {
		t.Fatalf("parse: %s", err)
	}
	if f.LocalName != "thermometer" || f.NameShortened {
		t.Fatalf("name = %q shortened=%v", f.LocalName, f.NameShortened)
	}
}

func TestParseSkipsUnknownTypes(t *testing.T) {
	p := testPdu{}
	p.add(0x3d, []byte{0x01, 0x02})
	p.add(TypeFlags, []byte{0x04})

	f, err := Parse(p.b)
	if err != nil {
		t.Fatalf("parse: %s", err)
	}
	if !f.HasFlags {
		t.Fatal("record after an unknown type lost")
	}
}

func TestParseRejectsOverrunningRecord(t *testing.T) {
	p := testPdu{}
	p.addBad(TypeCompleteLocalName, 0x20, []byte("short"))

	if _, err := Parse(p.b); !ble.Kind(err, ble.ErrInvalidParameter) {
		t.Fatalf("overrunning record accepted: %v", err)
	}
}

func TestParseRejectsZeroLengthRecord(t *testing.T) {
	p := testPdu{}
	p.addBad(TypeFlags, 0x00, nil)
	p.b = append(p.b, 0x00)

	if _, err := Parse(p.b); !ble.Kind(err, ble.ErrInvalidParameter) {
		t.Fatalf("zero-length record accepted: %v", err)
	}
}

func TestParseRejectsRaggedUUIDList(t *testing.T) {
	p := testPdu{}
	p.add(TypeUUID16Complete, []byte{0x09, 0x18, 0x0f})

	if _, err := Parse(p.b); !ble.Kind(err, ble.ErrInvalidParameter) {
		t.Fatalf("ragged uuid list accepted: %v", err)
	}
}

func TestManufacturerDataScanResponseAppend(t *testing.T) {
	p := testPdu{}
	p.add(TypeManufacturerData, []byte{0x2c, 0x02, 0x01, 0x02})
	p.add(TypeManufacturerData, []byte{0x2c, 0x02, 0x03, 0x04})

	f, err := Parse(p.b)
	if err != nil {
		t.Fatalf("parse: %s", err)
	}
	if !bytes.Equal(f.ManufacturerData, []byte{0x2c, 0x02, 0x01, 0x02, 0x03, 0x04}) {
		t.Fatalf("mfg data = %x", f.ManufacturerData)
	}
}

func TestBuilderRoundTrip(t *testing.T) {
	var b Builder
	payload, err := b.
		Flags(0x06).
		CompleteLocalName("beacon").
		Services(UUID{0x09, 0x18}).
		ServiceData(UUID{0x0f, 0x18}, []byte{0x64}).
		ManufacturerData(0x022c, []byte{0xde, 0xad}).
		TxPower(-4).
		Bytes()
	if err != nil {
		t.Fatalf("build: %s", err)
	}

	f, err := Parse(payload)
	if err != nil {
		t.Fatalf("parse: %s", err)
	}
	if f.Flags != 0x06 || f.LocalName != "beacon" || f.TxPower != -4 {
		t.Fatalf("fields = %+v", f)
	}
	if len(f.Services) != 1 || f.Services[0].String() != "1809" {
		t.Fatalf("services = %v", f.Services)
	}
	if len(f.ServiceData) != 1 || !bytes.Equal(f.ServiceData[0].Data, []byte{0x64}) {
		t.Fatalf("service data = %v", f.ServiceData)
	}
	if !bytes.Equal(f.ManufacturerData, []byte{0x2c, 0x02, 0xde, 0xad}) {
		t.Fatalf("mfg data = %x", f.ManufacturerData)
	}
}

func TestBuilderRejectsOversizedRecord(t *testing.T) {
	var b Builder
	_, err := b.ManufacturerData(0x022c, make([]byte, 300)).Bytes()
	if !ble.Kind(err, ble.ErrInvalidParameter) {
		t.Fatalf("oversized record accepted: %v", err)
	}
}
