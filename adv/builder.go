package adv

import (
	"github.com/pkg/errors"

	"github.com/blekit/ble"
)

// Builder assembles an advertising payload record by record. It does not
// enforce a payload ceiling: legacy and extended limits differ, so the
// GAP engine rejects oversized payloads when they are programmed.
type Builder struct {
	b   []byte
	err error
}

func (b *Builder) record(typ byte, data ...[]byte) *Builder {
	n := 1
	for _, d := range data {
		n += len(d)
	}
	if n > 0xff {
		if b.err == nil {
			b.err = errors.Wrapf(ble.ErrInvalidParameter, "adv: record type 0x%02x exceeds 255 bytes", typ)
		}
		return b
	}
	b.b = append(b.b, byte(n), typ)
	for _, d := range data {
		b.b = append(b.b, d...)
	}
	return b
}

// Flags appends a flags record.
func (b *Builder) Flags(flags byte) *Builder {
	return b.record(TypeFlags, []byte{flags})
}

// CompleteLocalName appends the device name.
func (b *Builder) CompleteLocalName(name string) *Builder {
	return b.record(TypeCompleteLocalName, []byte(name))
}

// ShortenedLocalName appends a truncated device name.
func (b *Builder) ShortenedLocalName(name string) *Builder {
	return b.record(TypeShortenedLocalName, []byte(name))
}

// TxPower appends the advertised transmit power.
func (b *Builder) TxPower(dbm int8) *Builder {
	return b.record(TypeTxPower, []byte{byte(dbm)})
}

// Services appends a complete service UUID list. All UUIDs must share one
// size; mixed sizes need separate calls.
func (b *Builder) Services(uuids ...UUID) *Builder {
	if len(uuids) == 0 {
		return b
	}
	var typ byte
	switch len(uuids[0]) {
	case 2:
		typ = TypeUUID16Complete
	case 4:
		typ = TypeUUID32Complete
	default:
		typ = TypeUUID128Complete
	}
	data := make([][]byte, len(uuids))
	for i, u := range uuids {
		data[i] = u
	}
	return b.record(typ, data...)
}

// ServiceData appends a service data record.
func (b *Builder) ServiceData(uuid UUID, data []byte) *Builder {
	return b.record(serviceDataType(uuid), uuid, data)
}

func serviceDataType(uuid UUID) byte {
	switch len(uuid) {
	case 2:
		return TypeServiceData16
	case 4:
		return TypeServiceData32
	}
	return TypeServiceData128
}

// ManufacturerData appends a manufacturer data record; companyID is the
// assigned identifier in little-endian order.
func (b *Builder) ManufacturerData(companyID uint16, data []byte) *Builder {
	return b.record(TypeManufacturerData, []byte{byte(companyID), byte(companyID >> 8)}, data)
}

// Bytes returns the assembled payload and the first recording error.
func (b *Builder) Bytes() ([]byte, error) {
	return b.b, b.err
}
