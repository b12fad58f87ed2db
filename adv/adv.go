// Package adv parses and builds the AD structures carried in advertising
// payloads [Vol 3, Part C, 11]. Payload ceilings are enforced by the GAP
// engine; this package only deals with the record format.
package adv

import (
	"encoding/hex"

	"github.com/pkg/errors"

	"github.com/blekit/ble"
)

// Assigned AD types.
// https://www.bluetooth.com/specifications/assigned-numbers/
const (
	TypeFlags              = 0x01
	TypeUUID16Incomplete   = 0x02
	TypeUUID16Complete     = 0x03
	TypeUUID32Incomplete   = 0x04
	TypeUUID32Complete     = 0x05
	TypeUUID128Incomplete  = 0x06
	TypeUUID128Complete    = 0x07
	TypeShortenedLocalName = 0x08
	TypeCompleteLocalName  = 0x09
	TypeTxPower            = 0x0a
	TypeSolicited16        = 0x14
	TypeSolicited128       = 0x15
	TypeServiceData16      = 0x16
	TypeSolicited32        = 0x1f
	TypeServiceData32      = 0x20
	TypeServiceData128     = 0x21
	TypeManufacturerData   = 0xff
)

// UUID is a 2, 4 or 16 byte service UUID in little-endian wire order.
type UUID []byte

// String renders the UUID big-endian, the way it is written.
func (u UUID) String() string {
	r := make([]byte, len(u))
	for i, b := range u {
		r[len(u)-1-i] = b
	}
	return hex.EncodeToString(r)
}

// ServiceData pairs a service UUID with its advertised data.
type ServiceData struct {
	UUID UUID
	Data []byte
}

// Fields is the decoded content of one advertising payload. Slices alias
// nothing; every record is copied out of the PDU.
type Fields struct {
	Flags            byte
	HasFlags         bool
	LocalName        string
	NameShortened    bool
	TxPower          int8
	HasTxPower       bool
	Services         []UUID
	Solicited        []UUID
	ServiceData      []ServiceData
	ManufacturerData []byte
}

var uuidSize = map[byte]int{
	TypeUUID16Incomplete:  2,
	TypeUUID16Complete:    2,
	TypeUUID32Incomplete:  4,
	TypeUUID32Complete:    4,
	TypeUUID128Incomplete: 16,
	TypeUUID128Complete:   16,
	TypeSolicited16:       2,
	TypeSolicited32:       4,
	TypeSolicited128:      16,
}

var serviceDataUUIDSize = map[byte]int{
	TypeServiceData16:  2,
	TypeServiceData32:  4,
	TypeServiceData128: 16,
}

// Parse decodes the AD structures of an advertising payload. Records with
// unknown types are skipped; a malformed length aborts the parse and
// returns what was decoded so far alongside the error.
func Parse(pdu []byte) (Fields, error) {
	var f Fields
	if len(pdu) == 0 {
		return f, errors.Wrap(ble.ErrInvalidParameter, "adv: empty payload")
	}

	for i := 0; i+1 < len(pdu); {
		// length at offset 0 covers the type byte and the data
		length := int(pdu[i])
		typ := pdu[i+1]
		if length < 1 {
			return f, errors.Wrapf(ble.ErrInvalidParameter, "adv: record length %d at offset %d", length, i)
		}
		if i+length >= len(pdu) {
			return f, errors.Wrapf(ble.ErrInvalidParameter, "adv: record at offset %d overruns the payload", i)
		}

		data := make([]byte, length-1)
		copy(data, pdu[i+2:i+1+length])
		if err := f.decode(typ, data); err != nil {
			return f, errors.Wrapf(err, "adv: record at offset %d", i)
		}
		i += length + 1
	}
	return f, nil
}

func (f *Fields) decode(typ byte, data []byte) error {
	if size, ok := uuidSize[typ]; ok {
		uuids, err := splitUUIDs(size, data)
		if err != nil {
			return err
		}
		switch typ {
		case TypeSolicited16, TypeSolicited32, TypeSolicited128:
			f.Solicited = append(f.Solicited, uuids...)
		default:
			f.Services = append(f.Services, uuids...)
		}
		return nil
	}
	if size, ok := serviceDataUUIDSize[typ]; ok {
		if len(data) < size {
			return errors.Wrapf(ble.ErrInvalidParameter, "service data shorter than its %d byte uuid", size)
		}
		f.ServiceData = append(f.ServiceData, ServiceData{
			UUID: UUID(data[:size]),
			Data: data[size:],
		})
		return nil
	}

	switch typ {
	case TypeFlags:
		if len(data) < 1 {
			return errors.Wrap(ble.ErrInvalidParameter, "empty flags record")
		}
		f.Flags = data[0]
		f.HasFlags = true
	case TypeCompleteLocalName:
		f.LocalName = string(data)
		f.NameShortened = false
	case TypeShortenedLocalName:
		// a complete name wins over a shortened one
		if f.LocalName == "" {
			f.LocalName = string(data)
			f.NameShortened = true
		}
	case TypeTxPower:
		if len(data) < 1 {
			return errors.Wrap(ble.ErrInvalidParameter, "empty tx power record")
		}
		f.TxPower = int8(data[0])
		f.HasTxPower = true
	case TypeManufacturerData:
		if len(f.ManufacturerData) == 0 {
			f.ManufacturerData = data
			break
		}
		// a scan response repeats the company id, strip it on append
		if len(data) > 2 {
			f.ManufacturerData = append(f.ManufacturerData, data[2:]...)
		}
	}
	return nil
}

func splitUUIDs(size int, data []byte) ([]UUID, error) {
	if len(data) == 0 || len(data)%size != 0 {
		return nil, errors.Wrapf(ble.ErrInvalidParameter, "uuid list length %d not a multiple of %d", len(data), size)
	}
	uuids := make([]UUID, 0, len(data)/size)
	for i := 0; i < len(data); i += size {
		uuids = append(uuids, UUID(data[i:i+size]))
	}
	return uuids, nil
}
