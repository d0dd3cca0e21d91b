/*
blelink - Keeps a single BLE peripheral connected.
Copyright (C) 2024, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package advertisement holds the typed form of a single BLE advertisement
// sighting and a parser for raw advertising data.
package advertisement

import (
	"bytes"
	"encoding/binary"
	"time"
)

// AD types that are recognised. Everything else is dropped.
const (
	adTypeFlags              = 0x01
	adTypeShortenedLocalName = 0x08
	adTypeCompleteLocalName  = 0x09
	adTypeTxPowerLevel       = 0x0A
	adTypeManufacturerData   = 0xFF
)

// Advertisement is one sighting of an advertising device.
type Advertisement struct {
	Address          string
	LocalName        string
	RSSI             int16
	TxPower          *int8
	ManufacturerID   *uint16
	ManufacturerData []byte
	Connectable      bool
	Timestamp        time.Time
}

// Fields are the values recovered from raw advertising data.
type Fields struct {
	Flags            *uint8
	LocalName        string
	TxPower          *int8
	ManufacturerID   *uint16
	ManufacturerData []byte
}

// Parse walks the length-type-value AD structures in raw. It never fails:
// a zero length or truncated structure ends the walk and whatever was
// recovered up to that point is returned.
func Parse(raw []byte) Fields {
	var f Fields
	shortName := ""
	for len(raw) > 0 {
		length := int(raw[0])
		if length == 0 || len(raw) < 1+length {
			break
		}
		adType := raw[1]
		data := raw[2 : 1+length]
		raw = raw[1+length:]

		switch adType {
		case adTypeFlags:
			if len(data) >= 1 {
				flags := data[0]
				f.Flags = &flags
			}
		case adTypeCompleteLocalName:
			f.LocalName = string(data)
		case adTypeShortenedLocalName:
			shortName = string(data)
		case adTypeTxPowerLevel:
			if len(data) >= 1 {
				tx := int8(data[0])
				f.TxPower = &tx
			}
		case adTypeManufacturerData:
			if len(data) >= 2 {
				id := binary.LittleEndian.Uint16(data[:2])
				f.ManufacturerID = &id
				f.ManufacturerData = append([]byte(nil), data[2:]...)
			}
		}
	}
	// A complete name wins over a shortened one regardless of order.
	if f.LocalName == "" {
		f.LocalName = shortName
	}
	return f
}

// Apply copies the recovered fields onto a. Fields that were not present in
// the raw data leave a unchanged.
func (f Fields) Apply(a *Advertisement) {
	if f.LocalName != "" {
		a.LocalName = f.LocalName
	}
	if f.TxPower != nil {
		tx := *f.TxPower
		a.TxPower = &tx
	}
	if f.ManufacturerID != nil {
		id := *f.ManufacturerID
		a.ManufacturerID = &id
		a.ManufacturerData = append([]byte(nil), f.ManufacturerData...)
	}
}

// SameManufacturer reports whether a and b carry the same manufacturer
// identifier and payload.
func SameManufacturer(aID *uint16, aData []byte, bID *uint16, bData []byte) bool {
	if (aID == nil) != (bID == nil) {
		return false
	}
	if aID != nil && *aID != *bID {
		return false
	}
	return bytes.Equal(aData, bData)
}

// SameTxPower reports whether two optional tx power values are equal.
func SameTxPower(a, b *int8) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
