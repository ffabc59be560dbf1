// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import (
	"bytes"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/syncspirit/syncspirit/internal/luhn"
)

// DeviceID is the 32-byte SHA-256 hash of a device's certificate.
type DeviceID [32]byte

// ShortIDStringLength is the length of a DeviceID's short string form.
const ShortIDStringLength = 7

// LocalDeviceID is a magic value representing "this device" in places
// that otherwise expect a remote DeviceID (e.g. keying the local replica
// of a folder).
var LocalDeviceID = DeviceID{0xFF}

// ShortID is a numeric projection of a DeviceID's first 8 bytes, used as
// the compact per-device identifier embedded in version vectors.
type ShortID uint64

func (s ShortID) String() string {
	bs := []byte{byte(s >> 56), byte(s >> 48), byte(s >> 40), byte(s >> 32), byte(s >> 24), byte(s >> 16), byte(s >> 8), byte(s)}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(bs)
	check, err := luhn.Base32.Generate(enc)
	if err != nil {
		panic("luhnify: " + err.Error())
	}
	return (enc + string(check))[:ShortIDStringLength]
}

// NewDeviceID returns the DeviceID for a raw certificate.
func NewDeviceID(rawCert []byte) DeviceID {
	return DeviceID(sha256.Sum256(rawCert))
}

// DeviceIDFromString parses the canonical, dash-grouped form (or the
// loosely formatted variants accepted by UnmarshalText).
func DeviceIDFromString(s string) (DeviceID, error) {
	var d DeviceID
	err := d.UnmarshalText([]byte(s))
	return d, err
}

// DeviceIDFromBytes parses an exact 32-byte slice.
func DeviceIDFromBytes(bs []byte) (DeviceID, error) {
	var d DeviceID
	if len(bs) != len(d) {
		return d, fmt.Errorf("protocol: invalid device ID length %d, expected %d", len(bs), len(d))
	}
	copy(d[:], bs)
	return d, nil
}

// Short returns the first 8 bytes of the device ID as a numeric ShortID,
// used as the compact identifier inside version vectors.
func (d DeviceID) Short() ShortID {
	return ShortID(uint64(d[0])<<56 | uint64(d[1])<<48 | uint64(d[2])<<40 | uint64(d[3])<<32 |
		uint64(d[4])<<24 | uint64(d[5])<<16 | uint64(d[6])<<8 | uint64(d[7]))
}

func (d DeviceID) String() string {
	if d.Equals(DeviceID{}) {
		return ""
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(d[:])
	enc, err := luhnify(enc)
	if err != nil {
		// Can't happen, we know the alphabet is right.
		panic("luhnify: " + err.Error())
	}
	return chunkify(enc)
}

func (d DeviceID) Equals(other DeviceID) bool {
	return bytes.Equal(d[:], other[:])
}

// Compare implements a total order over device IDs, used to break ties
// deterministically (e.g. resolver concurrent-edit winner selection).
func (d DeviceID) Compare(other DeviceID) int {
	return bytes.Compare(d[:], other[:])
}

func (d DeviceID) GoString() string {
	return d.String()
}

func (d *DeviceID) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *DeviceID) UnmarshalText(bs []byte) error {
	id, err := parseDeviceIDString(string(bs))
	if err != nil {
		return err
	}
	*d = id
	return nil
}

func parseDeviceIDString(s string) (DeviceID, error) {
	var out DeviceID
	s = strings.Trim(s, " ")
	s = strings.ToUpper(s)
	s = strings.NewReplacer("-", "", " ", "", ".", "").Replace(s)
	// Digits that base32 never uses are read as the letters they are
	// commonly mistyped for.
	s = strings.NewReplacer("0", "O", "1", "I", "8", "B").Replace(s)

	if s == "" {
		return out, nil
	}

	switch len(s) {
	case 0:
		return out, nil
	case 52:
		// no check digits
	case 56:
		var err error
		s, err = unluhnify(s)
		if err != nil {
			return out, err
		}
	default:
		return out, fmt.Errorf("protocol: device ID invalid: length %d, expected 52 or 56", len(s))
	}

	s = strings.ToUpper(s)
	dec, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("protocol: device ID invalid: %w", err)
	}
	if len(dec) != len(out) {
		return out, fmt.Errorf("protocol: device ID invalid: decoded to %d bytes, expected %d", len(dec), len(out))
	}
	copy(out[:], dec)
	return out, nil
}

func luhnify(s string) (string, error) {
	if len(s) != 52 {
		panic("unsupported string length " + fmt.Sprint(len(s)))
	}
	res := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		chunk := s[i*13 : (i+1)*13]
		check, err := luhn.Base32.Generate(chunk)
		if err != nil {
			return "", err
		}
		res = append(res, chunk+string(check))
	}
	return res[0] + res[1] + res[2] + res[3], nil
}

func unluhnify(s string) (string, error) {
	if len(s) != 56 {
		return "", fmt.Errorf("unsupported string length %d", len(s))
	}
	res := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		chunk := s[i*14 : (i+1)*14]
		if !luhn.Base32.Validate(chunk) {
			return "", fmt.Errorf("check digit incorrect in %q", chunk)
		}
		res = append(res, chunk[:13])
	}
	return res[0] + res[1] + res[2] + res[3], nil
}

func chunkify(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/7)
	for i := 0; i < len(s); i += 7 {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + 7
		if end > len(s) {
			end = len(s)
		}
		b.WriteString(s[i:end])
	}
	return b.String()
}

func unchunkify(s string) string {
	return strings.ReplaceAll(s, "-", "")
}
