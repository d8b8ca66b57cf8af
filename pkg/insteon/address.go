// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package insteon

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is the 3-byte identifier burned into every Insteon device,
// stored high byte first.
type Address [3]byte

// NewAddress creates an address from its three component bytes.
func NewAddress(hi, mid, low byte) Address {
	return Address{hi, mid, low}
}

// ParseAddress parses the hex-dotted form produced by String,
// e.g. "4a.3e.b2".
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Address{}, fmt.Errorf("invalid address %q: want 3 dotted hex bytes", s)
	}
	var addr Address
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return Address{}, fmt.Errorf("invalid address %q: %v", s, err)
		}
		addr[i] = byte(v)
	}
	return addr, nil
}

// Bytes returns the wire representation, high byte first.
func (a Address) Bytes() []byte {
	return []byte{a[0], a[1], a[2]}
}

// String returns the canonical hex-dotted form, e.g. "4a.3e.b2".
func (a Address) String() string {
	return fmt.Sprintf("%02x.%02x.%02x", a[0], a[1], a[2])
}
