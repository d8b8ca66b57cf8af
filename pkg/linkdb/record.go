// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package linkdb

import (
	"fmt"
	"strings"

	"github.com/pfrommerd/insteon/pkg/insteon"
)

// Flag bits of a link record.
const (
	// FlagActive marks a record as in use; inactive slots are garbage.
	FlagActive byte = 1 << 7
	// FlagController marks the record's owner as the controller of the
	// link; clear means responder.
	FlagController byte = 1 << 6
)

// RecordSize is the width of one on-device table slot.
const RecordSize uint16 = 0x08

// Record is one 8-byte slot of a device's association table. Every field
// is optional: a nil field means "unset" and is skipped when matching,
// never treated as zero. A record with some fields unset (or a FilterMask)
// is a search pattern rather than a concrete entry.
type Record struct {
	// Offset is the record's position in the device's table, absent for
	// records not yet assigned a slot (modem records, patterns).
	Offset  *uint16
	Address *insteon.Address
	Group   *byte
	Flags   *byte
	Data    *[3]byte

	// FilterMask restricts the flags comparison to the masked bits when
	// this record is used as a pattern. Never persisted.
	FilterMask byte
}

// NewRecord creates a fully specified record.
func NewRecord(offset uint16, addr insteon.Address, group, flags byte, data [3]byte) Record {
	return Record{
		Offset:  &offset,
		Address: &addr,
		Group:   &group,
		Flags:   &flags,
		Data:    &data,
	}
}

// UnplacedRecord creates a record with no table position, as enumerated
// from the modem's own database.
func UnplacedRecord(addr insteon.Address, group, flags byte, data [3]byte) Record {
	r := NewRecord(0, addr, group, flags, data)
	r.Offset = nil
	return r
}

// OffsetPattern creates a pattern matching any record at the given
// offset.
func OffsetPattern(offset uint16) Record {
	return Record{Offset: &offset}
}

// RolePattern creates a pattern matching records for a peer address in
// the given role, comparing only the controller bit of the flags.
func RolePattern(addr insteon.Address, controller bool) Record {
	var flags byte
	if controller {
		flags = FlagController
	}
	return Record{
		Address:    &addr,
		Flags:      &flags,
		FilterMask: FlagController,
	}
}

// WithoutOffset returns a copy with the offset cleared, the pattern used
// for "same link regardless of position" membership tests.
func (r Record) WithoutOffset() Record {
	r.Offset = nil
	return r
}

// Active reports whether the record's in-use bit is set. Records with no
// flags are never active.
func (r Record) Active() bool {
	return r.Flags != nil && *r.Flags&FlagActive != 0
}

// Controller reports whether the record's controller bit is set.
func (r Record) Controller() bool {
	return r.Flags != nil && *r.Flags&FlagController != 0
}

// Responder reports whether the record's controller bit is clear.
func (r Record) Responder() bool {
	return !r.Controller()
}

// Matches reports whether two records represent the same link. Each
// field is compared only when both sides carry it; flags honor either
// side's filter mask, comparing just the masked bits.
func (r Record) Matches(other Record) bool {
	if r.Offset != nil && other.Offset != nil && *r.Offset != *other.Offset {
		return false
	}
	if r.Address != nil && other.Address != nil && *r.Address != *other.Address {
		return false
	}
	if r.Group != nil && other.Group != nil && *r.Group != *other.Group {
		return false
	}
	if r.Flags != nil && other.Flags != nil {
		mask := r.FilterMask
		if mask == 0 {
			mask = other.FilterMask
		}
		if mask != 0 {
			if *r.Flags&mask != *other.Flags&mask {
				return false
			}
		} else if *r.Flags != *other.Flags {
			return false
		}
	}
	if r.Data != nil && other.Data != nil && *r.Data != *other.Data {
		return false
	}
	return true
}

// NameResolver maps a device address to a display name. A nil resolver
// falls back to the hex-dotted address.
type NameResolver interface {
	Resolve(addr insteon.Address) (string, bool)
}

// Format renders the record for display, resolving the peer address to a
// name when a resolver is supplied.
func (r Record) Format(res NameResolver) string {
	var role string
	if r.Controller() {
		role = "CTRL"
	} else {
		role = "RESP"
	}
	if r.Active() {
		role = " " + role + " "
	} else {
		role = "(" + role + ")"
	}

	addr := "--.--.--"
	name := addr
	if r.Address != nil {
		addr = r.Address.String()
		name = addr
		if res != nil {
			if n, ok := res.Resolve(*r.Address); ok {
				name = n
			}
		}
	}

	var flags, group byte
	if r.Flags != nil {
		flags = *r.Flags
	}
	if r.Group != nil {
		group = *r.Group
	}

	data := "-- -- --"
	if r.Data != nil {
		parts := make([]string, 3)
		for i, b := range r.Data {
			parts[i] = fmt.Sprintf("%02x", b)
		}
		data = strings.Join(parts, " ")
	}

	s := fmt.Sprintf("%-30s %8s %s %08b group: %02x data: %s",
		name, addr, role, flags, group, data)
	if r.Offset != nil {
		s = fmt.Sprintf("%04x %s", *r.Offset, s)
	}
	return s
}

func (r Record) String() string {
	return r.Format(nil)
}
