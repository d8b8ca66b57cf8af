// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package insteon

import (
	"fmt"
	"time"
)

// FieldType describes how a named field is laid out on the wire.
type FieldType int

const (
	// FieldByte is a single byte field.
	FieldByte FieldType = iota
	// FieldAddress is a 3-byte device address, high byte first.
	FieldAddress
)

// Field is one named slot in a command's byte layout.
type Field struct {
	Name string
	Type FieldType
}

func (f Field) size() int {
	if f.Type == FieldAddress {
		return 3
	}
	return 1
}

// Def describes the byte layout of one command or reply frame.
// Every frame starts with an STX byte followed by the command number;
// the named fields follow in order.
type Def struct {
	Name   string
	Number byte
	Fields []Field
}

// PayloadSize returns the number of bytes following the command number.
func (d *Def) PayloadSize() int {
	n := 0
	for _, f := range d.Fields {
		n += f.size()
	}
	return n
}

// Create builds an empty message for this definition with all fields zeroed.
func (d *Def) Create() *Message {
	return &Message{def: d, values: make(map[string]interface{})}
}

func (d *Def) field(name string) (Field, int, bool) {
	off := 0
	for _, f := range d.Fields {
		if f.Name == name {
			return f, off, true
		}
		off += f.size()
	}
	return Field{}, 0, false
}

// Message is a typed view over one frame, with fields accessed by the
// names declared in its Def. Unset fields read as zero values.
type Message struct {
	def      *Def
	values   map[string]interface{}
	received time.Time
}

// Def returns the message's definition.
func (m *Message) Def() *Def {
	return m.def
}

// Name returns the definition name, e.g. "ALLLinkRecordResponse".
func (m *Message) Name() string {
	return m.def.Name
}

// Received returns the time the message was decoded, zero for outgoing
// messages.
func (m *Message) Received() time.Time {
	return m.received
}

// SetByte sets a single-byte field by name. Panics on unknown fields:
// field names are compile-time constants taken from the definition table,
// a miss is a programming error.
func (m *Message) SetByte(name string, v byte) *Message {
	m.mustField(name, FieldByte)
	m.values[name] = v
	return m
}

// SetAddress sets a 3-byte address field by name.
func (m *Message) SetAddress(name string, a Address) *Message {
	m.mustField(name, FieldAddress)
	m.values[name] = a
	return m
}

// Byte reads a single-byte field by name.
func (m *Message) Byte(name string) byte {
	m.mustField(name, FieldByte)
	v, _ := m.values[name].(byte)
	return v
}

// Address reads a 3-byte address field by name.
func (m *Message) Address(name string) Address {
	m.mustField(name, FieldAddress)
	v, _ := m.values[name].(Address)
	return v
}

func (m *Message) mustField(name string, t FieldType) {
	f, _, ok := m.def.field(name)
	if !ok {
		panic(fmt.Sprintf("insteon: no field %q in %s", name, m.def.Name))
	}
	if f.Type != t {
		panic(fmt.Sprintf("insteon: field %q of %s has wrong type", name, m.def.Name))
	}
}

// Ack reports whether the message carries a positive acknowledgment.
// Messages without an ACK/NACK field report false.
func (m *Message) Ack() bool {
	if _, _, ok := m.def.field(FieldAckNack); !ok {
		return false
	}
	return m.Byte(FieldAckNack) == Ack
}

func (m *Message) String() string {
	return fmt.Sprintf("%s(%02x)", m.def.Name, m.def.Number)
}
