// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package insteon

import (
	"fmt"
	"time"
)

const (
	stateIdle = iota
	stateCommand
	statePayload
)

// Decoder implements the modem frame decoder state machine. Bytes are fed
// one at a time; a non-nil Message is returned once a complete frame has
// been accumulated. Garbage between frames resyncs on the next STX.
type Decoder struct {
	state   int
	def     *Def
	payload []byte
	want    int
}

// NewDecoder creates a new frame decoder.
func NewDecoder() *Decoder {
	return &Decoder{state: stateIdle}
}

// Reset returns the decoder to idle, dropping any partial frame.
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.def = nil
	d.payload = nil
	d.want = 0
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed message, or nil while the frame is incomplete.
// Returns an error (and resyncs) on bytes that cannot start or continue
// a frame.
func (d *Decoder) DecodeByte(b byte) (*Message, error) {
	switch d.state {
	case stateIdle:
		if b != STX {
			return nil, fmt.Errorf("unexpected byte 0x%02x outside frame", b)
		}
		d.state = stateCommand
		return nil, nil

	case stateCommand:
		def, ok := replyDefs[b]
		if !ok && b != CmdSendInsteonMessage {
			d.Reset()
			return nil, fmt.Errorf("unknown command number 0x%02x", b)
		}
		if b == CmdSendInsteonMessage {
			// Length depends on the extended bit; settled once the
			// message flags byte arrives.
			def = SendStandardMessageReply
		}
		d.def = def
		d.payload = make([]byte, 0, def.PayloadSize())
		d.want = def.PayloadSize()
		if d.want == 0 {
			return d.finish()
		}
		d.state = statePayload
		return nil, nil

	case statePayload:
		d.payload = append(d.payload, b)
		if d.def.Number == CmdSendInsteonMessage && len(d.payload) == 4 &&
			d.payload[3]&FlagExtended != 0 {
			d.def = SendExtendedMessageReply
			d.want = d.def.PayloadSize()
		}
		if len(d.payload) < d.want {
			return nil, nil
		}
		return d.finish()

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid decoder state")
	}
}

// Decode feeds a byte slice through the decoder, returning the first
// completed message and the number of bytes consumed. Malformed bytes are
// skipped so a partial read never stalls the stream.
func (d *Decoder) Decode(buf []byte) (*Message, int) {
	for i, b := range buf {
		msg, err := d.DecodeByte(b)
		if err != nil {
			continue
		}
		if msg != nil {
			return msg, i + 1
		}
	}
	return nil, len(buf)
}

func (d *Decoder) finish() (*Message, error) {
	msg := d.def.Create()
	msg.received = time.Now()
	off := 0
	for _, f := range d.def.Fields {
		switch f.Type {
		case FieldAddress:
			msg.values[f.Name] = Address{d.payload[off], d.payload[off+1], d.payload[off+2]}
		default:
			msg.values[f.Name] = d.payload[off]
		}
		off += f.size()
	}
	d.Reset()
	return msg, nil
}
