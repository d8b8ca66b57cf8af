// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package dbmanager

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pfrommerd/insteon/pkg/insteon"
	"github.com/pfrommerd/insteon/pkg/linkdb"
	"github.com/pfrommerd/insteon/pkg/port"
)

var (
	modemAddr = insteon.NewAddress(0x0A, 0x0B, 0x0C)
	devAddr   = insteon.NewAddress(0x11, 0x22, 0x33)
	peerAddr  = insteon.NewAddress(0x44, 0x55, 0x66)
)

// testConn is an in-memory Connection wired to a scripted peer: every
// frame the port writes is handed to the handler, whose reply frames
// are queued for the reader.
type testConn struct {
	mu      sync.Mutex
	handler func(frame []byte) [][]byte

	readCh    chan []byte
	pending   []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newTestConn(handler func(frame []byte) [][]byte) *testConn {
	return &testConn{
		handler: handler,
		readCh:  make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

func (c *testConn) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		select {
		case data := <-c.readCh:
			c.pending = data
		case <-c.closed:
			return 0, io.EOF
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *testConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		for _, reply := range handler(append([]byte(nil), p...)) {
			select {
			case c.readCh <- reply:
			case <-c.closed:
				return 0, io.EOF
			}
		}
	}
	return len(p), nil
}

func (c *testConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *testConn) IsOpen() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

func startPort(t *testing.T, handler func(frame []byte) [][]byte) *port.Port {
	t.Helper()
	p := port.New()
	p.Start(newTestConn(handler))
	t.Cleanup(p.Stop)
	return p
}

// echoAck appends a positive acknowledgment to a command frame, the
// modem's echo form.
func echoAck(frame []byte) []byte {
	return append(append([]byte(nil), frame...), insteon.Ack)
}

func echoNack(frame []byte) []byte {
	return append(append([]byte(nil), frame...), insteon.Nack)
}

// fakeModem scripts the PLM side of the link: it serves link-table
// enumeration and applies ManageALLLinkRecord mutations to its record
// list, logging every mutation for assertions.
type fakeModem struct {
	mu      sync.Mutex
	records []linkdb.Record
	cursor  int
	nackAll bool

	// mutations logs (controlCode, address) pairs in order
	mutations []mutation
}

type mutation struct {
	code byte
	addr insteon.Address
}

func (f *fakeModem) handle(frame []byte) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch frame[1] {
	case insteon.CmdGetFirstALLLinkRecord:
		f.cursor = 0
		return f.enumerate(frame)
	case insteon.CmdGetNextALLLinkRecord:
		return f.enumerate(frame)
	case insteon.CmdManageALLLinkRecord:
		return f.manage(frame)
	}
	return nil
}

func (f *fakeModem) enumerate(frame []byte) [][]byte {
	if f.cursor >= len(f.records) {
		return [][]byte{echoNack(frame)}
	}
	rec := f.records[f.cursor]
	f.cursor++

	msg := insteon.ALLLinkRecordResponse.Create()
	msg.SetByte("RecordFlags", *rec.Flags)
	msg.SetByte("ALLLinkGroup", *rec.Group)
	msg.SetAddress("LinkAddr", *rec.Address)
	msg.SetByte("LinkData1", rec.Data[0])
	msg.SetByte("LinkData2", rec.Data[1])
	msg.SetByte("LinkData3", rec.Data[2])
	return [][]byte{echoAck(frame), insteon.Encode(msg)}
}

func (f *fakeModem) manage(frame []byte) [][]byte {
	if f.nackAll {
		return [][]byte{echoNack(frame)}
	}
	code := frame[2]
	flags := frame[3]
	group := frame[4]
	addr := insteon.NewAddress(frame[5], frame[6], frame[7])
	data := [3]byte{frame[8], frame[9], frame[10]}

	f.mutations = append(f.mutations, mutation{code: code, addr: addr})

	switch code {
	case insteon.ControlDeleteBySearch:
		for i, rec := range f.records {
			if *rec.Address == addr && *rec.Group == group {
				f.records = append(f.records[:i], f.records[i+1:]...)
				break
			}
		}
	case insteon.ControlAddController, insteon.ControlAddResponder:
		f.records = append(f.records, linkdb.UnplacedRecord(addr, group, flags, data))
	}
	return [][]byte{echoAck(frame)}
}

func (f *fakeModem) mutationLog() []mutation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mutation(nil), f.mutations...)
}

// fakeDevice scripts a line-powered peripheral: extended 0x2F/0x00
// reads answer with an echo ack plus a burst of record frames, writes
// apply to its slot table. Frames not addressed to it are ignored.
type fakeDevice struct {
	mu    sync.Mutex
	addr  insteon.Address
	table map[uint16]linkdb.Record

	// ops logs "read" and "write:<offset>" markers in order
	ops []string
}

func newFakeDevice(addr insteon.Address) *fakeDevice {
	return &fakeDevice{addr: addr, table: make(map[uint16]linkdb.Record)}
}

func (f *fakeDevice) set(rec linkdb.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.table[*rec.Offset] = rec
}

func (f *fakeDevice) handle(frame []byte) [][]byte {
	if frame[1] != insteon.CmdSendInsteonMessage {
		return nil
	}
	to := insteon.NewAddress(frame[2], frame[3], frame[4])
	if to != f.addr {
		return nil
	}
	if frame[5]&insteon.FlagExtended == 0 {
		// Standard direct message (linking mode etc.): just ack it
		return [][]byte{echoAck(frame)}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Extended payload: d1..d14 at frame[8:22]
	d := frame[8:]
	if d[1] != 0x02 {
		f.ops = append(f.ops, "read")
		replies := [][]byte{echoAck(frame)}
		for offset, rec := range f.table {
			replies = append(replies, f.recordFrame(offset, rec))
		}
		return replies
	}

	offset := uint16(d[2])<<8 | uint16(d[3])
	zero := true
	for _, b := range d[5:13] {
		if b != 0 {
			zero = false
			break
		}
	}
	if zero {
		f.ops = append(f.ops, fmt.Sprintf("delete:%04x", offset))
		delete(f.table, offset)
	} else {
		f.ops = append(f.ops, fmt.Sprintf("add:%04x", offset))
		f.table[offset] = linkdb.NewRecord(offset,
			insteon.NewAddress(d[7], d[8], d[9]),
			d[6], d[5], [3]byte{d[10], d[11], d[12]})
	}
	return [][]byte{echoAck(frame)}
}

func (f *fakeDevice) recordFrame(offset uint16, rec linkdb.Record) []byte {
	msg := insteon.ExtendedMessageReceived.Create()
	msg.SetAddress("fromAddress", f.addr)
	msg.SetAddress("toAddress", modemAddr)
	msg.SetByte("messageFlags", insteon.FlagExtended)
	msg.SetByte("command1", 0x2F)
	msg.SetByte("userData3", byte(offset>>8))
	msg.SetByte("userData4", byte(offset))
	msg.SetByte("userData6", *rec.Flags)
	msg.SetByte("userData7", *rec.Group)
	msg.SetByte("userData8", rec.Address[0])
	msg.SetByte("userData9", rec.Address[1])
	msg.SetByte("userData10", rec.Address[2])
	msg.SetByte("userData11", rec.Data[0])
	msg.SetByte("userData12", rec.Data[1])
	msg.SetByte("userData13", rec.Data[2])
	return insteon.Encode(msg)
}

func (f *fakeDevice) slotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.table)
}

func (f *fakeDevice) opLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

// fastDeviceManager builds a DeviceManager with timings suited to an
// in-memory link.
func fastDeviceManager() *DeviceManager {
	m := NewDeviceManager(devAddr, modemAddr)
	m.AckWait = 500 * time.Millisecond
	m.RecordWindow = 150 * time.Millisecond
	m.SettleShort = time.Millisecond
	m.SettleLong = time.Millisecond
	return m
}

func fastModemManager() *ModemManager {
	m := NewModemManager()
	m.ReplyWait = 500 * time.Millisecond
	m.RecordWait = 500 * time.Millisecond
	return m
}
