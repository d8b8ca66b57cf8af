// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package dbmanager

import (
	"fmt"
	"time"

	"github.com/pfrommerd/insteon/pkg/insteon"
	"github.com/pfrommerd/insteon/pkg/linkdb"
	"github.com/pfrommerd/insteon/pkg/port"
)

// ControllerLinker puts the modem into linking mode as a controller.
type ControllerLinker interface {
	StartLinkingController(p *port.Port) error
}

// ResponderLinker puts a device into linking mode as a responder.
type ResponderLinker interface {
	EnterLinkingResponder(p *port.Port) error
}

// DeviceManager reads and writes the link database of a line-powered
// peripheral through extended 0x2F/0x00 commands addressed to it. The
// device only honors these once the modem is linked as a controller of
// it, so retrieval goes through a permission check with an optional
// auto-linking grant.
type DeviceManager struct {
	cache  *linkdb.DB
	device insteon.Address
	modem  insteon.Address

	// Linkers are optional; without both, permissions cannot be
	// granted automatically.
	ModemLinker  ControllerLinker
	DeviceLinker ResponderLinker

	// AckWait bounds the wait for the command echo; RecordWindow is the
	// quiet interval that ends a record burst; SettleShort and
	// SettleLong are the linking-mode settle delays.
	AckWait      time.Duration
	RecordWindow time.Duration
	SettleShort  time.Duration
	SettleLong   time.Duration
}

// NewDeviceManager creates a manager for the device's table, using the
// modem address for permission checks.
func NewDeviceManager(device, modem insteon.Address) *DeviceManager {
	return &DeviceManager{
		cache:        linkdb.New(),
		device:       device,
		modem:        modem,
		AckWait:      1 * time.Second,
		RecordWindow: 5 * time.Second,
		SettleShort:  100 * time.Millisecond,
		SettleLong:   1 * time.Second,
	}
}

// Cache returns the manager's cached database.
func (m *DeviceManager) Cache() *linkdb.DB {
	return m.cache
}

// CheckPermissions reports whether the retrieved table holds a link for
// the modem's address on the responder side, i.e. the modem is linked as
// a controller of this device. Only the controller bit of the flags is
// compared.
func (m *DeviceManager) CheckPermissions(current *linkdb.DB) bool {
	return current.Contains(linkdb.RolePattern(m.modem, false))
}

// GrantPermissions links the modem as a controller of the device by
// putting both ends into linking mode, modem first. Refused unless the
// caller explicitly allowed linking.
func (m *DeviceManager) GrantPermissions(p *port.Port, allowLinking bool) error {
	if !allowLinking {
		return ErrPermissionDenied
	}
	if m.ModemLinker == nil || m.DeviceLinker == nil {
		return fmt.Errorf("cannot link to read database: %w", ErrNoLinker)
	}

	logger.Debugf("linking modem %s as controller to %s", m.modem, m.device)
	if err := m.ModemLinker.StartLinkingController(p); err != nil {
		return err
	}
	time.Sleep(m.SettleShort)
	if err := m.DeviceLinker.EnterLinkingResponder(p); err != nil {
		return err
	}
	// The device needs time to commit the new link to its table
	time.Sleep(m.SettleLong)
	return nil
}

// Retrieve issues one extended read query and collects the burst of
// record messages the device answers with, until the record window
// passes without another one.
func (m *DeviceManager) Retrieve(p *port.Port) (*linkdb.DB, error) {
	query := m.newExtendedCommand()
	req := p.Submit(query, port.WithFilter(m.fromDevice))
	defer req.Release()

	echo, ok := req.RecvMatch(isEchoAck, m.AckWait)
	if !ok {
		return nil, fmt.Errorf("link table query to %s: %w", m.device, ErrNoReply)
	}
	if !echo.Ack() {
		return nil, fmt.Errorf("link table query to %s: %w", m.device, ErrNack)
	}
	req.Succeed()

	db := linkdb.New()
	for {
		msg, ok := req.RecvMatch(isRecordMessage, m.RecordWindow)
		if !ok {
			break
		}
		offset := uint16(msg.Byte("userData3"))<<8 | uint16(msg.Byte("userData4"))
		flags := msg.Byte("userData6")
		group := msg.Byte("userData7")
		addr := insteon.NewAddress(msg.Byte("userData8"), msg.Byte("userData9"), msg.Byte("userData10"))
		data := [3]byte{msg.Byte("userData11"), msg.Byte("userData12"), msg.Byte("userData13")}

		// Devices resend slots on retry; keep one record per offset
		if db.Contains(linkdb.OffsetPattern(offset)) {
			continue
		}
		db.Add(linkdb.NewRecord(offset, addr, group, flags, data))
	}
	return db, nil
}

// Write converges the device's table from current to src. Deletions run
// first, except the record linking the modem itself: deleting that would
// cut off the channel used to issue the remaining commands, so it is
// deferred until after the additions.
func (m *DeviceManager) Write(p *port.Port, src, current *linkdb.DB) error {
	var deferred *linkdb.Record
	for i := range current.Records {
		rec := current.Records[i]
		if !rec.Active() {
			continue
		}
		if src.Contains(rec.WithoutOffset()) {
			continue
		}
		if rec.Address != nil && *rec.Address == m.modem && rec.Responder() && deferred == nil {
			deferred = &current.Records[i]
			continue
		}
		if err := m.remove(p, rec); err != nil {
			return err
		}
	}

	// Deletions shift nothing, but a stale view of the table must never
	// decide where new records land
	logger.Trace("fetching fresh copy of database")
	fresh := linkdb.New()
	if _, err := UpdateCache(m, fresh, false, p); err != nil {
		return err
	}

	free := fresh.EndOffset()
	for _, rec := range src.Records {
		if fresh.Contains(rec.WithoutOffset()) {
			continue
		}
		if free < linkdb.RecordSize {
			return ErrOutOfSpace
		}
		if err := m.add(p, rec, free); err != nil {
			return err
		}
		free -= linkdb.RecordSize
	}

	if deferred != nil {
		return m.remove(p, *deferred)
	}
	return nil
}

func (m *DeviceManager) remove(p *port.Port, rec linkdb.Record) error {
	if rec.Offset == nil {
		return fmt.Errorf("cannot delete record without an offset: %s", rec)
	}
	logger.Debugf("deleting record %s", rec)

	// A zero-filled slot deactivates the record
	msg := m.newExtendedCommand()
	msg.SetByte("userData2", 0x02)
	msg.SetByte("userData3", byte(*rec.Offset>>8))
	msg.SetByte("userData4", byte(*rec.Offset))
	msg.SetByte("userData5", byte(linkdb.RecordSize))
	return m.sendMutation(p, msg)
}

func (m *DeviceManager) add(p *port.Port, rec linkdb.Record, offset uint16) error {
	logger.Debugf("adding(%04x) record %s", offset, rec)

	msg := m.newExtendedCommand()
	msg.SetByte("userData2", 0x02)
	msg.SetByte("userData3", byte(offset>>8))
	msg.SetByte("userData4", byte(offset))
	msg.SetByte("userData5", byte(linkdb.RecordSize))
	if rec.Flags != nil {
		msg.SetByte("userData6", *rec.Flags)
	}
	if rec.Group != nil {
		msg.SetByte("userData7", *rec.Group)
	}
	if rec.Address != nil {
		msg.SetByte("userData8", rec.Address[0])
		msg.SetByte("userData9", rec.Address[1])
		msg.SetByte("userData10", rec.Address[2])
	}
	if rec.Data != nil {
		msg.SetByte("userData11", rec.Data[0])
		msg.SetByte("userData12", rec.Data[1])
		msg.SetByte("userData13", rec.Data[2])
	}
	return m.sendMutation(p, msg)
}

// sendMutation issues one table write and requires its positive echo
// acknowledgment before the next diff step may proceed.
func (m *DeviceManager) sendMutation(p *port.Port, msg *insteon.Message) error {
	req := p.Submit(msg, port.WithFilter(m.fromDevice))
	defer req.Release()

	echo, ok := req.RecvMatch(isEchoAck, m.AckWait)
	if !ok {
		return fmt.Errorf("link table write to %s: %w", m.device, ErrNoReply)
	}
	if !echo.Ack() {
		return fmt.Errorf("link table write to %s: %w", m.device, ErrNack)
	}
	req.Succeed()
	return nil
}

// newExtendedCommand builds the 0x2F/0x00 read/write command addressed
// to the device, with all user data zeroed.
func (m *DeviceManager) newExtendedCommand() *insteon.Message {
	msg := insteon.SendExtendedMessage.Create()
	msg.SetAddress("toAddress", m.device)
	msg.SetByte("messageFlags", insteon.FlagExtended|0x0F)
	msg.SetByte("command1", 0x2F)
	return msg
}

// fromDevice routes command echoes and frames originating at the
// managed device to this manager's requests.
func (m *DeviceManager) fromDevice(msg *insteon.Message) bool {
	switch msg.Name() {
	case "SendStandardMessageReply", "SendExtendedMessageReply":
		return msg.Address("toAddress") == m.device
	case "StandardMessageReceived", "ExtendedMessageReceived":
		return msg.Address("fromAddress") == m.device
	}
	return false
}

func isEchoAck(msg *insteon.Message) bool {
	switch msg.Name() {
	case "SendStandardMessageReply", "SendExtendedMessageReply":
		return true
	}
	return false
}

func isRecordMessage(msg *insteon.Message) bool {
	return msg.Name() == "ExtendedMessageReceived" && msg.Byte("command1") == 0x2F
}
