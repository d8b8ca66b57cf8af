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

// ModemManager reads and writes the PLM's own link table through its
// native commands: GetFirst/GetNextALLLinkRecord enumeration and
// ManageALLLinkRecord mutation. The host always has access to the
// modem's table, so the permission check is trivially true.
type ModemManager struct {
	cache *linkdb.DB

	// ReplyWait bounds the wait for an enumeration reply; RecordWait
	// bounds the wait for the record following an ACKed reply.
	ReplyWait  time.Duration
	RecordWait time.Duration
}

// NewModemManager creates a manager for the modem's own table.
func NewModemManager() *ModemManager {
	return &ModemManager{
		cache:      linkdb.New(),
		ReplyWait:  5 * time.Second,
		RecordWait: 2 * time.Second,
	}
}

// Cache returns the manager's cached database.
func (m *ModemManager) Cache() *linkdb.DB {
	return m.cache
}

// CheckPermissions always succeeds: the host owns the modem's table.
func (m *ModemManager) CheckPermissions(current *linkdb.DB) bool {
	return true
}

// GrantPermissions is never needed for the modem's own table.
func (m *ModemManager) GrantPermissions(p *port.Port, allowLinking bool) error {
	return nil
}

// Retrieve enumerates the modem's table with the get-first/get-next
// command pair. A NACKed reply means no more records; an ACKed reply
// must be followed by a record within the reply window.
func (m *ModemManager) Retrieve(p *port.Port) (*linkdb.DB, error) {
	db := linkdb.New()

	next := insteon.GetFirstALLLinkRecord.Create()
	for {
		req := p.Submit(next, port.WithFilter(isEnumerationFrame))

		reply, ok := req.RecvMatch(isEnumerationReply, m.ReplyWait)
		if !ok {
			req.Release()
			return nil, fmt.Errorf("modem database query: %w", ErrNoReply)
		}
		req.Succeed()
		if !reply.Ack() {
			// No more records
			req.Release()
			break
		}

		msg, ok := req.RecvMatch(isLinkRecord, m.RecordWait)
		req.Release()
		if !ok {
			return nil, fmt.Errorf("no link data after ack for modem database query: %w", ErrNoReply)
		}

		db.Add(linkdb.UnplacedRecord(
			msg.Address("LinkAddr"),
			msg.Byte("ALLLinkGroup"),
			msg.Byte("RecordFlags"),
			[3]byte{msg.Byte("LinkData1"), msg.Byte("LinkData2"), msg.Byte("LinkData3")},
		))

		next = insteon.GetNextALLLinkRecord.Create()
	}

	db.SetTimestamp(time.Time{})
	return db, nil
}

// Write converges the modem's table from current to src with
// ManageALLLinkRecord commands, each requiring a positive
// acknowledgment.
func (m *ModemManager) Write(p *port.Port, src, current *linkdb.DB) error {
	for _, rec := range current.Records {
		if !rec.Active() {
			continue
		}
		if src.Contains(rec.WithoutOffset()) {
			continue
		}
		logger.Debugf("deleting record %s", rec)
		if err := m.manageRecord(p, insteon.ControlDeleteBySearch, rec); err != nil {
			return fmt.Errorf("deleting %s: %w", rec, err)
		}
	}

	fresh := linkdb.New()
	if _, err := UpdateCache(m, fresh, false, p); err != nil {
		return fmt.Errorf("unable to get database after removing records: %w", err)
	}

	for _, rec := range src.Records {
		if fresh.Contains(rec.WithoutOffset()) {
			continue
		}
		logger.Debugf("adding record %s", rec)
		// Control codes per the modem protocol: 0x40 adds the record on
		// the controller side, 0x41 on the responder side
		code := insteon.ControlAddResponder
		if rec.Controller() {
			code = insteon.ControlAddController
		}
		if err := m.manageRecord(p, code, rec); err != nil {
			return fmt.Errorf("adding %s: %w", rec, err)
		}
	}
	return nil
}

// manageRecord issues one ManageALLLinkRecord mutation and requires its
// positive acknowledgment.
func (m *ModemManager) manageRecord(p *port.Port, controlCode byte, rec linkdb.Record) error {
	msg := insteon.ManageALLLinkRecord.Create()
	msg.SetByte("controlCode", controlCode)
	if rec.Flags != nil {
		msg.SetByte("recordFlags", *rec.Flags)
	}
	if rec.Group != nil {
		msg.SetByte("ALLLinkGroup", *rec.Group)
	}
	if rec.Address != nil {
		msg.SetAddress("linkAddress", *rec.Address)
	}
	if rec.Data != nil {
		msg.SetByte("linkData1", rec.Data[0])
		msg.SetByte("linkData2", rec.Data[1])
		msg.SetByte("linkData3", rec.Data[2])
	}

	req := p.Submit(msg, port.WithFilter(isManageReply))
	defer req.Release()

	reply, ok := req.RecvMatch(nil, m.RecordWait)
	if !ok {
		return ErrNoReply
	}
	req.Succeed()
	if !reply.Ack() {
		return ErrNack
	}
	return nil
}

func isEnumerationFrame(msg *insteon.Message) bool {
	return isEnumerationReply(msg) || isLinkRecord(msg)
}

func isEnumerationReply(msg *insteon.Message) bool {
	switch msg.Name() {
	case "GetFirstALLLinkRecordReply", "GetNextALLLinkRecordReply":
		return true
	}
	return false
}

func isLinkRecord(msg *insteon.Message) bool {
	return msg.Name() == "ALLLinkRecordResponse"
}

func isManageReply(msg *insteon.Message) bool {
	return msg.Name() == "ManageALLLinkRecordReply"
}
