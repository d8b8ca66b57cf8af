// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package device

import (
	"fmt"
	"time"

	"github.com/pfrommerd/insteon/pkg/dbmanager"
	"github.com/pfrommerd/insteon/pkg/insteon"
	"github.com/pfrommerd/insteon/pkg/port"
)

// Device is one peripheral on the Insteon network, reached through a
// modem.
type Device struct {
	Name    string
	Address insteon.Address

	modem *Modem
	DB    *dbmanager.DeviceManager
}

// NewDevice creates a device addressed through the given modem, wired
// with a link database manager that can auto-link through both ends.
func NewDevice(name string, addr insteon.Address, modem *Modem) *Device {
	d := &Device{Name: name, Address: addr, modem: modem}
	d.DB = dbmanager.NewDeviceManager(addr, modem.Address)
	d.DB.ModemLinker = modem
	d.DB.DeviceLinker = d
	return d
}

// Modem returns the modem the device is reached through.
func (d *Device) Modem() *Modem {
	return d.modem
}

// EnterLinkingResponder tells the device to enter linking mode as a
// responder on group 0, the counterpart of the modem's controller
// linking mode.
func (d *Device) EnterLinkingResponder(p *port.Port) error {
	if p == nil {
		p = d.modem.port
	}
	msg := insteon.SendStandardMessage.Create()
	msg.SetAddress("toAddress", d.Address)
	msg.SetByte("messageFlags", 0x0F)
	msg.SetByte("command1", 0x09)

	req := p.Submit(msg, port.WithFilter(func(r *insteon.Message) bool {
		switch r.Name() {
		case "SendStandardMessageReply", "SendExtendedMessageReply":
			return r.Address("toAddress") == d.Address
		}
		return false
	}))
	defer req.Release()

	reply, ok := req.Recv(2 * time.Second)
	if !ok {
		return fmt.Errorf("enter linking mode on %s: %w", d.Address, dbmanager.ErrNoReply)
	}
	req.Succeed()
	if !reply.Ack() {
		return fmt.Errorf("enter linking mode on %s: %w", d.Address, dbmanager.ErrNack)
	}
	return nil
}
