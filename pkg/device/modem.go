// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package device

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pfrommerd/insteon/pkg/dbmanager"
	"github.com/pfrommerd/insteon/pkg/insteon"
	"github.com/pfrommerd/insteon/pkg/port"
)

var logger = log.WithField("module", "device")

// Modem is the PLM bridging the host to the Insteon network. It owns the
// port driving the serial connection and its own link database manager.
type Modem struct {
	Name    string
	Address insteon.Address

	port *port.Port
	DB   *dbmanager.ModemManager
}

// OpenModem starts a port on the connection and queries the modem for
// its address. Fails with a no-reply error if the modem never answers.
func OpenModem(name string, conn port.Connection) (*Modem, error) {
	p := port.New()
	p.Start(conn)

	m := &Modem{Name: name, port: p, DB: dbmanager.NewModemManager()}

	req := p.Submit(insteon.GetIMInfo.Create(), port.WithFilter(func(msg *insteon.Message) bool {
		return msg.Name() == "GetIMInfoReply"
	}))
	defer req.Release()

	reply, ok := req.Recv(5 * time.Second)
	if !ok {
		p.Stop()
		return nil, fmt.Errorf("querying modem address: %w", dbmanager.ErrNoReply)
	}
	req.Succeed()
	m.Address = reply.Address("IMAddress")
	logger.Infof("opened modem %s at %s", name, m.Address)
	return m, nil
}

// Port returns the transport engine owned by the modem.
func (m *Modem) Port() *port.Port {
	return m.port
}

// Close stops the port and closes the connection.
func (m *Modem) Close() {
	m.port.Stop()
}

// StartLinkingController puts the modem into linking mode as a
// controller on group 0.
func (m *Modem) StartLinkingController(p *port.Port) error {
	msg := insteon.StartALLLinking.Create()
	msg.SetByte("linkCode", insteon.LinkingController)
	return m.sendAcked(p, msg, "StartALLLinkingReply")
}

// CancelLinking takes the modem back out of linking mode.
func (m *Modem) CancelLinking(p *port.Port) error {
	return m.sendAcked(p, insteon.CancelALLLinking.Create(), "CancelALLLinkingReply")
}

func (m *Modem) sendAcked(p *port.Port, msg *insteon.Message, replyName string) error {
	if p == nil {
		p = m.port
	}
	req := p.Submit(msg, port.WithFilter(func(r *insteon.Message) bool {
		return r.Name() == replyName
	}))
	defer req.Release()

	reply, ok := req.Recv(2 * time.Second)
	if !ok {
		return fmt.Errorf("%s: %w", msg, dbmanager.ErrNoReply)
	}
	req.Succeed()
	if !reply.Ack() {
		return fmt.Errorf("%s: %w", msg, dbmanager.ErrNack)
	}
	return nil
}
