// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package device

import (
	"sync"

	"github.com/pfrommerd/insteon/pkg/insteon"
)

// Network is an explicit registry of known devices, passed to whatever
// needs name or address lookup. It satisfies linkdb.NameResolver for
// rendering link records with device names.
type Network struct {
	mu     sync.RWMutex
	byName map[string]*Device
	byAddr map[insteon.Address]*Device
}

// NewNetwork creates an empty registry.
func NewNetwork() *Network {
	return &Network{
		byName: make(map[string]*Device),
		byAddr: make(map[insteon.Address]*Device),
	}
}

// Register adds a device to the registry.
func (n *Network) Register(d *Device) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if d.Name != "" {
		n.byName[d.Name] = d
	}
	n.byAddr[d.Address] = d
}

// ByName looks a device up by its name.
func (n *Network) ByName(name string) (*Device, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	d, ok := n.byName[name]
	return d, ok
}

// ByAddress looks a device up by its address.
func (n *Network) ByAddress(addr insteon.Address) (*Device, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	d, ok := n.byAddr[addr]
	return d, ok
}

// Resolve maps an address to the registered device's name.
func (n *Network) Resolve(addr insteon.Address) (string, bool) {
	d, ok := n.ByAddress(addr)
	if !ok {
		return "", false
	}
	return d.Name, true
}
