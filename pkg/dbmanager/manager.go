// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package dbmanager

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pfrommerd/insteon/pkg/linkdb"
	"github.com/pfrommerd/insteon/pkg/port"
)

var logger = log.WithField("module", "dbmanager")

// backupSuffix is appended to the timestamped name of every
// pre-mutation backup file.
const backupSuffix = ".linkdb.bk"

// Manager retrieves and writes one device's link database over a port.
// Two strategies exist: DeviceManager for line-powered peripherals read
// through extended commands, and ModemManager for the PLM's native link
// table commands. The shared orchestration lives in UpdateCache and
// FlashCache.
type Manager interface {
	// Cache returns the manager's internally cached database.
	Cache() *linkdb.DB

	// Retrieve fetches the full remote table fresh over the transport.
	Retrieve(p *port.Port) (*linkdb.DB, error)

	// Write converges the remote table from current to src, issuing the
	// minimal delete/add sequence. Already-applied steps are not rolled
	// back on failure.
	Write(p *port.Port, src, current *linkdb.DB) error

	// CheckPermissions inspects a just-retrieved database and reports
	// whether writes to it are safe to attempt.
	CheckPermissions(current *linkdb.DB) bool

	// GrantPermissions tries to establish read/write access after a
	// failed permission check. Returns ErrPermissionDenied unless the
	// caller explicitly allowed linking.
	GrantPermissions(p *port.Port, allowLinking bool) error
}

// UpdateCache retrieves the remote database into target (the manager's
// cache when target is nil), establishing permissions first if needed,
// and returns it.
func UpdateCache(m Manager, target *linkdb.DB, allowLinking bool, p *port.Port) (*linkdb.DB, error) {
	if target == nil {
		target = m.Cache()
	}

	records, err := m.Retrieve(p)
	if err != nil {
		return nil, err
	}

	if !m.CheckPermissions(records) {
		if err := m.GrantPermissions(p, allowLinking); err != nil {
			logger.Error("not linked as a controller so cannot retrieve database; " +
				"enable linking to auto-link the modem as a controller of this device")
			return nil, err
		}
		// Fetch a fresh copy now that we have permissions
		records, err = m.Retrieve(p)
		if err != nil {
			return nil, err
		}
	}

	target.Update(records)
	return target, nil
}

// FlashCache overwrites the remote database with src (the manager's
// cache when src is nil). The current remote table is fetched and saved
// to a timestamped backup file before any mutating command is issued; on
// failure the backup remains on disk.
func FlashCache(m Manager, src *linkdb.DB, allowLinking bool, p *port.Port) error {
	if src == nil {
		src = m.Cache()
	}
	if !src.Valid() {
		logger.Error("refusing to flash from a database that was never populated")
		return ErrNotPopulated
	}

	logger.Trace("fetching current database")
	current := linkdb.New()
	if _, err := UpdateCache(m, current, allowLinking, p); err != nil {
		return err
	}

	backupName := time.Now().Format("Jan_02_2006_15:04:05") + backupSuffix
	logger.Warnf("modifying link database; a backup of the current database "+
		"has been written to %s", backupName)
	if err := current.Save(backupName); err != nil {
		return fmt.Errorf("writing backup %s: %w", backupName, err)
	}

	logger.Trace("writing database changes")
	if err := m.Write(p, src, current); err != nil {
		logger.Warnf("flash failed, restore from backup %s if needed", backupName)
		return err
	}

	logger.Trace("refreshing database cache")
	_, err := UpdateCache(m, m.Cache(), false, p)
	return err
}
