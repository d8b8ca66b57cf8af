// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package dbmanager

import "errors"

var (
	// ErrNoReply means an expected acknowledgment or record never
	// arrived within the retry and timeout budget.
	ErrNoReply = errors.New("no reply from device")

	// ErrNack means a mutation was answered with a negative
	// acknowledgment.
	ErrNack = errors.New("request rejected by device")

	// ErrPermissionDenied means read access to a database could not be
	// established and auto-linking was not requested or not supported.
	ErrPermissionDenied = errors.New("not linked as a controller so cannot access database")

	// ErrNotPopulated means a write was attempted from a database that
	// was never fetched or stamped; refused so a device's table cannot
	// be wiped by accident.
	ErrNotPopulated = errors.New("source database has not been populated")

	// ErrOutOfSpace means the addition pass ran out of free table
	// slots.
	ErrOutOfSpace = errors.New("out of space in link database")

	// ErrNoLinker means the device cannot be put into linking mode, so
	// permissions cannot be granted automatically.
	ErrNoLinker = errors.New("device is missing the linker feature")
)
