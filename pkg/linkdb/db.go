// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package linkdb

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pfrommerd/insteon/pkg/insteon"
)

// TopOffset is the highest table slot of a device database; records grow
// downward from here in RecordSize steps.
const TopOffset uint16 = 0x0fff

// timestampLayout matches the backup files written by the original tool.
const timestampLayout = "Jan 02 2006 15:04:05"

// DB is an in-memory copy of one device's link database. A DB is valid
// once it carries a timestamp: an empty-but-stamped DB is a real "zero
// links" state, distinct from one that was never fetched.
type DB struct {
	Records   []Record
	Timestamp time.Time
}

// New creates an empty, unstamped database.
func New() *DB {
	return &DB{}
}

// Valid reports whether the database has ever been populated.
func (d *DB) Valid() bool {
	return !d.Timestamp.IsZero()
}

// Empty reports whether the database holds no records.
func (d *DB) Empty() bool {
	return len(d.Records) == 0
}

// SetTimestamp stamps the database, marking it populated.
func (d *DB) SetTimestamp(ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	d.Timestamp = ts
}

// Invalidate clears the timestamp, marking the contents stale.
func (d *DB) Invalidate() {
	d.Timestamp = time.Time{}
}

// Add appends a record.
func (d *DB) Add(r Record) {
	d.Records = append(d.Records, r)
}

// Clear removes all records.
func (d *DB) Clear() {
	d.Records = d.Records[:0]
}

// Contains reports whether some member record matches the given record
// or pattern.
func (d *DB) Contains(r Record) bool {
	for _, rec := range d.Records {
		if r.Matches(rec) {
			return true
		}
	}
	return false
}

// Filter returns a new database holding exactly the records the pattern
// matches, sharing this database's timestamp.
func (d *DB) Filter(pattern Record) *DB {
	out := &DB{Timestamp: d.Timestamp}
	for _, rec := range d.Records {
		if pattern.Matches(rec) {
			out.Records = append(out.Records, rec)
		}
	}
	return out
}

// EndOffset returns the lowest free slot: the table top when the
// database is empty, otherwise one slot below the lowest occupied
// offset. Records without an offset are ignored.
func (d *DB) EndOffset() uint16 {
	last := int(TopOffset)
	for _, r := range d.Records {
		if r.Offset == nil {
			continue
		}
		if below := int(*r.Offset) - int(RecordSize); below < last {
			last = below
		}
	}
	if last < 0 {
		return 0
	}
	return uint16(last)
}

// Update replaces the contents with the source's records and carries
// over its timestamp, stamping the current time if the source was never
// stamped.
func (d *DB) Update(src *DB) {
	d.Clear()
	d.Records = append(d.Records, src.Records...)
	if src.Valid() {
		d.Timestamp = src.Timestamp
	} else {
		d.Timestamp = time.Now()
	}
}

// packedRecord is the JSON form of one record. Offsets are omitted when
// unset; filter masks are transient and never persisted.
type packedRecord struct {
	Offset  *uint16 `json:"offset,omitempty"`
	Address [3]byte `json:"address"`
	Group   byte    `json:"group"`
	Flags   byte    `json:"flags"`
	Data    [3]byte `json:"data"`
}

type packedDB struct {
	Timestamp string         `json:"timestamp"`
	Records   []packedRecord `json:"records"`
}

// MarshalJSON serializes the database to the structured backup format:
// a human-readable timestamp plus the record array.
func (d *DB) MarshalJSON() ([]byte, error) {
	packed := packedDB{
		Timestamp: d.Timestamp.Format(timestampLayout),
		Records:   make([]packedRecord, 0, len(d.Records)),
	}
	for _, r := range d.Records {
		p := packedRecord{Offset: r.Offset}
		if r.Address != nil {
			p.Address = *r.Address
		}
		if r.Group != nil {
			p.Group = *r.Group
		}
		if r.Flags != nil {
			p.Flags = *r.Flags
		}
		if r.Data != nil {
			p.Data = *r.Data
		}
		packed.Records = append(packed.Records, p)
	}
	return json.Marshal(packed)
}

// UnmarshalJSON reconstructs the database from its backup form.
func (d *DB) UnmarshalJSON(data []byte) error {
	var packed packedDB
	if err := json.Unmarshal(data, &packed); err != nil {
		return err
	}
	ts, err := time.ParseInLocation(timestampLayout, packed.Timestamp, time.Local)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", packed.Timestamp, err)
	}
	d.Timestamp = ts
	d.Records = d.Records[:0]
	for _, p := range packed.Records {
		addr := insteon.Address(p.Address)
		group, flags, data := p.Group, p.Flags, p.Data
		d.Records = append(d.Records, Record{
			Offset:  p.Offset,
			Address: &addr,
			Group:   &group,
			Flags:   &flags,
			Data:    &data,
		})
	}
	return nil
}

// Save writes the database to a file in the backup format.
func (d *DB) Save(filename string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// Load replaces the database with the contents of a backup file.
func (d *DB) Load(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return d.UnmarshalJSON(data)
}
