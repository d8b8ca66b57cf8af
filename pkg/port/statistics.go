// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package port

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pfrommerd/insteon/pkg/insteon"
)

// Statistics tracks message traffic on a port. Attach it with Attach and
// it counts through the port's observer side channels; counters are safe
// to read while the loops run.
type Statistics struct {
	StartTime time.Time

	MessagesIn  atomic.Uint64
	MessagesOut atomic.Uint64

	// lastIn holds the receive time of the newest incoming message as
	// unix nanoseconds; zero until the first one arrives.
	lastIn atomic.Int64
}

// NewStatistics creates a statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// Attach registers the tracker on a port's read and write side channels.
func (s *Statistics) Attach(p *Port) {
	p.OnRead(func(msg *insteon.Message) {
		s.MessagesIn.Add(1)
		s.lastIn.Store(msg.Received().UnixNano())
	})
	p.OnWrite(func(*insteon.Message) { s.MessagesOut.Add(1) })
}

// LastIn returns the receive time of the newest incoming message, or the
// zero time if none has arrived.
func (s *Statistics) LastIn() time.Time {
	ns := s.lastIn.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// String returns a formatted traffic summary.
func (s *Statistics) String() string {
	elapsed := time.Since(s.StartTime).Seconds()
	in := s.MessagesIn.Load()
	out := s.MessagesOut.Load()
	var rate float64
	if elapsed > 0 {
		rate = float64(in+out) / elapsed
	}
	result := fmt.Sprintf("=== Port Statistics (%.0f seconds) ===\n", elapsed)
	result += fmt.Sprintf("Messages In:  %8d\n", in)
	result += fmt.Sprintf("Messages Out: %8d\n", out)
	result += fmt.Sprintf("Message Rate: %8.1f msgs/sec\n", rate)
	if last := s.LastIn(); !last.IsZero() {
		result += fmt.Sprintf("Last In:      %s\n", last.Format(time.RFC3339))
	}
	return result
}
