// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package port

import (
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/pfrommerd/insteon/pkg/insteon"
)

// Default request policy, matching the timing the modem tolerates.
const (
	DefaultRetries  = 5
	DefaultTimeout  = 100 * time.Millisecond
	DefaultQuiet    = 100 * time.Millisecond
	DefaultPriority = 1
)

// Request is one logical command exchange queued on a Port. It owns the
// retry/timeout/quiet policy for its message and collects every decoded
// frame the reader matches to it. The caller that submitted it owns it;
// the engine only keeps it registered for routing until Release.
type Request struct {
	id       string
	msg      *insteon.Message
	priority int
	seq      uint64

	retries int
	timeout time.Duration
	quiet   time.Duration

	// filter selects which decoded frames are routed to this request.
	// nil accepts everything.
	filter func(*insteon.Message) bool

	mu        sync.Mutex
	responses []*insteon.Message
	wake      chan struct{}

	written     chan struct{}
	writtenOnce sync.Once

	successful chan struct{}
	succOnce   sync.Once

	// failure is re-armed by the writer before every try
	failure chan struct{}

	done     chan struct{}
	doneOnce sync.Once
}

func newRequest(msg *insteon.Message, opts []Option) *Request {
	r := &Request{
		id:         xid.New().String(),
		msg:        msg,
		priority:   DefaultPriority,
		retries:    DefaultRetries,
		timeout:    DefaultTimeout,
		quiet:      DefaultQuiet,
		wake:       make(chan struct{}),
		written:    make(chan struct{}),
		successful: make(chan struct{}),
		failure:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Option configures a submitted request.
type Option func(*Request)

// WithPriority sets the queue priority; lower values are served first.
func WithPriority(p int) Option {
	return func(r *Request) { r.priority = p }
}

// WithRetries sets how many times the message is written before the
// request is abandoned.
func WithRetries(n int) Option {
	return func(r *Request) { r.retries = n }
}

// WithTimeout sets the per-try wait for a success or failure signal.
func WithTimeout(d time.Duration) Option {
	return func(r *Request) { r.timeout = d }
}

// WithQuiet sets the mandatory idle interval after the request's last
// write before the next queued request is served.
func WithQuiet(d time.Duration) Option {
	return func(r *Request) { r.quiet = d }
}

// WithFilter restricts which decoded frames are routed to the request.
func WithFilter(f func(*insteon.Message) bool) Option {
	return func(r *Request) { r.filter = f }
}

// ID returns the request's correlation id.
func (r *Request) ID() string {
	return r.id
}

// Message returns the outgoing message.
func (r *Request) Message() *insteon.Message {
	return r.msg
}

// Written is closed once the message has been handed to the transport at
// least once.
func (r *Request) Written() <-chan struct{} {
	return r.written
}

// Done is closed when the request is released.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Succeed marks the request satisfied, stopping any further retries.
func (r *Request) Succeed() {
	r.succOnce.Do(func() { close(r.successful) })
}

// Fail forces an immediate retry of the current try instead of waiting
// for its timeout. Used on a NACK.
func (r *Request) Fail() {
	select {
	case r.failure <- struct{}{}:
	default:
	}
}

// Release marks the request done. The engine stops routing responses to
// it and drops it from the live registry on the next scan. Safe to call
// multiple times; callers should defer it as soon as they submit.
func (r *Request) Release() {
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *Request) released() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// deliver routes a decoded message into the inbox, waking any waiter.
// Messages rejected by the filter or arriving after Release are dropped.
func (r *Request) deliver(msg *insteon.Message) {
	if r.released() {
		return
	}
	if r.filter != nil && !r.filter(msg) {
		return
	}
	r.mu.Lock()
	r.responses = append(r.responses, msg)
	close(r.wake)
	r.wake = make(chan struct{})
	r.mu.Unlock()
}

// Recv removes and returns the oldest response, waiting up to timeout
// for one to arrive. Returns false if none arrives in time.
func (r *Request) Recv(timeout time.Duration) (*insteon.Message, bool) {
	return r.RecvMatch(nil, timeout)
}

// RecvMatch removes and returns the oldest response accepted by pred
// (nil accepts any), waiting up to timeout. Responses already in the
// inbox satisfy the wait immediately.
func (r *Request) RecvMatch(pred func(*insteon.Message) bool, timeout time.Duration) (*insteon.Message, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		for i, m := range r.responses {
			if pred == nil || pred(m) {
				r.responses = append(r.responses[:i], r.responses[i+1:]...)
				r.mu.Unlock()
				return m, true
			}
		}
		wake := r.wake
		r.mu.Unlock()

		select {
		case <-wake:
		case <-deadline.C:
			return nil, false
		case <-r.done:
			return nil, false
		}
	}
}

// clearFailure re-arms the failure signal before a try.
func (r *Request) clearFailure() {
	select {
	case <-r.failure:
	default:
	}
}
