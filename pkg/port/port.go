// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package port

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pfrommerd/insteon/pkg/insteon"
)

var logger = log.WithField("module", "port")

// Observer receives a copy of every message crossing the wire in one
// direction, as a side channel for logging and tracing.
type Observer func(*insteon.Message)

// Port owns one modem connection and multiplexes it between any number
// of concurrent requests. A single writer goroutine serves queued
// requests in (priority, submission) order and runs each one's retry
// loop; a reader goroutine decodes incoming frames and routes them to
// every live request whose filter accepts them.
type Port struct {
	conn Connection

	mu    sync.Mutex
	queue requestQueue
	seq   uint64
	ready chan struct{}

	// live holds requests currently eligible for response routing.
	// Mutated by both loops, pruned of released requests on scan.
	liveMu sync.Mutex
	live   []*Request

	obsMu    sync.Mutex
	readObs  []Observer
	writeObs []Observer

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	errOnce  sync.Once
	err      error
	wg       sync.WaitGroup
}

// New creates a Port. Call Start to attach a connection and launch the
// loops.
func New() *Port {
	return &Port{
		ready: make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start attaches the connection and launches the writer and reader
// loops. The port owns the connection from here on and closes it when a
// loop terminates.
func (p *Port) Start(conn Connection) {
	p.conn = conn
	p.wg.Add(2)
	go p.runWriter()
	go p.runReader()
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
}

// Stop terminates both loops and closes the connection.
func (p *Port) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.conn != nil {
		p.conn.Close()
	}
}

// Done is closed once both loops have terminated.
func (p *Port) Done() <-chan struct{} {
	return p.done
}

// Err returns the transport error that terminated the loops, if any.
func (p *Port) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Port) fail(err error) {
	p.errOnce.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		logger.WithError(err).Error("transport failure, shutting down port")
		p.Stop()
	})
}

// Submit queues a message for transmission and returns the request
// handle the caller waits on. The caller must Release the request when
// it no longer wants responses routed to it.
func (p *Port) Submit(msg *insteon.Message, opts ...Option) *Request {
	req := newRequest(msg, opts)
	p.mu.Lock()
	req.seq = p.seq
	p.seq++
	heap.Push(&p.queue, req)
	p.mu.Unlock()
	select {
	case p.ready <- struct{}{}:
	default:
	}
	return req
}

// OnRead registers an observer invoked with every decoded incoming
// message.
func (p *Port) OnRead(o Observer) {
	p.obsMu.Lock()
	p.readObs = append(p.readObs, o)
	p.obsMu.Unlock()
}

// OnWrite registers an observer invoked with every message written to
// the transport.
func (p *Port) OnWrite(o Observer) {
	p.obsMu.Lock()
	p.writeObs = append(p.writeObs, o)
	p.obsMu.Unlock()
}

func (p *Port) notifyWrite(msg *insteon.Message) {
	p.obsMu.Lock()
	obs := append([]Observer(nil), p.writeObs...)
	p.obsMu.Unlock()
	for _, o := range obs {
		o(msg)
	}
}

func (p *Port) notifyRead(msg *insteon.Message) {
	p.obsMu.Lock()
	obs := append([]Observer(nil), p.readObs...)
	p.obsMu.Unlock()
	for _, o := range obs {
		o(msg)
	}
}

func (p *Port) pop() *Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queue.Len() == 0 {
		return nil
	}
	req := heap.Pop(&p.queue).(*Request)
	if p.queue.Len() > 0 {
		// coalesced submissions: keep the writer eligible to run
		select {
		case p.ready <- struct{}{}:
		default:
		}
	}
	return req
}

func (p *Port) register(req *Request) {
	p.liveMu.Lock()
	p.live = append(p.live, req)
	p.liveMu.Unlock()
}

// route delivers a decoded message to every live request, pruning
// released entries as it scans.
func (p *Port) route(msg *insteon.Message) {
	p.liveMu.Lock()
	live := p.live[:0]
	for _, req := range p.live {
		if req.released() {
			continue
		}
		live = append(live, req)
		req.deliver(msg)
	}
	p.live = live
	p.liveMu.Unlock()
}

func (p *Port) runWriter() {
	defer p.wg.Done()
	defer logger.Info("shutting down writer")

	for {
		select {
		case <-p.stop:
			return
		case <-p.ready:
		}

		req := p.pop()
		if req == nil {
			continue
		}

		// Register before the first write so responses arriving
		// mid-retry are still routed.
		p.register(req)

		for try := 1; try <= req.retries; try++ {
			req.clearFailure()

			data := insteon.Encode(req.msg)
			if _, err := p.conn.Write(data); err != nil {
				p.fail(fmt.Errorf("writing %s: %w", req.msg, err))
				return
			}
			req.writtenOnce.Do(func() { close(req.written) })
			logger.WithFields(log.Fields{
				"request": req.id,
				"try":     try,
			}).Debugf("wrote %s", req.msg)
			p.notifyWrite(req.msg)

			satisfied := p.awaitOutcome(req)

			// The device needs a dead interval after every transmission
			// before it will accept another command
			select {
			case <-time.After(req.quiet):
			case <-p.stop:
				return
			}

			if satisfied {
				break
			}
			// failure or timeout: next try
		}
	}
}

// awaitOutcome waits out one try. Returns true once the request is
// satisfied, false when it should be retried (explicit failure or
// timeout, which is treated as failure).
func (p *Port) awaitOutcome(req *Request) bool {
	timer := time.NewTimer(req.timeout)
	defer timer.Stop()
	select {
	case <-req.successful:
		return true
	case <-req.failure:
		return false
	case <-timer.C:
		return false
	case <-p.stop:
		return true
	}
}

func (p *Port) runReader() {
	defer p.wg.Done()
	defer logger.Info("shutting down reader")

	decoder := insteon.NewDecoder()
	buf := make([]byte, 64)
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		n, err := p.conn.Read(buf)
		if err != nil {
			select {
			case <-p.stop:
			default:
				p.fail(fmt.Errorf("reading from transport: %w", err))
			}
			return
		}

		data := buf[:n]
		for len(data) > 0 {
			msg, consumed := decoder.Decode(data)
			data = data[consumed:]
			if msg == nil {
				break
			}
			logger.Debugf("read %s", msg)
			p.route(msg)
			p.notifyRead(msg)
		}
	}
}

// requestQueue is a priority heap ordered by (priority, submission
// order): lower priority values first, FIFO within a priority.
type requestQueue []*Request

func (q requestQueue) Len() int { return len(q) }

func (q requestQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q requestQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *requestQueue) Push(x interface{}) {
	*q = append(*q, x.(*Request))
}

func (q *requestQueue) Pop() interface{} {
	old := *q
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return req
}
