// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package port

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrommerd/insteon/pkg/insteon"
)

// testConn is an in-memory Connection: frames injected with inject show
// up on Read, frames the port writes show up on the writes channel.
type testConn struct {
	readCh    chan []byte
	writes    chan []byte
	pending   []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	failWrite bool
}

func newTestConn() *testConn {
	return &testConn{
		readCh: make(chan []byte, 64),
		writes: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *testConn) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		select {
		case data := <-c.readCh:
			c.pending = data
		case <-c.closed:
			return 0, io.EOF
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *testConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	fail := c.failWrite
	c.mu.Unlock()
	if fail {
		return 0, errors.New("broken pipe")
	}
	select {
	case c.writes <- append([]byte(nil), p...):
	case <-c.closed:
		return 0, io.EOF
	}
	return len(p), nil
}

func (c *testConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *testConn) IsOpen() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

func (c *testConn) inject(frames ...[]byte) {
	for _, f := range frames {
		c.readCh <- f
	}
}

// nextWrite waits for the port's next outgoing frame.
func (c *testConn) nextWrite(t *testing.T, timeout time.Duration) []byte {
	t.Helper()
	select {
	case data := <-c.writes:
		return data
	case <-time.After(timeout):
		t.Fatalf("no write within %s", timeout)
		return nil
	}
}

func startPort(t *testing.T) (*Port, *testConn) {
	t.Helper()
	conn := newTestConn()
	p := New()
	p.Start(conn)
	t.Cleanup(p.Stop)
	return p, conn
}

func ackFrame(def *insteon.Def, ack byte) []byte {
	msg := def.Create()
	msg.SetByte(insteon.FieldAckNack, ack)
	return insteon.Encode(msg)
}

func TestRequestRoundTrip(t *testing.T) {
	p, conn := startPort(t)

	req := p.Submit(insteon.GetFirstALLLinkRecord.Create(),
		WithTimeout(200*time.Millisecond), WithQuiet(10*time.Millisecond))
	defer req.Release()

	written := conn.nextWrite(t, time.Second)
	assert.Equal(t, []byte{0x02, 0x69}, written)

	conn.inject(ackFrame(insteon.GetFirstALLLinkRecordReply, insteon.Ack))

	reply, ok := req.Recv(time.Second)
	require.True(t, ok, "no reply routed to the request")
	assert.Equal(t, "GetFirstALLLinkRecordReply", reply.Name())
	assert.True(t, reply.Ack())
	req.Succeed()
}

func TestRetryBudget(t *testing.T) {
	p, conn := startPort(t)

	const (
		retries = 3
		timeout = 50 * time.Millisecond
		quiet   = 30 * time.Millisecond
	)
	req := p.Submit(insteon.GetIMInfo.Create(),
		WithRetries(retries), WithTimeout(timeout), WithQuiet(quiet))
	defer req.Release()

	// Never answered: exactly `retries` writes, then silence
	first := time.Now()
	conn.nextWrite(t, time.Second)
	for i := 1; i < retries; i++ {
		conn.nextWrite(t, time.Second)
	}
	sinceFirst := time.Since(first)
	assert.GreaterOrEqual(t, sinceFirst, time.Duration(retries-1)*(timeout+quiet)-20*time.Millisecond,
		"retries paced faster than the per-try timeout and quiet budget allows")

	select {
	case <-conn.writes:
		t.Fatalf("request written more than %d times", retries)
	case <-time.After(4 * (timeout + quiet)):
	}
}

func TestSucceedStopsRetries(t *testing.T) {
	p, conn := startPort(t)

	req := p.Submit(insteon.GetIMInfo.Create(),
		WithRetries(5), WithTimeout(300*time.Millisecond), WithQuiet(10*time.Millisecond))
	defer req.Release()

	conn.nextWrite(t, time.Second)
	req.Succeed()

	select {
	case <-conn.writes:
		t.Fatalf("request retransmitted after success")
	case <-time.After(700 * time.Millisecond):
	}
}

func TestFailForcesRetry(t *testing.T) {
	p, conn := startPort(t)

	req := p.Submit(insteon.GetIMInfo.Create(),
		WithRetries(2), WithTimeout(5*time.Second), WithQuiet(10*time.Millisecond))
	defer req.Release()

	conn.nextWrite(t, time.Second)
	req.Fail()
	// The second try must come well before the 5s per-try timeout
	conn.nextWrite(t, time.Second)
	req.Succeed()
}

func TestPriorityOrdering(t *testing.T) {
	p, conn := startPort(t)

	// Occupy the writer so the queue builds up behind it
	blocker := p.Submit(insteon.GetIMInfo.Create(),
		WithRetries(1), WithTimeout(150*time.Millisecond), WithQuiet(10*time.Millisecond))
	defer blocker.Release()
	conn.nextWrite(t, time.Second)

	low := p.Submit(insteon.GetNextALLLinkRecord.Create(), WithPriority(2),
		WithRetries(1), WithTimeout(10*time.Millisecond), WithQuiet(time.Millisecond))
	defer low.Release()
	high := p.Submit(insteon.GetFirstALLLinkRecord.Create(), WithPriority(1),
		WithRetries(1), WithTimeout(10*time.Millisecond), WithQuiet(time.Millisecond))
	defer high.Release()

	first := conn.nextWrite(t, time.Second)
	second := conn.nextWrite(t, time.Second)
	assert.Equal(t, byte(0x69), first[1], "lower priority value must be served first")
	assert.Equal(t, byte(0x6A), second[1])
}

func TestFIFOWithinPriority(t *testing.T) {
	p, conn := startPort(t)

	blocker := p.Submit(insteon.GetIMInfo.Create(),
		WithRetries(1), WithTimeout(150*time.Millisecond), WithQuiet(10*time.Millisecond))
	defer blocker.Release()
	conn.nextWrite(t, time.Second)

	a := p.Submit(insteon.GetFirstALLLinkRecord.Create(),
		WithRetries(1), WithTimeout(10*time.Millisecond), WithQuiet(time.Millisecond))
	defer a.Release()
	b := p.Submit(insteon.GetNextALLLinkRecord.Create(),
		WithRetries(1), WithTimeout(10*time.Millisecond), WithQuiet(time.Millisecond))
	defer b.Release()

	assert.Equal(t, byte(0x69), conn.nextWrite(t, time.Second)[1])
	assert.Equal(t, byte(0x6A), conn.nextWrite(t, time.Second)[1])
}

func TestFilterRouting(t *testing.T) {
	p, conn := startPort(t)

	req := p.Submit(insteon.GetIMInfo.Create(),
		WithTimeout(time.Second), WithQuiet(10*time.Millisecond),
		WithFilter(func(m *insteon.Message) bool {
			return m.Name() == "GetIMInfoReply"
		}))
	defer req.Release()
	conn.nextWrite(t, time.Second)

	// An unrelated frame must not reach the request
	record := insteon.ALLLinkRecordResponse.Create()
	record.SetAddress("LinkAddr", insteon.NewAddress(1, 2, 3))
	conn.inject(insteon.Encode(record))

	reply := insteon.GetIMInfoReply.Create()
	reply.SetAddress("IMAddress", insteon.NewAddress(0x0A, 0x0B, 0x0C))
	reply.SetByte(insteon.FieldAckNack, insteon.Ack)
	conn.inject(insteon.Encode(reply))

	msg, ok := req.Recv(time.Second)
	require.True(t, ok)
	assert.Equal(t, "GetIMInfoReply", msg.Name())
	assert.Equal(t, insteon.NewAddress(0x0A, 0x0B, 0x0C), msg.Address("IMAddress"))

	_, ok = req.Recv(50 * time.Millisecond)
	assert.False(t, ok, "filtered frame leaked into the inbox")
	req.Succeed()
}

func TestReleasedRequestGetsNothing(t *testing.T) {
	p, conn := startPort(t)

	req := p.Submit(insteon.GetFirstALLLinkRecord.Create(),
		WithRetries(1), WithTimeout(50*time.Millisecond), WithQuiet(time.Millisecond))
	conn.nextWrite(t, time.Second)
	req.Release()

	conn.inject(ackFrame(insteon.GetFirstALLLinkRecordReply, insteon.Ack))
	_, ok := req.Recv(100 * time.Millisecond)
	assert.False(t, ok, "released request still received a response")
}

func TestReaderSurvivesNoise(t *testing.T) {
	p, conn := startPort(t)

	req := p.Submit(insteon.GetFirstALLLinkRecord.Create(),
		WithTimeout(time.Second), WithQuiet(10*time.Millisecond))
	defer req.Release()
	conn.nextWrite(t, time.Second)

	conn.inject([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	conn.inject(ackFrame(insteon.GetFirstALLLinkRecordReply, insteon.Ack))

	_, ok := req.Recv(time.Second)
	assert.True(t, ok, "reader stalled on undecodable bytes")
	req.Succeed()
}

func TestObservers(t *testing.T) {
	p, conn := startPort(t)

	var mu sync.Mutex
	var reads, writes []string
	p.OnRead(func(m *insteon.Message) {
		mu.Lock()
		reads = append(reads, m.Name())
		mu.Unlock()
	})
	p.OnWrite(func(m *insteon.Message) {
		mu.Lock()
		writes = append(writes, m.Name())
		mu.Unlock()
	})

	stats := NewStatistics()
	stats.Attach(p)

	req := p.Submit(insteon.GetFirstALLLinkRecord.Create(),
		WithTimeout(time.Second), WithQuiet(10*time.Millisecond))
	defer req.Release()
	conn.nextWrite(t, time.Second)
	conn.inject(ackFrame(insteon.GetFirstALLLinkRecordReply, insteon.Ack))

	_, ok := req.Recv(time.Second)
	require.True(t, ok)
	req.Succeed()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reads) == 1 && len(writes) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"GetFirstALLLinkRecordReply"}, reads)
	assert.Equal(t, []string{"GetFirstALLLinkRecord"}, writes)
	mu.Unlock()

	assert.Eventually(t, func() bool {
		return stats.MessagesIn.Load() == 1 && stats.MessagesOut.Load() == 1
	}, time.Second, 10*time.Millisecond)

	assert.False(t, stats.LastIn().IsZero(), "last-in time follows the first decoded message")
	assert.WithinDuration(t, time.Now(), stats.LastIn(), time.Second)
	assert.Contains(t, stats.String(), "Messages In:")
}

func TestWriteErrorShutsDownPort(t *testing.T) {
	conn := newTestConn()
	conn.mu.Lock()
	conn.failWrite = true
	conn.mu.Unlock()

	p := New()
	p.Start(conn)

	req := p.Submit(insteon.GetIMInfo.Create())
	defer req.Release()

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("port did not shut down after a write error")
	}
	require.Error(t, p.Err())
	assert.False(t, conn.IsOpen(), "connection left open after transport failure")
}

func TestStopTerminatesLoops(t *testing.T) {
	p, _ := startPort(t)
	p.Stop()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("loops did not terminate on Stop")
	}
	assert.NoError(t, p.Err(), "clean stop must not report a transport error")
}
