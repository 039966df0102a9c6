package voldemort

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
)

// connState is the Connection's state machine.
type connState int32

const (
	stateConnecting connState = iota
	stateProtocolProposal
	stateIdle
	stateRequest
	stateDisconnected
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateProtocolProposal:
		return "protocol-proposal"
	case stateIdle:
		return "idle"
	case stateRequest:
		return "request"
	case stateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// pendingRequest is a queued unit of work carrying its own Future, tying an
// outgoing frame to the promise that resolves once its response arrives.
type pendingRequest struct {
	frame  []byte // unframed Request message body
	result *Future[[]byte]
}

// Connection manages a single TCP session to one cluster node: dial,
// protocol negotiation, a strictly-FIFO at-most-one-in-flight request
// pipeline, periodic health/timeout ticks, and reconnect-on-failure. Blocking
// I/O runs in its own goroutine while the connection's main loop selects on
// its result, since this protocol allows only one in-flight request per
// connection at a time.
type Connection struct {
	nodeID      string
	addr        string
	protocolTag string
	logger      Logger
	healthTick  time.Duration
	reqTimeout  time.Duration

	reqCh chan pendingRequest

	state        atomic.Int32
	lastSendNano atomic.Int64

	closeReasonMu sync.Mutex
	closeReason   error

	stopc   chan struct{}
	stopped chan struct{}

	shutdownOnce sync.Once
	shutdownFut  *Future[struct{}]
	shuttingDown atomic.Bool
}

// newConnection constructs a Connection and starts its background run
// loop. The connection begins dialing immediately.
func newConnection(nodeID, addr string, opts ClusterOptions) *Connection {
	c := &Connection{
		nodeID:      nodeID,
		addr:        addr,
		protocolTag: opts.ProtocolTag,
		logger:      opts.Logger,
		healthTick:  opts.HealthTick,
		reqTimeout:  opts.RequestTimeout,
		reqCh:       make(chan pendingRequest, 4096),
		stopc:       make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	c.state.Store(int32(stateDisconnected))
	go c.run()
	return c
}

// Addr returns the node's dial address.
func (c *Connection) Addr() string { return c.addr }

// NodeID returns the owning node's id.
func (c *Connection) NodeID() string { return c.nodeID }

// Health reports "good" whenever the state is Idle, Request, Connecting,
// or ProtocolProposal; "bad" otherwise.
func (c *Connection) Health() string {
	if c.IsHealthy() {
		return "good"
	}
	return "bad"
}

// IsHealthy is Health, as a bool, used by the cluster's replica retry
// policy.
func (c *Connection) IsHealthy() bool {
	switch connState(c.state.Load()) {
	case stateIdle, stateRequest, stateConnecting, stateProtocolProposal:
		return true
	default:
		return false
	}
}

// Submit enqueues a request body (unframed) for dispatch on this
// connection, returning a Future resolved with the decoded response value
// bytes. Requests submitted while Disconnected fail immediately with a
// ServerError; requests submitted during Connecting/ProtocolProposal are
// queued and dispatched once negotiation completes.
func (c *Connection) Submit(body []byte) *Future[[]byte] {
	fut := NewFuture[[]byte]()
	if c.shuttingDown.Load() {
		fut.Fail(ErrShutdownRequested)
		return fut
	}
	if connState(c.state.Load()) == stateDisconnected {
		fut.Fail(WrapServerError(c.getCloseReason(), "connection is disconnected"))
		return fut
	}
	c.reqCh <- pendingRequest{frame: body, result: fut}
	return fut
}

// Close gracefully shuts the connection down: new submissions are refused
// immediately, the in-flight request (if any) is allowed to complete,
// queued requests are failed with ErrShutdownRequested, the socket is
// closed, and the returned Future resolves once all of that is done.
func (c *Connection) Close() *Future[struct{}] {
	c.shutdownOnce.Do(func() {
		c.shutdownFut = NewFuture[struct{}]()
		c.shuttingDown.Store(true)
		close(c.stopc)
		go func() {
			<-c.stopped
			c.shutdownFut.Succeed(struct{}{})
		}()
	})
	return c.shutdownFut
}

func (c *Connection) setState(s connState) { c.state.Store(int32(s)) }

func (c *Connection) getCloseReason() error {
	c.closeReasonMu.Lock()
	defer c.closeReasonMu.Unlock()
	return c.closeReason
}

// transitionDisconnected moves the connection to Disconnected, records the
// cause, and fails every currently queued (not yet dispatched) request
// with it — the in-flight request, if any, is the caller's responsibility
// to fail directly.
func (c *Connection) transitionDisconnected(cause error) {
	c.setState(stateDisconnected)
	c.closeReasonMu.Lock()
	c.closeReason = cause
	c.closeReasonMu.Unlock()
	c.logger.Log(LogLevelWarn, "connection disconnected", "addr", c.addr, "node", c.nodeID, "err", cause)
	c.failQueued(cause)
}

func (c *Connection) failQueued(cause error) {
	for {
		select {
		case pr := <-c.reqCh:
			pr.result.Fail(WrapServerError(cause, "connection closed"))
		default:
			return
		}
	}
}

// run is the connection's background actor: dial, negotiate, serve
// requests, and on any failure, back off for healthTick and retry — until
// Close is called.
func (c *Connection) run() {
	defer close(c.stopped)
	redialPolicy := backoff.NewConstantBackOff(c.healthTick)

	for {
		if c.shuttingDown.Load() {
			c.setState(stateDisconnected)
			return
		}

		conn, err := c.dial()
		if err != nil {
			c.transitionDisconnected(err)
			if !c.sleepOrStop(redialPolicy.NextBackOff()) {
				return
			}
			continue
		}

		if !c.negotiate(conn) {
			if !c.sleepOrStop(redialPolicy.NextBackOff()) {
				return
			}
			continue
		}

		c.setState(stateIdle)
		c.logger.Log(LogLevelInfo, "connection established", "addr", c.addr, "node", c.nodeID)

		c.serve(conn)

		if c.shuttingDown.Load() {
			return
		}
		if !c.sleepOrStop(redialPolicy.NextBackOff()) {
			return
		}
	}
}

func (c *Connection) sleepOrStop(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.stopc:
		return false
	}
}

func (c *Connection) dial() (net.Conn, error) {
	c.setState(stateConnecting)
	d := net.Dialer{Timeout: c.reqTimeout}
	conn, err := d.Dial("tcp", c.addr)
	if err != nil {
		c.logger.Log(LogLevelWarn, "dial failed", "addr", c.addr, "node", c.nodeID, "err", err)
		return nil, err
	}
	return conn, nil
}

// negotiate sends the protocol tag and waits for the "ok"/"no" reply. On any
// failure it transitions to Disconnected itself and returns false.
func (c *Connection) negotiate(conn net.Conn) bool {
	c.setState(stateProtocolProposal)

	if _, err := conn.Write([]byte(c.protocolTag)); err != nil {
		conn.Close()
		c.transitionDisconnected(err)
		return false
	}

	reply := make([]byte, 2)
	if _, err := io.ReadFull(conn, reply); err != nil {
		conn.Close()
		c.transitionDisconnected(err)
		return false
	}

	if string(reply) != "ok" {
		conn.Close()
		c.transitionDisconnected(NewServerError(fmt.Sprintf("protocol negotiation rejected: %q", reply)))
		return false
	}
	return true
}

// serve runs the Idle/Request loop until the connection drops or shutdown
// is requested, at which point it returns (the caller decides whether to
// redial).
func (c *Connection) serve(conn net.Conn) {
	ticker := time.NewTicker(c.healthTick)
	defer ticker.Stop()

	for {
		if c.shuttingDown.Load() {
			c.drainForShutdown(conn)
			return
		}

		var pr pendingRequest
		select {
		case <-c.stopc:
			continue
		case pr = <-c.reqCh:
		case <-ticker.C:
			continue
		}

		c.setState(stateRequest)
		c.lastSendNano.Store(time.Now().UnixNano())

		if _, err := conn.Write(frameBody(pr.frame)); err != nil {
			pr.result.Fail(WrapServerError(err, "writing request"))
			conn.Close()
			c.transitionDisconnected(err)
			return
		}

		data, err := c.readFrameWithTimeout(conn, ticker)
		if err != nil {
			pr.result.Fail(WrapServerError(err, "reading response"))
			conn.Close()
			c.transitionDisconnected(err)
			return
		}

		value, perr := parseGet(data)
		if perr != nil {
			pr.result.Fail(perr)
		} else {
			pr.result.Succeed(value)
		}
		c.setState(stateIdle)
	}
}

// readFrameWithTimeout reads one length-prefixed frame body: a goroutine
// does the blocking io.ReadFull calls while the caller selects on its
// result, also watching the shared health ticker. If the request has been
// in flight for at least reqTimeout, it force-closes the socket, unblocking
// the read with an error.
func (c *Connection) readFrameWithTimeout(conn net.Conn, ticker *time.Ticker) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var lenBuf [4]byte
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			done <- result{nil, err}
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(conn, body); err != nil {
			done <- result{nil, err}
			return
		}
		done <- result{body, nil}
	}()

	for {
		select {
		case r := <-done:
			return r.data, r.err
		case <-ticker.C:
			elapsed := time.Since(time.Unix(0, c.lastSendNano.Load()))
			if elapsed >= c.reqTimeout {
				c.logger.Log(LogLevelWarn, "request timed out, closing connection", "addr", c.addr, "node", c.nodeID)
				conn.Close()
			}
		}
	}
}

// drainForShutdown fails every queued request and closes the socket; it is
// only reached from the Idle point of serve(), so there is no in-flight
// request to worry about.
func (c *Connection) drainForShutdown(conn net.Conn) {
	c.failQueued(ErrShutdownRequested)
	conn.Close()
	c.setState(stateDisconnected)
}
