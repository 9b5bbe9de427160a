// MIT License
//
// Copyright (c) 2016-2017 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package rsocket

import (
	"container/heap"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sagernet/rsocket/frame"
	"github.com/sagernet/rsocket/transport"
)

const (
	protocolMajor = 1
	protocolMinor = 0

	maxShaperSize = 1024
	writeTimeout  = 30 * time.Second // timeout for submitting frames outside the loops
	fatalTimeout  = 5 * time.Second  // best effort window for terminal ERROR frames
)

// stream 0 states
const (
	stateAwaitingSetup int32 = iota
	stateActive
	stateClosed
)

// connection binds a requester and a responder to one duplex transport.
type connection struct {
	conn   transport.Conn
	config *Config
	log    *logrus.Entry

	initiator bool // sent SETUP, allocates odd ids

	ids      *streamIDs
	registry *registry
	leases   *leaseManager

	// handler responds to peer requests. On the acceptor side it is
	// installed by the SETUP handshake inside recvLoop, before any
	// request frame is dispatched.
	handler  *Handler
	acceptor Acceptor

	state int32

	die         chan struct{} // flag connection has died
	dieOnce     sync.Once
	closeReason atomic.Value

	// socket error handling
	socketWriteError     atomic.Value
	chSocketWriteError   chan struct{}
	socketWriteErrorOnce sync.Once

	requestID uint32            // monotonic increasing write request ID
	shaper    chan writeRequest // a shaper for writing
	writes    chan writeRequest

	// liveness accounting
	lastAck   int64  // unix nanos of the last keepalive echo received
	lastRecv  int64  // unix nanos of the last inbound frame
	recvBytes uint64 // total inbound bytes, reported in KEEPALIVE

	// highest peer initiated id accepted; recvLoop only
	lastPeerStream uint32
}

func newConnection(tc transport.Conn, config *Config, initiator bool, acceptor Acceptor) *connection {
	role := "server"
	if initiator {
		role = "client"
	}
	c := &connection{
		conn:               tc,
		config:             config,
		log:                config.Logger.WithField("role", role),
		initiator:          initiator,
		ids:                newStreamIDs(initiator),
		registry:           newRegistry(),
		handler:            config.Handler,
		acceptor:           acceptor,
		die:                make(chan struct{}),
		chSocketWriteError: make(chan struct{}),
		shaper:             make(chan writeRequest),
		writes:             make(chan writeRequest),
	}
	c.leases = newLeaseManager(initiator && config.HonorLease)
	if fl, ok := tc.(transport.FrameLimiter); ok {
		fl.SetFrameLimit(config.MaxInboundPayloadSize)
	}
	now := time.Now().UnixNano()
	atomic.StoreInt64(&c.lastAck, now)
	atomic.StoreInt64(&c.lastRecv, now)
	if initiator {
		atomic.StoreInt32(&c.state, stateActive)
	} else {
		atomic.StoreInt32(&c.state, stateAwaitingSetup)
	}

	go c.shaperLoop()
	go c.sendLoop()
	return c
}

// start launches the inbound side once the initial handshake frame has been
// submitted (client) or is expected (server).
func (c *connection) start() {
	go c.recvLoop()
	if c.initiator {
		go c.keepaliveLoop()
	}
}

func (c *connection) isClosed() bool {
	select {
	case <-c.die:
		return true
	default:
		return false
	}
}

// OnClose is closed when teardown starts; active streams are terminated
// and the transport is closed right after.
func (c *connection) OnClose() <-chan struct{} {
	return c.die
}

// Close performs a graceful shutdown: a CONNECTION_CLOSE error frame is
// offered to the peer, then every stream terminates with
// ErrConnectionClosed.
func (c *connection) Close() error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	c.sendError0(frame.ErrorConnectionClose, "")
	c.teardown(ErrConnectionClosed)
	return nil
}

// teardown terminates every active stream and releases the transport.
func (c *connection) teardown(reason error) {
	c.dieOnce.Do(func() {
		atomic.StoreInt32(&c.state, stateClosed)
		c.closeReason.Store(reason)
		close(c.die)
		for _, h := range c.registry.drain() {
			h.closeWith(reason)
		}
		_ = c.conn.Close()
	})
}

func (c *connection) notifyWriteError(err error) {
	c.socketWriteErrorOnce.Do(func() {
		c.socketWriteError.Store(err)
		close(c.chSocketWriteError)
	})
}

// consume routes unactionable errors to the configured consumer, skipping
// the expected shutdown noise.
func (c *connection) consume(err error) {
	if expectedError(err) {
		return
	}
	if c.config.ErrorConsumer != nil {
		c.config.ErrorConsumer(err)
		return
	}
	c.log.WithError(err).Debug("unhandled engine error")
}

// protocolError reports a fatal framing violation: ERROR on stream 0, then
// close.
func (c *connection) protocolError(msg string) {
	c.log.WithField("reason", msg).Warn("protocol error, closing connection")
	c.sendError0(frame.ErrorConnectionError, msg)
	c.teardown(ErrConnectionClosed)
}

// sendError0 emits a terminal error frame on stream 0, best effort.
func (c *connection) sendError0(code frame.ErrorCode, msg string) {
	timer := time.NewTimer(fatalTimeout)
	defer timer.Stop()
	err := c.writeFrameInternal(&frame.Error{Stream: 0, Code: code, Data: msg}, timer.C, CLSCTRL)
	if err != nil {
		c.consume(err)
	}
}

// sendFrame is the handle stream state machines hold to the outbound
// queue.
func (c *connection) sendFrame(f frame.Frame, class CLASSID) error {
	return c.writeFrame(f, class)
}

func (c *connection) writeFrame(f frame.Frame, class CLASSID) error {
	timer := time.NewTimer(writeTimeout)
	defer timer.Stop()
	return c.writeFrameInternal(f, timer.C, class)
}

// internal writeFrame version to support deadline used in keepalive
func (c *connection) writeFrameInternal(f frame.Frame, deadline <-chan time.Time, class CLASSID) error {
	req := writeRequest{
		class:  class,
		frame:  f,
		seq:    atomic.AddUint32(&c.requestID, 1),
		result: make(chan writeResult, 1),
	}
	select {
	case c.shaper <- req:
	case <-c.die:
		return ErrConnectionClosed
	case <-c.chSocketWriteError:
		return c.socketWriteError.Load().(error)
	case <-deadline:
		return errWriteTimeout
	}

	select {
	case result := <-req.result:
		return result.err
	case <-c.die:
		return ErrConnectionClosed
	case <-c.chSocketWriteError:
		return c.socketWriteError.Load().(error)
	case <-deadline:
		return errWriteTimeout
	}
}

// shaperLoop implements a priority queue for write requests, control
// frames are prioritized over data frames
func (c *connection) shaperLoop() {
	var reqs shaperHeap
	var next writeRequest
	var chWrite chan writeRequest
	var chShaper chan writeRequest

	for {
		// chWrite is not available until it has packet to send
		if len(reqs) > 0 {
			chWrite = c.writes
			next = heap.Pop(&reqs).(writeRequest)
		} else {
			chWrite = nil
		}

		// control heap size, chShaper is not available until packets are less than maximum allowed
		if len(reqs) >= maxShaperSize {
			chShaper = nil
		} else {
			chShaper = c.shaper
		}

		select {
		case <-c.die:
			return
		case r := <-chShaper:
			if chWrite != nil { // next is valid, reshape
				heap.Push(&reqs, next)
			}
			heap.Push(&reqs, r)
		case chWrite <- next:
		}
	}
}

// sendLoop drains the shaper to the transport, one writer for the whole
// connection.
func (c *connection) sendLoop() {
	for {
		select {
		case <-c.die:
			return
		case request := <-c.writes:
			err := c.conn.WriteFrame(request.frame.Marshal())
			request.result <- writeResult{err: err}
			close(request.result)

			// store conn error
			if err != nil {
				c.notifyWriteError(err)
				return
			}
		}
	}
}

// recvLoop reads, decodes and dispatches inbound frames.
func (c *connection) recvLoop() {
	for {
		b, err := c.conn.ReadFrame()
		if err != nil {
			c.consume(err)
			c.teardown(ErrConnectionClosed)
			return
		}
		atomic.AddUint64(&c.recvBytes, uint64(len(b)))
		atomic.StoreInt64(&c.lastRecv, time.Now().UnixNano())

		f, err := frame.Unmarshal(b)
		if err != nil {
			c.protocolError(err.Error())
			return
		}

		if atomic.LoadInt32(&c.state) == stateAwaitingSetup {
			if !c.handleFirstFrame(f) {
				return
			}
			continue
		}
		var ok bool
		if f.StreamID() == 0 {
			ok = c.handleStream0(f)
		} else {
			ok = c.dispatch(f)
		}
		if !ok {
			return
		}
	}
}

// handleFirstFrame enforces the acceptor side handshake: the very first
// inbound frame must be SETUP.
func (c *connection) handleFirstFrame(f frame.Frame) bool {
	switch f := f.(type) {
	case *frame.Setup:
		return c.handleSetup(f)
	case *frame.Resume:
		c.sendError0(frame.ErrorRejectedResume, "resumption not supported")
		c.teardown(&Error{Code: frame.ErrorRejectedResume, Message: "resumption not supported"})
		return false
	default:
		c.sendError0(frame.ErrorInvalidSetup, "first frame must be SETUP")
		c.teardown(&Error{Code: frame.ErrorInvalidSetup, Message: "first frame must be SETUP"})
		return false
	}
}

func (c *connection) handleSetup(f *frame.Setup) bool {
	if f.MajorVersion != protocolMajor {
		msg := fmt.Sprintf("unsupported protocol version %d.%d", f.MajorVersion, f.MinorVersion)
		c.sendError0(frame.ErrorUnsupportedSetup, msg)
		c.teardown(&Error{Code: frame.ErrorUnsupportedSetup, Message: msg})
		return false
	}
	if f.KeepaliveInterval == 0 || f.MaxLifetime == 0 {
		c.sendError0(frame.ErrorInvalidSetup, "keepalive parameters must be positive")
		c.teardown(&Error{Code: frame.ErrorInvalidSetup, Message: "keepalive parameters must be positive"})
		return false
	}
	info := SetupInfo{
		MajorVersion:     f.MajorVersion,
		MinorVersion:     f.MinorVersion,
		KeepalivePeriod:  time.Duration(f.KeepaliveInterval) * time.Millisecond,
		MaxLifetime:      time.Duration(f.MaxLifetime) * time.Millisecond,
		HonorLease:       f.Lease,
		MetadataMimeType: f.MetadataMimeType,
		DataMimeType:     f.DataMimeType,
		Data:             f.Data,
		Metadata:         f.Metadata,
	}
	if c.acceptor != nil {
		handler, err := c.acceptor(info, c)
		if err != nil {
			c.sendError0(frame.ErrorRejectedSetup, err.Error())
			c.teardown(&Error{Code: frame.ErrorRejectedSetup, Message: err.Error()})
			return false
		}
		c.handler = handler
	}
	c.leases.gateResponses.Store(f.Lease)
	atomic.StoreInt32(&c.state, stateActive)
	go c.lifetimeLoop(info.MaxLifetime)
	c.log.WithFields(logrus.Fields{
		"keepalive": info.KeepalivePeriod,
		"lifetime":  info.MaxLifetime,
		"lease":     info.HonorLease,
	}).Debug("connection established")
	return true
}

// handleStream0 serves connection level frames.
func (c *connection) handleStream0(f frame.Frame) bool {
	switch f := f.(type) {
	case *frame.Keepalive:
		if f.Respond {
			echo := &frame.Keepalive{
				Respond:              false,
				LastReceivedPosition: atomic.LoadUint64(&c.recvBytes),
				Data:                 f.Data,
			}
			// echo from a separate goroutine so a congested writer cannot
			// stall frame dispatch
			go func() {
				if err := c.writeFrame(echo, CLSCTRL); err != nil {
					c.consume(err)
				}
			}()
		} else {
			atomic.StoreInt64(&c.lastAck, time.Now().UnixNano())
		}
	case *frame.Lease:
		c.leases.storeInbound(f.TTLMillis, f.NumRequests)
	case *frame.Error:
		// connection fatal from the peer
		c.teardown(&Error{Code: f.Code, Message: f.Data})
		return false
	case *frame.MetadataPush:
		if h := c.handler; h != nil && h.MetadataPush != nil {
			p := Payload{Metadata: f.Metadata}
			go c.invokeMetadataPush(h.MetadataPush, p)
		}
	case *frame.Setup:
		c.protocolError("unexpected SETUP on established connection")
		return false
	case *frame.Resume, *frame.ResumeOK:
		c.sendError0(frame.ErrorRejectedResume, "resumption not supported")
		c.teardown(&Error{Code: frame.ErrorRejectedResume, Message: "resumption not supported"})
		return false
	case *frame.Extension:
		if !f.Ignore {
			c.log.WithField("type", f.ExtendedType).Debug("dropping unknown extension frame")
		}
	default:
		c.protocolError(fmt.Sprintf("%s not valid on stream 0", f.Type()))
		return false
	}
	return true
}

func isInitiating(t frame.Type) bool {
	switch t {
	case frame.TypeRequestResponse, frame.TypeRequestFNF, frame.TypeRequestStream, frame.TypeRequestChannel:
		return true
	default:
		return false
	}
}

// dispatch routes a stream frame by id parity.
func (c *connection) dispatch(f frame.Frame) bool {
	id := f.StreamID()
	own := c.ids.ownParity(id)

	if ext, ok := f.(*frame.Extension); ok && ext.Ignore {
		// ignorable extension frames are dropped on any stream
		return true
	}

	if isInitiating(f.Type()) {
		if own {
			c.protocolError(fmt.Sprintf("peer initiated stream %d with our parity", id))
			return false
		}
		return c.handleRequest(f)
	}

	h := c.registry.get(id)
	if h == nil {
		if own {
			if c.ids.isBeforeOrCurrent(id) {
				// late frame for a finished or cancelled stream
				c.log.WithFields(logrus.Fields{"stream": id, "type": f.Type().String()}).Debug("dropping late frame")
				return true
			}
			c.protocolError(fmt.Sprintf("frame for never issued stream %d", id))
			return false
		}
		if id <= c.lastPeerStream {
			c.log.WithFields(logrus.Fields{"stream": id, "type": f.Type().String()}).Debug("dropping late frame")
			return true
		}
		c.protocolError(fmt.Sprintf("frame for unopened stream %d", id))
		return false
	}

	switch f := f.(type) {
	case *frame.Payload:
		p := Payload{Data: f.Data, Metadata: f.Metadata}
		if h.result != nil {
			h.result.onPayload(p, f.Next, f.Complete)
			if f.Complete {
				c.registry.remove(id)
			}
			return true
		}
		if h.receiver != nil {
			if f.Next {
				h.receiver.push(p)
			}
			if f.Complete {
				h.receiver.complete()
				if h.sender == nil || h.sender.done() {
					c.registry.remove(id)
				}
			}
		}
	case *frame.Error:
		err := &Error{Code: f.Code, Message: f.Data}
		h.closeWith(err)
		c.registry.remove(id)
	case *frame.RequestN:
		if h.sender != nil {
			h.sender.addCredit(f.N)
		}
	case *frame.Cancel:
		if h.receiver != nil && !own {
			// responder channel: the peer abandoned the whole interaction
			h.receiver.complete()
		}
		if h.sender != nil {
			h.sender.cancelled()
		} else {
			if h.receiver != nil {
				h.receiver.fail(ErrStreamCanceled)
			}
			if h.result != nil {
				h.result.fail(ErrStreamCanceled)
			}
			c.registry.remove(id)
		}
	default:
		c.protocolError(fmt.Sprintf("%s not valid on stream %d", f.Type(), id))
		return false
	}
	return true
}

// keepaliveLoop sends heartbeats and watches for missing echoes; the
// initiating side only.
func (c *connection) keepaliveLoop() {
	period := c.config.KeepalivePeriod
	limit := time.Duration(c.config.MissedKeepalives) * period
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			last := time.Unix(0, atomic.LoadInt64(&c.lastAck))
			if time.Since(last) > limit {
				c.log.Warn("keepalive timeout, closing connection")
				c.sendError0(frame.ErrorConnectionError, "keepalive timeout")
				c.teardown(&Error{Code: frame.ErrorConnectionError, Message: "keepalive timeout"})
				return
			}
			tick := &frame.Keepalive{
				Respond:              true,
				LastReceivedPosition: atomic.LoadUint64(&c.recvBytes),
			}
			if err := c.writeFrameInternal(tick, ticker.C, CLSCTRL); err != nil {
				c.consume(err)
			}
		case <-c.die:
			return
		}
	}
}

// lifetimeLoop enforces the silence bound the peer announced in SETUP; the
// acceptor side only.
func (c *connection) lifetimeLoop(maxLifetime time.Duration) {
	interval := maxLifetime / 2
	if interval <= 0 {
		interval = maxLifetime
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			last := time.Unix(0, atomic.LoadInt64(&c.lastRecv))
			if time.Since(last) > maxLifetime {
				c.log.Warn("maximum lifetime exceeded, closing connection")
				c.sendError0(frame.ErrorConnectionError, "maximum lifetime exceeded")
				c.teardown(&Error{Code: frame.ErrorConnectionError, Message: "maximum lifetime exceeded"})
				return
			}
		case <-c.die:
			return
		}
	}
}

// nextStreamID allocates a fresh id of the local parity.
func (c *connection) nextStreamID() (uint32, error) {
	return c.ids.next(c.registry.has)
}
