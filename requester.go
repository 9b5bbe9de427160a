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
	"time"

	"github.com/sagernet/rsocket/frame"
)

// The requester half: interactions the local application originates. Ids
// are allocated lazily on first demand, so an unused Result or
// Subscription never touches the wire.

// FireAndForget sends a payload nobody will answer.
func (c *connection) FireAndForget(p Payload) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	if err := c.leases.useRequest(); err != nil {
		return err
	}
	id, err := c.nextStreamID()
	if err != nil {
		return err
	}
	return c.writeFrame(&frame.RequestFNF{
		Stream:   id,
		Metadata: p.Metadata,
		Data:     p.Data,
	}, CLSDATA)
}

// MetadataPush sends connection metadata on stream 0. Only the metadata
// part of p is carried.
func (c *connection) MetadataPush(p Payload) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	return c.writeFrame(&frame.MetadataPush{Metadata: p.Metadata}, CLSDATA)
}

// RequestResponse opens a single response interaction. The request frame
// goes out on the first Block.
func (c *connection) RequestResponse(p Payload) *Result {
	r := newResult()
	r.fire = func() error {
		if c.isClosed() {
			return ErrConnectionClosed
		}
		if err := c.leases.useRequest(); err != nil {
			return err
		}
		id, err := c.nextStreamID()
		if err != nil {
			return err
		}
		c.registry.register(id, &streamHandle{result: r})
		r.cancel = func() {
			c.registry.remove(id)
			if err := c.writeFrame(&frame.Cancel{Stream: id}, CLSCTRL); err != nil {
				c.consume(err)
			}
		}
		err = c.writeFrame(&frame.RequestResponse{
			Stream:   id,
			Metadata: p.Metadata,
			Data:     p.Data,
		}, CLSDATA)
		if err != nil {
			c.registry.remove(id)
			return err
		}
		return nil
	}
	return r
}

// RequestStream opens a stream interaction. The first Request(n) emits the
// initiating frame with n as the initial credit.
func (c *connection) RequestStream(p Payload) *Subscription {
	s := newSubscription()
	s.fire = func(n uint32) error {
		if c.isClosed() {
			return ErrConnectionClosed
		}
		if err := c.leases.useRequest(); err != nil {
			return err
		}
		id, err := c.nextStreamID()
		if err != nil {
			return err
		}
		c.registry.register(id, &streamHandle{receiver: s})
		s.more = func(n uint32) {
			if err := c.writeFrame(&frame.RequestN{Stream: id, N: n}, CLSDATA); err != nil {
				c.consume(err)
			}
		}
		s.cancel = func() {
			c.registry.remove(id)
			if err := c.writeFrame(&frame.Cancel{Stream: id}, CLSCTRL); err != nil {
				c.consume(err)
			}
		}
		err = c.writeFrame(&frame.RequestStream{
			Stream:          id,
			InitialRequestN: n,
			Metadata:        p.Metadata,
			Data:            p.Data,
		}, CLSDATA)
		if err != nil {
			c.registry.remove(id)
			return err
		}
		return nil
	}
	return s
}

// RequestChannel opens a bidirectional interaction fed from in. The first
// element of in rides in the initiating frame, so the first Request(n)
// blocks until in yields it or is closed. Closing in completes the
// upstream; Abort on the returned subscription fails it.
func (c *connection) RequestChannel(in <-chan Payload) *Subscription {
	s := newSubscription()
	s.fire = func(n uint32) error {
		if c.isClosed() {
			return ErrConnectionClosed
		}
		if err := c.leases.useRequest(); err != nil {
			return err
		}

		first, ok := <-in

		id, err := c.nextStreamID()
		if err != nil {
			return err
		}

		handle := &streamHandle{receiver: s}
		var sink *Sink
		if ok {
			sink = newSink(id, 0, c.sendFrame, func() {
				if s.isDone() {
					c.registry.remove(id)
				}
			})
			handle.sender = sink
		}
		c.registry.register(id, handle)

		s.more = func(n uint32) {
			if err := c.writeFrame(&frame.RequestN{Stream: id, N: n}, CLSDATA); err != nil {
				c.consume(err)
			}
		}
		s.cancel = func() {
			c.registry.remove(id)
			if sink != nil {
				sink.closeWith(ErrStreamCanceled)
			}
			if err := c.writeFrame(&frame.Cancel{Stream: id}, CLSCTRL); err != nil {
				c.consume(err)
			}
		}
		s.abort = func(cause error) {
			s.fail(cause)
			c.registry.remove(id)
			if sink != nil {
				_ = sink.Error(cause)
			}
		}

		req := &frame.RequestChannel{
			Stream:          id,
			InitialRequestN: n,
		}
		if ok {
			req.Metadata = first.Metadata
			req.Data = first.Data
		} else {
			// upstream finished before producing an element
			req.Complete = true
		}
		if err := c.writeFrame(req, CLSDATA); err != nil {
			c.registry.remove(id)
			return err
		}
		if ok {
			go c.pumpChannel(in, sink)
		}
		return nil
	}
	return s
}

// pumpChannel forwards upstream elements through the credit window.
func (c *connection) pumpChannel(in <-chan Payload, sink *Sink) {
	for {
		select {
		case p, ok := <-in:
			if !ok {
				if err := sink.Complete(); err != nil {
					c.consume(err)
				}
				return
			}
			if err := sink.Next(p); err != nil {
				c.consume(err)
				return
			}
		case <-sink.die:
			return
		}
	}
}

// SendLease grants the peer permission for numRequests new streams within
// ttl, replacing any prior grant.
func (c *connection) SendLease(ttl time.Duration, numRequests uint32, metadata []byte) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	ttlMillis := uint32(ttl / time.Millisecond)
	c.leases.storeOutbound(ttlMillis, numRequests)
	return c.writeFrame(&frame.Lease{
		TTLMillis:   ttlMillis,
		NumRequests: numRequests,
		Metadata:    metadata,
	}, CLSCTRL)
}

// Availability is 1.0 on an open connection, scaled by remaining lease
// permits when leases gate requests, and 0.0 once closed.
func (c *connection) Availability() float64 {
	if c.isClosed() {
		return 0.0
	}
	return c.leases.requestAvailability()
}
