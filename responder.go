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
	"fmt"

	"github.com/pkg/errors"

	"github.com/sagernet/rsocket/frame"
)

// The responder half: peer initiated interactions dispatched to the local
// handler. All entry points run on the recvLoop goroutine; handlers get
// their own.

// handleRequest accepts a stream initiating frame. It returns false only
// on a fatal protocol violation.
func (c *connection) handleRequest(f frame.Frame) bool {
	id := f.StreamID()
	if id <= c.lastPeerStream && c.lastPeerStream != 0 {
		if c.registry.has(id) {
			c.protocolError(fmt.Sprintf("duplicate request for active stream %d", id))
			return false
		}
		// request for an id the peer already burned, racing its own cancel
		c.log.WithField("stream", id).Debug("dropping request for finished stream")
		return true
	}
	c.lastPeerStream = id

	if err := c.leases.useResponse(); err != nil {
		c.sendStreamError(id, err)
		return true
	}

	h := c.handler
	switch f := f.(type) {
	case *frame.RequestFNF:
		if h == nil || h.FireAndForget == nil {
			// nothing is ever emitted on a fire-and-forget stream
			return true
		}
		go c.invokeFireAndForget(h.FireAndForget, Payload{Data: f.Data, Metadata: f.Metadata})

	case *frame.RequestResponse:
		sink := c.newResponderSink(id, 1, nil)
		c.registry.register(id, &streamHandle{sender: sink})
		if h == nil || h.RequestResponse == nil {
			_ = sink.Error(errRejected("request_response unsupported"))
			return true
		}
		go c.invokeRequestResponse(h.RequestResponse, Payload{Data: f.Data, Metadata: f.Metadata}, sink)

	case *frame.RequestStream:
		sink := c.newResponderSink(id, f.InitialRequestN, nil)
		c.registry.register(id, &streamHandle{sender: sink})
		if h == nil || h.RequestStream == nil {
			_ = sink.Error(errRejected("request_stream unsupported"))
			return true
		}
		go c.invokeRequestStream(h.RequestStream, Payload{Data: f.Data, Metadata: f.Metadata}, sink)

	case *frame.RequestChannel:
		input := newSubscription()
		sink := c.newResponderSink(id, f.InitialRequestN, input)
		handle := &streamHandle{receiver: input, sender: sink}

		input.fire = func(n uint32) error {
			return c.writeFrame(&frame.RequestN{Stream: id, N: n}, CLSDATA)
		}
		input.more = func(n uint32) {
			if err := c.writeFrame(&frame.RequestN{Stream: id, N: n}, CLSDATA); err != nil {
				c.consume(err)
			}
		}
		input.cancel = func() {
			if err := c.writeFrame(&frame.Cancel{Stream: id}, CLSCTRL); err != nil {
				c.consume(err)
			}
			if sink.done() {
				c.registry.remove(id)
			}
		}

		if f.Complete {
			// zero element upstream
			input.complete()
		} else {
			input.push(Payload{Data: f.Data, Metadata: f.Metadata})
		}
		c.registry.register(id, handle)
		if h == nil || h.RequestChannel == nil {
			_ = sink.Error(errRejected("request_channel unsupported"))
			return true
		}
		go c.invokeRequestChannel(h.RequestChannel, input, sink)
	}
	return true
}

// newResponderSink wires a sender whose registry entry outlives it while
// the paired receiver is still active.
func (c *connection) newResponderSink(id uint32, initial uint32, paired *Subscription) *Sink {
	return newSink(id, initial, c.sendFrame, func() {
		if paired == nil || paired.isDone() {
			c.registry.remove(id)
		}
	})
}

// sendStreamError reports a non-fatal per-stream failure to the peer.
func (c *connection) sendStreamError(id uint32, cause error) {
	code := frame.ErrorApplicationError
	msg := cause.Error()
	var we *Error
	if asError(cause, &we) {
		code = we.Code
		msg = we.Message
	}
	if err := c.writeFrame(&frame.Error{Stream: id, Code: code, Data: msg}, CLSCTRL); err != nil {
		c.consume(err)
	}
}

func (c *connection) invokeFireAndForget(h func(Payload), p Payload) {
	defer c.recoverInvoke(nil)
	h(p)
}

func (c *connection) invokeMetadataPush(h func(Payload), p Payload) {
	defer c.recoverInvoke(nil)
	h(p)
}

func (c *connection) invokeRequestResponse(h func(Payload) (Payload, error), p Payload, sink *Sink) {
	defer c.recoverInvoke(sink)
	resp, err := h(p)
	if sink.done() {
		// cancelled while the handler ran
		return
	}
	if err != nil {
		_ = sink.Error(err)
		return
	}
	_ = sink.respond(resp)
}

func (c *connection) invokeRequestStream(h func(Payload, *Sink), p Payload, sink *Sink) {
	defer c.recoverInvoke(sink)
	h(p, sink)
}

func (c *connection) invokeRequestChannel(h func(*Subscription, *Sink), input *Subscription, sink *Sink) {
	defer c.recoverInvoke(sink)
	h(input, sink)
}

// recoverInvoke converts a handler panic into a stream error instead of
// tearing the process down.
func (c *connection) recoverInvoke(sink *Sink) {
	r := recover()
	if r == nil {
		return
	}
	err := errors.Errorf("handler panic: %v", r)
	c.consume(err)
	if sink != nil && !sink.done() {
		_ = sink.Error(&Error{Code: frame.ErrorApplicationError, Message: err.Error()})
	}
}
