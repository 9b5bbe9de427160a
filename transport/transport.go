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

// Package transport provides frame preserving duplex connections for the
// protocol engine: TCP with a 3 byte length prefix, WebSocket with one
// binary message per frame, and an in-process pipe.
package transport

import (
	"errors"
	"net"
)

// DefaultMaxFrameSize bounds inbound frames when the caller passes 0.
const DefaultMaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned when an inbound frame exceeds the limit.
var ErrFrameTooLarge = errors.New("inbound frame exceeds size limit")

// Conn is a reliable duplex connection that preserves frame boundaries.
// One call, one whole protocol frame, without any outer length prefix.
type Conn interface {
	// ReadFrame returns the next inbound frame. The returned buffer is owned
	// by the caller.
	ReadFrame() ([]byte, error)
	// WriteFrame transmits one frame. It does not retain b after returning.
	// Calls from multiple goroutines are serialized.
	WriteFrame(b []byte) error
	Close() error
}

// FrameLimiter is implemented by connections that can bound the size of
// inbound frames. The limit must be applied before reading starts.
type FrameLimiter interface {
	SetFrameLimit(n uint32)
}

// Listener accepts frame preserving connections.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

func frameLimit(maxFrameSize uint32) uint32 {
	if maxFrameSize == 0 {
		return DefaultMaxFrameSize
	}
	return maxFrameSize
}
