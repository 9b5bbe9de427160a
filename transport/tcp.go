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

package transport

import (
	"io"
	"net"
	"sync"

	"github.com/sagernet/sing/common/bufio"
	N "github.com/sagernet/sing/common/network"
)

const lengthPrefixSize = 3

// tcpConn frames a stream connection with a 3 byte big-endian length prefix.
type tcpConn struct {
	conn     net.Conn
	maxFrame uint32

	writeLock sync.Mutex
	vw        N.VectorisedWriter
	vec       [][]byte
	buf       []byte
	hdr       [lengthPrefixSize]byte
}

// NewTCPConn adapts a stream connection. maxFrameSize of 0 selects
// DefaultMaxFrameSize.
func NewTCPConn(conn net.Conn, maxFrameSize uint32) Conn {
	t := &tcpConn{
		conn:     conn,
		maxFrame: frameLimit(maxFrameSize),
	}
	// support for scatter-gather I/O
	if bw, ok := bufio.CreateVectorisedWriter(conn); ok {
		t.vw = bw
		t.vec = make([][]byte, 2)
	}
	return t
}

func (t *tcpConn) SetFrameLimit(n uint32) {
	t.maxFrame = frameLimit(n)
}

func (t *tcpConn) ReadFrame() ([]byte, error) {
	var hdr [lengthPrefixSize]byte
	if _, err := io.ReadFull(t.conn, hdr[:]); err != nil {
		return nil, err
	}
	n := uint32(hdr[0])<<16 | uint32(hdr[1])<<8 | uint32(hdr[2])
	if n > t.maxFrame {
		return nil, ErrFrameTooLarge
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(t.conn, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (t *tcpConn) WriteFrame(b []byte) error {
	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	t.hdr[0] = byte(len(b) >> 16)
	t.hdr[1] = byte(len(b) >> 8)
	t.hdr[2] = byte(len(b))

	if t.vw != nil {
		t.vec[0] = t.hdr[:]
		t.vec[1] = b
		_, err := bufio.WriteVectorised(t.vw, t.vec)
		return err
	}

	need := lengthPrefixSize + len(b)
	if cap(t.buf) < need {
		t.buf = make([]byte, need)
	}
	buf := t.buf[:need]
	copy(buf, t.hdr[:])
	copy(buf[lengthPrefixSize:], b)
	_, err := t.conn.Write(buf)
	return err
}

func (t *tcpConn) Close() error {
	return t.conn.Close()
}

type tcpListener struct {
	ln       net.Listener
	maxFrame uint32
}

// ListenTCP listens on addr and frames accepted connections.
func ListenTCP(addr string, maxFrameSize uint32) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln: ln, maxFrame: maxFrameSize}, nil
}

func (l *tcpListener) Accept() (Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewTCPConn(conn, l.maxFrame), nil
}

func (l *tcpListener) Close() error { return l.ln.Close() }

func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }

// DialTCP connects to addr and frames the connection.
func DialTCP(addr string, maxFrameSize uint32) (Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewTCPConn(conn, maxFrameSize), nil
}
