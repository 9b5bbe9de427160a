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
	"sync"
)

const pipeBacklog = 128

// pipeConn is one end of an in-process connection pair.
type pipeConn struct {
	rd         <-chan []byte
	wr         chan<- []byte
	localDone  chan struct{}
	remoteDone chan struct{}
	closeOnce  sync.Once
}

// Pipe returns a connected pair of in-process frame connections. Closing
// either end fails pending and future writes on both; reads still return
// frames buffered before the close, then report it.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, pipeBacklog)
	ba := make(chan []byte, pipeBacklog)
	doneA := make(chan struct{})
	doneB := make(chan struct{})
	a := &pipeConn{rd: ba, wr: ab, localDone: doneA, remoteDone: doneB}
	b := &pipeConn{rd: ab, wr: ba, localDone: doneB, remoteDone: doneA}
	return a, b
}

func (p *pipeConn) ReadFrame() ([]byte, error) {
	// drain buffered frames before reporting close
	select {
	case b := <-p.rd:
		return b, nil
	default:
	}
	select {
	case b := <-p.rd:
		return b, nil
	case <-p.localDone:
		return nil, io.ErrClosedPipe
	case <-p.remoteDone:
		return nil, io.EOF
	}
}

func (p *pipeConn) WriteFrame(b []byte) error {
	// a closed end wins over free buffer space
	select {
	case <-p.localDone:
		return io.ErrClosedPipe
	case <-p.remoteDone:
		return io.ErrClosedPipe
	default:
	}
	dup := make([]byte, len(b))
	copy(dup, b)
	select {
	case p.wr <- dup:
		return nil
	case <-p.localDone:
		return io.ErrClosedPipe
	case <-p.remoteDone:
		return io.ErrClosedPipe
	}
}

func (p *pipeConn) Close() error {
	p.closeOnce.Do(func() {
		close(p.localDone)
	})
	return nil
}
