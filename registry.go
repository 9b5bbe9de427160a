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

import "sync"

// streamHandle is the dispatcher entry for one active stream id. The set
// fields encode the interaction shape: a lone result is request/response,
// a lone receiver a stream, receiver plus sender a channel, a lone sender
// the responding half of a peer's request.
type streamHandle struct {
	result   *Result
	receiver *Subscription
	sender   *Sink
}

// closeWith terminates every half of the entry during teardown.
func (h *streamHandle) closeWith(err error) {
	if h.result != nil {
		h.result.fail(err)
	}
	if h.receiver != nil {
		h.receiver.fail(err)
	}
	if h.sender != nil {
		h.sender.closeWith(err)
	}
}

// registry maps active stream ids to their dispatcher entries. The
// critical sections are short and never block.
type registry struct {
	mu      sync.Mutex
	streams map[uint32]*streamHandle
}

func newRegistry() *registry {
	return &registry{streams: make(map[uint32]*streamHandle)}
}

// register installs an entry, refusing duplicates.
func (r *registry) register(id uint32, h *streamHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[id]; ok {
		return false
	}
	r.streams[id] = h
	return true
}

func (r *registry) get(id uint32) *streamHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[id]
}

func (r *registry) has(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.streams[id]
	return ok
}

func (r *registry) remove(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// drain empties the registry and returns the entries for teardown.
func (r *registry) drain() []*streamHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*streamHandle, 0, len(r.streams))
	for _, h := range r.streams {
		out = append(out, h)
	}
	r.streams = make(map[uint32]*streamHandle)
	return out
}
