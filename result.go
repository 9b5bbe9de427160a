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
	"context"
	"sync"
)

// Result is a deferred single response. The request frame goes out on the
// first Block call.
type Result struct {
	mu       sync.Mutex
	fired    bool
	firing   bool
	done     bool
	canceled bool
	payload  Payload
	err      error
	chDone   chan struct{}

	fire   func() error
	cancel func()
}

func newResult() *Result {
	return &Result{chDone: make(chan struct{})}
}

// Block sends the request if it has not gone out yet and waits for the
// response. Cancelling ctx cancels the interaction on the wire.
func (r *Result) Block(ctx context.Context) (Payload, error) {
	r.mu.Lock()
	if !r.fired && !r.done {
		r.fired = true
		r.firing = true
		fire := r.fire
		r.mu.Unlock()

		err := fire()

		r.mu.Lock()
		r.firing = false
		canceled := r.canceled
		r.mu.Unlock()
		if err != nil {
			r.fail(err)
		} else if canceled && r.cancel != nil {
			// a Cancel raced with the request frame; finish it now
			r.cancel()
		}
	} else {
		r.mu.Unlock()
	}

	select {
	case <-r.chDone:
	case <-ctx.Done():
		r.Cancel()
		return Payload{}, ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payload, r.err
}

// Cancel abandons the interaction; a CANCEL frame follows if the request
// was already sent.
func (r *Result) Cancel() {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.canceled = true
	r.err = ErrStreamCanceled
	fired, firing := r.fired, r.firing
	r.mu.Unlock()
	close(r.chDone)
	if fired && !firing && r.cancel != nil {
		r.cancel()
	}
}

// onPayload feeds response frames: NEXT stashes the value, COMPLETE
// terminates with whatever was stashed.
func (r *Result) onPayload(p Payload, next, complete bool) {
	if next && complete {
		r.complete(p)
		return
	}
	if next {
		r.mu.Lock()
		if !r.done {
			r.payload = p
		}
		r.mu.Unlock()
		return
	}
	if complete {
		r.mu.Lock()
		stored := r.payload
		r.mu.Unlock()
		r.complete(stored)
	}
}

func (r *Result) complete(p Payload) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.payload = p
	r.mu.Unlock()
	close(r.chDone)
}

func (r *Result) fail(err error) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.err = err
	r.mu.Unlock()
	close(r.chDone)
}
