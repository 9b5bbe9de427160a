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
	"io"
	"sync"

	"github.com/sagernet/rsocket/frame"
)

// Subscription is the receiving half of a stream or channel interaction.
// It is lazy: nothing reaches the wire until the first Request, whose
// amount becomes the initial credit of the initiating frame (on a
// responder's channel input, the first REQUEST_N). Later demand
// accumulates and is flushed as REQUEST_N once it reaches a quarter of the
// last credit sent.
type Subscription struct {
	mu      sync.Mutex
	queue   []Payload
	err     error
	done    bool
	chEvent chan struct{}

	started    bool
	firing     bool
	canceled   bool
	pending    uint32
	lastCredit uint32

	// wiring installed by the requester or responder
	fire   func(n uint32) error // initiating frame or first credit grant
	more   func(n uint32)       // subsequent REQUEST_N
	cancel func()               // CANCEL frame and registry cleanup
	abort  func(err error)      // channel upstream abort, nil otherwise
}

func newSubscription() *Subscription {
	return &Subscription{chEvent: make(chan struct{}, 1)}
}

func (s *Subscription) notify() {
	select {
	case s.chEvent <- struct{}{}:
	default:
	}
}

func satAddN(a, b uint32) uint32 {
	if a > frame.MaxRequestN-b {
		return frame.MaxRequestN
	}
	return a + b
}

// Request grants the sender permission for n more elements.
func (s *Subscription) Request(n int) {
	if n <= 0 {
		return
	}
	amount := uint32(frame.MaxRequestN)
	if n < frame.MaxRequestN {
		amount = uint32(n)
	}

	s.mu.Lock()
	if s.done || s.canceled {
		s.mu.Unlock()
		return
	}
	if s.firing {
		s.pending = satAddN(s.pending, amount)
		s.mu.Unlock()
		return
	}
	if !s.started {
		s.started = true
		s.firing = true
		s.lastCredit = amount
		fire := s.fire
		s.mu.Unlock()

		err := fire(amount)

		s.mu.Lock()
		s.firing = false
		canceled := s.canceled
		var flush uint32
		if err == nil && !canceled {
			flush = s.flushLocked()
		}
		s.mu.Unlock()

		if err != nil {
			s.fail(err)
			return
		}
		if canceled {
			// a Cancel raced with the initiating frame; finish it now
			if s.cancel != nil {
				s.cancel()
			}
			return
		}
		if flush > 0 {
			s.more(flush)
		}
		return
	}
	s.pending = satAddN(s.pending, amount)
	flush := s.flushLocked()
	s.mu.Unlock()
	if flush > 0 {
		s.more(flush)
	}
}

// flushLocked applies the quarter-credit policy. Caller holds mu.
func (s *Subscription) flushLocked() uint32 {
	threshold := s.lastCredit / 4
	if threshold == 0 {
		threshold = 1
	}
	if s.pending < threshold {
		return 0
	}
	flush := s.pending
	s.pending = 0
	s.lastCredit = flush
	return flush
}

// Next returns the next element. It blocks until one is available, the
// stream terminates, or ctx is done. A completed and drained stream yields
// io.EOF.
func (s *Subscription) Next(ctx context.Context) (Payload, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			p := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return p, nil
		}
		if s.done {
			err := s.err
			s.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return Payload{}, err
		}
		s.mu.Unlock()
		select {
		case <-s.chEvent:
		case <-ctx.Done():
			return Payload{}, ctx.Err()
		}
	}
}

// Collect drains the subscription until it terminates.
func (s *Subscription) Collect(ctx context.Context) ([]Payload, error) {
	var out []Payload
	for {
		p, err := s.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
}

// Cancel abandons the interaction. If the initiating frame went out, a
// CANCEL frame follows; otherwise nothing ever reaches the wire.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.canceled = true
	s.err = ErrStreamCanceled
	s.queue = nil
	started, firing := s.started, s.firing
	s.mu.Unlock()
	s.notify()
	if started && !firing && s.cancel != nil {
		s.cancel()
	}
}

// Abort terminates a channel's upstream with an application error. It is a
// no-op for non-channel interactions.
func (s *Subscription) Abort(err error) {
	if s.abort != nil {
		s.abort(err)
	}
}

// isDone reports whether a terminal state was reached.
func (s *Subscription) isDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the terminal error, nil before termination or on completion.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		return nil
	}
	return s.err
}

// push delivers an inbound element; late frames for finished streams are
// dropped.
func (s *Subscription) push(p Payload) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, p)
	s.mu.Unlock()
	s.notify()
}

// complete marks normal termination; queued elements still drain.
func (s *Subscription) complete() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()
	s.notify()
}

// fail terminates with err after queued elements drain.
func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.err = err
	s.mu.Unlock()
	s.notify()
}
