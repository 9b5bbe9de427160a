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
	"sync"
	"sync/atomic"

	"github.com/sagernet/rsocket/frame"
)

// Sink is the emitting half of a stream or channel. Emission is bounded by
// the credit the peer granted; Next blocks while the window is empty and
// wakes up on REQUEST_N.
type Sink struct {
	id     uint32
	send   func(f frame.Frame, class CLASSID) error
	detach func() // registry cleanup on terminal

	credit   int32
	chCredit chan struct{}

	die      chan struct{}
	dieOnce  sync.Once
	reason   atomic.Value // error
}

func newSink(id uint32, initial uint32, send func(frame.Frame, CLASSID) error, detach func()) *Sink {
	s := &Sink{
		id:       id,
		send:     send,
		detach:   detach,
		credit:   int32(initial),
		chCredit: make(chan struct{}, 1),
		die:      make(chan struct{}),
	}
	return s
}

func (s *Sink) notifyCredit() {
	select {
	case s.chCredit <- struct{}{}:
	default:
	}
}

// take claims one unit of credit, blocking until granted or terminated.
func (s *Sink) take() error {
	for {
		c := atomic.LoadInt32(&s.credit)
		if c > 0 {
			if atomic.CompareAndSwapInt32(&s.credit, c, c-1) {
				return nil
			}
			continue
		}
		select {
		case <-s.chCredit:
		case <-s.die:
			if err, ok := s.reason.Load().(error); ok {
				return err
			}
			return ErrStreamCanceled
		}
	}
}

// Next emits one element once credit allows it.
func (s *Sink) Next(p Payload) error {
	if err := s.take(); err != nil {
		return err
	}
	// terminal may have raced the credit grant
	select {
	case <-s.die:
		if err, ok := s.reason.Load().(error); ok {
			return err
		}
		return ErrStreamCanceled
	default:
	}
	return s.send(&frame.Payload{
		Stream:   s.id,
		Next:     true,
		Metadata: p.Metadata,
		Data:     p.Data,
	}, CLSDATA)
}

// Complete terminates the stream normally.
func (s *Sink) Complete() error {
	var err error
	s.dieOnce.Do(func() {
		err = s.send(&frame.Payload{Stream: s.id, Complete: true}, CLSDATA)
		close(s.die)
		s.detach()
	})
	return err
}

// Error terminates the stream with an application error. A *Error keeps
// its code; anything else maps to APPLICATION_ERROR.
func (s *Sink) Error(cause error) error {
	var err error
	s.dieOnce.Do(func() {
		code := frame.ErrorApplicationError
		msg := ""
		if cause != nil {
			msg = cause.Error()
		}
		var we *Error
		if asError(cause, &we) {
			code = we.Code
			msg = we.Message
		}
		if cause != nil {
			s.reason.Store(cause)
		}
		err = s.send(&frame.Error{Stream: s.id, Code: code, Data: msg}, CLSCTRL)
		close(s.die)
		s.detach()
	})
	return err
}

// respond emits the single response of a request/response interaction.
func (s *Sink) respond(p Payload) error {
	var err error
	s.dieOnce.Do(func() {
		err = s.send(&frame.Payload{
			Stream:   s.id,
			Next:     true,
			Complete: true,
			Metadata: p.Metadata,
			Data:     p.Data,
		}, CLSDATA)
		close(s.die)
		s.detach()
	})
	return err
}

// addCredit applies an inbound REQUEST_N grant.
func (s *Sink) addCredit(n uint32) {
	for {
		c := atomic.LoadInt32(&s.credit)
		next := int64(c) + int64(n)
		if next > frame.MaxRequestN {
			next = frame.MaxRequestN
		}
		if atomic.CompareAndSwapInt32(&s.credit, c, int32(next)) {
			break
		}
	}
	s.notifyCredit()
}

// cancelled stops emission without a frame; the peer asked for it.
func (s *Sink) cancelled() {
	s.dieOnce.Do(func() {
		close(s.die)
		s.detach()
	})
}

// closeWith stops emission during connection teardown.
func (s *Sink) closeWith(err error) {
	s.dieOnce.Do(func() {
		s.reason.Store(err)
		close(s.die)
	})
}

// done reports whether the sink reached a terminal state.
func (s *Sink) done() bool {
	select {
	case <-s.die:
		return true
	default:
		return false
	}
}
