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

	"github.com/sagernet/rsocket/frame"
)

// streamIDs hands out stream identifiers of one parity. The side that sent
// SETUP uses odd ids, the acceptor even ones. Ids grow monotonically; past
// the 31 bit ceiling the supplier rescans for the smallest unused id of the
// correct parity.
type streamIDs struct {
	mu      sync.Mutex
	cur     uint32 // last issued id, 0 before the first
	first   uint32 // 1 for odd parity, 2 for even
	wrapped bool
}

func newStreamIDs(initiator bool) *streamIDs {
	s := &streamIDs{first: 2}
	if initiator {
		s.first = 1
	}
	return s
}

// next returns the next free id. inUse reports whether an id still has an
// active stream; it must not block.
func (s *streamIDs) next(inUse func(uint32) bool) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := s.cur + 2
	if s.cur == 0 {
		candidate = s.first
	}
	if candidate > frame.MaxStreamID {
		s.wrapped = true
		candidate = s.first
	}
	if !s.wrapped {
		s.cur = candidate
		return candidate, nil
	}
	// wrapped: linear rescan for the smallest unused id of our parity
	start := candidate
	for inUse(candidate) {
		candidate += 2
		if candidate > frame.MaxStreamID {
			candidate = s.first
		}
		if candidate == start {
			return 0, ErrStreamsExhausted
		}
	}
	s.cur = candidate
	return candidate, nil
}

// isBeforeOrCurrent reports whether id could legitimately have been issued
// already. A frame for such an id after the stream is gone is a benign
// race; a frame for any other id of our parity is a framing error.
func (s *streamIDs) isBeforeOrCurrent(id uint32) bool {
	if id == 0 || id%2 != s.first%2 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wrapped {
		return true
	}
	return id <= s.cur
}

// ownParity reports whether id belongs to the locally initiated set.
func (s *streamIDs) ownParity(id uint32) bool {
	return id%2 == s.first%2
}
