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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sagernet/rsocket/frame"
)

func noneInUse(uint32) bool { return false }

func TestStreamIDParity(t *testing.T) {
	client := newStreamIDs(true)
	for _, want := range []uint32{1, 3, 5, 7} {
		id, err := client.next(noneInUse)
		require.NoError(t, err)
		require.Equal(t, want, id)
	}

	server := newStreamIDs(false)
	for _, want := range []uint32{2, 4, 6} {
		id, err := server.next(noneInUse)
		require.NoError(t, err)
		require.Equal(t, want, id)
	}

	require.True(t, client.ownParity(9))
	require.False(t, client.ownParity(8))
	require.True(t, server.ownParity(8))
}

func TestStreamIDBeforeOrCurrent(t *testing.T) {
	s := newStreamIDs(true)
	_, _ = s.next(noneInUse)
	_, _ = s.next(noneInUse) // cur == 3

	require.True(t, s.isBeforeOrCurrent(1))
	require.True(t, s.isBeforeOrCurrent(3))
	require.False(t, s.isBeforeOrCurrent(5))
	require.False(t, s.isBeforeOrCurrent(2)) // wrong parity
	require.False(t, s.isBeforeOrCurrent(0))
}

func TestStreamIDWrap(t *testing.T) {
	s := newStreamIDs(true)
	s.cur = frame.MaxStreamID - 2 // 0x7FFFFFFD

	id, err := s.next(noneInUse)
	require.NoError(t, err)
	require.Equal(t, uint32(frame.MaxStreamID), id)

	// ceiling reached, rescan from the bottom skipping live ids
	busy := map[uint32]bool{1: true, 3: true}
	id, err = s.next(func(id uint32) bool { return busy[id] })
	require.NoError(t, err)
	require.Equal(t, uint32(5), id)

	// after the wrap any id of our parity may have been issued
	require.True(t, s.isBeforeOrCurrent(9))
}
