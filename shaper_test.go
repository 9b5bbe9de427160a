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
	"container/heap"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShaperControlOvertakesData(t *testing.T) {
	var h shaperHeap
	heap.Push(&h, writeRequest{class: CLSDATA, seq: 1})
	heap.Push(&h, writeRequest{class: CLSDATA, seq: 2})
	heap.Push(&h, writeRequest{class: CLSCTRL, seq: 3})

	first := heap.Pop(&h).(writeRequest)
	require.Equal(t, CLSCTRL, first.class)

	// data frames keep their submission order among themselves
	second := heap.Pop(&h).(writeRequest)
	third := heap.Pop(&h).(writeRequest)
	require.Equal(t, uint32(1), second.seq)
	require.Equal(t, uint32(2), third.seq)
}

func TestShaperSequenceWrap(t *testing.T) {
	var h shaperHeap
	heap.Push(&h, writeRequest{class: CLSDATA, seq: ^uint32(0)})
	heap.Push(&h, writeRequest{class: CLSDATA, seq: 0})

	// a wrapped sequence counter still preserves submission order
	first := heap.Pop(&h).(writeRequest)
	require.Equal(t, ^uint32(0), first.seq)
}
