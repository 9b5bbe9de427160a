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
	"time"

	"github.com/stretchr/testify/require"
)

func TestLeaseUngated(t *testing.T) {
	m := newLeaseManager(false)
	require.NoError(t, m.useRequest())
	require.NoError(t, m.useResponse())
	require.Equal(t, 1.0, m.requestAvailability())
}

func TestLeaseGatedRequests(t *testing.T) {
	m := newLeaseManager(true)

	err := m.useRequest()
	require.True(t, IsRejected(err))
	require.Equal(t, 0.0, m.requestAvailability())

	m.storeInbound(10_000, 2)
	require.Equal(t, 1.0, m.requestAvailability())
	require.NoError(t, m.useRequest())
	require.Equal(t, 0.5, m.requestAvailability())
	require.NoError(t, m.useRequest())

	err = m.useRequest()
	require.True(t, IsRejected(err))
	require.Equal(t, 0.0, m.requestAvailability())
}

func TestLeaseExpiry(t *testing.T) {
	m := newLeaseManager(true)
	m.storeInbound(1, 100) // 1ms TTL
	time.Sleep(5 * time.Millisecond)
	err := m.useRequest()
	require.True(t, IsRejected(err))
	require.Equal(t, 0.0, m.requestAvailability())
}

func TestLeaseReplacement(t *testing.T) {
	m := newLeaseManager(true)
	m.storeInbound(10_000, 1)
	require.NoError(t, m.useRequest())
	require.True(t, IsRejected(m.useRequest()))

	// a fresh lease replaces the exhausted window atomically
	m.storeInbound(10_000, 1)
	require.NoError(t, m.useRequest())
}

func TestLeaseGatedResponses(t *testing.T) {
	m := newLeaseManager(false)
	m.gateResponses.Store(true)

	require.True(t, IsRejected(m.useResponse()))
	m.storeOutbound(10_000, 1)
	require.NoError(t, m.useResponse())
	require.True(t, IsRejected(m.useResponse()))
}
