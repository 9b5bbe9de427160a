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
	"sync/atomic"
	"time"
)

// lease is one permit window. permits counts down atomically; the window
// is valid while permits remain and the TTL has not elapsed.
type lease struct {
	permits   int32
	granted   uint32
	expiresAt time.Time
}

func (l *lease) valid(now time.Time) bool {
	return l != nil && atomic.LoadInt32(&l.permits) > 0 && now.Before(l.expiresAt)
}

// use claims one permit, or reports why it cannot.
func (l *lease) use(now time.Time) error {
	if l == nil {
		return errRejected("no lease")
	}
	if !now.Before(l.expiresAt) {
		return errRejected("lease expired")
	}
	for {
		p := atomic.LoadInt32(&l.permits)
		if p <= 0 {
			return errRejected("lease exhausted")
		}
		if atomic.CompareAndSwapInt32(&l.permits, p, p-1) {
			return nil
		}
	}
}

// leaseManager keeps the two permit windows of a connection: the inbound
// window gates locally initiated requests, the outbound window gates the
// peer's. A fresh LEASE frame replaces the prior window wholesale.
type leaseManager struct {
	gateRequests  bool        // requests wait for permits granted by the peer
	gateResponses atomic.Bool // inbound requests consume permits we granted
	inbound       atomic.Pointer[lease]
	outbound      atomic.Pointer[lease]
}

func newLeaseManager(gateRequests bool) *leaseManager {
	return &leaseManager{gateRequests: gateRequests}
}

// useRequest gates a locally initiated stream.
func (m *leaseManager) useRequest() error {
	if m == nil || !m.gateRequests {
		return nil
	}
	return m.inbound.Load().use(time.Now())
}

// useResponse gates a peer initiated stream.
func (m *leaseManager) useResponse() error {
	if m == nil || !m.gateResponses.Load() {
		return nil
	}
	return m.outbound.Load().use(time.Now())
}

func (m *leaseManager) storeInbound(ttlMillis, permits uint32) {
	m.inbound.Store(&lease{
		permits:   int32(permits),
		granted:   permits,
		expiresAt: time.Now().Add(time.Duration(ttlMillis) * time.Millisecond),
	})
}

func (m *leaseManager) storeOutbound(ttlMillis, permits uint32) {
	m.outbound.Store(&lease{
		permits:   int32(permits),
		granted:   permits,
		expiresAt: time.Now().Add(time.Duration(ttlMillis) * time.Millisecond),
	})
}

// requestAvailability is the remaining fraction of the inbound window,
// 1.0 when leases are not in play.
func (m *leaseManager) requestAvailability() float64 {
	if m == nil || !m.gateRequests {
		return 1.0
	}
	l := m.inbound.Load()
	if !l.valid(time.Now()) {
		return 0.0
	}
	return float64(atomic.LoadInt32(&l.permits)) / float64(l.granted)
}
