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

// Package rsocket implements a bidirectional, multiplexed message passing
// protocol over any reliable frame preserving transport. A connection
// carries four interaction models plus metadata push, with per-stream
// credit based backpressure, keepalive liveness detection and optional
// lease admission control.
package rsocket

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sagernet/rsocket/frame"
	"github.com/sagernet/rsocket/transport"
)

// RSocket is one side of an established connection. Both peers expose the
// same surface: what Connect returns and what an Acceptor receives for
// calling back to the client are the same type.
type RSocket interface {
	// FireAndForget sends a payload without expecting any response.
	FireAndForget(p Payload) error
	// MetadataPush sends connection level metadata; only the metadata
	// part of p is carried.
	MetadataPush(p Payload) error
	// RequestResponse exchanges one payload for one response.
	RequestResponse(p Payload) *Result
	// RequestStream exchanges one payload for a credit bounded stream.
	RequestStream(p Payload) *Subscription
	// RequestChannel opens a bidirectional stream fed from in.
	RequestChannel(in <-chan Payload) *Subscription
	// SendLease grants the peer numRequests new streams within ttl.
	SendLease(ttl time.Duration, numRequests uint32, metadata []byte) error
	// Availability reports readiness to accept requests in [0.0, 1.0].
	Availability() float64
	Close() error
	OnClose() <-chan struct{}
}

// Handler supplies the responder side of a connection. A nil
// RequestResponse, RequestStream or RequestChannel rejects that
// interaction with REJECTED; a nil FireAndForget or MetadataPush drops the
// payload.
type Handler struct {
	FireAndForget   func(p Payload)
	MetadataPush    func(p Payload)
	RequestResponse func(p Payload) (Payload, error)
	// RequestStream emits elements through the sink, bounded by the
	// requester's credit, and must finish with Complete or Error.
	RequestStream func(p Payload, out *Sink)
	// RequestChannel consumes the peer's elements from in, demanding them
	// with in.Request, and emits through out as RequestStream does.
	RequestChannel func(in *Subscription, out *Sink)
}

// SetupInfo is the decoded SETUP handshake handed to an Acceptor.
type SetupInfo struct {
	MajorVersion     uint16
	MinorVersion     uint16
	KeepalivePeriod  time.Duration
	MaxLifetime      time.Duration
	HonorLease       bool
	MetadataMimeType string
	DataMimeType     string
	Data             []byte
	Metadata         []byte
}

// Acceptor decides whether to accept a connection and with which handler.
// peer allows the acceptor side to issue requests back to the client over
// the same connection. Returning an error rejects the setup.
type Acceptor func(info SetupInfo, peer RSocket) (*Handler, error)

// Connect establishes the initiating side over an existing transport
// connection: SETUP goes out immediately and keepalives start ticking.
func Connect(tc transport.Conn, config *Config) (RSocket, error) {
	config = fillConfig(config)
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	c := newConnection(tc, config, true, nil)
	setup := &frame.Setup{
		MajorVersion:      protocolMajor,
		MinorVersion:      protocolMinor,
		KeepaliveInterval: uint32(config.KeepalivePeriod / time.Millisecond),
		MaxLifetime:       uint32(config.MaxLifetime / time.Millisecond),
		Lease:             config.HonorLease,
		MetadataMimeType:  config.MetadataMimeType,
		DataMimeType:      config.DataMimeType,
		Metadata:          config.SetupMetadata,
		Data:              config.SetupData,
	}
	if err := c.writeFrame(setup, CLSCTRL); err != nil {
		c.teardown(ErrConnectionClosed)
		return nil, err
	}
	c.start()
	return c, nil
}

// Accept establishes the accepting side over an existing transport
// connection. The first inbound frame must be SETUP; acceptor is consulted
// before any request is served.
func Accept(tc transport.Conn, config *Config, acceptor Acceptor) (RSocket, error) {
	config = fillConfig(config)
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	c := newConnection(tc, config, false, acceptor)
	c.start()
	return c, nil
}

// Serve accepts connections from l until ctx is cancelled or the listener
// fails, binding each to its own protocol connection.
func Serve(ctx context.Context, l transport.Listener, config *Config, acceptor Acceptor) error {
	config = fillConfig(config)
	if err := VerifyConfig(config); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return l.Close()
	})
	for {
		tc, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			cancel()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			rs, err := Accept(tc, config, acceptor)
			if err != nil {
				_ = tc.Close()
				return nil
			}
			select {
			case <-rs.OnClose():
			case <-ctx.Done():
				_ = rs.Close()
			}
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}
