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
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sagernet/rsocket/frame"
	"github.com/sagernet/rsocket/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() *Config {
	return &Config{
		KeepalivePeriod: 100 * time.Millisecond,
		MaxLifetime:     10 * time.Second,
	}
}

// startPair wires a client and a server engine over an in-process pipe.
func startPair(t *testing.T, clientConfig *Config, handler *Handler) (client, server RSocket) {
	t.Helper()
	a, b := transport.Pipe()

	serverCh := make(chan RSocket, 1)
	srv, err := Accept(b, testConfig(), func(info SetupInfo, peer RSocket) (*Handler, error) {
		serverCh <- peer
		return handler, nil
	})
	require.NoError(t, err)

	if clientConfig == nil {
		clientConfig = testConfig()
	}
	cli, err := Connect(a, clientConfig)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cli.Close()
		_ = srv.Close()
		<-cli.OnClose()
		<-srv.OnClose()
	})
	select {
	case peer := <-serverCh:
		require.Same(t, srv, peer)
	case <-time.After(5 * time.Second):
		t.Fatal("setup did not reach the server")
	}
	return cli, srv
}

func echoHandler() *Handler {
	return &Handler{
		RequestResponse: func(p Payload) (Payload, error) {
			return NewPayload(append(p.Data, []byte(" world")...), p.Metadata), nil
		},
	}
}

func TestRequestResponse(t *testing.T) {
	cli, srv := startPair(t, nil, echoHandler())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := cli.RequestResponse(NewStringPayload("hello")).Block(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello world", p.String())

	// the interaction leaves no active stream behind on either side
	require.Eventually(t, func() bool {
		return cli.(*connection).registry.count() == 0 && srv.(*connection).registry.count() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestRequestResponsePayloadRoundTrip(t *testing.T) {
	cli, _ := startPair(t, nil, &Handler{
		RequestResponse: func(p Payload) (Payload, error) { return p, nil },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sent := NewPayload([]byte("data"), []byte("md"))
	got, err := cli.RequestResponse(sent).Block(ctx)
	require.NoError(t, err)
	require.Equal(t, sent.Data, got.Data)
	require.Equal(t, sent.Metadata, got.Metadata)
}

func TestRequestResponseApplicationError(t *testing.T) {
	cli, _ := startPair(t, nil, &Handler{
		RequestResponse: func(p Payload) (Payload, error) {
			return Payload{}, fmt.Errorf("no such route")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := cli.RequestResponse(NewStringPayload("x")).Block(ctx)
	var we *Error
	require.ErrorAs(t, err, &we)
	require.Equal(t, frame.ErrorApplicationError, we.Code)
	require.Equal(t, "no such route", we.Message)
}

func TestRequestResponseUnsupported(t *testing.T) {
	cli, _ := startPair(t, nil, &Handler{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := cli.RequestResponse(NewStringPayload("x")).Block(ctx)
	require.True(t, IsRejected(err))
}

func TestFireAndForget(t *testing.T) {
	got := make(chan Payload, 1)
	cli, _ := startPair(t, nil, &Handler{
		FireAndForget: func(p Payload) { got <- p },
	})

	require.NoError(t, cli.FireAndForget(NewStringPayload("log-line")))
	select {
	case p := <-got:
		require.Equal(t, "log-line", p.String())
	case <-time.After(5 * time.Second):
		t.Fatal("handler never saw the payload")
	}
}

func TestMetadataPush(t *testing.T) {
	got := make(chan Payload, 1)
	cli, _ := startPair(t, nil, &Handler{
		MetadataPush: func(p Payload) { got <- p },
	})

	require.NoError(t, cli.MetadataPush(NewPayload(nil, []byte("routing-update"))))
	select {
	case p := <-got:
		require.Equal(t, []byte("routing-update"), p.Metadata)
	case <-time.After(5 * time.Second):
		t.Fatal("handler never saw the metadata")
	}
}

// countingStreamHandler emits "hello world <i>" forever, bounded by credit.
func countingStreamHandler() *Handler {
	return &Handler{
		RequestStream: func(p Payload, out *Sink) {
			for i := 0; ; i++ {
				msg := fmt.Sprintf("%s %d", p.String(), i)
				if err := out.Next(NewStringPayload(msg)); err != nil {
					return
				}
			}
		},
	}
}

func TestRequestStreamPartialConsumption(t *testing.T) {
	cli, _ := startPair(t, nil, countingStreamHandler())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := cli.RequestStream(NewStringPayload("hello world"))
	sub.Request(2)

	p, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello world 0", p.String())
	p, err = sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello world 1", p.String())

	sub.Cancel()
	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, ErrStreamCanceled)

	require.Eventually(t, func() bool {
		return cli.(*connection).registry.count() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestRequestStreamSingleCredit(t *testing.T) {
	cli, _ := startPair(t, nil, countingStreamHandler())

	sub := cli.RequestStream(NewStringPayload("v"))
	sub.Request(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "v 0", p.String())

	// no credit left: the responder must pause
	short, cancelShort := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelShort()
	_, err = sub.Next(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// one more credit, one more element
	sub.Request(1)
	p, err = sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "v 1", p.String())
	sub.Cancel()
}

func TestRequestStreamComplete(t *testing.T) {
	cli, _ := startPair(t, nil, &Handler{
		RequestStream: func(p Payload, out *Sink) {
			for i := 0; i < 3; i++ {
				if err := out.Next(NewStringPayload(fmt.Sprintf("e%d", i))); err != nil {
					return
				}
			}
			_ = out.Complete()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := cli.RequestStream(NewStringPayload("go"))
	sub.Request(64)
	got, err := sub.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "e0", got[0].String())
	require.Equal(t, "e2", got[2].String())
}

func TestRequestStreamEmpty(t *testing.T) {
	cli, _ := startPair(t, nil, &Handler{
		RequestStream: func(p Payload, out *Sink) {
			_ = out.Complete()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := cli.RequestStream(NewStringPayload("go"))
	sub.Request(1)
	got, err := sub.Collect(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestRequestChannelEcho(t *testing.T) {
	cli, _ := startPair(t, nil, &Handler{
		RequestChannel: func(in *Subscription, out *Sink) {
			in.Request(frame.MaxRequestN)
			ctx := context.Background()
			for {
				p, err := in.Next(ctx)
				if err != nil {
					break
				}
				if err := out.Next(NewStringPayload(p.String() + "_echo")); err != nil {
					return
				}
			}
			_ = out.Complete()
		},
	})

	in := make(chan Payload, 3)
	for i := 1; i <= 3; i++ {
		in <- NewStringPayload(fmt.Sprintf("%d", i))
	}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := cli.RequestChannel(in)
	sub.Request(frame.MaxRequestN)
	got, err := sub.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "1_echo", got[0].String())
	require.Equal(t, "2_echo", got[1].String())
	require.Equal(t, "3_echo", got[2].String())

	require.Eventually(t, func() bool {
		return cli.(*connection).registry.count() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestRequestChannelEmptyUpstream(t *testing.T) {
	sawComplete := make(chan struct{})
	cli, _ := startPair(t, nil, &Handler{
		RequestChannel: func(in *Subscription, out *Sink) {
			in.Request(16)
			_, err := in.Next(context.Background())
			if err == io.EOF {
				close(sawComplete)
			}
			_ = out.Complete()
		},
	})

	in := make(chan Payload)
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := cli.RequestChannel(in)
	sub.Request(16)
	got, err := sub.Collect(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
	select {
	case <-sawComplete:
	case <-time.After(5 * time.Second):
		t.Fatal("responder never saw the empty upstream complete")
	}
}

func TestServerCallback(t *testing.T) {
	a, b := transport.Pipe()

	peerCh := make(chan RSocket, 1)
	srv, err := Accept(b, testConfig(), func(info SetupInfo, peer RSocket) (*Handler, error) {
		peerCh <- peer
		return nil, nil
	})
	require.NoError(t, err)

	clientConfig := testConfig()
	clientConfig.Handler = &Handler{
		RequestResponse: func(p Payload) (Payload, error) {
			return NewStringPayload(p.String() + " from client"), nil
		},
	}
	cli, err := Connect(a, clientConfig)
	require.NoError(t, err)
	defer func() {
		_ = cli.Close()
		_ = srv.Close()
		<-cli.OnClose()
		<-srv.OnClose()
	}()

	peer := <-peerCh
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := peer.RequestResponse(NewStringPayload("hi")).Block(ctx)
	require.NoError(t, err)
	require.Equal(t, "hi from client", p.String())
}

func TestSetupPayloadAndMimeTypes(t *testing.T) {
	a, b := transport.Pipe()

	infoCh := make(chan SetupInfo, 1)
	srv, err := Accept(b, testConfig(), func(info SetupInfo, peer RSocket) (*Handler, error) {
		infoCh <- info
		return nil, nil
	})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.DataMimeType = "application/json"
	cfg.SetupData = []byte(`{"token":"t"}`)
	cfg.SetupMetadata = []byte("auth")
	cli, err := Connect(a, cfg)
	require.NoError(t, err)
	defer func() {
		_ = cli.Close()
		_ = srv.Close()
		<-cli.OnClose()
		<-srv.OnClose()
	}()

	info := <-infoCh
	require.Equal(t, uint16(1), info.MajorVersion)
	require.Equal(t, "application/json", info.DataMimeType)
	require.Equal(t, defaultMimeType, info.MetadataMimeType)
	require.Equal(t, []byte(`{"token":"t"}`), info.Data)
	require.Equal(t, []byte("auth"), info.Metadata)
	require.Equal(t, 100*time.Millisecond, info.KeepalivePeriod)
}

func TestRejectedSetup(t *testing.T) {
	a, b := transport.Pipe()

	srv, err := Accept(b, testConfig(), func(info SetupInfo, peer RSocket) (*Handler, error) {
		return nil, fmt.Errorf("not today")
	})
	require.NoError(t, err)

	cli, err := Connect(a, testConfig())
	require.NoError(t, err)
	defer func() {
		_ = cli.Close()
		<-cli.OnClose()
	}()

	select {
	case <-srv.OnClose():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not reject the setup")
	}
	// the client observes the rejection as a fatal connection error
	select {
	case <-cli.OnClose():
	case <-time.After(5 * time.Second):
		t.Fatal("client did not observe the rejection")
	}
}

func TestLeaseExhaustion(t *testing.T) {
	clientConfig := testConfig()
	clientConfig.HonorLease = true
	cli, srv := startPair(t, clientConfig, echoHandler())

	// no lease yet: the request fails before anything reaches the wire
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := cli.RequestResponse(NewStringPayload("early")).Block(ctx)
	require.True(t, IsRejected(err))

	require.NoError(t, srv.SendLease(10*time.Second, 1, nil))
	require.Eventually(t, func() bool {
		return cli.Availability() > 0
	}, 5*time.Second, 10*time.Millisecond)

	p, err := cli.RequestResponse(NewStringPayload("hello")).Block(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello world", p.String())

	// the single permit is spent
	_, err = cli.RequestResponse(NewStringPayload("again")).Block(ctx)
	require.True(t, IsRejected(err))
	require.Equal(t, 0.0, cli.Availability())
}

func TestGracefulClose(t *testing.T) {
	cli, srv := startPair(t, nil, echoHandler())

	require.NoError(t, cli.Close())
	require.ErrorIs(t, cli.Close(), ErrConnectionClosed)

	select {
	case <-srv.OnClose():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not observe the close")
	}
	require.Equal(t, 0.0, cli.Availability())
}

func TestCloseTerminatesStreams(t *testing.T) {
	release := make(chan struct{})
	cli, _ := startPair(t, nil, &Handler{
		RequestStream: func(p Payload, out *Sink) {
			<-release
			_ = out.Complete()
		},
	})
	defer close(release)

	sub := cli.RequestStream(NewStringPayload("x"))
	sub.Request(1)

	require.NoError(t, cli.Close())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := sub.Next(ctx)
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestCancelBeforeRequestSendsNothing(t *testing.T) {
	requests := make(chan struct{}, 1)
	cli, _ := startPair(t, nil, &Handler{
		RequestStream: func(p Payload, out *Sink) {
			requests <- struct{}{}
			_ = out.Complete()
		},
	})

	sub := cli.RequestStream(NewStringPayload("x"))
	sub.Cancel()
	sub.Request(1)

	select {
	case <-requests:
		t.Fatal("cancelled subscription reached the responder")
	case <-time.After(200 * time.Millisecond):
	}
}
