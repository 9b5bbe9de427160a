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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sagernet/rsocket/transport"
)

func TestServeOverTCP(t *testing.T) {
	l, err := transport.ListenTCP("127.0.0.1:0", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- Serve(ctx, l, testConfig(), func(info SetupInfo, peer RSocket) (*Handler, error) {
			return echoHandler(), nil
		})
	}()

	tc, err := transport.DialTCP(l.Addr().String(), 0)
	require.NoError(t, err)
	cli, err := Connect(tc, testConfig())
	require.NoError(t, err)

	rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer rcancel()
	p, err := cli.RequestResponse(NewStringPayload("tcp")).Block(rctx)
	require.NoError(t, err)
	require.Equal(t, "tcp world", p.String())

	require.NoError(t, cli.Close())
	<-cli.OnClose()

	cancel()
	select {
	case err := <-served:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("serve loop did not stop")
	}
}

func TestServeRejectsBadConfig(t *testing.T) {
	l, err := transport.ListenTCP("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer l.Close()

	bad := &Config{KeepalivePeriod: time.Second, MaxLifetime: time.Millisecond}
	err = Serve(context.Background(), l, bad, nil)
	require.Error(t, err)
}
