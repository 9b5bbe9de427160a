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

package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// wsConn carries one protocol frame per binary WebSocket message, so no
// length prefix is needed.
type wsConn struct {
	conn      *websocket.Conn
	writeLock sync.Mutex
}

// NewWebsocketConn adapts an established WebSocket connection.
func NewWebsocketConn(conn *websocket.Conn, maxFrameSize uint32) Conn {
	conn.SetReadLimit(int64(frameLimit(maxFrameSize)))
	return &wsConn{conn: conn}
}

func (w *wsConn) SetFrameLimit(n uint32) {
	w.conn.SetReadLimit(int64(frameLimit(n)))
}

func (w *wsConn) ReadFrame() ([]byte, error) {
	for {
		mt, b, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, ErrFrameTooLarge
			}
			return nil, err
		}
		// text and control messages are not protocol frames
		if mt == websocket.BinaryMessage {
			return b, nil
		}
	}
}

func (w *wsConn) WriteFrame(b []byte) error {
	w.writeLock.Lock()
	defer w.writeLock.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// UpgradeWebsocket upgrades an HTTP request to a frame preserving connection.
func UpgradeWebsocket(w http.ResponseWriter, r *http.Request, maxFrameSize uint32) (Conn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebsocketConn(conn, maxFrameSize), nil
}

// DialWebsocket connects to a ws:// or wss:// URL.
func DialWebsocket(ctx context.Context, url string, maxFrameSize uint32) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWebsocketConn(conn, maxFrameSize), nil
}
