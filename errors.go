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
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/sagernet/rsocket/frame"
)

var (
	// ErrConnectionClosed terminates every active stream on teardown.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrStreamCanceled is observed locally after cancelling a stream.
	ErrStreamCanceled = errors.New("stream canceled")
	// ErrStreamsExhausted is returned when no stream id of the correct
	// parity is free.
	ErrStreamsExhausted = errors.New("stream ids exhausted")

	errWriteTimeout = errors.New("timeout submitting frame")
)

// Error is a wire-level error carrying one of the protocol error codes. It
// is what subscribers observe when the peer sends an ERROR frame, and what
// lease gating produces on rejection.
type Error struct {
	Code    frame.ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsRejected reports whether err is a transient rejection the application
// may retry, such as lease exhaustion.
func IsRejected(err error) bool {
	var we *Error
	return errors.As(err, &we) && we.Code == frame.ErrorRejected
}

func errRejected(msg string) *Error {
	return &Error{Code: frame.ErrorRejected, Message: msg}
}

func asError(err error, target **Error) bool {
	return errors.As(err, target)
}

// expectedError filters errors that accompany ordinary shutdown so the
// error consumer does not see them twice.
func expectedError(err error) bool {
	return err == nil ||
		errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, ErrStreamCanceled) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe)
}
