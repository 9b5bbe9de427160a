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

package frame

import (
	"errors"
	"fmt"
)

// ErrorCode is the u32 code carried by an ERROR frame.
type ErrorCode uint32

const (
	ErrorInvalidSetup     ErrorCode = 0x00000001
	ErrorUnsupportedSetup ErrorCode = 0x00000002
	ErrorRejectedSetup    ErrorCode = 0x00000003
	ErrorRejectedResume   ErrorCode = 0x00000004
	ErrorConnectionError  ErrorCode = 0x00000101
	ErrorConnectionClose  ErrorCode = 0x00000102
	ErrorApplicationError ErrorCode = 0x00000201
	ErrorRejected         ErrorCode = 0x00000202
	ErrorCanceled         ErrorCode = 0x00000203
	ErrorInvalid          ErrorCode = 0x00000204
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorInvalidSetup:
		return "INVALID_SETUP"
	case ErrorUnsupportedSetup:
		return "UNSUPPORTED_SETUP"
	case ErrorRejectedSetup:
		return "REJECTED_SETUP"
	case ErrorRejectedResume:
		return "REJECTED_RESUME"
	case ErrorConnectionError:
		return "CONNECTION_ERROR"
	case ErrorConnectionClose:
		return "CONNECTION_CLOSE"
	case ErrorApplicationError:
		return "APPLICATION_ERROR"
	case ErrorRejected:
		return "REJECTED"
	case ErrorCanceled:
		return "CANCELED"
	case ErrorInvalid:
		return "INVALID"
	default:
		return fmt.Sprintf("CUSTOM(0x%08X)", uint32(c))
	}
}

var (
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrInvalidRequestN = errors.New("invalid request n")
)

// UnknownTypeError is returned when a received type is outside the enum.
// The connection must answer with CONNECTION_ERROR and close.
type UnknownTypeError struct {
	Raw uint8
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown frame type 0x%02X", e.Raw)
}
