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
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, f Frame) Frame {
	t.Helper()
	b := f.Marshal()
	got, err := Unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, f, got)
	return got
}

func TestRoundTrip(t *testing.T) {
	cases := []Frame{
		&Setup{
			MajorVersion:      1,
			MinorVersion:      0,
			KeepaliveInterval: 30_000,
			MaxLifetime:       90_000,
			MetadataMimeType:  "application/binary",
			DataMimeType:      "application/binary",
		},
		&Setup{
			MajorVersion:      1,
			MinorVersion:      0,
			KeepaliveInterval: 100,
			MaxLifetime:       400,
			Lease:             true,
			ResumeToken:       []byte("tok"),
			MetadataMimeType:  "text/plain",
			DataMimeType:      "application/json",
			Metadata:          []byte("setup-md"),
			Data:              []byte("setup-data"),
		},
		&Lease{TTLMillis: 10_000, NumRequests: 5},
		&Lease{TTLMillis: 1, NumRequests: 1, Metadata: []byte("fair-share")},
		&Keepalive{Respond: true, LastReceivedPosition: 42, Data: []byte("beat")},
		&Keepalive{Respond: false, LastReceivedPosition: 0},
		&RequestResponse{Stream: 1, Data: []byte("hello")},
		&RequestResponse{Stream: 3, Metadata: []byte("route"), Data: []byte("x")},
		&RequestFNF{Stream: 5, Data: []byte("log-line")},
		&RequestStream{Stream: 1, InitialRequestN: 2, Data: []byte("hello")},
		&RequestStream{Stream: 7, InitialRequestN: MaxRequestN, Metadata: []byte("m")},
		&RequestChannel{Stream: 1, InitialRequestN: MaxRequestN, Data: []byte("1")},
		&RequestChannel{Stream: 9, InitialRequestN: 1, Complete: true},
		&RequestN{Stream: 1, N: 64},
		&Cancel{Stream: 1},
		&Payload{Stream: 1, Next: true, Data: []byte("hello world")},
		&Payload{Stream: 1, Next: true, Complete: true, Data: []byte("bye")},
		&Payload{Stream: 1, Complete: true},
		&Payload{Stream: 2, Next: true, Follows: true, Metadata: []byte("frag")},
		&Error{Stream: 1, Code: ErrorApplicationError, Data: "boom"},
		&Error{Stream: 0, Code: ErrorConnectionError, Data: "keepalive timeout"},
		&MetadataPush{Metadata: []byte("routing-update")},
		&Resume{MajorVersion: 1, MinorVersion: 0, Token: []byte("t"), LastReceivedServerPosition: 9, FirstAvailableClientPosition: 3},
		&ResumeOK{LastReceivedClientPosition: 11},
		&Extension{Stream: 4, ExtendedType: 0xBEEF, Ignore: true, Data: []byte("ext")},
	}
	for _, f := range cases {
		roundTrip(t, f)
	}
}

func TestMetadataPresenceDistinct(t *testing.T) {
	// Present-but-empty metadata and absent metadata are distinct on the wire.
	with := (&Payload{Stream: 1, Next: true, Metadata: []byte{}}).Marshal()
	without := (&Payload{Stream: 1, Next: true}).Marshal()
	require.NotEqual(t, with, without)

	f1, err := Unmarshal(with)
	require.NoError(t, err)
	require.NotNil(t, f1.(*Payload).Metadata)
	require.Len(t, f1.(*Payload).Metadata, 0)

	f2, err := Unmarshal(without)
	require.NoError(t, err)
	require.Nil(t, f2.(*Payload).Metadata)
}

func TestEmptyPayload(t *testing.T) {
	f := roundTrip(t, &Payload{Stream: 1, Next: true})
	p := f.(*Payload)
	require.Len(t, p.Data, 0)
	require.Nil(t, p.Metadata)
}

func TestUnmarshalShortHeader(t *testing.T) {
	_, err := Unmarshal([]byte{0, 0, 0, 1})
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestUnmarshalReservedBit(t *testing.T) {
	b := (&Cancel{Stream: 1}).Marshal()
	b[0] |= 0x80
	_, err := Unmarshal(b)
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestUnmarshalTruncatedBody(t *testing.T) {
	b := (&RequestStream{Stream: 1, InitialRequestN: 2, Data: []byte("hello")}).Marshal()
	_, err := Unmarshal(b[:8])
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestUnmarshalMetadataLengthOverrun(t *testing.T) {
	b := (&Payload{Stream: 1, Next: true, Metadata: []byte("abc")}).Marshal()
	// inflate the metadata length past the end of the frame
	b[headerLen] = 0xFF
	_, err := Unmarshal(b)
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestInvalidRequestN(t *testing.T) {
	b := (&RequestN{Stream: 1, N: 1}).Marshal()
	binary.BigEndian.PutUint32(b[headerLen:], 0)
	_, err := Unmarshal(b)
	require.ErrorIs(t, err, ErrInvalidRequestN)

	binary.BigEndian.PutUint32(b[headerLen:], 0x80000001)
	_, err = Unmarshal(b)
	require.ErrorIs(t, err, ErrInvalidRequestN)

	b = (&RequestStream{Stream: 1, InitialRequestN: 1}).Marshal()
	binary.BigEndian.PutUint32(b[headerLen:], 0)
	_, err = Unmarshal(b)
	require.ErrorIs(t, err, ErrInvalidRequestN)
}

func TestUnknownType(t *testing.T) {
	b := (&Cancel{Stream: 1}).Marshal()
	binary.BigEndian.PutUint16(b[4:], uint16(0x1F)<<10)
	_, err := Unmarshal(b)
	var unknown *UnknownTypeError
	require.True(t, errors.As(err, &unknown))
	require.Equal(t, uint8(0x1F), unknown.Raw)
}

func TestErrorCodeString(t *testing.T) {
	require.Equal(t, "CONNECTION_ERROR", ErrorConnectionError.String())
	require.Equal(t, "REJECTED", ErrorRejected.String())
	require.Equal(t, "CUSTOM(0x00000301)", ErrorCode(0x301).String())
}
