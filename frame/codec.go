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

	"github.com/pkg/errors"
)

// A metadata slice that is nil encodes no METADATA flag at all; a non-nil
// empty slice encodes the flag with a zero length prefix. The two survive a
// round trip distinct.

type writer struct {
	b []byte
}

func newWriter(sid uint32, t Type, flags Flags, sizeHint int) *writer {
	w := &writer{b: make([]byte, 0, headerLen+sizeHint)}
	w.u32(sid & MaxStreamID)
	w.u16(uint16(t)<<10 | uint16(flags&0x3FF))
	return w
}

func (w *writer) u8(v uint8)  { w.b = append(w.b, v) }
func (w *writer) u16(v uint16) {
	w.b = binary.BigEndian.AppendUint16(w.b, v)
}
func (w *writer) u24(v uint32) {
	w.b = append(w.b, byte(v>>16), byte(v>>8), byte(v))
}
func (w *writer) u32(v uint32) {
	w.b = binary.BigEndian.AppendUint32(w.b, v)
}
func (w *writer) u64(v uint64) {
	w.b = binary.BigEndian.AppendUint64(w.b, v)
}
func (w *writer) bytes(p []byte) { w.b = append(w.b, p...) }

// metadata writes the length prefixed metadata section when m is non-nil.
// The caller is responsible for having set FlagMetadata to match.
func (w *writer) metadata(m []byte) {
	if m == nil {
		return
	}
	w.u24(uint32(len(m)))
	w.bytes(m)
}

func metadataFlag(m []byte) Flags {
	if m == nil {
		return 0
	}
	return FlagMetadata
}

// reader decodes with a sticky error so call sites stay flat.
type reader struct {
	b   []byte
	err error
}

func (r *reader) fail() {
	if r.err == nil {
		r.err = ErrMalformedFrame
	}
}

func (r *reader) u8() uint8 {
	if r.err != nil || len(r.b) < 1 {
		r.fail()
		return 0
	}
	v := r.b[0]
	r.b = r.b[1:]
	return v
}

func (r *reader) u16() uint16 {
	if r.err != nil || len(r.b) < 2 {
		r.fail()
		return 0
	}
	v := binary.BigEndian.Uint16(r.b)
	r.b = r.b[2:]
	return v
}

func (r *reader) u24() uint32 {
	if r.err != nil || len(r.b) < 3 {
		r.fail()
		return 0
	}
	v := uint32(r.b[0])<<16 | uint32(r.b[1])<<8 | uint32(r.b[2])
	r.b = r.b[3:]
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil || len(r.b) < 4 {
		r.fail()
		return 0
	}
	v := binary.BigEndian.Uint32(r.b)
	r.b = r.b[4:]
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil || len(r.b) < 8 {
		r.fail()
		return 0
	}
	v := binary.BigEndian.Uint64(r.b)
	r.b = r.b[8:]
	return v
}

func (r *reader) take(n int) []byte {
	if r.err != nil || len(r.b) < n {
		r.fail()
		return nil
	}
	v := r.b[:n]
	r.b = r.b[n:]
	return v
}

// metadata reads the length prefixed section when the flag is set. Absent
// metadata decodes to nil, present-but-empty to a non-nil empty slice.
func (r *reader) metadata(flags Flags) []byte {
	if flags&FlagMetadata == 0 {
		return nil
	}
	n := r.u24()
	m := r.take(int(n))
	if r.err != nil {
		return nil
	}
	if m == nil {
		m = []byte{}
	}
	return m
}

// rest returns the remaining bytes as frame data, nil when none remain.
func (r *reader) rest() []byte {
	if r.err != nil || len(r.b) == 0 {
		return nil
	}
	v := r.b
	r.b = nil
	return v
}

func (r *reader) requestN() uint32 {
	n := r.u32()
	if r.err == nil && (n == 0 || n > MaxRequestN) {
		r.err = ErrInvalidRequestN
	}
	return n
}

func (f *Setup) Marshal() []byte {
	flags := metadataFlag(f.Metadata)
	if f.ResumeToken != nil {
		flags |= FlagResume
	}
	if f.Lease {
		flags |= FlagLease
	}
	w := newWriter(0, TypeSetup, flags, 16+len(f.ResumeToken)+len(f.MetadataMimeType)+len(f.DataMimeType)+len(f.Metadata)+len(f.Data))
	w.u16(f.MajorVersion)
	w.u16(f.MinorVersion)
	w.u32(f.KeepaliveInterval)
	w.u32(f.MaxLifetime)
	if f.ResumeToken != nil {
		w.u16(uint16(len(f.ResumeToken)))
		w.bytes(f.ResumeToken)
	}
	w.u8(uint8(len(f.MetadataMimeType)))
	w.bytes([]byte(f.MetadataMimeType))
	w.u8(uint8(len(f.DataMimeType)))
	w.bytes([]byte(f.DataMimeType))
	w.metadata(f.Metadata)
	w.bytes(f.Data)
	return w.b
}

func (f *Lease) Marshal() []byte {
	w := newWriter(0, TypeLease, metadataFlag(f.Metadata), 8+len(f.Metadata))
	w.u32(f.TTLMillis)
	w.u32(f.NumRequests)
	w.metadata(f.Metadata)
	return w.b
}

func (f *Keepalive) Marshal() []byte {
	var flags Flags
	if f.Respond {
		flags |= FlagRespond
	}
	w := newWriter(0, TypeKeepalive, flags, 8+len(f.Data))
	w.u64(f.LastReceivedPosition)
	w.bytes(f.Data)
	return w.b
}

func (f *RequestResponse) Marshal() []byte {
	flags := metadataFlag(f.Metadata)
	if f.Follows {
		flags |= FlagFollows
	}
	w := newWriter(f.Stream, TypeRequestResponse, flags, len(f.Metadata)+len(f.Data))
	w.metadata(f.Metadata)
	w.bytes(f.Data)
	return w.b
}

func (f *RequestFNF) Marshal() []byte {
	flags := metadataFlag(f.Metadata)
	if f.Follows {
		flags |= FlagFollows
	}
	w := newWriter(f.Stream, TypeRequestFNF, flags, len(f.Metadata)+len(f.Data))
	w.metadata(f.Metadata)
	w.bytes(f.Data)
	return w.b
}

func (f *RequestStream) Marshal() []byte {
	flags := metadataFlag(f.Metadata)
	if f.Follows {
		flags |= FlagFollows
	}
	w := newWriter(f.Stream, TypeRequestStream, flags, 4+len(f.Metadata)+len(f.Data))
	w.u32(f.InitialRequestN & MaxRequestN)
	w.metadata(f.Metadata)
	w.bytes(f.Data)
	return w.b
}

func (f *RequestChannel) Marshal() []byte {
	flags := metadataFlag(f.Metadata)
	if f.Follows {
		flags |= FlagFollows
	}
	if f.Complete {
		flags |= FlagComplete
	}
	w := newWriter(f.Stream, TypeRequestChannel, flags, 4+len(f.Metadata)+len(f.Data))
	w.u32(f.InitialRequestN & MaxRequestN)
	w.metadata(f.Metadata)
	w.bytes(f.Data)
	return w.b
}

func (f *RequestN) Marshal() []byte {
	w := newWriter(f.Stream, TypeRequestN, 0, 4)
	w.u32(f.N & MaxRequestN)
	return w.b
}

func (f *Cancel) Marshal() []byte {
	return newWriter(f.Stream, TypeCancel, 0, 0).b
}

func (f *Payload) Marshal() []byte {
	flags := metadataFlag(f.Metadata)
	if f.Follows {
		flags |= FlagFollows
	}
	if f.Complete {
		flags |= FlagComplete
	}
	if f.Next {
		flags |= FlagNext
	}
	w := newWriter(f.Stream, TypePayload, flags, len(f.Metadata)+len(f.Data))
	w.metadata(f.Metadata)
	w.bytes(f.Data)
	return w.b
}

func (f *Error) Marshal() []byte {
	w := newWriter(f.Stream, TypeError, 0, 4+len(f.Data))
	w.u32(uint32(f.Code))
	w.bytes([]byte(f.Data))
	return w.b
}

func (f *MetadataPush) Marshal() []byte {
	m := f.Metadata
	if m == nil {
		m = []byte{}
	}
	w := newWriter(0, TypeMetadataPush, FlagMetadata, 3+len(m))
	w.metadata(m)
	return w.b
}

func (f *Resume) Marshal() []byte {
	w := newWriter(0, TypeResume, 0, 22+len(f.Token))
	w.u16(f.MajorVersion)
	w.u16(f.MinorVersion)
	w.u16(uint16(len(f.Token)))
	w.bytes(f.Token)
	w.u64(f.LastReceivedServerPosition)
	w.u64(f.FirstAvailableClientPosition)
	return w.b
}

func (f *ResumeOK) Marshal() []byte {
	w := newWriter(0, TypeResumeOK, 0, 8)
	w.u64(f.LastReceivedClientPosition)
	return w.b
}

func (f *Extension) Marshal() []byte {
	flags := metadataFlag(f.Metadata)
	if f.Ignore {
		flags |= FlagIgnore
	}
	w := newWriter(f.Stream, TypeExtension, flags, 4+len(f.Metadata)+len(f.Data))
	w.u32(f.ExtendedType)
	w.metadata(f.Metadata)
	w.bytes(f.Data)
	return w.b
}

// Unmarshal decodes a single frame. A type outside the enum yields
// *UnknownTypeError; short or inconsistent frames yield ErrMalformedFrame.
func Unmarshal(b []byte) (Frame, error) {
	if len(b) < headerLen {
		return nil, errors.Wrap(ErrMalformedFrame, "short header")
	}
	rawID := binary.BigEndian.Uint32(b)
	if rawID > MaxStreamID {
		return nil, errors.Wrap(ErrMalformedFrame, "reserved stream id bit set")
	}
	tf := binary.BigEndian.Uint16(b[4:])
	t := Type(tf >> 10)
	flags := Flags(tf & 0x3FF)
	r := &reader{b: b[headerLen:]}

	var f Frame
	switch t {
	case TypeSetup:
		s := &Setup{
			MajorVersion:      r.u16(),
			MinorVersion:      r.u16(),
			KeepaliveInterval: r.u32(),
			MaxLifetime:       r.u32(),
			Lease:             flags&FlagLease != 0,
		}
		if flags&FlagResume != 0 {
			n := r.u16()
			s.ResumeToken = append([]byte{}, r.take(int(n))...)
		}
		s.MetadataMimeType = string(r.take(int(r.u8())))
		s.DataMimeType = string(r.take(int(r.u8())))
		s.Metadata = r.metadata(flags)
		s.Data = r.rest()
		f = s
	case TypeLease:
		f = &Lease{
			TTLMillis:   r.u32(),
			NumRequests: r.u32(),
			Metadata:    r.metadata(flags),
		}
	case TypeKeepalive:
		f = &Keepalive{
			Respond:              flags&FlagRespond != 0,
			LastReceivedPosition: r.u64(),
			Data:                 r.rest(),
		}
	case TypeRequestResponse:
		f = &RequestResponse{
			Stream:   rawID,
			Follows:  flags&FlagFollows != 0,
			Metadata: r.metadata(flags),
			Data:     r.rest(),
		}
	case TypeRequestFNF:
		f = &RequestFNF{
			Stream:   rawID,
			Follows:  flags&FlagFollows != 0,
			Metadata: r.metadata(flags),
			Data:     r.rest(),
		}
	case TypeRequestStream:
		f = &RequestStream{
			Stream:          rawID,
			InitialRequestN: r.requestN(),
			Follows:         flags&FlagFollows != 0,
			Metadata:        r.metadata(flags),
			Data:            r.rest(),
		}
	case TypeRequestChannel:
		f = &RequestChannel{
			Stream:          rawID,
			InitialRequestN: r.requestN(),
			Follows:         flags&FlagFollows != 0,
			Complete:        flags&FlagComplete != 0,
			Metadata:        r.metadata(flags),
			Data:            r.rest(),
		}
	case TypeRequestN:
		f = &RequestN{
			Stream: rawID,
			N:      r.requestN(),
		}
	case TypeCancel:
		f = &Cancel{Stream: rawID}
	case TypePayload:
		f = &Payload{
			Stream:   rawID,
			Follows:  flags&FlagFollows != 0,
			Complete: flags&FlagComplete != 0,
			Next:     flags&FlagNext != 0,
			Metadata: r.metadata(flags),
			Data:     r.rest(),
		}
	case TypeError:
		f = &Error{
			Stream: rawID,
			Code:   ErrorCode(r.u32()),
			Data:   string(r.rest()),
		}
	case TypeMetadataPush:
		m := r.metadata(flags | FlagMetadata)
		f = &MetadataPush{Metadata: m}
	case TypeResume:
		s := &Resume{
			MajorVersion: r.u16(),
			MinorVersion: r.u16(),
		}
		n := r.u16()
		s.Token = append([]byte{}, r.take(int(n))...)
		s.LastReceivedServerPosition = r.u64()
		s.FirstAvailableClientPosition = r.u64()
		f = s
	case TypeResumeOK:
		f = &ResumeOK{LastReceivedClientPosition: r.u64()}
	case TypeExtension:
		f = &Extension{
			Stream:       rawID,
			ExtendedType: r.u32(),
			Ignore:       flags&FlagIgnore != 0,
			Metadata:     r.metadata(flags),
			Data:         r.rest(),
		}
	default:
		return nil, &UnknownTypeError{Raw: uint8(t)}
	}
	if r.err != nil {
		return nil, errors.Wrapf(r.err, "decode %s", t)
	}
	return f, nil
}
