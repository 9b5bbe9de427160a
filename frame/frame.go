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

// Package frame implements the binary codec for protocol frames.
//
// Every frame shares a six byte header, big-endian throughout:
//
//	+-------------------------------+
//	|0|        Stream ID (31)       |
//	+-------------------------------+
//	| Type (6) |     Flags (10)     |
//	+-------------------------------+
//	|     type specific fields      |
//	+-------------------------------+
//	| [Metadata Length (24)]        | present only when FlagMetadata set
//	| [Metadata]                    |
//	+-------------------------------+
//	|            Data               |
//	+-------------------------------+
//
// The codec does not include the outer length prefix; message boundaries are
// the transport's job.
package frame

// Type identifies a frame on the wire.
type Type uint8

const (
	TypeReserved        Type = 0x00
	TypeSetup           Type = 0x01
	TypeLease           Type = 0x02
	TypeKeepalive       Type = 0x03
	TypeRequestResponse Type = 0x04
	TypeRequestFNF      Type = 0x05
	TypeRequestStream   Type = 0x06
	TypeRequestChannel  Type = 0x07
	TypeRequestN        Type = 0x08
	TypeCancel          Type = 0x09
	TypePayload         Type = 0x0A
	TypeError           Type = 0x0B
	TypeMetadataPush    Type = 0x0C
	TypeResume          Type = 0x0D
	TypeResumeOK        Type = 0x0E
	TypeExtension       Type = 0x3F
)

func (t Type) String() string {
	switch t {
	case TypeSetup:
		return "SETUP"
	case TypeLease:
		return "LEASE"
	case TypeKeepalive:
		return "KEEPALIVE"
	case TypeRequestResponse:
		return "REQUEST_RESPONSE"
	case TypeRequestFNF:
		return "REQUEST_FNF"
	case TypeRequestStream:
		return "REQUEST_STREAM"
	case TypeRequestChannel:
		return "REQUEST_CHANNEL"
	case TypeRequestN:
		return "REQUEST_N"
	case TypeCancel:
		return "CANCEL"
	case TypePayload:
		return "PAYLOAD"
	case TypeError:
		return "ERROR"
	case TypeMetadataPush:
		return "METADATA_PUSH"
	case TypeResume:
		return "RESUME"
	case TypeResumeOK:
		return "RESUME_OK"
	case TypeExtension:
		return "EXT"
	default:
		return "RESERVED"
	}
}

// Flags is the 10 bit flag field of the header.
type Flags uint16

const (
	// FlagIgnore tells the receiver it may drop the frame if not understood.
	FlagIgnore Flags = 1 << 9
	// FlagMetadata marks the presence of a length-prefixed metadata section.
	FlagMetadata Flags = 1 << 8

	// FlagFollows marks a fragmented frame; the core passes it through
	// untouched, reassembly belongs to an outer transform.
	FlagFollows Flags = 1 << 7
	// FlagComplete terminates the sender's half of a stream.
	FlagComplete Flags = 1 << 6
	// FlagNext marks a payload carrying an element.
	FlagNext Flags = 1 << 5

	// FlagRespond on KEEPALIVE requests an echo from the receiver.
	FlagRespond Flags = 1 << 7
	// FlagResume on SETUP requests resumption (not honored by this core).
	FlagResume Flags = 1 << 7
	// FlagLease on SETUP announces that the sender honors leases.
	FlagLease Flags = 1 << 6
)

const (
	headerLen = 6

	// MaxStreamID is the largest assignable stream identifier.
	MaxStreamID = 1<<31 - 1
	// MaxRequestN is the largest credit expressible in a single frame.
	MaxRequestN = 1<<31 - 1
)

// Frame is the decoded form of a single protocol frame.
type Frame interface {
	// StreamID returns the stream the frame belongs to, 0 for the connection.
	StreamID() uint32
	// Type returns the wire type.
	Type() Type
	// Marshal encodes the frame, without the transport length prefix.
	Marshal() []byte
}

// Setup is the first frame of a connection.
type Setup struct {
	MajorVersion      uint16
	MinorVersion      uint16
	KeepaliveInterval uint32 // milliseconds
	MaxLifetime       uint32 // milliseconds
	Lease             bool
	ResumeToken       []byte // nil when resumption is not requested
	MetadataMimeType  string
	DataMimeType      string
	Metadata          []byte // nil means absent, empty means present and empty
	Data              []byte
}

func (f *Setup) StreamID() uint32 { return 0 }
func (f *Setup) Type() Type       { return TypeSetup }

// Lease grants the peer permission to start NumRequests new streams for
// TTLMillis after receipt.
type Lease struct {
	TTLMillis   uint32
	NumRequests uint32
	Metadata    []byte
}

func (f *Lease) StreamID() uint32 { return 0 }
func (f *Lease) Type() Type       { return TypeLease }

// Keepalive is the liveness heartbeat.
type Keepalive struct {
	Respond              bool
	LastReceivedPosition uint64
	Data                 []byte
}

func (f *Keepalive) StreamID() uint32 { return 0 }
func (f *Keepalive) Type() Type       { return TypeKeepalive }

// RequestResponse opens a single response interaction.
type RequestResponse struct {
	Stream   uint32
	Follows  bool
	Metadata []byte
	Data     []byte
}

func (f *RequestResponse) StreamID() uint32 { return f.Stream }
func (f *RequestResponse) Type() Type       { return TypeRequestResponse }

// RequestFNF opens a fire-and-forget interaction.
type RequestFNF struct {
	Stream   uint32
	Follows  bool
	Metadata []byte
	Data     []byte
}

func (f *RequestFNF) StreamID() uint32 { return f.Stream }
func (f *RequestFNF) Type() Type       { return TypeRequestFNF }

// RequestStream opens a stream interaction with an initial credit.
type RequestStream struct {
	Stream          uint32
	InitialRequestN uint32
	Follows         bool
	Metadata        []byte
	Data            []byte
}

func (f *RequestStream) StreamID() uint32 { return f.Stream }
func (f *RequestStream) Type() Type       { return TypeRequestStream }

// RequestChannel opens a bidirectional interaction; the frame carries the
// first upstream element.
type RequestChannel struct {
	Stream          uint32
	InitialRequestN uint32
	Follows         bool
	Complete        bool
	Metadata        []byte
	Data            []byte
}

func (f *RequestChannel) StreamID() uint32 { return f.Stream }
func (f *RequestChannel) Type() Type       { return TypeRequestChannel }

// RequestN grants N more elements of credit on a stream.
type RequestN struct {
	Stream uint32
	N      uint32
}

func (f *RequestN) StreamID() uint32 { return f.Stream }
func (f *RequestN) Type() Type       { return TypeRequestN }

// Cancel aborts an in-flight interaction.
type Cancel struct {
	Stream uint32
}

func (f *Cancel) StreamID() uint32 { return f.Stream }
func (f *Cancel) Type() Type       { return TypeCancel }

// Payload carries elements and terminal markers after initiation.
type Payload struct {
	Stream   uint32
	Follows  bool
	Complete bool
	Next     bool
	Metadata []byte
	Data     []byte
}

func (f *Payload) StreamID() uint32 { return f.Stream }
func (f *Payload) Type() Type       { return TypePayload }

// Error reports a stream error, or a connection error on stream 0.
type Error struct {
	Stream uint32
	Code   ErrorCode
	Data   string
}

func (f *Error) StreamID() uint32 { return f.Stream }
func (f *Error) Type() Type       { return TypeError }

// MetadataPush carries connection-level metadata.
type MetadataPush struct {
	Metadata []byte
}

func (f *MetadataPush) StreamID() uint32 { return 0 }
func (f *MetadataPush) Type() Type       { return TypeMetadataPush }

// Resume is decoded for completeness; this core rejects resumption.
type Resume struct {
	MajorVersion                 uint16
	MinorVersion                 uint16
	Token                        []byte
	LastReceivedServerPosition   uint64
	FirstAvailableClientPosition uint64
}

func (f *Resume) StreamID() uint32 { return 0 }
func (f *Resume) Type() Type       { return TypeResume }

// ResumeOK is decoded for completeness; this core rejects resumption.
type ResumeOK struct {
	LastReceivedClientPosition uint64
}

func (f *ResumeOK) StreamID() uint32 { return 0 }
func (f *ResumeOK) Type() Type       { return TypeResumeOK }

// Extension is an extension frame; the core drops it when FlagIgnore is set.
type Extension struct {
	Stream       uint32
	ExtendedType uint32
	Ignore       bool
	Metadata     []byte
	Data         []byte
}

func (f *Extension) StreamID() uint32 { return f.Stream }
func (f *Extension) Type() Type       { return TypeExtension }
