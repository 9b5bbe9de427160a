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

// Payload is one application message: a data part and an optional metadata
// part. Nil metadata means absent; an empty non-nil slice is carried on the
// wire as present and empty.
type Payload struct {
	Data     []byte
	Metadata []byte
}

// NewPayload builds a payload from raw parts.
func NewPayload(data, metadata []byte) Payload {
	return Payload{Data: data, Metadata: metadata}
}

// NewStringPayload builds a metadata-free payload from a string.
func NewStringPayload(data string) Payload {
	return Payload{Data: []byte(data)}
}

// HasMetadata reports whether the metadata part is present.
func (p Payload) HasMetadata() bool {
	return p.Metadata != nil
}

func (p Payload) String() string {
	return string(p.Data)
}
