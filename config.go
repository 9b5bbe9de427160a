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
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const defaultMimeType = "application/binary"

// Config holds connection tunables.
type Config struct {
	// KeepalivePeriod is the interval between outbound heartbeats on the
	// initiating side.
	KeepalivePeriod time.Duration
	// MaxLifetime is the inbound silence the peer is asked to tolerate
	// before declaring the connection dead.
	MaxLifetime time.Duration
	// MissedKeepalives is how many unanswered heartbeats are tolerated
	// before the connection is closed.
	MissedKeepalives uint32
	// HonorLease announces in SETUP that new requests need LEASE permits
	// from the responder; a request without a valid permit fails at once
	// with REJECTED.
	HonorLease bool
	// MetadataMimeType and DataMimeType are announced in SETUP.
	MetadataMimeType string
	DataMimeType     string
	// MaxInboundPayloadSize bounds a single inbound frame.
	MaxInboundPayloadSize uint32
	// SetupData and SetupMetadata ride in the SETUP frame.
	SetupData     []byte
	SetupMetadata []byte
	// Handler responds to peer-initiated interactions. Optional; with a nil
	// handler request/response, stream and channel requests are rejected,
	// fire-and-forget and metadata push payloads are dropped.
	Handler *Handler
	// Logger receives engine diagnostics. Defaults to the standard logger.
	Logger *logrus.Logger
	// ErrorConsumer receives errors the engine cannot surface anywhere
	// else, such as failures while dispatching cleanup frames.
	ErrorConsumer func(error)
}

// DefaultConfig is used in lieu of missing fields.
func DefaultConfig() *Config {
	return &Config{
		KeepalivePeriod:       20 * time.Second,
		MaxLifetime:           90 * time.Second,
		MissedKeepalives:      3,
		MetadataMimeType:      defaultMimeType,
		DataMimeType:          defaultMimeType,
		MaxInboundPayloadSize: 16 << 20,
	}
}

// VerifyConfig checks a configuration for sanity.
func VerifyConfig(config *Config) error {
	if config.KeepalivePeriod <= 0 {
		return errors.New("keepalive period must be positive")
	}
	if config.MaxLifetime <= 0 {
		return errors.New("max lifetime must be positive")
	}
	if config.MaxLifetime < config.KeepalivePeriod {
		return errors.New("max lifetime must not be below the keepalive period")
	}
	if config.MissedKeepalives == 0 {
		return errors.New("missed keepalive threshold must be positive")
	}
	if config.MetadataMimeType == "" || config.DataMimeType == "" {
		return errors.New("mime types must not be empty")
	}
	if len(config.MetadataMimeType) > 255 || len(config.DataMimeType) > 255 {
		return errors.New("mime types are limited to 255 bytes")
	}
	return nil
}

func fillConfig(config *Config) *Config {
	def := DefaultConfig()
	if config == nil {
		return def
	}
	filled := *config
	if filled.KeepalivePeriod == 0 {
		filled.KeepalivePeriod = def.KeepalivePeriod
	}
	if filled.MaxLifetime == 0 {
		filled.MaxLifetime = def.MaxLifetime
	}
	if filled.MissedKeepalives == 0 {
		filled.MissedKeepalives = def.MissedKeepalives
	}
	if filled.MetadataMimeType == "" {
		filled.MetadataMimeType = def.MetadataMimeType
	}
	if filled.DataMimeType == "" {
		filled.DataMimeType = def.DataMimeType
	}
	if filled.MaxInboundPayloadSize == 0 {
		filled.MaxInboundPayloadSize = def.MaxInboundPayloadSize
	}
	if filled.Logger == nil {
		filled.Logger = logrus.StandardLogger()
	}
	return &filled
}
