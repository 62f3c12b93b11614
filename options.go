package edgevec

import (
	"github.com/edgevec/edgevec/blobstore"
	"github.com/edgevec/edgevec/codec"
)

type options struct {
	logger  *Logger
	codec   codec.Codec
	archive blobstore.Store
}

// Option configures Engine construction.
type Option func(*options)

// WithLogger sets the engine logger. Nil means no logging.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithCodec overrides the codec used for WAL and snapshot records.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithArchiveStore injects a snapshot archive store directly, bypassing the
// archive backend configuration. Useful for tests and custom backends.
func WithArchiveStore(s blobstore.Store) Option {
	return func(o *options) {
		o.archive = s
	}
}
