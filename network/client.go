package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/protocol"
)

// DefaultConnectionTimeout bounds TCP dial duration.
const DefaultConnectionTimeout = 30 * time.Second

// DialOptions controls a client connection.
type DialOptions struct {
	ConnectionTimeout time.Duration
	// IOTimeout bounds each request write and response read. Zero means
	// DefaultReadTimeout.
	IOTimeout      time.Duration
	MaxPayloadSize uint32
}

func (o DialOptions) withDefaults() DialOptions {
	if o.ConnectionTimeout <= 0 {
		o.ConnectionTimeout = DefaultConnectionTimeout
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = DefaultReadTimeout
	}
	if o.MaxPayloadSize == 0 {
		o.MaxPayloadSize = protocol.DefaultMaxPayloadSize
	}
	return o
}

// Dial connects to a backup server.
func Dial(ctx context.Context, address string, options DialOptions) (*Conn, error) {
	opts := options.withDefaults()

	dialer := net.Dialer{Timeout: opts.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", address, err)
	}
	return newConn(conn, opts.IOTimeout, opts.MaxPayloadSize), nil
}
