// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package listen binds a TCP listener to the first free port in a range.
package listen

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"syscall"

	"github.com/z5labs/relay/internal/noop"
	"github.com/z5labs/relay/internal/slogfield"
)

// PortUnavailableError is returned when every port in the range is in use.
type PortUnavailableError struct {
	Host    string
	Port    int
	MaxPort int
	Cause   error
}

// Error implements the [builtin.error] interface.
func (e PortUnavailableError) Error() string {
	return "listen: no port available on " + e.Host + " in range " +
		strconv.Itoa(e.Port) + "-" + strconv.Itoa(e.MaxPort) + ": " + e.Cause.Error()
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e PortUnavailableError) Unwrap() error {
	return e.Cause
}

// Options
type Options struct {
	Host string

	// Port is the preferred port. Zero binds an ephemeral port.
	Port int

	// MaxPort is the last port tried. Only Port is tried when MaxPort
	// is not greater than Port.
	MaxPort int

	Logger *slog.Logger
}

// Listen binds the first port from Port to MaxPort which is not
// already in use. Any other bind error is returned at once.
func Listen(ctx context.Context, opts Options) (net.Listener, error) {
	log := opts.Logger
	if log == nil {
		log = noop.Logger()
	}

	maxPort := opts.MaxPort
	if maxPort < opts.Port {
		maxPort = opts.Port
	}

	var lc net.ListenConfig
	var lastErr error
	for port := opts.Port; port <= maxPort; port++ {
		err := ctx.Err()
		if err != nil {
			return nil, err
		}

		addr := net.JoinHostPort(opts.Host, strconv.Itoa(port))
		ls, err := lc.Listen(ctx, "tcp", addr)
		if err == nil {
			return ls, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, err
		}

		log.DebugContext(ctx, "port in use", slogfield.String("addr", addr))
		lastErr = err
	}

	return nil, PortUnavailableError{
		Host:    opts.Host,
		Port:    opts.Port,
		MaxPort: maxPort,
		Cause:   lastErr,
	}
}

// Port returns the TCP port ls is bound to, or 0.
func Port(ls net.Listener) int {
	addr, ok := ls.Addr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return addr.Port
}
