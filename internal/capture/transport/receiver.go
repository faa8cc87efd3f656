package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

const (
	maxDatagramSize = 64 * 1024
	maxStreamSize   = 64 << 20
)

// PayloadHandler receives every reassembled payload.
type PayloadHandler func(payload []byte, from net.Addr)

// Receiver is the monitoring endpoint: it listens on UDP or TCP and hands
// reassembled payloads to a handler.
type Receiver struct {
	network string
	address string
	handler PayloadHandler
	logger  *slog.Logger

	mu     sync.Mutex
	pc     net.PacketConn
	ln     net.Listener
	closed bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewReceiver creates a receiver for "udp" or "tcp" on address.
func NewReceiver(network, address string, handler PayloadHandler, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = util.GetLogger().With("component", "receiver")
	}
	return &Receiver{
		network: network,
		address: address,
		handler: handler,
		logger:  logger,
	}
}

// Start binds the listener and begins serving. The receiver stops when ctx
// is done or Close is called.
func (r *Receiver) Start(ctx context.Context) (net.Addr, error) {
	var lc net.ListenConfig
	var addr net.Addr

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, net.ErrClosed
	}

	switch r.network {
	case "udp", "udp4", "udp6":
		pc, err := lc.ListenPacket(ctx, r.network, r.address)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", r.address, err)
		}
		r.pc = pc
		addr = pc.LocalAddr()
		r.wg.Add(1)
		go r.servePackets(pc)
	case "tcp", "tcp4", "tcp6":
		ln, err := lc.Listen(ctx, r.network, r.address)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", r.address, err)
		}
		r.ln = ln
		addr = ln.Addr()
		r.wg.Add(1)
		go r.serveStreams(ln)
	default:
		return nil, fmt.Errorf("unsupported network %q", r.network)
	}

	go func() {
		<-ctx.Done()
		_ = r.Close()
	}()

	r.logger.Info("Receiver listening", "network", r.network, "addr", addr.String())
	return addr, nil
}

func (r *Receiver) servePackets(pc net.PacketConn) {
	defer r.wg.Done()

	var asm Reassembler
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				r.logger.Error("Receiver read failed", "error", err)
			}
			return
		}
		if payload, ok := asm.Feed(buf[:n]); ok {
			r.handler(payload, from)
		}
	}
}

func (r *Receiver) serveStreams(ln net.Listener) {
	defer r.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				r.logger.Error("Receiver accept failed", "error", err)
			}
			return
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer conn.Close()

			data, err := io.ReadAll(io.LimitReader(conn, maxStreamSize))
			if err != nil {
				r.logger.Warn("Receiver stream read failed", "remote", conn.RemoteAddr().String(), "error", err)
				return
			}
			payload, err := ParseStream(data)
			if err != nil {
				r.logger.Warn("Discarding malformed stream", "remote", conn.RemoteAddr().String(), "size", len(data), "error", err)
				return
			}
			r.handler(payload, conn.RemoteAddr())
		}()
	}
}

// Close stops the listener and waits for in-progress handlers.
func (r *Receiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		if r.pc != nil {
			err = r.pc.Close()
		}
		if r.ln != nil {
			err = r.ln.Close()
		}
		r.mu.Unlock()
		r.wg.Wait()
	})
	return err
}
