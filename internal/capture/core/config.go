package core

import (
	"fmt"
	"net"
	"strconv"
)

// TransportConfig selects where and how compressed frames are sent.
type TransportConfig struct {
	RemoteHost  string `json:"remoteHost"`
	RemotePort  uint16 `json:"remotePort"`
	UseDatagram bool   `json:"useDatagram"`
	Quality     int    `json:"quality"`
}

// ClampQuality pins a JPEG quality into 1..100.
func ClampQuality(q int) int {
	switch {
	case q < 1:
		return 1
	case q > 100:
		return 100
	}
	return q
}

// Normalized returns a copy with Quality pinned to 1..100.
func (c TransportConfig) Normalized() TransportConfig {
	c.Quality = ClampQuality(c.Quality)
	return c
}

// Validate checks that the remote endpoint is usable.
func (c TransportConfig) Validate() error {
	if c.RemoteHost == "" {
		return fmt.Errorf("%w: remote host is required", ErrInvalidConfig)
	}
	if c.RemotePort == 0 {
		return fmt.Errorf("%w: remote port is required", ErrInvalidConfig)
	}
	return nil
}

// Network returns the Go network name for the selected protocol.
func (c TransportConfig) Network() string {
	if c.UseDatagram {
		return "udp"
	}
	return "tcp"
}

// Address returns host:port.
func (c TransportConfig) Address() string {
	return net.JoinHostPort(c.RemoteHost, strconv.Itoa(int(c.RemotePort)))
}
