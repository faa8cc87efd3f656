package transport

import (
	"bytes"
	"fmt"
)

// Wire markers and the maximum body chunk size. Every payload is sent as
// StartMarker, ceil(len/ChunkSize) body chunks, EndMarker.
const (
	StartMarker = "==IMAGE START=="
	EndMarker   = "==IMAGE END=="
	ChunkSize   = 10 * 1024
)

var (
	startMarker = []byte(StartMarker)
	endMarker   = []byte(EndMarker)
)

// Frame splits payload into the datagrams that carry it on the wire. Body
// chunks alias payload.
func Frame(payload []byte) [][]byte {
	n := (len(payload) + ChunkSize - 1) / ChunkSize
	out := make([][]byte, 0, n+2)
	out = append(out, startMarker)
	for off := 0; off < len(payload); off += ChunkSize {
		end := off + ChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, payload[off:end])
	}
	return append(out, endMarker)
}

// Reassembler rebuilds payloads from a sequence of datagrams by marker
// framing. It is not safe for concurrent use.
type Reassembler struct {
	buf    []byte
	active bool

	// Incomplete counts payloads abandoned because a new start marker
	// arrived before the end marker.
	Incomplete uint64
}

// Feed consumes one datagram. It returns a copy of the payload and true
// when the datagram is an end marker closing an open payload.
func (r *Reassembler) Feed(datagram []byte) ([]byte, bool) {
	switch {
	case bytes.Equal(datagram, startMarker):
		if r.active {
			r.Incomplete++
		}
		r.active = true
		r.buf = r.buf[:0]
	case bytes.Equal(datagram, endMarker):
		if !r.active {
			return nil, false
		}
		r.active = false
		return append([]byte{}, r.buf...), true
	case r.active:
		r.buf = append(r.buf, datagram...)
	}
	// Stray chunks outside a start/end pair are ignored.
	return nil, false
}

// Reset drops any partially received payload.
func (r *Reassembler) Reset() {
	r.active = false
	r.buf = r.buf[:0]
}

// ParseStream extracts the payload from the bytes of one stream connection,
// which must begin with StartMarker and end with EndMarker.
func ParseStream(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, startMarker) {
		return nil, fmt.Errorf("stream does not begin with %q", StartMarker)
	}
	data = data[len(startMarker):]
	if !bytes.HasSuffix(data, endMarker) {
		return nil, fmt.Errorf("stream does not end with %q", EndMarker)
	}
	return data[:len(data)-len(endMarker)], nil
}
