package h264

import (
	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// AccessUnitSplitter groups an Annex-B byte stream, delivered in arbitrary
// chunks, into access units.
//
// A new access unit starts at an access unit delimiter, at a parameter set or
// SEI following a slice, or at a slice whose first_mb_in_slice is zero.
type AccessUnitSplitter struct {
	buf      []byte
	current  [][]byte
	hasSlice bool
}

// NewAccessUnitSplitter creates an empty splitter.
func NewAccessUnitSplitter() *AccessUnitSplitter {
	return &AccessUnitSplitter{}
}

// Push appends stream bytes and returns every access unit completed by them,
// each re-encoded in Annex-B form.
func (s *AccessUnitSplitter) Push(data []byte) [][]byte {
	s.buf = append(s.buf, data...)

	var out [][]byte
	for {
		first, firstLen := findStartCode(s.buf)
		if first == -1 {
			return out
		}
		next, _ := findStartCode(s.buf[first+firstLen:])
		if next == -1 {
			// Keep the incomplete NALU until more data arrives.
			if first > 0 {
				s.buf = append(s.buf[:0], s.buf[first:]...)
			}
			return out
		}
		nalu := s.buf[first+firstLen : first+firstLen+next]
		nalu = trimTrailingZeros(nalu)
		if au := s.add(append([]byte{}, nalu...)); au != nil {
			out = append(out, au)
		}
		s.buf = s.buf[first+firstLen+next:]
	}
}

// Flush returns the access units still buffered once the stream has ended.
func (s *AccessUnitSplitter) Flush() [][]byte {
	var out [][]byte
	for _, nalu := range SplitNALUs(s.buf) {
		if au := s.add(append([]byte{}, nalu...)); au != nil {
			out = append(out, au)
		}
	}
	s.buf = nil
	if last := s.emit(); last != nil {
		out = append(out, last)
	}
	return out
}

func trimTrailingZeros(nalu []byte) []byte {
	for len(nalu) > 0 && nalu[len(nalu)-1] == 0x00 {
		nalu = nalu[:len(nalu)-1]
	}
	return nalu
}

func (s *AccessUnitSplitter) add(nalu []byte) []byte {
	if len(nalu) == 0 {
		return nil
	}
	var done []byte
	typ := mch264.NALUType(nalu[0] & 0x1F)
	switch typ {
	case mch264.NALUTypeAccessUnitDelimiter:
		done = s.emit()
	case mch264.NALUTypeSPS, mch264.NALUTypePPS, mch264.NALUTypeSEI:
		if s.hasSlice {
			done = s.emit()
		}
	case mch264.NALUTypeNonIDR, mch264.NALUTypeIDR:
		// first_mb_in_slice is ue(v); a leading 1 bit encodes zero.
		if s.hasSlice && len(nalu) > 1 && nalu[1]&0x80 != 0 {
			done = s.emit()
		}
		s.hasSlice = true
	}
	s.current = append(s.current, nalu)
	return done
}

func (s *AccessUnitSplitter) emit() []byte {
	if len(s.current) == 0 {
		return nil
	}
	size := 0
	for _, n := range s.current {
		size += len(startCode) + len(n)
	}
	au := make([]byte, 0, size)
	for _, n := range s.current {
		au = append(au, startCode...)
		au = append(au, n...)
	}
	s.current = s.current[:0]
	s.hasSlice = false
	return au
}
