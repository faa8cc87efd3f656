package h264

import (
	"encoding/binary"
	"fmt"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// findStartCode returns the offset of the next 3 or 4 byte start code in data
// and its length, or -1 when there is none.
func findStartCode(data []byte) (int, int) {
	for i := 0; i+2 < len(data); i++ {
		if data[i] != 0x00 || data[i+1] != 0x00 {
			continue
		}
		if data[i+2] == 0x01 {
			if i > 0 && data[i-1] == 0x00 {
				return i - 1, 4
			}
			return i, 3
		}
	}
	return -1, 0
}

// SplitNALUs splits an Annex-B buffer into NAL units without start codes.
// Bytes before the first start code are treated as a NAL unit of their own.
func SplitNALUs(data []byte) [][]byte {
	var nalus [][]byte
	offset := 0
	for offset < len(data) {
		pos, scLen := findStartCode(data[offset:])
		if pos == -1 {
			nalus = appendNALU(nalus, data[offset:])
			break
		}
		if pos > 0 {
			nalus = appendNALU(nalus, data[offset:offset+pos])
		}
		offset += pos + scLen
	}
	return nalus
}

func appendNALU(nalus [][]byte, nalu []byte) [][]byte {
	// Trailing zero bytes belong to the next start code, not the NALU.
	nalu = trimTrailingZeros(nalu)
	if len(nalu) == 0 {
		return nalus
	}
	return append(nalus, nalu)
}

// ConvertAnnexBToAVC converts an Annex-B access unit (start codes) into the
// AVCC form (4-byte big-endian length prefixes) MP4 samples use.
func ConvertAnnexBToAVC(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	nalus := SplitNALUs(data)
	size := 0
	for _, n := range nalus {
		size += 4 + len(n)
	}
	out := make([]byte, 0, size)
	for _, n := range nalus {
		if uint64(len(n)) > uint64(^uint32(0)) {
			return nil, fmt.Errorf("nal unit too large: %d bytes", len(n))
		}
		out = binary.BigEndian.AppendUint32(out, uint32(len(n)))
		out = append(out, n...)
	}
	return out, nil
}

// ExtractParameterSets returns the first SPS and PPS found in an Annex-B
// access unit.
func ExtractParameterSets(annexB []byte) (sps, pps []byte) {
	var au mch264.AnnexB
	if err := au.Unmarshal(annexB); err != nil {
		// Fall back to the lenient splitter for streams that do not start
		// with a start code.
		au = SplitNALUs(annexB)
	}
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch mch264.NALUType(nalu[0] & 0x1F) {
		case mch264.NALUTypeSPS:
			if sps == nil {
				sps = append([]byte{}, nalu...)
			}
		case mch264.NALUTypePPS:
			if pps == nil {
				pps = append([]byte{}, nalu...)
			}
		}
	}
	return sps, pps
}

// IsKeyFrame reports whether an Annex-B access unit contains an IDR slice.
func IsKeyFrame(annexB []byte) bool {
	for _, nalu := range SplitNALUs(annexB) {
		if mch264.NALUType(nalu[0]&0x1F) == mch264.NALUTypeIDR {
			return true
		}
	}
	return false
}

// PrependParameterSetsAVCC prefixes an AVCC access unit with SPS and PPS
// NAL units so a key frame decodes on its own.
func PrependParameterSetsAVCC(avcc, sps, pps []byte) []byte {
	out := make([]byte, 0, 8+len(sps)+len(pps)+len(avcc))
	out = binary.BigEndian.AppendUint32(out, uint32(len(sps)))
	out = append(out, sps...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(pps)))
	out = append(out, pps...)
	return append(out, avcc...)
}
