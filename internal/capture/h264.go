package capture

import (
	"encoding/binary"
	"errors"
)

const (
	naluTypeSPS = 7
	naluTypePPS = 8

	avccLengthSize = 4
)

var errMalformedAVC = errors.New("malformed AVC payload")

func annexBPrefix() []byte {
	return []byte{0x00, 0x00, 0x00, 0x01}
}

// avccToAnnexB rewrites length prefixed NAL units as Annex-B. hasParams reports
// whether the units carry an SPS or a PPS.
func avccToAnnexB(b []byte) (out []byte, hasParams bool, err error) {
	for len(b) > 0 {
		if len(b) < avccLengthSize {
			return nil, false, errMalformedAVC
		}
		n := int(binary.BigEndian.Uint32(b))
		b = b[avccLengthSize:]
		if n == 0 || n > len(b) {
			return nil, false, errMalformedAVC
		}
		switch b[0] & 0x1f {
		case naluTypeSPS, naluTypePPS:
			hasParams = true
		}
		out = append(out, annexBPrefix()...)
		out = append(out, b[:n]...)
		b = b[n:]
	}
	return out, hasParams, nil
}

// decoderConfiguration extracts SPS and PPS from an AVCDecoderConfigurationRecord
// as Annex-B.
func decoderConfiguration(b []byte) ([]byte, error) {
	const spsCountOffset = 5
	if len(b) <= spsCountOffset {
		return nil, errMalformedAVC
	}

	var out []byte
	offset := spsCountOffset
	for _, countMask := range []byte{0x1f, 0xff} {
		if offset >= len(b) {
			return nil, errMalformedAVC
		}
		count := int(b[offset] & countMask)
		offset++
		for i := 0; i < count; i++ {
			if offset+2 > len(b) {
				return nil, errMalformedAVC
			}
			n := int(binary.BigEndian.Uint16(b[offset:]))
			offset += 2
			if n == 0 || offset+n > len(b) {
				return nil, errMalformedAVC
			}
			out = append(out, annexBPrefix()...)
			out = append(out, b[offset:offset+n]...)
			offset += n
		}
	}
	return out, nil
}
