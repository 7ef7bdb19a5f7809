package capture

import (
	"bytes"
	"testing"
)

var (
	testSPS = []byte{0x67, 0x42, 0xc0, 0x1e}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00}
)

func avcc(nalus ...[]byte) []byte {
	var b []byte
	for _, n := range nalus {
		b = append(b, byte(len(n)>>24), byte(len(n)>>16), byte(len(n)>>8), byte(len(n)))
		b = append(b, n...)
	}
	return b
}

func annexB(nalus ...[]byte) []byte {
	var b []byte
	for _, n := range nalus {
		b = append(b, annexBPrefix()...)
		b = append(b, n...)
	}
	return b
}

// decoderConfigurationRecord builds an AVCDecoderConfigurationRecord with one SPS and one PPS.
func decoderConfigurationRecord(sps, pps []byte) []byte {
	b := []byte{0x01, sps[1], sps[2], sps[3], 0xff, 0xe1}
	b = append(b, byte(len(sps)>>8), byte(len(sps)))
	b = append(b, sps...)
	b = append(b, 0x01, byte(len(pps)>>8), byte(len(pps)))
	return append(b, pps...)
}

func TestAVCCToAnnexB(t *testing.T) {
	tests := []struct {
		name       string
		in         []byte
		want       []byte
		wantParams bool
		wantErr    bool
	}{
		{"single", avcc(testIDR), annexB(testIDR), false, false},
		{"with parameter sets", avcc(testSPS, testPPS, testIDR), annexB(testSPS, testPPS, testIDR), true, false},
		{"truncated length", []byte{0x00, 0x00}, nil, false, true},
		{"length past end", []byte{0x00, 0x00, 0x00, 0x09, 0x65}, nil, false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, params, err := avccToAnnexB(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("error is incorrect, got %v want error %t", err, tc.wantErr)
			}
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("output is incorrect, got %x want %x", got, tc.want)
			}
			if params != tc.wantParams {
				t.Fatalf("parameter sets flag is incorrect, got %t want %t", params, tc.wantParams)
			}
		})
	}
}

func TestDecoderConfiguration(t *testing.T) {
	got, err := decoderConfiguration(decoderConfigurationRecord(testSPS, testPPS))
	if err != nil {
		t.Fatal(err)
	}
	if want := annexB(testSPS, testPPS); !bytes.Equal(got, want) {
		t.Fatalf("parameter sets are incorrect, got %x want %x", got, want)
	}

	record := decoderConfigurationRecord(testSPS, testPPS)
	if _, err := decoderConfiguration(record[:len(record)-2]); err == nil {
		t.Fatal("expected an error for a truncated record")
	}
}
