package doip

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		ptype   PayloadType
		payload []byte
	}{
		{"empty payload", VehicleIdentRequest, nil},
		{"routing activation", RoutingActivationReq, []byte{0x0E, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"diagnostic message", DiagnosticMessage, bytes.Repeat([]byte{0xAB}, 200)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire := Encode(tc.ptype, tc.payload)

			hdr, err := DecodeHeader(wire[:HeaderLength])
			if err != nil {
				t.Fatalf("DecodeHeader: %v", err)
			}
			if hdr.PayloadType != tc.ptype {
				t.Errorf("payload type = 0x%04X, want 0x%04X", hdr.PayloadType, tc.ptype)
			}
			if int(hdr.PayloadLength) != len(tc.payload) {
				t.Errorf("payload length = %d, want %d", hdr.PayloadLength, len(tc.payload))
			}

			got := wire[HeaderLength:]
			if !bytes.Equal(got, tc.payload) {
				t.Errorf("payload = %x, want %x", got, tc.payload)
			}
		})
	}
}

func TestDecodeHeaderMalformed(t *testing.T) {
	t.Run("bad version", func(t *testing.T) {
		raw := []byte{0x02, 0xFD, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00}
		if _, err := DecodeHeader(raw); !errors.Is(err, ErrMalformedHeader) {
			t.Fatalf("err = %v, want ErrMalformedHeader", err)
		}
	})

	t.Run("inverse mismatch", func(t *testing.T) {
		raw := []byte{0x03, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00}
		if _, err := DecodeHeader(raw); !errors.Is(err, ErrMalformedHeader) {
			t.Fatalf("err = %v, want ErrMalformedHeader", err)
		}
	})

	t.Run("short buffer", func(t *testing.T) {
		raw := []byte{0x03, 0xFC, 0x00, 0x01}
		if _, err := DecodeHeader(raw); !errors.Is(err, ErrMalformedHeader) {
			t.Fatalf("err = %v, want ErrMalformedHeader", err)
		}
	})
}

func TestReadExactShortRead(t *testing.T) {
	r := bytes.NewReader([]byte{0x01, 0x02, 0x03})
	if _, err := ReadExact(r, 8); !errors.Is(err, ErrShortRead) {
		t.Fatalf("err = %v, want ErrShortRead", err)
	}
}

func TestReadMessageOversizedPayload(t *testing.T) {
	wire := Encode(DiagnosticMessage, make([]byte, 128))
	r := bytes.NewReader(wire)
	if _, _, err := ReadMessage(r, 64); !errors.Is(err, ErrOversizedPayload) {
		t.Fatalf("err = %v, want ErrOversizedPayload", err)
	}
}

func TestReadMessageRoundTrip(t *testing.T) {
	payload := []byte{0x22, 0xF1, 0x90}
	wire := Encode(DiagnosticMessage, payload)
	r := bytes.NewReader(wire)

	hdr, got, err := ReadMessage(r, DefaultMaxPayload)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if hdr.PayloadType != DiagnosticMessage {
		t.Errorf("payload type = %v, want DiagnosticMessage", hdr.PayloadType)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %x, want %x", got, payload)
	}

	if _, _, err := ReadMessage(r, DefaultMaxPayload); !errors.Is(err, io.EOF) && !errors.Is(err, ErrShortRead) {
		t.Errorf("second read err = %v, want EOF-ish", err)
	}
}
