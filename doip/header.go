// Package doip implements the ISO 13400-2 wire codec: encoding and decoding
// of the 8-byte DoIP generic header and its payload envelope.
package doip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// ProtocolVersion is the only DoIP protocol version this emulator speaks.
	ProtocolVersion byte = 0x03
	// InverseProtocolVersion must equal ^ProtocolVersion & 0xFF on every valid header.
	InverseProtocolVersion byte = 0xFC

	// HeaderLength is the fixed size of the DoIP generic header.
	HeaderLength = 8

	// DefaultMaxPayload is the recommended read ceiling for standard DoIP traffic.
	DefaultMaxPayload = 64 * 1024
)

// PayloadType identifies the kind of DoIP message carried after the header.
type PayloadType uint16

const (
	VehicleIdentRequest   PayloadType = 0x0001
	VehicleIdentResponse  PayloadType = 0x0004
	RoutingActivationReq  PayloadType = 0x0005
	RoutingActivationResp PayloadType = 0x0006
	DiagnosticMessage     PayloadType = 0x8001
	DiagnosticMessageAck  PayloadType = 0x8002
	DiagnosticMessageNack PayloadType = 0x8003
)

// String returns a short human-readable name for known payload types.
func (t PayloadType) String() string {
	switch t {
	case VehicleIdentRequest:
		return "VehicleIdentRequest"
	case VehicleIdentResponse:
		return "VehicleIdentResponse"
	case RoutingActivationReq:
		return "RoutingActivationReq"
	case RoutingActivationResp:
		return "RoutingActivationResp"
	case DiagnosticMessage:
		return "DiagnosticMessage"
	case DiagnosticMessageAck:
		return "DiagnosticMessageAck"
	case DiagnosticMessageNack:
		return "DiagnosticMessageNack"
	default:
		return fmt.Sprintf("Unknown(0x%04X)", uint16(t))
	}
}

// Error kinds named by spec section 7. Callers switch on errors.Is against
// these sentinels; wrapped context is added with %w.
var (
	ErrMalformedHeader  = errors.New("doip: malformed header")
	ErrShortRead        = errors.New("doip: short read")
	ErrOversizedPayload = errors.New("doip: oversized payload")
)

// Header is the decoded form of the 8-byte DoIP generic header.
type Header struct {
	PayloadType   PayloadType
	PayloadLength uint32
}

// Encode produces a complete DoIP message: header followed by payload.
// It does not validate payload length against any ceiling — callers that
// write outbound frames control their own payload sizes.
func Encode(payloadType PayloadType, payload []byte) []byte {
	buf := make([]byte, 0, HeaderLength+len(payload))
	buf = append(buf, ProtocolVersion, InverseProtocolVersion)
	buf = binary.BigEndian.AppendUint16(buf, uint16(payloadType))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	return buf
}

// DecodeHeader parses the fixed 8-byte DoIP header. raw must be exactly
// HeaderLength bytes.
func DecodeHeader(raw []byte) (Header, error) {
	if len(raw) != HeaderLength {
		return Header{}, fmt.Errorf("%w: need %d bytes, got %d", ErrMalformedHeader, HeaderLength, len(raw))
	}
	version, inverse := raw[0], raw[1]
	if version != ProtocolVersion || version^inverse != 0xFF {
		return Header{}, fmt.Errorf("%w: version=0x%02X inverse=0x%02X", ErrMalformedHeader, version, inverse)
	}
	return Header{
		PayloadType:   PayloadType(binary.BigEndian.Uint16(raw[2:4])),
		PayloadLength: binary.BigEndian.Uint32(raw[4:8]),
	}, nil
}

// ReadExact reads precisely n bytes from r, failing with ErrShortRead if the
// stream is exhausted before n bytes are available.
func ReadExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %v", ErrShortRead, err)
		}
		return nil, err
	}
	return buf, nil
}

// ReadMessage reads one full DoIP message (header + payload) from r, applying
// maxPayload as the OversizedPayload ceiling. A maxPayload of 0 disables the
// ceiling check.
func ReadMessage(r io.Reader, maxPayload uint32) (Header, []byte, error) {
	raw, err := ReadExact(r, HeaderLength)
	if err != nil {
		return Header{}, nil, err
	}
	hdr, err := DecodeHeader(raw)
	if err != nil {
		return Header{}, nil, err
	}
	if maxPayload > 0 && hdr.PayloadLength > maxPayload {
		return Header{}, nil, fmt.Errorf("%w: declared %d exceeds ceiling %d", ErrOversizedPayload, hdr.PayloadLength, maxPayload)
	}
	payload, err := ReadExact(r, int(hdr.PayloadLength))
	if err != nil {
		return Header{}, nil, err
	}
	return hdr, payload, nil
}
