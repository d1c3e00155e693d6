// Package uds implements the UDS (ISO 14229) response resolver: catalog
// lookup with a fallback synthesizer for the standard diagnostic services
// this emulator supports out of the box.
package uds

import (
	"doipsim/catalog"
)

// AddressType classifies how a diagnostic request was addressed.
type AddressType int

const (
	Physical AddressType = iota
	Functional
	Unknown
)

// Service identifiers consulted by the default synthesizer.
const (
	sidTesterPresent            = 0x3E
	sidDiagnosticSessionControl = 0x10
	sidReadDataByIdentifier     = 0x22
	sidSecurityAccess           = 0x27
	sidECUReset                 = 0x11
	sidRoutineControl           = 0x31
	sidRequestDownload          = 0x34
	sidTransferData             = 0x36
	sidRequestTransferExit      = 0x37
)

const negativeResponsePrefix = 0x7F
const nrcServiceNotSupported = 0x11

// Responder resolves a UDS request to a response, consulting a Response
// Catalog first and falling through to the default synthesis table from
// the standard.
type Responder struct {
	catalog *catalog.Catalog
}

// NewResponder returns a Responder backed by the given catalog. A nil
// catalog is treated as permanently empty.
func NewResponder(c *catalog.Catalog) *Responder {
	return &Responder{catalog: c}
}

// Resolve returns the response payload for a request, or (nil, false) when
// the protocol calls for a suppressed response (a valid UDS outcome, not an
// error). request must be non-empty; callers enforce that before calling.
func (r *Responder) Resolve(request []byte, addr AddressType) ([]byte, bool) {
	if r.catalog != nil {
		if res, ok := r.catalog.Lookup(request); ok {
			return res, true
		}
	}
	return synthesizeDefault(request, addr)
}

// synthesizeDefault implements the deterministic fallback table: first
// matching rule wins, sid = request[0].
func synthesizeDefault(request []byte, addr AddressType) ([]byte, bool) {
	sid := request[0]

	// Both address types suppress TesterPresent, per the literal default
	// synthesis table: neither row distinguishes sub-function.
	if sid == sidTesterPresent {
		return nil, false
	}

	switch {
	case sid == sidDiagnosticSessionControl && len(request) >= 2:
		sub := request[1]
		return []byte{sid + 0x40, sub, 0x00, 0x32, 0x01, 0xF4}, true

	case sid == sidReadDataByIdentifier && len(request) >= 3:
		didHi, didLo := request[1], request[2]
		return []byte{sid + 0x40, didHi, didLo, 0x01, 0x02, 0x03, 0x04}, true

	case sid == sidSecurityAccess && len(request) >= 2:
		level := request[1]
		if level%2 == 1 {
			resp := make([]byte, 0, 2+16)
			resp = append(resp, sid+0x40, level)
			resp = append(resp, syntheticSeed(16)...)
			return resp, true
		}
		return []byte{sid + 0x40, level}, true

	case sid == sidECUReset && len(request) >= 2:
		return []byte{sid + 0x40, request[1]}, true

	case sid == sidRoutineControl && matchesRoutine(request, 0x01, 0xDD, 0x02):
		return []byte{sid + 0x40, 0x01, 0xDD, 0x02, 0x00}, true

	case sid == sidRoutineControl && matchesRoutine(request, 0x01, 0xFF, 0x00):
		return []byte{sid + 0x40, 0x01, 0xFF, 0x00, 0x00}, true

	case sid == sidRequestDownload && len(request) >= 2:
		return []byte{sid + 0x40, 0x40, 0x00, 0x00, 0x3F, 0x02}, true

	case sid == sidTransferData && len(request) >= 2:
		return []byte{sid + 0x40, request[1]}, true

	case sid == sidRequestTransferExit:
		return []byte{sid + 0x40}, true

	default:
		return []byte{negativeResponsePrefix, sid, nrcServiceNotSupported}, true
	}
}

// matchesRoutine checks a RoutineControl start request (31 [subfn] [routine hi] [routine lo] ...).
func matchesRoutine(request []byte, subfn, hi, lo byte) bool {
	return len(request) >= 4 && request[1] == subfn && request[2] == hi && request[3] == lo
}

// syntheticSeed produces a deterministic, non-cryptographic seed sequence
// for SecurityAccess requestSeed responses. The emulator has no real
// security concept to protect; the bytes only need to look seed-shaped.
func syntheticSeed(n int) []byte {
	seed := make([]byte, n)
	x := byte(0x5A)
	for i := range seed {
		x = x*31 + byte(i)
		seed[i] = x
	}
	return seed
}
