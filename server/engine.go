package server

import (
	"encoding/binary"
	"errors"
	"net"

	"doipsim/doip"
	"doipsim/events"
	"doipsim/logging"
	"doipsim/uds"
)

func isMalformedHeader(err error) bool  { return errors.Is(err, doip.ErrMalformedHeader) }
func isShortRead(err error) bool        { return errors.Is(err, doip.ErrShortRead) }
func isOversizedPayload(err error) bool { return errors.Is(err, doip.ErrOversizedPayload) }

// dispatch handles one TCP-framed DoIP message per spec.md 4.5. It is the
// Protocol Engine's payload-type switch.
func (s *Server) dispatch(sess *Session, hdr doip.Header, payload []byte) {
	switch hdr.PayloadType {
	case doip.VehicleIdentRequest:
		s.replyVehicleIdent(sess)

	case doip.RoutingActivationReq:
		s.handleRoutingActivation(sess, payload)

	case doip.DiagnosticMessage:
		s.handleDiagnosticMessage(sess, payload)

	default:
		s.bus.Info(events.CategoryProtocol, sess.peer, "unknown payload type 0x%04X, ignored", uint16(hdr.PayloadType))
	}
}

// dispatchUDP handles a UDP-framed DoIP message. Only Vehicle
// Identification Requests are meaningful over UDP in this emulator.
func (s *Server) dispatchUDP(hdr doip.Header, payload []byte, addr *net.UDPAddr) {
	switch hdr.PayloadType {
	case doip.VehicleIdentRequest:
		resp := s.cfg.Vehicle.BytesWithSyncStatus(s.cfg.Identity.ServerAddr, 0x00)
		wire := doip.Encode(doip.VehicleIdentResponse, resp)
		logging.DebugTX("udp", wire)
		if _, err := s.udpConn.WriteToUDP(wire, addr); err != nil {
			s.bus.Warn(events.CategoryTransport, addr.String(), "udp write failed: %v", err)
		}
	default:
		s.bus.Info(events.CategoryProtocol, addr.String(), "unknown udp payload type 0x%04X, ignored", uint16(hdr.PayloadType))
	}
}

// replyVehicleIdent answers a TCP Vehicle Identification Request.
func (s *Server) replyVehicleIdent(sess *Session) {
	resp := s.cfg.Vehicle.Bytes(s.cfg.Identity.ServerAddr)
	s.writeMessage(sess, doip.VehicleIdentResponse, resp)
}

// handleRoutingActivation implements spec.md 4.5's 0x0005/0x0006 exchange.
// Payloads shorter than 4 bytes are rejected with a log entry and no
// response, per the InvalidRoutingRequest policy in spec.md 7.
func (s *Server) handleRoutingActivation(sess *Session, payload []byte) {
	if len(payload) < 4 {
		s.bus.Warn(events.CategoryProtocol, sess.peer, "invalid routing activation request: payload too short")
		return
	}

	sourceAddr := binary.BigEndian.Uint16(payload[0:2])
	sess.markRoutingActivated(sourceAddr)

	resp := make([]byte, 0, 9)
	resp = binary.BigEndian.AppendUint16(resp, sourceAddr)
	resp = binary.BigEndian.AppendUint16(resp, s.cfg.Identity.ServerAddr)
	resp = append(resp, 0x10) // response_code: routing successfully activated
	resp = append(resp, 0x00, 0x00, 0x00, 0x00)

	s.writeMessage(sess, doip.RoutingActivationResp, resp)
	s.bus.Info(events.CategoryProtocol, sess.peer, "routing activated for source 0x%04X", sourceAddr)
}

// handleDiagnosticMessage implements spec.md 4.5's 0x8001 path: always ACK,
// then invoke the UDS Responder and forward any non-suppressed response.
func (s *Server) handleDiagnosticMessage(sess *Session, payload []byte) {
	if len(payload) < 4 {
		s.bus.Warn(events.CategoryProtocol, sess.peer, "diagnostic message too short to contain addressing")
		return
	}

	sourceAddr := binary.BigEndian.Uint16(payload[0:2])
	targetAddr := binary.BigEndian.Uint16(payload[2:4])
	request := payload[4:]

	addrType := s.classifyAddress(targetAddr)

	ack := make([]byte, 0, 5)
	ack = binary.BigEndian.AppendUint16(ack, sourceAddr)
	ack = binary.BigEndian.AppendUint16(ack, targetAddr)
	ack = append(ack, 0x00)
	s.writeMessage(sess, doip.DiagnosticMessageAck, ack)

	if len(request) == 0 {
		return
	}

	resolver := s.cfg.Responder
	if resolver == nil {
		resolver = uds.NewResponder(nil)
	}

	// Unknown target addresses are still processed for logging, but per
	// spec.md synthesis uses Unknown as Physical.
	resolveAddr := addrType
	if resolveAddr == uds.Unknown {
		resolveAddr = uds.Physical
	}

	response, ok := resolver.Resolve(request, resolveAddr)
	if !ok {
		s.bus.Info(events.CategoryUDS, sess.peer, "suppressed response (sid 0x%02X)", request[0])
		return
	}

	respPayload := make([]byte, 0, 4+len(response))
	respPayload = binary.BigEndian.AppendUint16(respPayload, s.cfg.Identity.ServerAddr)
	respPayload = binary.BigEndian.AppendUint16(respPayload, sourceAddr)
	respPayload = append(respPayload, response...)

	s.writeMessage(sess, doip.DiagnosticMessage, respPayload)
}

// classifyAddress maps a target logical address to Physical, Functional,
// or Unknown per spec.md 4.5.
func (s *Server) classifyAddress(target uint16) uds.AddressType {
	switch target {
	case s.cfg.Identity.ServerAddr:
		return uds.Physical
	case s.cfg.Identity.ServerAddrFunc:
		return uds.Functional
	default:
		return uds.Unknown
	}
}

// writeMessage encodes and writes one DoIP message to sess's connection.
// Write failures close the session; other sessions are unaffected, per the
// WriteFailure policy in spec.md 7.
func (s *Server) writeMessage(sess *Session, ptype doip.PayloadType, payload []byte) {
	wire := doip.Encode(ptype, payload)
	logging.DebugTX("tcp", wire)
	if _, err := sess.conn.Write(wire); err != nil {
		s.bus.Warn(events.CategoryTransport, sess.peer, "write failed: %v", err)
		sess.conn.Close()
	}
}
