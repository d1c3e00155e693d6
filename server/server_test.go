package server

import (
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"doipsim/catalog"
	"doipsim/doip"
	"doipsim/events"
	"doipsim/uds"
)

func testVehicle() VehicleIdentity {
	return NewVehicleIdentity("WDB1234567890ABCD", [6]byte{1, 2, 3, 4, 5, 6}, [6]byte{6, 5, 4, 3, 2, 1}, 0x00)
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	cfg := Config{
		Host:    "127.0.0.1",
		Port:    0,
		Identity: Identity{ServerAddr: 0x0E00, ServerAddrFunc: 0xE400, ClientAddr: 0x0E80},
		Vehicle:  testVehicle(),
		Responder: uds.NewResponder(catalog.New()),
	}
	s, err := New(cfg, events.NewBus())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// The Server exposes no accessor for an OS-picked port, so probe a free
	// port by binding manually first and start the server on that port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()
	s.cfg.Port = addr.Port

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	return s, net.JoinHostPort("127.0.0.1", strconv.Itoa(s.cfg.Port))
}

func dialTCP(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func readOne(t *testing.T, conn net.Conn) (doip.Header, []byte) {
	t.Helper()
	hdr, payload, err := doip.ReadMessage(conn, doip.DefaultMaxPayload)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return hdr, payload
}

func TestVehicleIdentificationOverTCP(t *testing.T) {
	_, addr := newTestServer(t)
	conn := dialTCP(t, addr)
	defer conn.Close()

	conn.Write(doip.Encode(doip.VehicleIdentRequest, nil))
	hdr, payload := readOne(t, conn)

	if hdr.PayloadType != doip.VehicleIdentResponse {
		t.Fatalf("got payload type %v, want VehicleIdentResponse", hdr.PayloadType)
	}
	if len(payload) != 17+2+6+6+1 {
		t.Fatalf("unexpected vehicle ident payload length %d", len(payload))
	}
}

func TestRoutingActivation(t *testing.T) {
	s, addr := newTestServer(t)
	conn := dialTCP(t, addr)
	defer conn.Close()

	req := make([]byte, 0, 7)
	req = binary.BigEndian.AppendUint16(req, 0x0E80)
	req = append(req, 0x00)
	req = append(req, 0, 0, 0, 0)
	conn.Write(doip.Encode(doip.RoutingActivationReq, req))

	hdr, payload := readOne(t, conn)
	if hdr.PayloadType != doip.RoutingActivationResp {
		t.Fatalf("got %v, want RoutingActivationResp", hdr.PayloadType)
	}
	if len(payload) != 9 {
		t.Fatalf("unexpected routing response length %d", len(payload))
	}
	if payload[4] != 0x10 {
		t.Fatalf("response code = 0x%02X, want 0x10", payload[4])
	}

	time.Sleep(50 * time.Millisecond)
	snaps := s.Snapshot()
	if len(snaps) != 1 || snaps[0].State != StateRoutingActivated {
		t.Fatalf("session not marked routing-activated: %+v", snaps)
	}
}

func TestDiagnosticMessageAckWithSuppressedResponse(t *testing.T) {
	_, addr := newTestServer(t)
	conn := dialTCP(t, addr)
	defer conn.Close()

	diag := make([]byte, 0, 6)
	diag = binary.BigEndian.AppendUint16(diag, 0x0E80)
	diag = binary.BigEndian.AppendUint16(diag, 0x0E00)
	diag = append(diag, 0x3E, 0x00) // TesterPresent: suppressed data response
	conn.Write(doip.Encode(doip.DiagnosticMessage, diag))

	hdr, payload := readOne(t, conn)
	if hdr.PayloadType != doip.DiagnosticMessageAck {
		t.Fatalf("got %v, want DiagnosticMessageAck", hdr.PayloadType)
	}
	if len(payload) != 5 || payload[4] != 0x00 {
		t.Fatalf("unexpected ack payload %v", payload)
	}

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := doip.ReadMessage(conn, doip.DefaultMaxPayload); err == nil {
		t.Fatalf("expected no further message for suppressed TesterPresent response")
	}
}

func TestDiagnosticMessageDefaultSynthesis(t *testing.T) {
	_, addr := newTestServer(t)
	conn := dialTCP(t, addr)
	defer conn.Close()

	diag := make([]byte, 0, 5)
	diag = binary.BigEndian.AppendUint16(diag, 0x0E80)
	diag = binary.BigEndian.AppendUint16(diag, 0x0E00)
	diag = append(diag, 0x10, 0x01) // DiagnosticSessionControl, default session
	conn.Write(doip.Encode(doip.DiagnosticMessage, diag))

	readOne(t, conn) // ack

	hdr, payload := readOne(t, conn)
	if hdr.PayloadType != doip.DiagnosticMessage {
		t.Fatalf("got %v, want DiagnosticMessage response", hdr.PayloadType)
	}
	if len(payload) < 5 || payload[4] != 0x50 {
		t.Fatalf("unexpected response payload %v", payload)
	}
}

func TestUnknownServiceGetsNegativeResponse(t *testing.T) {
	_, addr := newTestServer(t)
	conn := dialTCP(t, addr)
	defer conn.Close()

	diag := make([]byte, 0, 5)
	diag = binary.BigEndian.AppendUint16(diag, 0x0E80)
	diag = binary.BigEndian.AppendUint16(diag, 0x0E00)
	diag = append(diag, 0xBA) // unsupported sid
	conn.Write(doip.Encode(doip.DiagnosticMessage, diag))

	readOne(t, conn) // ack
	hdr, payload := readOne(t, conn)
	if hdr.PayloadType != doip.DiagnosticMessage {
		t.Fatalf("got %v, want DiagnosticMessage response", hdr.PayloadType)
	}
	if len(payload) < 7 || payload[4] != 0x7F || payload[6] != 0x11 {
		t.Fatalf("unexpected negative response %v", payload)
	}
}

func TestVehicleIdentificationOverUDP(t *testing.T) {
	_, addr := newTestServer(t)

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		t.Fatalf("dial udp: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	conn.Write(doip.Encode(doip.VehicleIdentRequest, nil))

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("udp read: %v", err)
	}
	hdr, err := doip.DecodeHeader(buf[:doip.HeaderLength])
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if hdr.PayloadType != doip.VehicleIdentResponse {
		t.Fatalf("got %v, want VehicleIdentResponse", hdr.PayloadType)
	}
	payload := buf[doip.HeaderLength:n]
	if len(payload) != 17+2+6+6+1+1 {
		t.Fatalf("unexpected udp vehicle ident payload length %d", len(payload))
	}
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	s, addr := newTestServer(t)

	const n = 5
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			conn := dialTCP(t, addr)
			defer conn.Close()
			conn.Write(doip.Encode(doip.VehicleIdentRequest, nil))
			readOne(t, conn)
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	time.Sleep(50 * time.Millisecond)
	if c := s.SessionCount(); c != 0 {
		t.Fatalf("expected sessions to close after client disconnect, got %d live", c)
	}
}

func TestStopClosesAllSessions(t *testing.T) {
	s, addr := newTestServer(t)
	conn := dialTCP(t, addr)
	defer conn.Close()

	conn.Write(doip.Encode(doip.VehicleIdentRequest, nil))
	readOne(t, conn)

	s.Stop()

	if c := s.SessionCount(); c != 0 {
		t.Fatalf("expected 0 sessions after Stop, got %d", c)
	}

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("expected connection to be closed by Stop")
	}
}

func TestEmptyCatalogFallsBackToSynthesis(t *testing.T) {
	cfg := Config{
		Host:     "127.0.0.1",
		Identity: Identity{ServerAddr: 0x0E00, ServerAddrFunc: 0xE400, ClientAddr: 0x0E80},
		Vehicle:  testVehicle(),
	}
	cat := catalog.New()
	cfg.Responder = uds.NewResponder(cat)

	s, err := New(cfg, events.NewBus())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()
	s.cfg.Port = addr.Port

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn := dialTCP(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(s.cfg.Port)))
	defer conn.Close()

	diag := make([]byte, 0, 5)
	diag = binary.BigEndian.AppendUint16(diag, 0x0E80)
	diag = binary.BigEndian.AppendUint16(diag, 0x0E00)
	diag = append(diag, 0x22, 0xF1, 0x90)
	conn.Write(doip.Encode(doip.DiagnosticMessage, diag))

	readOne(t, conn) // ack
	_, payload := readOne(t, conn)
	if len(payload) < 5 || payload[4] != 0x62 {
		t.Fatalf("unexpected default-synthesis response %v", payload)
	}
}
