package server

import "fmt"

// Identity is the immutable logical-address triple a server instance is
// constructed with. server_addr_func has no sane default; constructors
// must supply it explicitly (spec.md's Open Question 3).
type Identity struct {
	ServerAddr     uint16
	ServerAddrFunc uint16
	ClientAddr     uint16
}

// Validate rejects a zero ServerAddrFunc: the source material disagreed on
// a default (0x1FFF vs 0x7DF), so this is treated as a required field with
// no fallback rather than guessed at.
func (id Identity) Validate() error {
	if id.ServerAddrFunc == 0 {
		return fmt.Errorf("server: server_addr_func is required and has no default")
	}
	return nil
}

// VehicleIdentity is the fixed-per-instance data carried in Vehicle
// Identification responses and announcements.
type VehicleIdentity struct {
	VIN          [17]byte
	EID          [6]byte
	GID          [6]byte
	FurtherAction byte
}

// NewVehicleIdentity builds a VehicleIdentity from a VIN string and raw
// EID/GID byte slices, padding/truncating the VIN to 17 bytes.
func NewVehicleIdentity(vin string, eid, gid [6]byte, furtherAction byte) VehicleIdentity {
	var v VehicleIdentity
	copy(v.VIN[:], vin)
	v.EID = eid
	v.GID = gid
	v.FurtherAction = furtherAction
	return v
}

// Bytes encodes the vehicle identification payload:
// VIN(17) | server_addr(2 BE) | EID(6) | GID(6) | further_action(1).
func (v VehicleIdentity) Bytes(serverAddr uint16) []byte {
	buf := make([]byte, 0, 17+2+6+6+1)
	buf = append(buf, v.VIN[:]...)
	buf = append(buf, byte(serverAddr>>8), byte(serverAddr))
	buf = append(buf, v.EID[:]...)
	buf = append(buf, v.GID[:]...)
	buf = append(buf, v.FurtherAction)
	return buf
}

// BytesWithSyncStatus appends the UDP-only sync_status byte after
// further_action.
func (v VehicleIdentity) BytesWithSyncStatus(serverAddr uint16, syncStatus byte) []byte {
	return append(v.Bytes(serverAddr), syncStatus)
}
