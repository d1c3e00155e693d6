package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 13400 {
		t.Fatalf("got port %d, want default 13400", cfg.Server.Port)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected best-effort save to create %s: %v", path, err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	raw := `
server:
  host: 127.0.0.1
  port: 13400
  server_addr: 3584
  server_addr_func: 58368
  client_addr: 3712
  announce_on_start: true
vehicle:
  vin: "WDB1234567890ABCD"
  eid: "010203040506"
  gid: "060504030201"
status:
  enabled: true
  host: 127.0.0.1
  port: 8080
`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ServerAddr != 3584 || cfg.Server.ServerAddrFunc != 58368 {
		t.Fatalf("unexpected identity: %+v", cfg.Server)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	id, err := cfg.Server.ToIdentity()
	if err != nil {
		t.Fatalf("ToIdentity: %v", err)
	}
	if id.ServerAddr != 3584 {
		t.Fatalf("ToIdentity.ServerAddr = %d, want 3584", id.ServerAddr)
	}

	vehicle, err := cfg.Vehicle.ToVehicleIdentity()
	if err != nil {
		t.Fatalf("ToVehicleIdentity: %v", err)
	}
	if vehicle.EID != [6]byte{1, 2, 3, 4, 5, 6} {
		t.Fatalf("unexpected EID: %v", vehicle.EID)
	}
}

func TestValidateRejectsMissingServerAddrFunc(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Vehicle = VehicleConfig{VIN: "WDB1234567890ABCD", EID: "010203040506", GID: "060504030201"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to reject zero server_addr_func")
	}
}

func TestValidateRejectsBadEID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.ServerAddr = 0x0E00
	cfg.Server.ServerAddrFunc = 0xE400
	cfg.Vehicle = VehicleConfig{VIN: "WDB1234567890ABCD", EID: "nothex", GID: "060504030201"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to reject malformed EID hex")
	}
}

func TestOnChangeListenerFiresOnSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := DefaultConfig()

	fired := make(chan struct{}, 1)
	cfg.AddOnChangeListener(func() { fired <- struct{}{} })

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected change listener to fire on Save")
	}
}
