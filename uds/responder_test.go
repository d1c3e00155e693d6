package uds

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"doipsim/catalog"
)

func TestDefaultSynthesis(t *testing.T) {
	r := NewResponder(catalog.New())

	cases := []struct {
		name    string
		request []byte
		addr    AddressType
		wantRes []byte
		wantOK  bool
	}{
		{"TesterPresent functional suppressed", []byte{0x3E, 0x80}, Functional, nil, false},
		{"TesterPresent physical suppressed", []byte{0x3E, 0x00}, Physical, nil, false},
		{"DiagnosticSessionControl", []byte{0x10, 0x03}, Physical, []byte{0x50, 0x03, 0x00, 0x32, 0x01, 0xF4}, true},
		{"ReadDataByIdentifier", []byte{0x22, 0xF1, 0x90}, Physical, []byte{0x62, 0xF1, 0x90, 0x01, 0x02, 0x03, 0x04}, true},
		{"SecurityAccess seed (odd level)", []byte{0x27, 0x01}, Physical, nil, true},
		{"SecurityAccess key (even level)", []byte{0x27, 0x02}, Physical, []byte{0x67, 0x02}, true},
		{"ECUReset", []byte{0x11, 0x01}, Physical, []byte{0x51, 0x01}, true},
		{"RoutineControl DD02", []byte{0x31, 0x01, 0xDD, 0x02}, Physical, []byte{0x71, 0x01, 0xDD, 0x02, 0x00}, true},
		{"RoutineControl FF00", []byte{0x31, 0x01, 0xFF, 0x00}, Physical, []byte{0x71, 0x01, 0xFF, 0x00, 0x00}, true},
		{"RequestDownload", []byte{0x34, 0x00, 0x44}, Physical, []byte{0x74, 0x40, 0x00, 0x00, 0x3F, 0x02}, true},
		{"TransferData echoes sequence", []byte{0x36, 0x07, 0xAA}, Physical, []byte{0x76, 0x07}, true},
		{"RequestTransferExit", []byte{0x37}, Physical, []byte{0x77}, true},
		{"Unknown service", []byte{0x7A, 0x00}, Physical, []byte{0x7F, 0x7A, 0x11}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, ok := r.Resolve(tc.request, tc.addr)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if tc.name == "SecurityAccess seed (odd level)" {
				if len(res) != 18 || res[0] != 0x67 || res[1] != 0x01 {
					t.Fatalf("seed response = %x, want 0x67 0x01 + 16 bytes", res)
				}
				return
			}
			if !bytes.Equal(res, tc.wantRes) {
				t.Errorf("res = %x, want %x", res, tc.wantRes)
			}
		})
	}
}

func TestCatalogHitTakesPriority(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "responses.json")
	if err := os.WriteFile(path, []byte(`[{"req":"22F190","res":"62F190414243"}]`), 0644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	c, err := catalog.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	r := NewResponder(c)
	res, ok := r.Resolve([]byte{0x22, 0xF1, 0x90}, Physical)
	if !ok {
		t.Fatal("expected catalog hit")
	}
	want := []byte{0x62, 0xF1, 0x90, 0x41, 0x42, 0x43}
	if !bytes.Equal(res, want) {
		t.Errorf("res = %x, want %x", res, want)
	}
}

func TestNilCatalogFallsThroughToDefault(t *testing.T) {
	r := NewResponder(nil)
	res, ok := r.Resolve([]byte{0x37}, Physical)
	if !ok || !bytes.Equal(res, []byte{0x77}) {
		t.Fatalf("res=%x ok=%v, want 0x77/true", res, ok)
	}
}
