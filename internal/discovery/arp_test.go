package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const arpFixture = `IP address       HW type     Flags       HW address            Mask     Device
192.168.1.1      0x1         0x2         00:11:22:33:44:55     *        eth0
192.168.1.40     0x1         0x0         aa:bb:cc:dd:ee:01     *        eth0
192.168.1.41     0x1         0x2         AA:BB:CC:DD:EE:02     *        eth0
`

func TestARPTable_Lookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arp")
	if err := os.WriteFile(path, []byte(arpFixture), 0600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	table := ARPTable{Path: path}

	tests := []struct {
		name     string
		mac      string
		wantAddr string
		wantOK   bool
	}{
		{"complete entry", "00:11:22:33:44:55", "192.168.1.1", true},
		{"incomplete entry is absent", "aa:bb:cc:dd:ee:01", "", false},
		{"case and separator insensitive", "aa-bb-cc-dd-ee-02", "192.168.1.41", true},
		{"unknown", "de:ad:be:ef:00:00", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, ok, err := table.Lookup(context.Background(), tt.mac)
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			if ok != tt.wantOK || addr != tt.wantAddr {
				t.Errorf("Lookup(%s) = (%q, %v), want (%q, %v)", tt.mac, addr, ok, tt.wantAddr, tt.wantOK)
			}
		})
	}
}

func TestARPTable_Errors(t *testing.T) {
	if _, _, err := (ARPTable{Path: "/nonexistent/arp"}).Lookup(context.Background(), "00:11:22:33:44:55"); err == nil {
		t.Error("Lookup() with missing table: want error")
	}
	if _, _, err := (ARPTable{Path: "/dev/null"}).Lookup(context.Background(), "not-a-mac"); err == nil {
		t.Error("Lookup() with malformed hardware id: want error")
	}
}
