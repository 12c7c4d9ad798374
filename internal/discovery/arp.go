package discovery

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

// Lookup maps a hardware ID to a current network address. It reports
// absence with ok=false; err is reserved for failures to consult the table.
type Lookup interface {
	Lookup(ctx context.Context, hardwareID string) (address string, ok bool, err error)
}

// arpFlagComplete marks a resolved neighbour entry (ATF_COM).
const arpFlagComplete = 0x2

// ARPTable looks hardware IDs up in the kernel neighbour table.
type ARPTable struct {
	// Path is the table file, normally /proc/net/arp.
	Path string
}

// Lookup scans the table for hardwareID. Incomplete entries are ignored.
func (a ARPTable) Lookup(ctx context.Context, hardwareID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	want, err := net.ParseMAC(strings.TrimSpace(hardwareID))
	if err != nil {
		return "", false, fmt.Errorf("parsing hardware id %q: %w", hardwareID, err)
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return "", false, fmt.Errorf("opening neighbour table: %w", err)
	}
	defer f.Close()

	ip, ok, err := scanARP(f, want)
	if err != nil {
		return "", false, fmt.Errorf("reading neighbour table: %w", err)
	}
	return ip, ok, nil
}

// scanARP parses the /proc/net/arp layout:
//
//	IP address  HW type  Flags  HW address  Mask  Device
func scanARP(r io.Reader, want net.HardwareAddr) (string, bool, error) {
	sc := bufio.NewScanner(r)
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		var flags int
		if _, err := fmt.Sscanf(fields[2], "0x%x", &flags); err != nil || flags&arpFlagComplete == 0 {
			continue
		}
		mac, err := net.ParseMAC(fields[3])
		if err != nil || mac.String() != want.String() {
			continue
		}
		return fields[0], true, nil
	}
	return "", false, sc.Err()
}
