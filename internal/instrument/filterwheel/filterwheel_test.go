package filterwheel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/nightscan/internal/infrastructure/config"
	"github.com/nerrad567/nightscan/internal/instrument"
	"github.com/nerrad567/nightscan/internal/runstate"
)

func TestNetwork_Commands(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.RequestURI())
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(networkReply{Status: "ok"})
	}))
	defer srv.Close()

	wheel := NewNetwork(srv.URL, 0, time.Second)
	ctx := context.Background()
	if err := wheel.Home(ctx); err != nil {
		t.Fatalf("Home() error = %v", err)
	}
	if err := wheel.Go(ctx, 4); err != nil {
		t.Fatalf("Go() error = %v", err)
	}

	want := []string{"/home", "/go?position=4"}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestNetwork_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http error", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{"controller error", func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(networkReply{Status: "error", Error: "wheel jammed"})
		}},
		{"garbage", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("<html>")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			if err := NewNetwork(srv.URL, 0, time.Second).Go(context.Background(), 1); !errors.Is(err, instrument.ErrHardwareCommand) {
				t.Errorf("Go() error = %v, want ErrHardwareCommand", err)
			}
		})
	}
}

func TestNewNetwork_BaseURL(t *testing.T) {
	tests := []struct {
		address string
		port    int
		want    string
	}{
		{"192.168.1.20", 8080, "http://192.168.1.20:8080"},
		{"192.168.1.20:9000", 8080, "http://192.168.1.20:9000"},
		{"http://wheel.local/", 8080, "http://wheel.local"},
	}
	for _, tt := range tests {
		if got := NewNetwork(tt.address, tt.port, time.Second).baseURL; got != tt.want {
			t.Errorf("NewNetwork(%q, %d) base = %q, want %q", tt.address, tt.port, got, tt.want)
		}
	}
}

// serveLine runs a fake wheel on the far end of a pipe.
func serveLine(t *testing.T, conn net.Conn, replies map[string]string) <-chan string {
	t.Helper()
	got := make(chan string, 10)
	go func() {
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				close(got)
				return
			}
			cmd := strings.TrimSpace(line)
			got <- cmd
			reply, ok := replies[cmd]
			if !ok {
				reply = "ERR unknown command"
			}
			if _, err := conn.Write([]byte(reply + "\r\n")); err != nil {
				close(got)
				return
			}
		}
	}()
	return got
}

func TestSerial_Commands(t *testing.T) {
	local, remote := net.Pipe()
	got := serveLine(t, remote, map[string]string{"HOME": "OK", "GOTO 2": "OK"})
	wheel := NewSerial(local)
	defer wheel.Close()

	ctx := context.Background()
	if err := wheel.Home(ctx); err != nil {
		t.Fatalf("Home() error = %v", err)
	}
	if err := wheel.Go(ctx, 2); err != nil {
		t.Fatalf("Go() error = %v", err)
	}
	if cmd := <-got; cmd != "HOME" {
		t.Errorf("first command = %q", cmd)
	}
	if cmd := <-got; cmd != "GOTO 2" {
		t.Errorf("second command = %q", cmd)
	}
}

func TestSerial_ErrorReply(t *testing.T) {
	local, remote := net.Pipe()
	serveLine(t, remote, map[string]string{})
	wheel := NewSerial(local)
	defer wheel.Close()

	err := wheel.Go(context.Background(), 9)
	if !errors.Is(err, instrument.ErrHardwareCommand) {
		t.Fatalf("Go() error = %v, want ErrHardwareCommand", err)
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("error %q should carry the wheel's reason", err)
	}
}

func TestOpen_SelectsTransport(t *testing.T) {
	cfg := config.FilterWheelConfig{HTTPPort: 8080, Timeout: time.Second}

	state := runstate.New("20261015")
	if _, err := Open(cfg, state); !errors.Is(err, ErrNoAddress) {
		t.Errorf("Open() without address error = %v, want ErrNoAddress", err)
	}

	state.FilterWheelAddress = "10.0.0.9"
	wheel, err := Open(cfg, state)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, ok := wheel.(*Network); !ok {
		t.Errorf("Open() = %T, want *Network", wheel)
	}

	state.FilterWheelSerialFallback = true
	cfg.PortLocation = "/dev/nonexistent-filterwheel"
	if _, err := Open(cfg, state); !errors.Is(err, instrument.ErrHardwareCommand) {
		t.Errorf("Open() serial error = %v, want ErrHardwareCommand", err)
	}
}
