package filterwheel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/serial"

	"github.com/nerrad567/nightscan/internal/instrument"
)

// Serial line defaults.
const (
	defaultBaudRate = 9600
	defaultTimeout  = 30 * time.Second
)

// Serial talks to the filter wheel over its serial line. The protocol is
// line based: a command terminated by CRLF, answered by "OK" or
// "ERR <reason>".
type Serial struct {
	mu     sync.Mutex
	port   io.ReadWriteCloser
	reader *bufio.Reader
}

// OpenSerial opens the serial device at address, 8N1.
func OpenSerial(address string, baudRate int, timeout time.Duration) (*Serial, error) {
	if baudRate <= 0 {
		baudRate = defaultBaudRate
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	port, err := serial.Open(&serial.Config{
		Address:  address,
		BaudRate: baudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening filterwheel serial %s: %w", instrument.ErrHardwareCommand, address, err)
	}
	return NewSerial(port), nil
}

// NewSerial wraps an already open line.
func NewSerial(port io.ReadWriteCloser) *Serial {
	return &Serial{port: port, reader: bufio.NewReader(port)}
}

func (s *Serial) Home(ctx context.Context) error {
	return s.command(ctx, "HOME")
}

func (s *Serial) Go(ctx context.Context, position int) error {
	return s.command(ctx, fmt.Sprintf("GOTO %d", position))
}

func (s *Serial) Close() error {
	return s.port.Close()
}

// command sends one line and reads the reply. The line read is bounded by
// the port's own timeout, not ctx.
func (s *Serial) command(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.WriteString(s.port, cmd+"\r\n"); err != nil {
		return fmt.Errorf("%w: filterwheel %s: %w", instrument.ErrHardwareCommand, cmd, err)
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("%w: filterwheel %s: reading reply: %w", instrument.ErrHardwareCommand, cmd, err)
	}
	reply := strings.TrimSpace(line)
	if reply == "OK" {
		return nil
	}
	return fmt.Errorf("%w: filterwheel %s: %s", instrument.ErrHardwareCommand, cmd, strings.TrimPrefix(reply, "ERR "))
}
