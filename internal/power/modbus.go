package power

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// Coil values for Modbus function 0x05.
const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// ModbusDriver drives a Modbus-TCP relay board. Outlet n is coil n-1.
type ModbusDriver struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// NewModbusDriver creates a driver for the board at address (host:port).
// The TCP connection is opened on first use.
func NewModbusDriver(address string, slaveID byte, timeout time.Duration) *ModbusDriver {
	handler := modbus.NewTCPClientHandler(address)
	if timeout > 0 {
		handler.Timeout = timeout
	}
	handler.SlaveId = slaveID
	return &ModbusDriver{
		handler: handler,
		client:  modbus.NewClient(handler),
	}
}

// newModbusDriverWithClient is used by tests to substitute the Modbus client.
func newModbusDriverWithClient(client modbus.Client) *ModbusDriver {
	return &ModbusDriver{client: client}
}

// SetOutlet writes the outlet's coil and reads it back.
func (d *ModbusDriver) SetOutlet(ctx context.Context, port int, on bool) error {
	if port < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRelayFault, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	addr := uint16(port - 1)
	value := coilOff
	if on {
		value = coilOn
	}
	if _, err := d.client.WriteSingleCoil(addr, value); err != nil {
		return fmt.Errorf("%w: write coil %d: %w", ErrRelayFault, addr, err)
	}

	data, err := d.client.ReadCoils(addr, 1)
	if err != nil {
		return fmt.Errorf("%w: read coil %d: %w", ErrRelayFault, addr, err)
	}
	if len(data) == 0 || (data[0]&0x01 == 1) != on {
		return fmt.Errorf("%w: coil %d did not latch", ErrRelayFault, addr)
	}
	return nil
}

// Close closes the TCP connection.
func (d *ModbusDriver) Close() error {
	if d.handler == nil {
		return nil
	}
	return d.handler.Close()
}
