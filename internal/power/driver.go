package power

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/nightscan/internal/infrastructure/config"
)

// Driver sets one relay outlet. Outlets are numbered from 1.
type Driver interface {
	SetOutlet(ctx context.Context, port int, on bool) error
	Close() error
}

// NewDriver builds the relay driver selected by cfg.Protocol.
func NewDriver(cfg config.PowerConfig) (Driver, error) {
	switch strings.ToLower(cfg.Protocol) {
	case "", "http":
		return NewHTTPDriver(cfg.Address, cfg.User, cfg.Password, cfg.Legacy, cfg.Timeout), nil
	case "modbus":
		return NewModbusDriver(cfg.Address, cfg.SlaveID, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, cfg.Protocol)
	}
}
