package filterwheel

import (
	"errors"

	"github.com/nerrad567/nightscan/internal/infrastructure/config"
	"github.com/nerrad567/nightscan/internal/instrument"
	"github.com/nerrad567/nightscan/internal/runstate"
)

// ErrNoAddress is returned when the network transport is selected but
// discovery recorded no address.
var ErrNoAddress = errors.New("filterwheel: no network address discovered")

// Open selects the transport from the run state: serial when discovery fell
// back, the network controller otherwise.
func Open(cfg config.FilterWheelConfig, state *runstate.RunState) (instrument.FilterWheel, error) {
	if state.FilterWheelSerialFallback {
		return OpenSerial(cfg.PortLocation, cfg.BaudRate, cfg.Timeout)
	}
	if state.FilterWheelAddress == "" {
		return nil, ErrNoAddress
	}
	return NewNetwork(state.FilterWheelAddress, cfg.HTTPPort, cfg.Timeout), nil
}
