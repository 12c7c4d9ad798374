package controller

import (
	"context"
	"fmt"

	"github.com/nerrad567/nightscan/internal/clock"
	"github.com/nerrad567/nightscan/internal/infrastructure/config"
	"github.com/nerrad567/nightscan/internal/instrument"
	"github.com/nerrad567/nightscan/internal/instrument/bridge"
	"github.com/nerrad567/nightscan/internal/instrument/filterwheel"
	"github.com/nerrad567/nightscan/internal/instrument/skyalert"
	"github.com/nerrad567/nightscan/internal/runstate"
)

// Hardware opens the real instrument: positioner, detector and laser
// through the MQTT bridge, the filter wheel over the transport discovery
// chose, and the sky sensor at its discovered address.
type Hardware struct {
	Config *config.Config
	Bridge *bridge.Client
	Clock  clock.Clock
}

// Open implements DeviceFactory.
func (h Hardware) Open(_ context.Context, state *runstate.RunState) (instrument.Devices, error) {
	dev := h.Bridge.Devices(h.Clock)

	if addr := state.SkySensorAddress; addr != "" {
		sky := h.Config.SkySensor
		dev.SkySensor = skyalert.New(addr, sky.HTTPPort, sky.Timeout)
	}

	if h.Config.FilterWheel.InUse() {
		wheel, err := filterwheel.Open(h.Config.FilterWheel, state)
		if err != nil {
			return dev, fmt.Errorf("filter wheel: %w", err)
		}
		dev.FilterWheel = wheel
	}
	return dev, nil
}
