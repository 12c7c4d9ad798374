package sim

import (
	"context"
	"sort"
	"sync"
)

type relayState struct {
	mu      sync.Mutex
	outlets map[int]bool
}

// Relay is a simulated power relay connection. It implements power.Driver.
type Relay struct {
	in    *Instrument
	state *relayState
}

// Relay returns a new connection to the instrument's relay. Connections
// share outlet state, like reconnecting to the physical switch.
func (in *Instrument) Relay() *Relay {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.relay == nil {
		in.relay = &relayState{outlets: make(map[int]bool)}
	}
	return &Relay{in: in, state: in.relay}
}

func (r *Relay) SetOutlet(ctx context.Context, port int, on bool) error {
	if on {
		r.in.Trace.Record("power.on %d", port)
	} else {
		r.in.Trace.Record("power.off %d", port)
	}
	if err := r.in.fail("power.set"); err != nil {
		return err
	}
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	r.state.outlets[port] = on
	return nil
}

func (r *Relay) Close() error { return nil }

// Energized returns the outlets currently on, ascending.
func (in *Instrument) Energized() []int {
	r := in.Relay()
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	var on []int
	for port, v := range r.state.outlets {
		if v {
			on = append(on, port)
		}
	}
	sort.Ints(on)
	return on
}
