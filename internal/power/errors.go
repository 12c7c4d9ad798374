package power

import "errors"

var (
	// ErrRelayFault is returned when the relay is unreachable or rejects a command.
	ErrRelayFault = errors.New("power: relay fault")

	// ErrInvalidPort is returned by drivers for a non-positive outlet number.
	// The Sequencer reports it wrapped in ErrRelayFault.
	ErrInvalidPort = errors.New("power: invalid port")

	// ErrUnknownProtocol is returned by New for an unsupported relay protocol.
	ErrUnknownProtocol = errors.New("power: unknown relay protocol")
)
