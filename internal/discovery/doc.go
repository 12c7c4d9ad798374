// Package discovery resolves network addresses of instrument subsystems from
// their hardware (MAC) addresses.
//
// A Resolver runs bounded sweeps of lookups spaced by a fixed delay. For a
// subsystem behind its own relay outlet, ResolveWithPowerCycle power-cycles
// the outlet once after a failed sweep and runs one more sweep. The same
// policy serves every target; nothing is shared between targets.
//
// Results are tagged values: a Result is either Found(address) or NotFound.
package discovery
