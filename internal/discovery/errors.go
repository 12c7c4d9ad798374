package discovery

import "errors"

// ErrDiscoveryFailed is returned when every lookup of a sweep, and the sweep
// after any power-cycle escalation, failed to resolve the hardware ID.
var ErrDiscoveryFailed = errors.New("discovery: address not resolved")

// errNotFound drives the retry loop; it never leaves the package.
var errNotFound = errors.New("discovery: not in neighbour table")
