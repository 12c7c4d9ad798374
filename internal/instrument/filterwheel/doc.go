// Package filterwheel drives the filter selector over its network
// controller (HTTP) or, when the controller cannot be found on the network,
// over the serial line at filterwheel.port_location.
//
// The transport is chosen once per night by Open from the discovery
// outcome recorded in the run state.
package filterwheel
