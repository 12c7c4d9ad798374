// Package controller runs one night from power-up to the scheduler.
//
// The sequence is fixed: compute the night, wait for pre-housekeeping,
// energize the subsystems and power-cycle the sky sensor, discover the
// networked subsystems, wait for housekeeping, open and prepare the devices,
// then hand over to the observation scheduler. Teardown is not done here:
// the lifecycle manager owns it.
package controller
