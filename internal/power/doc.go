// Package power switches the instrument's relay outlets.
//
// Every outlet change in the controller goes through a Sequencer, so the
// last commanded state it reports is the relay's logical state. The
// Sequencer never waits after a command; callers own settle delays (see
// Cycle).
//
// Two relay drivers are provided:
//   - HTTPDriver: a web power switch, REST or legacy query-string protocol
//   - ModbusDriver: a Modbus-TCP relay board with one coil per outlet
//
// A Sequencer holds no assumptions about prior relay state and can be built
// at any time, including during fault teardown.
package power
