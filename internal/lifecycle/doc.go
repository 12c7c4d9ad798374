// Package lifecycle is the controller's fault boundary.
//
// A Manager runs the night inside Run, which turns every way the night can
// end (normal completion, interrupt, returned error, panic) into exactly one
// SafeShutdown. Graceful shutdown parks the instrument before powering it
// down; emergency shutdown only cuts power and swallows further failures.
//
// Device handles are registered with Attach as they are opened, so a fault
// during startup only touches what exists.
package lifecycle
