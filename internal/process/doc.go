// Package process supervises the instrument bridge daemon.
//
// The bridge is the child process that owns the positioner, detector and
// laser shutter drivers and answers commands over MQTT. When the controller
// is configured to manage it, a Supervisor starts it in its own process
// group, logs its output line by line, restarts it with exponential backoff
// when it dies and stops it with SIGTERM then SIGKILL.
//
//	sup := process.NewSupervisor(process.FromBridgeConfig(cfg.Bridge))
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package process
