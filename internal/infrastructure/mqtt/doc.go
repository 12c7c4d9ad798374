// Package mqtt provides the MQTT client the controller uses as its event bus.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// Instrument drivers that cannot be linked into the controller (vendor SDKs
// for the detector, positioner and laser) run in a separate bridge daemon.
// The controller talks to it over request/response topics; see Topics.
//
//	nightscan ↔ MQTT Broker ↔ instrument bridge
//
// Scheduler state and operator alerts are published under nightscan/core so a
// remote operator can watch an unattended night.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.CoreState(), status, true)
package mqtt
