// Package mqtt connects meterlog to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing stored readings and poll outcomes
//   - Subscribing to on-demand poll commands
//   - Last Will and Testament (LWT) for offline detection
//
// # Topics
//
//	meterlog/reading/{device}/{channel}   retained, latest stored reading
//	meterlog/poll/{device}                outcome of each poll cycle
//	meterlog/command/poll/{device}        on-demand poll request (any payload)
//	meterlog/system/status                online/offline, retained, LWT
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.PublishReadings(ctx, "meter-a", rows)
package mqtt
