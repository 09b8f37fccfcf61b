// Package mqtt provides MQTT client connectivity for a Gray Logic node.
//
// This package manages:
//   - Single-attempt connection to a broker (CONNACK code surfaced on refusal)
//   - Message publishing with QoS guarantees
//   - Topic subscriptions for the remote command channel
//   - Last Will and Testament (LWT) for offline detection
//   - The node topic hierarchy (Topics)
//
// # Architecture
//
// Retry pacing belongs to the broker session manager (package broker), so
// the paho client is built with auto-reconnect and connect-retry disabled.
// A lost transport leaves the Client permanently disconnected and the
// session dials a fresh one after its cooldown.
//
//	graynode/devices/<id>/status            retained presence, LWT
//	graynode/devices/<id>/sensors           combined reading
//	graynode/devices/<id>/sensors/<class>   soil, environment, uv, rain
//	graynode/devices/<id>/command           operator commands in
//	graynode/devices/<id>/response          command results out
//
// # Usage
//
//	opts := mqtt.OptionsFromConfig(cfg.MQTT, "192.168.1.10", 1883, "graynode-node-001")
//	opts.Will = &mqtt.Will{Topic: topics.Status("node-001"), Payload: offline, QoS: 1, Retain: true}
//
//	client, err := mqtt.Dial(ctx, opts)
//	if err != nil {
//	    if code, ok := mqtt.ReturnCode(err); ok {
//	        log.Printf("broker refused: %d", code)
//	    }
//	    return err
//	}
//	defer client.Close(&mqtt.Will{Topic: topics.Status("node-001"), Payload: goodbye, QoS: 1, Retain: true})
//
//	client.Publish(topics.Sensors("node-001"), reading, 0, false)
package mqtt
