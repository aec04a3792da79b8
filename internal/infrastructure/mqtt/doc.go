// Package mqtt provides MQTT client connectivity for the 1-Wire bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Last Will and Testament (LWT) on {prefix}/status
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is the only interface between the bridge and the host application:
//
//	OWFS mount ↔ owbridge ↔ MQTT broker ↔ host application
//
// Item topics (state, command, ack, request, response, config, health)
// are owned by the bridge package. This package only knows the prefix
// and the status topic it uses for online/offline reporting.
//
// # Security Considerations
//
//   - Enable TLS (broker.tls) when the broker is not on localhost
//   - Set the password through OWBRIDGE_MQTT_PASSWORD, not the config file
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("onewire/command/+", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
