// Package mqtt provides MQTT client connectivity for Gray Logic Voice.
//
// The voice service talks MQTT only when a backend of type "mqtt" is
// configured: devices announce themselves on retained discovery topics
// and commands are published to the bridge command topics.
//
//	Gray Logic Voice -> MQTT Broker -> Protocol Bridges (KNX, DALI, ...)
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDiscovery("knx"), 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
//
// # Security Considerations
//
//   - Enable TLS (mqtt.broker.tls) outside local development
//   - Set the broker password via GRAYLOGIC_MQTT_PASSWORD
package mqtt
