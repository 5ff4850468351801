// Package mqtt provides the MQTT client used by the telemetry gateway's
// event relay.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions that survive reconnects
//   - A retained online/offline status topic with Last Will and Testament
//
// # Topics
//
// All topics live under the configured prefix (default "graylogic/telemetry"):
//
//	{prefix}/state/{device}    device events republished by the gateway
//	{prefix}/command/{device}  commands accepted from other systems
//	{prefix}/status            retained gateway status (LWT)
//
// # Security Considerations
//
//   - TLS should be enabled outside the lab (cfg.Broker.TLS=true)
//   - Credentials are best supplied via GRAYLOGIC_TELEMETRY_MQTT_PASSWORD
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(topic, payload)
//	    })
package mqtt
