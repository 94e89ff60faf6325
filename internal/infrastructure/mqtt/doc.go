// Package mqtt is the broker session layer shared by the Sesami
// daemons: auto-reconnecting paho client, subscription replay, QoS
// validation, and a Last Will on each daemon's health topic.
//
// # Architecture
//
// MQTT is the only channel between the door coordinator and the Nuki
// bridge; neither process calls the other directly. The broker
// (typically Mosquitto on the same host) decouples them, so either
// daemon can restart without the other noticing more than a retained
// health message flipping.
//
//	sesamid (door coordinator) ↔ MQTT Broker ↔ nukibridged (BLE bridge)
//
// Each daemon connects with its own client ID and arms a will on its
// health topic. If a daemon dies the broker publishes the retained
// "offline" will, and consumers know to distrust the last reported
// state. Topic construction lives in the protocol package; this package
// carries bytes without interpreting them.
//
// Credentials and TLS come from the config's mqtt section. Anonymous
// plaintext is acceptable for a broker on localhost; anything crossing
// a network should set broker.tls and an account the broker's ACL
// limits to this device's topics. Payloads themselves are not encrypted
// beyond the transport.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.ConnectOptions{
//	    ClientID:    "sesami-door-" + cfg.Device,
//	    Component:   "door-coordinator",
//	    Version:     version,
//	    StatusTopic: topics.DoorHealth(),
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	// Watch the lock state republished by the bridge
//	err = client.Subscribe(topics.LockState(), 1,
//	    func(topic string, payload []byte) error {
//	        return coordinator.HandleLockState(payload)
//	    })
package mqtt
