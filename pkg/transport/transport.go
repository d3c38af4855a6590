// Package transport defines the ControlChannel capability set spec §9's
// design notes call for — "configure, connect, disconnect, subscribe,
// publish, tick, onMessage, onConnect, onDisconnect" — so that
// pkg/otaagent's ControlChannel state machine can be written once
// against an interface instead of once per broker library, the way the
// original source drafted three parallel classes (AsyncMqttClient,
// espMqttClient, PubSubClient) for the same job.
package transport

import "time"

// MessageHandler receives one delivery of a (possibly fragmented)
// publish. index/length/total mirror the AsyncMqttClient-style
// fragmentation contract named in original_source/ESP32OtaMqtt.h's
// onMqttMessage: index is this fragment's offset into the logical
// payload, length is len(payload), and total is the logical payload's
// full size. A transport that never fragments (every real MQTT broker
// delivery, including Paho's) reports index=0, length=total=len(payload).
type MessageHandler func(topic string, payload []byte, index, length, total int)

// Options configures a Transport. Configure must not perform I/O.
type Options struct {
	Host     string
	Port     int
	ClientID string

	Username string
	Password string

	UseTLS             bool
	InsecureSkipVerify bool
	CACert             []byte
	ClientCert         []byte
	ClientKey          []byte

	KeepAlive time.Duration
}

// Transport is the capability set a ControlChannel needs from a
// concrete pub/sub client. Connect is non-blocking: its result is
// reported asynchronously through the handlers registered with
// OnConnect/OnDisconnect, never by blocking the caller. Disconnect
// reports nothing through those handlers; the Paho implementation waits
// up to 250 ms for in-flight work before returning.
type Transport interface {
	Configure(opts Options) error
	Connect() error
	Disconnect()
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool

	OnConnect(func())
	OnDisconnect(func(err error))

	// Tick lets a transport that cannot deliver callbacks purely from
	// its own goroutines (a hypothetical synchronous, PubSubClient-style
	// client) do housekeeping work when polled. Transports whose
	// underlying library already runs its own event loop (Paho) may
	// implement this as a no-op.
	Tick()
}
