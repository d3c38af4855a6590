package transport

import "sync"

// FakeTransport is an in-memory Transport double for exercising
// ControlChannel without a broker. Tests drive it by calling
// SucceedConnect/FailConnect/Drop/Deliver directly; DeliverFragments
// lets a test simulate the AsyncMqttClient-style split delivery that
// real MQTT clients never produce, so ControlChannel's reassembly path
// still gets covered.
type FakeTransport struct {
	mu sync.Mutex

	opts       Options
	connected  bool
	connectErr error

	subscriptions map[string]MessageHandler
	published     []PublishedMessage

	onConnect    func()
	onDisconnect func(error)

	connectCalls    int
	disconnectCalls int
}

// PublishedMessage records a call to Publish for assertions.
type PublishedMessage struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{subscriptions: make(map[string]MessageHandler)}
}

func (f *FakeTransport) Configure(opts Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = opts
	return nil
}

// Connect never blocks and never itself decides success or failure; a
// test calls SucceedConnect or FailConnect afterward to resolve it,
// mirroring the real transport's asynchronous contract.
func (f *FakeTransport) Connect() error {
	f.mu.Lock()
	f.connectCalls++
	f.mu.Unlock()
	return nil
}

func (f *FakeTransport) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.disconnectCalls++
	f.mu.Unlock()
}

func (f *FakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeTransport) Subscribe(topic string, _ byte, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[topic] = handler
	return nil
}

func (f *FakeTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, PublishedMessage{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (f *FakeTransport) OnConnect(fn func())         { f.onConnect = fn }
func (f *FakeTransport) OnDisconnect(fn func(error)) { f.onDisconnect = fn }

func (f *FakeTransport) Tick() {}

// SucceedConnect resolves a pending Connect as successful.
func (f *FakeTransport) SucceedConnect() {
	f.mu.Lock()
	f.connected = true
	cb := f.onConnect
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// FailConnect resolves a pending Connect as failed.
func (f *FakeTransport) FailConnect(err error) {
	f.mu.Lock()
	f.connected = false
	cb := f.onDisconnect
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// Drop simulates an unsolicited disconnect on an already-connected
// transport (broker restart, network drop).
func (f *FakeTransport) Drop(err error) {
	f.mu.Lock()
	f.connected = false
	cb := f.onDisconnect
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// Deliver dispatches a single, whole message to topic's handler, the
// way every real broker delivery looks.
func (f *FakeTransport) Deliver(topic string, payload []byte) {
	f.mu.Lock()
	handler := f.subscriptions[topic]
	f.mu.Unlock()
	if handler != nil {
		handler(topic, payload, 0, len(payload), len(payload))
	}
}

// DeliverFragments splits payload into chunkSize-sized pieces and
// delivers each with its own (index, length, total), the
// AsyncMqttClient-style contract original_source/ESP32OtaMqtt.h's
// onMqttMessage documents. Useful for exercising ControlChannel's
// reassembly accumulator.
func (f *FakeTransport) DeliverFragments(topic string, payload []byte, chunkSize int) {
	f.mu.Lock()
	handler := f.subscriptions[topic]
	f.mu.Unlock()
	if handler == nil || chunkSize <= 0 {
		return
	}
	total := len(payload)
	for offset := 0; offset < total; offset += chunkSize {
		end := offset + chunkSize
		if end > total {
			end = total
		}
		handler(topic, payload[offset:end], offset, end-offset, total)
	}
}

func (f *FakeTransport) ConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func (f *FakeTransport) DisconnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnectCalls
}

func (f *FakeTransport) Published() []PublishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PublishedMessage, len(f.published))
	copy(out, f.published)
	return out
}
