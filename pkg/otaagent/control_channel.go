package otaagent

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxabba/Ota-mqtt-http/pkg/transport"
)

// AnnouncementHandler is invoked once per complete, well-formed
// UpdateAnnouncement. It is called synchronously from Tick and must not
// re-enter the ControlChannel (spec §5's "callbacks MUST NOT re-enter
// the core").
type AnnouncementHandler func(*UpdateAnnouncement)

// ControlChannelConfig mirrors configure(server, port, credentials,
// tls) from spec §4.2: a pure data mutation, never performing I/O.
type ControlChannelConfig struct {
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

	Topic string

	ConnectTimeout time.Duration
}

// ControlChannel owns the connection state machine of spec §4.2:
// Disconnected → Connecting → Connected → Failed, subscribe-on-connect,
// message reassembly, and announcement dispatch. It is grounded on
// pkg/mqtt/client.go's connect/subscribe wiring, generalized to run
// against the transport.Transport capability set instead of a Paho
// client directly, and driven by Tick instead of goroutines per spec
// §5's cooperative, single-threaded requirement.
type ControlChannel struct {
	transport transport.Transport
	throttle  *reconnectThrottle
	logger    *logrus.Entry

	cfg   ControlChannelConfig
	state MqttConnState

	connectStart time.Time
	lastAttempt  time.Time
	attempted    bool

	// accumulator holds a message under reassembly. total == 0 means no
	// message is currently in progress.
	accumulator []byte
	total       int

	onAnnouncement AnnouncementHandler

	pendingConnected    bool
	pendingConnectedSet bool
	pendingDisconnected error
	pendingDisconnSet   bool
}

// NewControlChannel wires t as the underlying transport. t must not yet
// be connected.
func NewControlChannel(t transport.Transport, logger *logrus.Entry) *ControlChannel {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	cc := &ControlChannel{
		transport: t,
		throttle:  newReconnectThrottle(),
		logger:    logger,
		state:     MqttDisconnected,
	}
	t.OnConnect(func() {
		cc.pendingConnected = true
		cc.pendingConnectedSet = true
	})
	t.OnDisconnect(func(err error) {
		cc.pendingDisconnected = err
		cc.pendingDisconnSet = true
	})
	return cc
}

// Configure mutates configuration only; it performs no I/O, per spec
// §4.2. Certificate blobs are checked against spec §6's PEM
// header/footer rule before anything is accepted.
func (cc *ControlChannel) Configure(cfg ControlChannelConfig) error {
	if len(cfg.CACert) > 0 {
		if err := validatePEMCertificate(cfg.CACert); err != nil {
			return fmt.Errorf("mqtt CA cert: %w", err)
		}
	}
	if len(cfg.ClientCert) > 0 {
		if err := validatePEMCertificate(cfg.ClientCert); err != nil {
			return fmt.Errorf("mqtt client cert: %w", err)
		}
	}

	cc.cfg = cfg
	return cc.transport.Configure(transport.Options{
		Host:               cfg.Host,
		Port:               cfg.Port,
		ClientID:           cfg.ClientID,
		Username:           cfg.Username,
		Password:           cfg.Password,
		UseTLS:             cfg.UseTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		CACert:             cfg.CACert,
		ClientCert:         cfg.ClientCert,
		ClientKey:          cfg.ClientKey,
		KeepAlive:          30 * time.Second,
	})
}

// OnAnnouncement registers the handler invoked on a complete,
// well-formed announcement.
func (cc *ControlChannel) OnAnnouncement(h AnnouncementHandler) {
	cc.onAnnouncement = h
}

// State reports the current connection state.
func (cc *ControlChannel) State() MqttConnState {
	return cc.state
}

// Publish sends payload on topic, for status beacons (optional per spec
// §4.2). Only meaningful while Connected.
func (cc *ControlChannel) Publish(topic string, payload []byte) error {
	if cc.state != MqttConnected {
		return newError(KindNotReady, "control channel not connected")
	}
	return cc.transport.Publish(topic, payload, 1, false)
}

// Tick advances the connection state machine and dispatches any
// buffered transport callbacks. It never blocks (spec §4.2).
func (cc *ControlChannel) Tick(now time.Time) {
	cc.transport.Tick()
	cc.drainPendingCallbacks(now)

	switch cc.state {
	case MqttDisconnected:
		if cc.throttle.Ready(now) {
			cc.beginConnect(now)
		}
	case MqttConnecting:
		if now.Sub(cc.connectStart) >= cc.effectiveConnectTimeout() {
			cc.logger.Warn("mqtt connect attempt timed out")
			cc.transitionFailed()
		}
	case MqttConnected:
		// Nothing to age out; disconnects arrive via the pending
		// callback drained above.
	case MqttFailed:
		if cc.throttle.Ready(now) {
			cc.state = MqttDisconnected
		}
	}
}

// Teardown forces the connection down and clears any in-progress
// reassembly, for spec §4.1's "link is down: tear down control channel"
// step. It is safe to call repeatedly: transport.Disconnect() is a
// no-op once already disconnected, and pending callbacks drained on the
// next Tick after link-up are simply ignored by drainPendingCallbacks'
// state checks.
func (cc *ControlChannel) Teardown() {
	cc.transport.Disconnect()
	cc.state = MqttDisconnected
	cc.resetAccumulator()
	cc.pendingConnectedSet = false
	cc.pendingDisconnSet = false
}

func (cc *ControlChannel) effectiveConnectTimeout() time.Duration {
	if cc.cfg.ConnectTimeout > 0 {
		return cc.cfg.ConnectTimeout
	}
	return 15 * time.Second
}

func (cc *ControlChannel) beginConnect(now time.Time) {
	cc.throttle.RecordAttempt(now)
	cc.connectStart = now
	cc.state = MqttConnecting
	if err := cc.transport.Connect(); err != nil {
		cc.logger.WithError(err).Warn("mqtt connect failed synchronously")
		cc.transitionFailed()
	}
}

func (cc *ControlChannel) drainPendingCallbacks(now time.Time) {
	if cc.pendingConnectedSet {
		cc.pendingConnectedSet = false
		if cc.state == MqttConnecting {
			cc.state = MqttConnected
			cc.resetAccumulator()
			if err := cc.transport.Subscribe(cc.cfg.Topic, 1, cc.handleMessage); err != nil {
				cc.logger.WithError(err).Warn("subscribe failed")
				cc.transitionFailed()
			}
		}
	}
	if cc.pendingDisconnSet {
		err := cc.pendingDisconnected
		cc.pendingDisconnSet = false
		cc.pendingDisconnected = nil
		switch cc.state {
		case MqttConnecting:
			cc.logger.WithError(err).Warn("mqtt connect attempt failed")
			cc.transitionFailed()
		case MqttConnected:
			cc.logger.WithError(err).Debug("mqtt disconnected")
			cc.state = MqttDisconnected
			cc.resetAccumulator()
		}
	}
}

func (cc *ControlChannel) transitionFailed() {
	cc.state = MqttFailed
	cc.resetAccumulator()
}

func (cc *ControlChannel) resetAccumulator() {
	cc.accumulator = nil
	cc.total = 0
}

// handleMessage implements spec §4.2's reassembly rule: a single
// accumulator, reset on index==0, dispatched on index+length==total,
// and dropped (both halves) on an interleaved partial message.
func (cc *ControlChannel) handleMessage(topic string, payload []byte, index, length, total int) {
	if index == 0 {
		cc.accumulator = append([]byte(nil), payload...)
		cc.total = total
	} else {
		if cc.total == 0 || len(cc.accumulator) != index {
			// Interleaved or out-of-order partial: protocol error, drop
			// both the fragment and whatever was accumulating.
			cc.logger.Warn("dropping interleaved partial control message")
			cc.resetAccumulator()
			return
		}
		cc.accumulator = append(cc.accumulator, payload...)
	}

	if len(cc.accumulator) == cc.total {
		msg := cc.accumulator
		cc.resetAccumulator()
		cc.dispatch(msg)
	}
}

func (cc *ControlChannel) dispatch(payload []byte) {
	ann, err := parseAnnouncement(payload)
	if err != nil {
		cc.logger.WithError(err).Warn("discarding malformed announcement")
		return
	}
	if !isUpdateRequest(ann) {
		return
	}
	if cc.onAnnouncement != nil {
		cc.onAnnouncement(ann)
	}
}
