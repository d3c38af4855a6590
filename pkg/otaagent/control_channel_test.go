package otaagent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxabba/Ota-mqtt-http/pkg/transport"
)

func newTestControlChannel() (*ControlChannel, *transport.FakeTransport) {
	fake := transport.NewFakeTransport()
	cc := NewControlChannel(fake, nil)
	_ = cc.Configure(ControlChannelConfig{
		Host:  "broker",
		Port:  1883,
		Topic: "device/ota",
	})
	return cc, fake
}

func TestControlChannelConnectsAndSubscribes(t *testing.T) {
	cc, fake := newTestControlChannel()
	now := time.Unix(0, 0)

	assert.Equal(t, MqttDisconnected, cc.State())
	cc.Tick(now)
	assert.Equal(t, MqttConnecting, cc.State())
	assert.Equal(t, 1, fake.ConnectCalls())

	fake.SucceedConnect()
	cc.Tick(now)
	assert.Equal(t, MqttConnected, cc.State())
}

func TestControlChannelRespectsReconnectThrottle(t *testing.T) {
	cc, fake := newTestControlChannel()
	now := time.Unix(0, 0)

	cc.Tick(now)
	fake.FailConnect(assertErr("refused"))
	cc.Tick(now)
	require.Equal(t, MqttFailed, cc.State())

	// Well under 5s: must not retry yet.
	soon := now.Add(2 * time.Second)
	cc.Tick(soon)
	assert.Equal(t, MqttFailed, cc.State())
	assert.Equal(t, 1, fake.ConnectCalls())

	later := now.Add(5 * time.Second)
	cc.Tick(later)
	assert.Equal(t, MqttDisconnected, cc.State())
	cc.Tick(later)
	assert.Equal(t, MqttConnecting, cc.State())
	assert.Equal(t, 2, fake.ConnectCalls())
}

func TestControlChannelConnectTimeout(t *testing.T) {
	cc, _ := newTestControlChannel()
	cc.cfg.ConnectTimeout = 1 * time.Second
	now := time.Unix(0, 0)

	cc.Tick(now)
	require.Equal(t, MqttConnecting, cc.State())

	cc.Tick(now.Add(2 * time.Second))
	assert.Equal(t, MqttFailed, cc.State())
}

func TestControlChannelDispatchesWholeMessage(t *testing.T) {
	cc, fake := newTestControlChannel()
	now := time.Unix(0, 0)
	cc.Tick(now)
	fake.SucceedConnect()
	cc.Tick(now)
	require.Equal(t, MqttConnected, cc.State())

	var got *UpdateAnnouncement
	cc.OnAnnouncement(func(a *UpdateAnnouncement) { got = a })

	payload := []byte(`{"command":"update","version":"1.2.3","firmware_url":"http://h/f","checksum":"abc"}`)
	fake.Deliver("device/ota", payload)

	require.NotNil(t, got)
	assert.Equal(t, "1.2.3", got.Version)
}

func TestControlChannelReassemblesFragments(t *testing.T) {
	cc, fake := newTestControlChannel()
	now := time.Unix(0, 0)
	cc.Tick(now)
	fake.SucceedConnect()
	cc.Tick(now)

	var got *UpdateAnnouncement
	cc.OnAnnouncement(func(a *UpdateAnnouncement) { got = a })

	payload := []byte(`{"command":"update","version":"9.9.9","firmware_url":"http://h/f","checksum":"deadbeef"}`)
	fake.DeliverFragments("device/ota", payload, 7)

	require.NotNil(t, got)
	assert.Equal(t, "9.9.9", got.Version)
}

func TestControlChannelIgnoresNonUpdateCommand(t *testing.T) {
	cc, fake := newTestControlChannel()
	now := time.Unix(0, 0)
	cc.Tick(now)
	fake.SucceedConnect()
	cc.Tick(now)

	var called bool
	cc.OnAnnouncement(func(a *UpdateAnnouncement) { called = true })

	fake.Deliver("device/ota", []byte(`{"command":"noop","version":"1.0.0","firmware_url":"http://h/f","checksum":"x"}`))
	assert.False(t, called)
}

func TestControlChannelDropsInterleavedPartials(t *testing.T) {
	cc, fake := newTestControlChannel()
	now := time.Unix(0, 0)
	cc.Tick(now)
	fake.SucceedConnect()
	cc.Tick(now)

	var called bool
	cc.OnAnnouncement(func(a *UpdateAnnouncement) { called = true })

	full := []byte(`{"command":"update","version":"1.0.0","firmware_url":"http://h/f","checksum":"x"}`)
	// First fragment of a message: 5 bytes accumulated, total set.
	cc.handleMessage("device/ota", full[:5], 0, 5, len(full))
	// A fragment claiming an index that doesn't match the accumulator's
	// current length is an interleaved/out-of-order partial: both the
	// fragment and the in-progress accumulator must be dropped.
	cc.handleMessage("device/ota", full[10:15], 10, 5, len(full))
	// Completing what would have been the original message's sequence
	// must not dispatch: the accumulator was already dropped.
	cc.handleMessage("device/ota", full[5:], 5, len(full)-5, len(full))
	assert.False(t, called)
}

func TestControlChannelDisconnectResetsToDisconnected(t *testing.T) {
	cc, fake := newTestControlChannel()
	now := time.Unix(0, 0)
	cc.Tick(now)
	fake.SucceedConnect()
	cc.Tick(now)
	require.Equal(t, MqttConnected, cc.State())

	fake.Drop(assertErr("connection lost"))
	cc.Tick(now)
	assert.Equal(t, MqttDisconnected, cc.State())
}

func TestControlChannelConfigureRejectsMalformedCACert(t *testing.T) {
	fake := transport.NewFakeTransport()
	cc := NewControlChannel(fake, nil)

	err := cc.Configure(ControlChannelConfig{
		Host:   "broker",
		Port:   1883,
		Topic:  "device/ota",
		CACert: []byte("not a certificate"),
	})
	require.Error(t, err)
}

func TestControlChannelTeardownDisconnectsAndResets(t *testing.T) {
	cc, fake := newTestControlChannel()
	now := time.Unix(0, 0)
	cc.Tick(now)
	fake.SucceedConnect()
	cc.Tick(now)
	require.Equal(t, MqttConnected, cc.State())

	cc.Teardown()

	assert.Equal(t, MqttDisconnected, cc.State())
	assert.Equal(t, 1, fake.DisconnectCalls())

	// A stray pending-connected callback arriving after teardown must not
	// resurrect the connection: drainPendingCallbacks only acts on it
	// while state == MqttConnecting.
	fake.SucceedConnect()
	cc.Tick(now)
	assert.Equal(t, MqttDisconnected, cc.State())
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
