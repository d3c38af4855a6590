package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// PahoTransport implements Transport on top of
// github.com/eclipse/paho.mqtt.golang, grounded on pkg/mqtt/client.go's
// broker-URL construction and handler wiring. Unlike that client, it
// never calls token.Wait() on connect: the ControlChannel state machine
// owns the connect throttle and timeout, so this transport must return
// from Connect immediately and report the outcome asynchronously.
type PahoTransport struct {
	opts   Options
	client mqtt.Client
	logger *logrus.Entry

	mu        sync.RWMutex
	connected bool
	handlers  map[string]MessageHandler

	onConnect    func()
	onDisconnect func(error)
}

// NewPahoTransport creates a transport with autoreconnect disabled: the
// ControlChannel's own state machine is the single authority for when
// a reconnect attempt happens (spec §4.2's ≥5s throttle). Letting Paho
// reconnect on its own schedule as well would race the core's state.
func NewPahoTransport(logger *logrus.Entry) *PahoTransport {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &PahoTransport{
		logger:   logger,
		handlers: make(map[string]MessageHandler),
	}
}

func (t *PahoTransport) Configure(opts Options) error {
	t.opts = opts
	return nil
}

func (t *PahoTransport) Connect() error {
	scheme := "tcp"
	if t.opts.UseTLS {
		scheme = "ssl"
	}
	broker := fmt.Sprintf("%s://%s:%d", scheme, t.opts.Host, t.opts.Port)

	clientOpts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(t.opts.ClientID).
		SetUsername(t.opts.Username).
		SetPassword(t.opts.Password).
		SetKeepAlive(t.opts.KeepAlive).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOnConnectHandler(t.handleConnect).
		SetConnectionLostHandler(t.handleDisconnect).
		SetDefaultPublishHandler(t.handleDefaultMessage)

	if t.opts.UseTLS {
		tlsConfig, err := t.buildTLSConfig()
		if err != nil {
			return err
		}
		clientOpts.SetTLSConfig(tlsConfig)
	}

	t.client = mqtt.NewClient(clientOpts)

	token := t.client.Connect()
	// Deliberately not token.Wait(): the caller (ControlChannel.Tick)
	// must return promptly. Success/failure surfaces later through
	// handleConnect/handleDisconnect.
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			t.handleDisconnect(t.client, err)
		}
	}()
	return nil
}

func (t *PahoTransport) buildTLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: t.opts.InsecureSkipVerify}
	if len(t.opts.CACert) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(t.opts.CACert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		cfg.RootCAs = pool
	}
	if len(t.opts.ClientCert) > 0 && len(t.opts.ClientKey) > 0 {
		cert, err := tls.X509KeyPair(t.opts.ClientCert, t.opts.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func (t *PahoTransport) Disconnect() {
	t.mu.Lock()
	client := t.client
	t.connected = false
	t.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
}

func (t *PahoTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.client != nil && t.client.IsConnected()
}

func (t *PahoTransport) Subscribe(topic string, qos byte, handler MessageHandler) error {
	t.mu.Lock()
	t.handlers[topic] = handler
	client := t.client
	t.mu.Unlock()

	if client == nil {
		return fmt.Errorf("not connected")
	}

	token := client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		// A real MQTT publish is never fragmented at this layer: report
		// it as a single, complete logical message.
		payload := msg.Payload()
		handler(msg.Topic(), payload, 0, len(payload), len(payload))
	})
	// Deliberately not token.Wait(): this is reached from
	// ControlChannel.Tick via drainPendingCallbacks, which must return
	// promptly like Connect above. A SUBACK failure surfaces the same
	// way a lost connection does, through handleDisconnect, since a
	// control channel that can't subscribe can't receive announcements
	// either way.
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			t.handleDisconnect(t.client, err)
		}
	}()
	return nil
}

func (t *PahoTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()

	if client == nil {
		return fmt.Errorf("not connected")
	}
	token := client.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

func (t *PahoTransport) OnConnect(fn func())          { t.onConnect = fn }
func (t *PahoTransport) OnDisconnect(fn func(error))  { t.onDisconnect = fn }

// Tick is a no-op: Paho drives its own goroutines and delivers
// callbacks without being polled.
func (t *PahoTransport) Tick() {}

func (t *PahoTransport) handleConnect(_ mqtt.Client) {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	t.logger.Debug("mqtt transport connected")
	if t.onConnect != nil {
		t.onConnect()
	}
}

func (t *PahoTransport) handleDisconnect(_ mqtt.Client, err error) {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.logger.WithError(err).Debug("mqtt transport disconnected")
	if t.onDisconnect != nil {
		t.onDisconnect(err)
	}
}

func (t *PahoTransport) handleDefaultMessage(_ mqtt.Client, msg mqtt.Message) {
	t.logger.WithField("topic", msg.Topic()).Debug("unhandled mqtt message")
}
