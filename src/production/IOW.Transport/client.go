package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	config "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Config"
	logger "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Logger"
	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
)

const (
	disconnectQuiesceMs = 250
	subscriberBuffer    = 16
	maxFeedbackPayload  = 256
)

// ClientFactory builds the underlying paho client. Tests swap it for a fake.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

type Option func(*Client)

func WithClientFactory(factory ClientFactory) Option {
	return func(c *Client) { c.newClient = factory }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client owns the broker connection and the telemetry subscription. Decoded
// readings are handed over through a single-slot mailbox: when the consumer
// is busy, a newer reading replaces the one still waiting.
type Client struct {
	cfg       config.MQTTConfig
	brokerURL string
	log       *logger.Logger
	newClient ClientFactory
	now       func() time.Time

	mqttClient mqtt.Client
	lost       chan error
	fatal      chan error
	running    atomic.Bool

	mailboxMu sync.Mutex
	mailbox   chan iowmodels.Reading
	closed    bool

	mu             sync.RWMutex
	state          iowmodels.ConnectionState
	latest         *iowmodels.Reading
	subscribers    map[int]chan iowmodels.StateChange
	nextSubscriber int
	decodeFailures int

	dropped atomic.Uint64
}

func New(cfg config.MQTTConfig, brokerURL string, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		cfg:         cfg,
		brokerURL:   brokerURL,
		log:         log.WithComponent("transport"),
		newClient:   mqtt.NewClient,
		now:         time.Now,
		lost:        make(chan error, 1),
		fatal:       make(chan error, 1),
		mailbox:     make(chan iowmodels.Reading, 1),
		closed:      true,
		state:       iowmodels.StateDisconnected,
		subscribers: make(map[int]chan iowmodels.StateChange),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Readings delivers decoded readings of the next (or current) Run in arrival
// order. The channel is closed when that Run returns, and the following Run
// delivers on a new one.
func (c *Client) Readings() <-chan iowmodels.Reading {
	c.mailboxMu.Lock()
	defer c.mailboxMu.Unlock()
	return c.mailbox
}

func (c *Client) State() iowmodels.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Latest returns the last decoded reading, or nil before the first one
func (c *Client) Latest() *iowmodels.Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return nil
	}
	r := *c.latest
	return &r
}

// Dropped counts readings replaced in the mailbox before they were consumed
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Subscribe returns a channel of state changes and a func that releases it
func (c *Client) Subscribe() (<-chan iowmodels.StateChange, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubscriber
	c.nextSubscriber++
	ch := make(chan iowmodels.StateChange, subscriberBuffer)
	c.subscribers[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
	}
}

// Run connects, subscribes and keeps the connection alive until ctx is done
// or a terminal error occurs. It returns nil on cancellation. After a
// terminal error the client may be run again.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: client already running", ErrTransport)
	}
	defer c.running.Store(false)
	defer c.closeMailbox()
	c.resetRun()

	opts, err := c.clientOptions()
	if err != nil {
		c.transition(iowmodels.StateError, err)
		return err
	}
	c.mqttClient = c.newClient(opts)

	backoff := c.cfg.BackoffMin
	for {
		c.transition(iowmodels.StateConnecting, nil)

		err := c.connectAndSubscribe(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			c.mqttClient.Disconnect(0)
			c.transition(iowmodels.StateDisconnected, nil)
			return nil
		case errors.Is(err, ErrCredentialsRejected):
			c.log.Logger.Error().Err(err).Str("broker", c.brokerURL).Msg("Broker rejected credentials, giving up")
			c.transition(iowmodels.StateError, err)
			return err
		default:
			c.log.Logger.Warn().Err(err).Dur("retry_in", backoff).Msg("MQTT connect failed")
			c.transition(iowmodels.StateDisconnected, err)
			if !sleepContext(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, c.cfg.BackoffMax)
			continue
		}

		backoff = c.cfg.BackoffMin
		c.transition(iowmodels.StateConnected, nil)

		select {
		case <-ctx.Done():
			c.mqttClient.Disconnect(disconnectQuiesceMs)
			c.transition(iowmodels.StateDisconnected, nil)
			return nil
		case err := <-c.fatal:
			c.mqttClient.Disconnect(disconnectQuiesceMs)
			c.transition(iowmodels.StateError, err)
			return err
		case err := <-c.lost:
			c.log.Logger.Warn().Err(err).Dur("retry_in", backoff).Msg("MQTT connection lost")
			c.transition(iowmodels.StateDisconnected, err)
			if !sleepContext(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, c.cfg.BackoffMax)
		}
	}
}

func (c *Client) clientOptions() (*mqtt.ClientOptions, error) {
	// reconnects are driven by Run so that every state change is observable
	opts := mqtt.NewClientOptions().
		AddBroker(c.brokerURL).
		SetClientID(c.cfg.ClientID).
		SetOrderMatters(true).
		SetKeepAlive(c.cfg.KeepAlive).
		SetPingTimeout(c.cfg.PingTimeout).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCleanSession(true)

	if c.cfg.BrokerUser != "" {
		opts.SetUsername(c.cfg.BrokerUser)
		opts.SetPassword(c.cfg.BrokerPass)
	}

	if c.cfg.UseTLS {
		tlsCfg, err := tlsConfig(c.cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case c.lost <- err:
		default:
		}
	})

	return opts, nil
}

func (c *Client) connectAndSubscribe(ctx context.Context) error {
	// stale signals from the previous session
	drain(c.lost)

	if err := waitToken(ctx, c.mqttClient.Connect()); err != nil {
		if errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) || errors.Is(err, packets.ErrorRefusedNotAuthorised) {
			return fmt.Errorf("%w: %v", ErrCredentialsRejected, err)
		}
		return fmt.Errorf("%w: connect to %s: %v", ErrTransport, c.brokerURL, err)
	}

	token := c.mqttClient.Subscribe(c.cfg.Topic, c.cfg.QoS, c.onMessage)
	if err := waitToken(ctx, token); err != nil {
		c.mqttClient.Disconnect(0)
		return fmt.Errorf("%w: subscribe to %s: %v", ErrTransport, c.cfg.Topic, err)
	}
	if st, ok := token.(*mqtt.SubscribeToken); ok {
		if granted, ok := st.Result()[c.cfg.Topic]; ok && granted == 0x80 {
			c.mqttClient.Disconnect(0)
			return fmt.Errorf("%w: broker refused subscription to %s", ErrTransport, c.cfg.Topic)
		}
	}

	c.log.Logger.Info().Str("broker", c.brokerURL).Str("topic", c.cfg.Topic).Msg("MQTT connected and subscribed")
	return nil
}

func (c *Client) onMessage(_ mqtt.Client, m mqtt.Message) {
	arrived := c.now().UTC()

	value, err := DecodeTemperature(m.Payload())
	if err != nil {
		c.recordDecodeFailure(m, err)
		return
	}

	reading := iowmodels.Reading{Value: value, ObservedAt: arrived}

	c.mu.Lock()
	c.decodeFailures = 0
	c.latest = &reading
	c.mu.Unlock()

	c.deliver(reading)
}

func (c *Client) recordDecodeFailure(m mqtt.Message, err error) {
	c.mu.Lock()
	c.decodeFailures++
	failures := c.decodeFailures
	c.mu.Unlock()

	c.log.Logger.Warn().Err(err).
		Str("topic", m.Topic()).
		Int("consecutive_failures", failures).
		Msg("Discarding undecodable telemetry message")
	c.publishError("decode_error", err.Error(), m.Payload())

	if c.cfg.DecodeErrorBudget > 0 && failures > c.cfg.DecodeErrorBudget {
		select {
		case c.fatal <- fmt.Errorf("%w: %d in a row", ErrDecodeBudgetExceeded, failures):
		default:
		}
	}
}

// deliver never blocks the paho callback
func (c *Client) deliver(reading iowmodels.Reading) {
	c.mailboxMu.Lock()
	defer c.mailboxMu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.mailbox <- reading:
		return
	default:
	}

	select {
	case stale := <-c.mailbox:
		c.dropped.Add(1)
		c.log.Logger.Debug().Float64("temperature", stale.Value).Msg("Replacing unconsumed reading")
	default:
	}
	c.mailbox <- reading
}

// resetRun clears what a previous terminal run left behind
func (c *Client) resetRun() {
	c.mailboxMu.Lock()
	c.closed = false
	c.mailboxMu.Unlock()

	c.mu.Lock()
	c.decodeFailures = 0
	c.mu.Unlock()

	drain(c.fatal)
	drain(c.lost)
}

// closeMailbox ends the current run's channel and installs the next one
func (c *Client) closeMailbox() {
	c.mailboxMu.Lock()
	defer c.mailboxMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.mailbox)
		c.mailbox = make(chan iowmodels.Reading, 1)
	}
}

func (c *Client) transition(to iowmodels.ConnectionState, cause error) {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return
	}
	c.state = to
	change := iowmodels.StateChange{From: from, To: to, Err: cause}
	for _, sub := range c.subscribers {
		select {
		case sub <- change:
		default:
			c.log.Logger.Warn().Stringer("to", to).Msg("State subscriber is not keeping up, change dropped")
		}
	}
	c.mu.Unlock()

	event := c.log.Logger.Info()
	if to == iowmodels.StateError {
		event = c.log.Logger.Error().Err(cause)
	}
	event.Stringer("from", from).Stringer("to", to).Msg("Connection state changed")
}

// publishError sends feedback about a rejected message to the error topic.
// The token is not awaited inside the message callback.
func (c *Client) publishError(errorType, message string, payload []byte) {
	if c.cfg.ErrorTopic == "" || c.mqttClient == nil || !c.mqttClient.IsConnected() {
		return
	}

	if len(payload) > maxFeedbackPayload {
		payload = payload[:maxFeedbackPayload]
	}
	errorPayload := map[string]interface{}{
		"error_type": errorType,
		"message":    message,
		"topic":      c.cfg.Topic,
		"payload":    string(payload),
		"timestamp":  c.now().UTC(),
	}

	payloadJSON, err := json.Marshal(errorPayload)
	if err != nil {
		c.log.Logger.Error().Err(err).Msg("Failed to marshal error payload")
		return
	}

	token := c.mqttClient.Publish(c.cfg.ErrorTopic, c.cfg.QoS, false, payloadJSON)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			c.log.Logger.Error().Err(token.Error()).Str("topic", c.cfg.ErrorTopic).Msg("Failed to publish error")
		}
	}()
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max || next <= 0 {
		return max
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func drain(ch chan error) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file")
	}
	cfg.RootCAs = cp
	return cfg, nil
}
