// Package conduit implements the MQTT Conduit (C4): the transport-facing
// collaborator that connects to the streaming server, negotiates a
// per-stream topic set, and translates broker callbacks into eventbus
// emissions the Player reacts to. It is grounded on the teacher's
// conn.Accept/Connection lifecycle (handshake, read/write loop wiring,
// SetMessageHandler-before-Start ordering), generalized from a raw TCP
// handshake to a paho.mqtt.golang connect/subscribe handshake, since the
// teacher has no MQTT client of its own.
package conduit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/clspio/clsp-go/internal/clsp/eventbus"
	"github.com/clspio/clsp-go/internal/clsp/lifecycle"
	"github.com/clspio/clsp-go/internal/clsp/streamconfig"
	clsperrors "github.com/clspio/clsp-go/internal/errors"
	"github.com/clspio/clsp-go/internal/logger"
)

// Event names emitted on a Conduit's Bus.
const (
	EventConnected       eventbus.Name = "CONNECTED"
	EventDisconnected    eventbus.Name = "DISCONNECTED"
	EventInitSegment     eventbus.Name = "INIT_SEGMENT"
	EventMediaSegment    eventbus.Name = "MEDIA_SEGMENT"
	EventReconnectNeeded eventbus.Name = "RECONNECT_NEEDED"
)

var eventNames = []eventbus.Name{
	EventConnected,
	EventDisconnected,
	EventInitSegment,
	EventMediaSegment,
	EventReconnectNeeded,
}

// ConnectTimeout bounds how long Connect waits for the broker handshake.
const ConnectTimeout = 10 * time.Second

const disconnectQuiesceMillis = 250

// Conduit owns one MQTT client bound to one stream's topic set. A fresh
// client id is generated per Connect call, matching the teacher's
// per-accept connection identifier (conn.nextID), so a reconnect after a
// broker-side kick never collides with a stale session on the broker.
type Conduit struct {
	cfg      *streamconfig.StreamConfiguration
	clientID string
	client   mqtt.Client
	bus      *eventbus.Bus
	life     *lifecycle.Destroyable
	log      *slog.Logger
}

// New creates a Conduit for cfg. log may be nil, in which case the package
// logger is used.
func New(cfg *streamconfig.StreamConfiguration, log *slog.Logger) *Conduit {
	if log == nil {
		log = logger.Logger()
	}
	log = logger.WithStream(log, cfg.StreamName())

	c := &Conduit{
		cfg:      cfg,
		clientID: uuid.NewString(),
		bus:      eventbus.New(eventNames, log),
		log:      log,
	}
	c.life = lifecycle.NewDestroyable(c.teardown)
	return c
}

// On subscribes handler to one of the Conduit's declared events.
func (c *Conduit) On(name eventbus.Name, handler eventbus.Handler) error {
	return c.bus.On(name, handler)
}

// IsDestroyed reports whether Destroy has been called.
func (c *Conduit) IsDestroyed() bool { return c.life.IsDestroyed() }

// Destroy unsubscribes from the stream's init/media topics, disconnects the
// MQTT client, and releases all listeners. Safe to
// call more than once; only the first call does work.
func (c *Conduit) Destroy() error { return c.life.Destroy() }

func (c *Conduit) topicInit() string   { return fmt.Sprintf("clsp/%s/init", c.cfg.StreamName()) }
func (c *Conduit) topicMedia() string  { return fmt.Sprintf("clsp/%s/media", c.cfg.StreamName()) }
func (c *Conduit) topicPlay() string   { return fmt.Sprintf("clsp/%s/play", c.cfg.StreamName()) }
func (c *Conduit) topicResync() string { return fmt.Sprintf("clsp/%s/resync", c.cfg.StreamName()) }
func (c *Conduit) topicStop() string   { return fmt.Sprintf("clsp/%s/stop", c.cfg.StreamName()) }

// Connect dials the broker derived from cfg (ws:// or wss:// depending on
// UseSSL), subscribes to the stream's init/media topics, and blocks until
// the handshake completes or ConnectTimeout elapses. CONNECTED is emitted
// from the broker's own OnConnect callback, not from this call returning,
// so that a later auto-reconnect re-emits CONNECTED too.
func (c *Conduit) Connect(ctx context.Context) error {
	const op = "conduit.Connect"
	if c.life.IsDestroyed() {
		return clsperrors.NewAlreadyDestroyed(op)
	}

	scheme := "ws"
	if c.cfg.UseSSL() {
		scheme = "wss"
	}
	broker := fmt.Sprintf("%s://%s:%d/mqtt", scheme, c.cfg.Host(), c.cfg.Port())

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	c.clientID = uuid.NewString()
	opts.SetClientID(c.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)

	token := c.client.Connect()
	select {
	case <-ctx.Done():
		return clsperrors.NewTransportError(op, ctx.Err())
	case <-token.Done():
	case <-time.After(ConnectTimeout):
		return clsperrors.NewTransportError(op, errors.New("timed out waiting for broker handshake"))
	}
	if err := token.Error(); err != nil {
		return clsperrors.NewTransportError(op, err)
	}
	return nil
}

func (c *Conduit) onConnect(cl mqtt.Client) {
	c.bus.Emit(EventConnected, nil)

	if token := cl.Subscribe(c.topicInit(), 1, c.onInitSegment); token.Wait() && token.Error() != nil {
		c.log.Error("subscribe failed", "topic", c.topicInit(), "error", token.Error())
	}
	if token := cl.Subscribe(c.topicMedia(), 1, c.onMediaSegment); token.Wait() && token.Error() != nil {
		c.log.Error("subscribe failed", "topic", c.topicMedia(), "error", token.Error())
	}
}

func (c *Conduit) onConnectionLost(_ mqtt.Client, err error) {
	c.log.Warn("mqtt connection lost", "error", err)
	c.bus.Emit(EventDisconnected, err)
	c.bus.Emit(EventReconnectNeeded, err)
}

func (c *Conduit) onReconnecting(mqtt.Client, *mqtt.ClientOptions) {
	c.bus.Emit(EventReconnectNeeded, nil)
}

// onInitSegment and onMediaSegment copy the payload out of the broker's
// buffer before emitting: paho reuses the underlying byte slice once the
// callback returns, and handlers downstream may retain the slice past
// that point (e.g. to hand to a buffer pool consumer on another
// goroutine).
func (c *Conduit) onInitSegment(_ mqtt.Client, msg mqtt.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	c.bus.Emit(EventInitSegment, payload)
}

func (c *Conduit) onMediaSegment(_ mqtt.Client, msg mqtt.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	c.bus.Emit(EventMediaSegment, payload)
}

// Play publishes a play command for this stream's topic.
func (c *Conduit) Play() error { return c.publish(c.topicPlay(), nil) }

// Resync publishes a resync command, requesting a fresh init segment.
func (c *Conduit) Resync() error { return c.publish(c.topicResync(), nil) }

// Stop publishes a stop command.
func (c *Conduit) Stop() error { return c.publish(c.topicStop(), nil) }

func (c *Conduit) publish(topic string, payload []byte) error {
	const op = "conduit.publish"
	if c.life.IsDestroyed() {
		return clsperrors.NewAlreadyDestroyed(op)
	}
	if c.client == nil {
		return clsperrors.NewTransportError(op, errors.New("not connected"))
	}
	token := c.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(ConnectTimeout) {
		return clsperrors.NewTransportError(op, errors.New("publish timed out"))
	}
	if err := token.Error(); err != nil {
		return clsperrors.NewTransportError(op, err)
	}
	return nil
}

func (c *Conduit) teardown() error {
	c.bus.RemoveAllListeners()
	if c.client != nil && c.client.IsConnected() {
		token := c.client.Unsubscribe(c.topicInit(), c.topicMedia())
		if !token.WaitTimeout(ConnectTimeout) {
			c.log.Warn("unsubscribe timed out during teardown")
		} else if err := token.Error(); err != nil {
			c.log.Warn("unsubscribe failed during teardown", "error", err)
		}
		c.client.Disconnect(disconnectQuiesceMillis)
	}
	return nil
}
