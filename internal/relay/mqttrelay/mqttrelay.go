// Package mqttrelay carries room signaling over an MQTT broker.
//
// Every room maps to the topic <prefix>/<room>. Joining publishes the room id on
// <prefix>/join. MQTT delivers a client's own publications back to it, so frames
// carry the sender's peer id and a relay drops its own.
package mqttrelay

import (
	"context"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/SB-IM/peerchat/internal/relay"
	"github.com/SB-IM/peerchat/internal/signal"
	"github.com/SB-IM/peerchat/pkg/mqttclient"
)

const joinTopic = "join"

// ConfigOptions configures topics and delivery of the relay.
type ConfigOptions struct {
	TopicPrefix string
	Qos         uint
}

// Relay implements relay.Relay on top of an MQTT client.
type Relay struct {
	relay.Subscribers

	client mqtt.Client
	codec  signal.Codec
	peerID string
	config ConfigOptions
	logger zerolog.Logger

	mu     sync.Mutex
	topic  string
	closed bool
}

var _ relay.Relay = (*Relay)(nil)

// New returns a relay publishing as peerID. The client must be connected by the caller.
func New(client mqtt.Client, peerID string, codec signal.Codec, config ConfigOptions, logger *zerolog.Logger) *Relay {
	return &Relay{
		client: client,
		codec:  codec,
		peerID: peerID,
		config: config,
		logger: logger.With().Str("component", "mqtt-relay").Str("peer", peerID).Logger(),
	}
}

// Topic returns the topic of room.
func (r *Relay) Topic(room string) string {
	return r.config.TopicPrefix + "/" + room
}

func (r *Relay) Join(ctx context.Context, room string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return relay.ErrClosed
	}
	topic := r.Topic(room)
	r.topic = topic
	r.mu.Unlock()

	t := r.client.Subscribe(topic, byte(r.config.Qos), r.handleMessage)
	select {
	case <-t.Done():
		if err := t.Error(); err != nil {
			return fmt.Errorf("could not subscribe to %s: %w", topic, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	r.logger.Info().Str("topic", topic).Msg("subscribed to room")

	join := r.config.TopicPrefix + "/" + joinTopic
	mqttclient.Watch(&r.logger, r.client.Publish(join, byte(r.config.Qos), false, room), "publish join", join)
	return nil
}

func (r *Relay) Publish(msg signal.Message) error {
	r.mu.Lock()
	topic, closed := r.topic, r.closed
	r.mu.Unlock()

	if closed {
		return relay.ErrClosed
	}
	if topic == "" {
		return relay.ErrNotJoined
	}

	payload, err := r.codec.Marshal(&signal.Envelope{From: r.peerID, Message: msg})
	if err != nil {
		return fmt.Errorf("could not encode %s: %w", msg.Type(), err)
	}
	// Watch does not wait for delivery.
	mqttclient.Watch(&r.logger, r.client.Publish(topic, byte(r.config.Qos), false, payload), "publish "+string(msg.Type()), topic)
	return nil
}

func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.topic != "" {
		mqttclient.Watch(&r.logger, r.client.Unsubscribe(r.topic), "unsubscribe", r.topic)
	}
	return nil
}

func (r *Relay) handleMessage(_ mqtt.Client, m mqtt.Message) {
	env, err := r.codec.Unmarshal(m.Payload())
	if err != nil {
		r.logger.Err(err).Str("topic", m.Topic()).Msg("could not decode message")
		return
	}
	if env.From == r.peerID {
		return
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}
	r.Dispatch(env.Message)
}
