package mqttrelay

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeBroker routes publications of every fakeClient attached to it, echoing to the sender like a broker does.
type fakeBroker struct {
	mu        sync.Mutex
	subs      map[string]map[*fakeClient]mqtt.MessageHandler
	published []fakeMessage
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subs: make(map[string]map[*fakeClient]mqtt.MessageHandler)}
}

func (b *fakeBroker) client() *fakeClient {
	return &fakeClient{broker: b}
}

func (b *fakeBroker) publications(topic string) []fakeMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []fakeMessage
	for _, m := range b.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fakeClient struct {
	mqtt.Client
	broker *fakeBroker
}

func (c *fakeClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	if c.broker.subs[topic] == nil {
		c.broker.subs[topic] = make(map[*fakeClient]mqtt.MessageHandler)
	}
	c.broker.subs[topic][c] = callback
	return doneToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	for _, topic := range topics {
		delete(c.broker.subs[topic], c)
	}
	return doneToken{}
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	msg := fakeMessage{topic: topic, payload: b, qos: qos}

	c.broker.mu.Lock()
	c.broker.published = append(c.broker.published, msg)
	var handlers []mqtt.MessageHandler
	var clients []*fakeClient
	for client, h := range c.broker.subs[topic] {
		clients = append(clients, client)
		handlers = append(handlers, h)
	}
	c.broker.mu.Unlock()

	for i, h := range handlers {
		h(clients[i], msg)
	}
	return doneToken{}
}

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }

func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
	qos     byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return m.qos }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}
