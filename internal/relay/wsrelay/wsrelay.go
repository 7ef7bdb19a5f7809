// Package wsrelay is the client side of the websocket signaling hub.
package wsrelay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/SB-IM/peerchat/internal/relay"
	"github.com/SB-IM/peerchat/internal/signal"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// ErrSendBufferFull is returned by Publish when the write pump falls behind.
var ErrSendBufferFull = errors.New("wsrelay: send buffer full")

// Relay implements relay.Relay over a websocket connection to a hub.
type Relay struct {
	relay.Subscribers

	url    string
	peerID string
	codec  signal.Codec
	logger zerolog.Logger

	outgoing chan []byte
	done     chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	once   sync.Once
}

var _ relay.Relay = (*Relay)(nil)

// New returns a relay that connects to the hub at url on Join.
func New(url, peerID string, codec signal.Codec, logger *zerolog.Logger) *Relay {
	return &Relay{
		url:      url,
		peerID:   peerID,
		codec:    codec,
		logger:   logger.With().Str("component", "ws-relay").Str("peer", peerID).Logger(),
		outgoing: make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

func (r *Relay) Join(ctx context.Context, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return relay.ErrClosed
	}
	if r.conn != nil {
		return fmt.Errorf("wsrelay: already joined")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("could not connect to %s: %w", r.url, err)
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// The join message is the bare room id.
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		conn.Close()
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(room)); err != nil {
		conn.Close()
		return fmt.Errorf("could not send join message: %w", err)
	}
	r.conn = conn
	r.logger.Info().Str("url", r.url).Str("room", room).Msg("joined room")

	go r.readPump(conn)
	go r.writePump(conn)
	return nil
}

func (r *Relay) Publish(msg signal.Message) error {
	r.mu.Lock()
	conn, closed := r.conn, r.closed
	r.mu.Unlock()

	if closed {
		return relay.ErrClosed
	}
	if conn == nil {
		return relay.ErrNotJoined
	}

	payload, err := r.codec.Marshal(&signal.Envelope{From: r.peerID, Message: msg})
	if err != nil {
		return fmt.Errorf("could not encode %s: %w", msg.Type(), err)
	}
	select {
	case r.outgoing <- payload:
		return nil
	case <-r.done:
		return relay.ErrClosed
	default:
		return ErrSendBufferFull
	}
}

func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.once.Do(func() { close(r.done) })
	return nil
}

func (r *Relay) readPump(conn *websocket.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-r.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					r.logger.Err(err).Msg("relay connection lost")
				} else {
					r.logger.Warn().Err(err).Msg("relay connection closed")
				}
			}
			return
		}

		env, err := r.codec.Unmarshal(payload)
		if err != nil {
			r.logger.Err(err).Msg("could not decode message")
			continue
		}
		if env.From == r.peerID {
			continue
		}
		r.Dispatch(env.Message)
	}
}

func (r *Relay) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	messageType := websocket.TextMessage
	if r.codec.Name() == (signal.MsgPack{}).Name() {
		messageType = websocket.BinaryMessage
	}

	for {
		select {
		case payload := <-r.outgoing:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(messageType, payload); err != nil {
				r.logger.Err(err).Msg("could not write message")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.done:
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leave"),
				time.Now().Add(writeWait),
			)
			return
		}
	}
}
