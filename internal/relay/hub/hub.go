// Package hub is the websocket signaling relay.
//
// A client's first text frame is the id of the room it joins. Every later frame is
// forwarded verbatim to the other members of that room. The hub never decodes frames.
package hub

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	joinTimeout    = 10 * time.Second
	writeTimeout   = 5 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
	maxRoomIDSize  = 128
)

var (
	ErrRoomFull    = errors.New("room is full")
	ErrEmptyRoomID = errors.New("empty room id")
)

// ConfigOptions configures the relay HTTP server.
type ConfigOptions struct {
	Host           string
	Port           int
	Path           string
	RoomCapacity   int
	OriginPatterns []string
}

// Hub tracks rooms and forwards frames between their members.
type Hub struct {
	config ConfigOptions
	logger zerolog.Logger

	mu    sync.Mutex
	rooms map[string]map[*member]struct{}
}

type member struct {
	room string
	addr string
	send chan frame
}

type frame struct {
	typ     websocket.MessageType
	payload []byte
}

// New returns a Hub.
func New(config ConfigOptions, logger *zerolog.Logger) *Hub {
	if config.RoomCapacity <= 0 {
		config.RoomCapacity = 2
	}
	if config.Path == "" {
		config.Path = "/v1/room"
	}
	return &Hub{
		config: config,
		logger: logger.With().Str("component", "hub").Logger(),
		rooms:  make(map[string]map[*member]struct{}),
	}
}

// Handler routes the websocket endpoint and a health check.
func (h *Hub) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(h.config.Path, h.handleRoom()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return r
}

// ListenAndServe serves the hub until ctx is done.
func (h *Hub) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(h.config.Host, strconv.Itoa(h.config.Port)),
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info().Str("addr", srv.Addr).Str("path", h.config.Path).Msg("starting HTTP server for WebSocket")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Members returns the number of members in room.
func (h *Hub) Members(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

func (h *Hub) handleRoom() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.config.OriginPatterns})
		if err != nil {
			h.logger.Err(err).Msg("could not accept websocket")
			return
		}
		defer c.Close(websocket.StatusInternalError, "")
		c.SetReadLimit(maxMessageSize)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		m, err := h.readJoin(ctx, c, r.RemoteAddr)
		if err != nil {
			h.logger.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("rejected client")
			code := websocket.StatusPolicyViolation
			if websocket.CloseStatus(err) != -1 {
				code = websocket.CloseStatus(err)
			}
			c.Close(code, err.Error())
			return
		}
		defer h.leave(m)

		logger := h.logger.With().Str("room", m.room).Str("addr", m.addr).Logger()
		logger.Info().Int("members", h.Members(m.room)).Msg("client joined room")

		go h.writeLoop(ctx, c, m, &logger)

		for {
			typ, payload, err := c.Read(ctx)
			if err != nil {
				if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
					logger.Info().Msg("client left room")
				} else {
					logger.Debug().Err(err).Msg("read failed")
				}
				return
			}
			if typ != websocket.MessageText && typ != websocket.MessageBinary {
				continue
			}
			h.broadcast(m, frame{typ: typ, payload: payload}, &logger)
		}
	}
}

func (h *Hub) readJoin(ctx context.Context, c *websocket.Conn, addr string) (*member, error) {
	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	typ, payload, err := c.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText || len(payload) == 0 || len(payload) > maxRoomIDSize {
		return nil, ErrEmptyRoomID
	}

	m := &member{room: string(payload), addr: addr, send: make(chan frame, sendBuffer)}
	if err := h.join(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (h *Hub) join(m *member) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[m.room]
	if len(members) >= h.config.RoomCapacity {
		return ErrRoomFull
	}
	if members == nil {
		members = make(map[*member]struct{})
		h.rooms[m.room] = members
	}
	members[m] = struct{}{}
	return nil
}

func (h *Hub) leave(m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[m.room]
	delete(members, m)
	if len(members) == 0 {
		delete(h.rooms, m.room)
	}
	close(m.send)
}

func (h *Hub) broadcast(from *member, f frame, logger *zerolog.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for m := range h.rooms[from.room] {
		if m == from {
			continue
		}
		select {
		case m.send <- f:
		default:
			logger.Warn().Str("to", m.addr).Msg("send buffer full, dropped frame")
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *websocket.Conn, m *member, logger *zerolog.Logger) {
	for f := range m.send {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.Write(writeCtx, f.typ, f.payload)
		cancel()
		if err != nil {
			logger.Debug().Err(err).Msg("write failed")
			return
		}
	}
}
