// Package turn runs the TURN server peers relay media through when no direct path exists.
package turn

import (
	"fmt"
	"net"
	"strconv"

	"github.com/pion/turn/v4"
	"github.com/rs/zerolog"

	"github.com/SB-IM/peerchat/internal/logging"
)

// Server is a running TURN server.
type Server struct {
	*turn.Server
	// Addr is the address the server listens on.
	Addr net.Addr
}

// Serve starts a TURN server on UDP cfg.Port with the single user of cfg.
func Serve(logger *zerolog.Logger, cfg *ConfigOptions) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid TURN config: %w", err)
	}
	udpListener, err := net.ListenPacket("udp4", "0.0.0.0:"+strconv.Itoa(cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("could not create udp4 listener: %w", err)
	}
	logger.Info().Str("address", udpListener.LocalAddr().String()).Msg("created udp4 listener")

	// Keys are derived once, GenerateAuthKey is what the server compares against.
	usersMap := map[string][]byte{
		cfg.Username: turn.GenerateAuthKey(cfg.Username, cfg.Realm, cfg.Password),
	}

	s, err := turn.NewServer(turn.ServerConfig{
		LoggerFactory: logging.NewPionLoggerFactory(logger),
		Realm:         cfg.Realm,
		AuthHandler: func(username, realm string, srcAddr net.Addr) (key []byte, ok bool) {
			if key, ok := usersMap[username]; ok {
				return key, true
			}
			logger.Debug().Str("username", username).Str("src", srcAddr.String()).Msg("unknown TURN user")
			return nil, false
		},
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: udpListener,
				RelayAddressGenerator: &turn.RelayAddressGeneratorPortRange{
					RelayAddress: net.ParseIP(cfg.PublicIP), // Advertised to peers, should be the public IP.
					Address:      "0.0.0.0",
					MinPort:      uint16(cfg.RelayMinPort),
					MaxPort:      uint16(cfg.RelayMaxPort),
				},
			},
		},
	})
	if err != nil {
		udpListener.Close()
		return nil, fmt.Errorf("could not create TURN server: %w", err)
	}
	logger.Info().
		Uint("min_port", cfg.RelayMinPort).
		Uint("max_port", cfg.RelayMaxPort).
		Str("public_ip", cfg.PublicIP).
		Msg("started turn server")

	return &Server{Server: s, Addr: udpListener.LocalAddr()}, nil
}
