package room

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	"github.com/williamlsh/logging"

	turncmd "github.com/SB-IM/peerchat/cmd/turn"
	"github.com/SB-IM/peerchat/internal/capture"
	"github.com/SB-IM/peerchat/internal/peer"
	"github.com/SB-IM/peerchat/internal/relay"
	"github.com/SB-IM/peerchat/internal/relay/mqttrelay"
	"github.com/SB-IM/peerchat/internal/relay/wsrelay"
	"github.com/SB-IM/peerchat/internal/room"
	sig "github.com/SB-IM/peerchat/internal/signal"
	"github.com/SB-IM/peerchat/internal/sink"
	"github.com/SB-IM/peerchat/internal/turn"
	"github.com/SB-IM/peerchat/pkg/mqttclient"
)

const (
	configFlagName = "config"

	relayMQTT      = "mqtt"
	relayWebSocket = "ws"

	sourceRTP  = "rtp"
	sourceRTSP = "rtsp"
	sourceRTMP = "rtmp"
)

// Command returns a room command.
func Command() *cli.Command {
	ctx := context.Background()

	var (
		logger zerolog.Logger

		mc mqtt.Client

		mqttConfigOptions       mqttclient.ConfigOptions
		mqttClientConfigOptions mqttrelay.ConfigOptions
		roomConfigOptions       roomConfigOptions
		wsConfigOptions         wsConfigOptions
		webRTCConfigOptions     webRTCConfigOptions
		captureConfigOptions    captureConfigOptions
		sinkConfigOptions       sinkConfigOptions
		turnConfigOptions       turn.ConfigOptions
	)

	flags := func() (flags []cli.Flag) {
		for _, v := range [][]cli.Flag{
			loadConfigFlag(),
			roomFlags(&roomConfigOptions),
			mqttFlags(&mqttConfigOptions),
			mqttClientFlags(&mqttClientConfigOptions),
			wsFlags(&wsConfigOptions),
			webRTCFlags(&webRTCConfigOptions),
			captureFlags(&captureConfigOptions),
			sinkFlags(&sinkConfigOptions),
			turncmd.Flags(&turnConfigOptions),
		} {
			flags = append(flags, v...)
		}
		return
	}()

	return &cli.Command{
		Name:  "room",
		Usage: "Join a room and share screen and microphone with the other peer",
		Flags: flags,
		Before: func(c *cli.Context) error {
			if err := altsrc.InitInputSourceWithContext(
				flags,
				altsrc.NewTomlSourceFromFlagFunc(configFlagName),
			)(c); err != nil {
				return err
			}

			// Set up logger.
			debug := c.Bool("debug")
			logging.Debug(debug)
			logger = log.With().Str("service", "peerchat").Str("command", "room").Logger()
			ctx = logger.WithContext(ctx)

			if roomConfigOptions.Relay != relayMQTT {
				return nil
			}
			// Initializes MQTT client.
			mc = mqttclient.NewClient(ctx, mqttConfigOptions)
			if err := mqttclient.CheckConnectivity(mc, 3*time.Second); err != nil {
				return err
			}
			ctx = mqttclient.WithContext(ctx, mc)
			return nil
		},
		Action: func(c *cli.Context) error {
			codec, err := sig.CodecByName(roomConfigOptions.Codec)
			if err != nil {
				return err
			}

			peerID := room.NewPeerID()
			var r relay.Relay
			switch roomConfigOptions.Relay {
			case relayMQTT:
				r = mqttrelay.New(mqttclient.FromContext(ctx), peerID, codec, mqttClientConfigOptions, &logger)
			case relayWebSocket:
				r = wsrelay.New(wsConfigOptions.URL, peerID, codec, &logger)
			default:
				return fmt.Errorf("unknown relay %q", roomConfigOptions.Relay)
			}

			videoSink := newSink(sinkConfigOptions.VideoAddress, sinkConfigOptions.VideoPayloadType, &logger)
			audioSink := newSink(sinkConfigOptions.AudioAddress, sinkConfigOptions.AudioPayloadType, &logger)

			source, err := captureConfigOptions.source(&logger)
			if err != nil {
				return err
			}

			iceServers := webRTCConfigOptions.iceServers()
			if webRTCConfigOptions.UseTURN {
				iceServers = append(iceServers, turnConfigOptions.ICEServer())
			}

			rm := room.New(roomConfigOptions.ID, r,
				source,
				peer.Sinks{Video: videoSink, Audio: audioSink},
				room.Config{
					Peer: peer.Config{
						ICEServers: iceServers,
						TagWait:    roomConfigOptions.TagWait,
					},
					Preview: sink.LogPreview{Logger: &logger},
					OnStateChange: func(s room.State) {
						fmt.Fprintf(c.App.Writer, "state: %s\n", s)
					},
				},
				&logger,
			)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := rm.Join(ctx); err != nil {
				logger.Err(err).Msg("could not join room")
				return err
			}
			logger.Info().Str("peer", peerID).Str("relay", roomConfigOptions.Relay).Msg("waiting for commands: screen, mic, state, leave")

			// Without input the room stays joined until a signal arrives.
			done := make(chan struct{})
			go func() {
				if newConsole(os.Stdin, c.App.Writer, rm, &logger).run(ctx) {
					close(done)
				}
			}()

			select {
			case <-ctx.Done():
			case <-done:
			}
			err = rm.Leave()
			for _, s := range []sink.Sink{videoSink, audioSink} {
				if f, ok := s.(*sink.Forwarder); ok {
					f.Close()
				}
			}
			return err
		},
		After: func(c *cli.Context) error {
			if mc != nil {
				mc.Disconnect(250)
			}
			logger.Info().Msg("exits")
			return nil
		},
	}
}

// source captures the microphone as RTP and the screen from the configured source.
func (o *captureConfigOptions) source(logger *zerolog.Logger) (capture.Source, error) {
	rtpSource := capture.NewRTPSource(o.RTP, logger)
	switch o.ScreenSource {
	case sourceRTP:
		return rtpSource, nil
	case sourceRTSP:
		return capture.ByKind{Screen: capture.NewRTSPSource(o.RTSP, logger), Audio: rtpSource}, nil
	case sourceRTMP:
		return capture.ByKind{Screen: capture.NewRTMPSource(o.RTMP, logger), Audio: rtpSource}, nil
	default:
		return nil, fmt.Errorf("unknown screen source %q", o.ScreenSource)
	}
}

func newSink(address string, payloadType uint, logger *zerolog.Logger) sink.Sink {
	if address == "" {
		return sink.Discard{Logger: logger}
	}
	return sink.NewForwarder(sink.ForwarderConfigOptions{
		Address:     address,
		PayloadType: uint8(payloadType),
	}, logger)
}

func (o *webRTCConfigOptions) iceServers() []webrtc.ICEServer {
	if o.ICEServer == "" {
		return nil
	}
	return []webrtc.ICEServer{
		{
			URLs:       []string{o.ICEServer},
			Username:   o.Username,
			Credential: o.Credential,
		},
	}
}
