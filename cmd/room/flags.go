package room

import (
	"time"

	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"

	"github.com/SB-IM/peerchat/internal/capture"
	"github.com/SB-IM/peerchat/internal/peer"
	"github.com/SB-IM/peerchat/internal/relay/mqttrelay"
	"github.com/SB-IM/peerchat/pkg/mqttclient"
)

type roomConfigOptions struct {
	ID      string
	Relay   string
	Codec   string
	TagWait time.Duration
}

type wsConfigOptions struct {
	URL string
}

type webRTCConfigOptions struct {
	ICEServer  string
	Username   string
	Credential string
	UseTURN    bool
}

type captureConfigOptions struct {
	ScreenSource string
	RTP          capture.RTPSourceConfigOptions
	RTSP         capture.RTSPSourceConfigOptions
	RTMP         capture.RTMPSourceConfigOptions
}

type sinkConfigOptions struct {
	VideoAddress     string
	VideoPayloadType uint
	AudioAddress     string
	AudioPayloadType uint
}

// loadConfigFlag sets a config file path for app command.
// Note: you can't set any other flags' `Required` value to `true`,
// As it conflicts with this flag. You can set only either this flag or specifically the other flags but not both.
func loadConfigFlag() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        configFlagName,
			Aliases:     []string{"c"},
			Usage:       "Config file path",
			Value:       "config/config.toml",
			DefaultText: "config/config.toml",
		},
	}
}

func roomFlags(options *roomConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "room.id",
			Usage:       "Id of the room to join",
			Value:       "lobby",
			DefaultText: "lobby",
			Destination: &options.ID,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "room.relay",
			Usage:       "Signaling relay, mqtt or ws",
			Value:       relayMQTT,
			DefaultText: relayMQTT,
			Destination: &options.Relay,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "room.codec",
			Usage:       "Signaling message encoding, json, msgpack or protobuf",
			Value:       "json",
			DefaultText: "json",
			Destination: &options.Codec,
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:        "room.tag_wait",
			Usage:       "How long a remote track without stream info waits before it is routed by media kind",
			Value:       peer.DefaultTagWait,
			DefaultText: peer.DefaultTagWait.String(),
			Destination: &options.TagWait,
		}),
	}
}

func mqttFlags(options *mqttclient.ConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt.server",
			Usage:       "MQTT server address",
			Value:       "tcp://mosquitto:1883",
			DefaultText: "tcp://mosquitto:1883",
			Destination: &options.Server,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt.clientID",
			Usage:       "MQTT client id prefix",
			Value:       "peerchat",
			DefaultText: "peerchat",
			Destination: &options.ClientID,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt.username",
			Usage:       "MQTT broker username",
			Value:       "",
			Destination: &options.Username,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt.password",
			Usage:       "MQTT broker password",
			Value:       "",
			Destination: &options.Password,
		}),
	}
}

func mqttClientFlags(options *mqttrelay.ConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt_client.topic_prefix",
			Usage:       "MQTT topic prefix of room signaling, rooms are joined on <prefix>/join",
			Value:       "/peerchat/room",
			DefaultText: "/peerchat/room",
			Destination: &options.TopicPrefix,
		}),
		altsrc.NewUintFlag(&cli.UintFlag{
			Name:        "mqtt_client.qos",
			Usage:       "MQTT client qos for WebRTC signaling",
			Value:       0,
			DefaultText: "0",
			Destination: &options.Qos,
		}),
	}
}

func wsFlags(options *wsConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "ws.url",
			Usage:       "URL of the websocket signaling relay",
			Value:       "ws://127.0.0.1:8080/v1/room",
			DefaultText: "ws://127.0.0.1:8080/v1/room",
			Destination: &options.URL,
		}),
	}
}

func webRTCFlags(options *webRTCConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "webrtc.ice_server",
			Usage:       "ICE server address for webRTC",
			Value:       "stun:stun.l.google.com:19302",
			DefaultText: "stun:stun.l.google.com:19302",
			Destination: &options.ICEServer,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "webrtc.ice_server_username",
			Usage:       "ICE server username",
			Value:       "",
			DefaultText: "",
			Destination: &options.Username,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "webrtc.ice_server_credential",
			Usage:       "ICE server credential",
			Value:       "",
			DefaultText: "",
			Destination: &options.Credential,
		}),
		altsrc.NewBoolFlag(&cli.BoolFlag{
			Name:        "webrtc.use_turn",
			Usage:       "Relay through the TURN server configured by the turn.* flags",
			Value:       false,
			DefaultText: "false",
			Destination: &options.UseTURN,
		}),
	}
}

func captureFlags(options *captureConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "capture.screen_source",
			Usage:       "Where the screen is captured from, rtp, rtsp or rtmp",
			Value:       sourceRTP,
			DefaultText: sourceRTP,
			Destination: &options.ScreenSource,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "capture.host",
			Usage:       "Host local media is pushed to as RTP",
			Value:       "127.0.0.1",
			DefaultText: "127.0.0.1",
			Destination: &options.RTP.Host,
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:        "capture.screen_port",
			Usage:       "UDP port screen RTP is pushed to",
			Value:       5004,
			DefaultText: "5004",
			Destination: &options.RTP.ScreenPort,
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:        "capture.audio_port",
			Usage:       "UDP port microphone RTP is pushed to",
			Value:       5006,
			DefaultText: "5006",
			Destination: &options.RTP.AudioPort,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "capture.screen_codec",
			Usage:       "Codec of screen RTP, h264 or vp8",
			Value:       "h264",
			DefaultText: "h264",
			Destination: &options.RTP.ScreenCodec,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "capture.rtsp_url",
			Usage:       "RTSP URL the screen is pulled from when screen_source is rtsp",
			Value:       "rtsp://127.0.0.1:8554/screen",
			DefaultText: "rtsp://127.0.0.1:8554/screen",
			Destination: &options.RTSP.URL,
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:        "capture.rtsp_timeout",
			Usage:       "Dial and read timeout of the RTSP connection",
			Value:       3 * time.Second,
			DefaultText: "3s",
			Destination: &options.RTSP.Timeout,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "capture.rtmp_address",
			Usage:       "Address the screen encoder publishes RTMP to when screen_source is rtmp",
			Value:       "127.0.0.1:1935",
			DefaultText: "127.0.0.1:1935",
			Destination: &options.RTMP.Address,
		}),
	}
}

func sinkFlags(options *sinkConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "sink.video_address",
			Usage:       "UDP address remote screen RTP is forwarded to, dropped when empty",
			Value:       "127.0.0.1:6004",
			DefaultText: "127.0.0.1:6004",
			Destination: &options.VideoAddress,
		}),
		altsrc.NewUintFlag(&cli.UintFlag{
			Name:        "sink.video_payload_type",
			Usage:       "Payload type of forwarded screen RTP, unchanged when 0",
			Value:       96,
			DefaultText: "96",
			Destination: &options.VideoPayloadType,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "sink.audio_address",
			Usage:       "UDP address remote microphone RTP is forwarded to, dropped when empty",
			Value:       "127.0.0.1:6006",
			DefaultText: "127.0.0.1:6006",
			Destination: &options.AudioAddress,
		}),
		altsrc.NewUintFlag(&cli.UintFlag{
			Name:        "sink.audio_payload_type",
			Usage:       "Payload type of forwarded microphone RTP, unchanged when 0",
			Value:       111,
			DefaultText: "111",
			Destination: &options.AudioPayloadType,
		}),
	}
}
