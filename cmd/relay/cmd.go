package relay

import (
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	"github.com/williamlsh/logging"

	"github.com/SB-IM/peerchat/internal/relay/hub"
)

const configFlagName = "config"

// Command returns a relay command.
func Command() *cli.Command {
	var (
		logger           zerolog.Logger
		hubConfigOptions hub.ConfigOptions
	)

	flags := func() (flags []cli.Flag) {
		for _, v := range [][]cli.Flag{
			loadConfigFlag(),
			hubFlags(&hubConfigOptions),
		} {
			flags = append(flags, v...)
		}
		return
	}()

	return &cli.Command{
		Name:  "relay",
		Usage: "Start websocket signaling relay forwarding messages between the peers of a room",
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
			logger = log.With().Str("service", "peerchat").Str("command", "relay").Logger()
			return nil
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx = logger.WithContext(ctx)

			hubConfigOptions.OriginPatterns = c.StringSlice("relay.origin_patterns")
			h := hub.New(hubConfigOptions, &logger)
			if err := h.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Err(err).Msg("relay failed")
				return err
			}
			return nil
		},
		After: func(c *cli.Context) error {
			logger.Info().Msg("exits")
			return nil
		},
	}
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

func hubFlags(options *hub.ConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "relay.host",
			Usage:       "Host of websocket signaling relay",
			Value:       "0.0.0.0",
			DefaultText: "0.0.0.0",
			Destination: &options.Host,
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:        "relay.port",
			Usage:       "Port of websocket signaling relay",
			Value:       8080,
			DefaultText: "8080",
			Destination: &options.Port,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "relay.path",
			Usage:       "Path of the websocket endpoint",
			Value:       "/v1/room",
			DefaultText: "/v1/room",
			Destination: &options.Path,
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:        "relay.room_capacity",
			Usage:       "Maximum members of a room",
			Value:       2,
			DefaultText: "2",
			Destination: &options.RoomCapacity,
		}),
		altsrc.NewStringSliceFlag(&cli.StringSliceFlag{
			Name:  "relay.origin_patterns",
			Usage: "Host patterns of authorized cross origin websocket clients",
		}),
	}
}
