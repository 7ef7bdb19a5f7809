package turn

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	"github.com/williamlsh/logging"

	"github.com/SB-IM/peerchat/internal/turn"
)

const configFlagName = "config"

// Command returns a turn command serving the TURN relay rooms fall back to.
func Command() *cli.Command {
	var (
		logger            zerolog.Logger
		turnConfigOptions turn.ConfigOptions
	)

	flags := append(loadConfigFlag(), Flags(&turnConfigOptions)...)

	return &cli.Command{
		Name:  "turn",
		Usage: "Relay media of room peers without a direct path",
		Flags: flags,
		Before: func(c *cli.Context) error {
			if err := altsrc.InitInputSourceWithContext(
				flags,
				altsrc.NewTomlSourceFromFlagFunc(configFlagName),
			)(c); err != nil {
				return err
			}

			logging.Debug(c.Bool("debug"))
			logger = log.With().Str("service", "peerchat").Str("command", "turn").Logger()
			return turnConfigOptions.Validate()
		},
		Action: func(c *cli.Context) error {
			s, err := turn.Serve(&logger, &turnConfigOptions)
			if err != nil {
				return err
			}

			iceServer := turnConfigOptions.ICEServer()
			logger.Info().
				Str("listen", s.Addr.String()).
				Strs("urls", iceServer.URLs).
				Msg("peers relay through this server with webrtc.use_turn")
			fmt.Fprintf(c.App.Writer, "ice server: %s user %s\n", strings.Join(iceServer.URLs, ","), iceServer.Username)

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			return s.Close()
		},
		After: func(c *cli.Context) error {
			logger.Info().Msg("exits")
			return nil
		},
	}
}
