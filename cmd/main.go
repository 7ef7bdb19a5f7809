package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/SB-IM/peerchat/cmd/internal/build"
	"github.com/SB-IM/peerchat/cmd/relay"
	"github.com/SB-IM/peerchat/cmd/room"
	"github.com/SB-IM/peerchat/cmd/turn"
)

func main() {
	if err := run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("peerchat failed")
	}
}

func run(args []string) error {
	app := &cli.App{
		Name:  "peerchat",
		Usage: "peerchat shares screen and microphone between two peers of a room over WebRTC",
		Flags: []cli.Flag{ // Global flags.
			&cli.BoolFlag{
				Name:        "debug",
				Value:       false,
				Usage:       "enable debug mod",
				DefaultText: "false",
				EnvVars:     []string{"DEBUG"},
			},
		},
		Commands: []*cli.Command{
			room.Command(),
			relay.Command(),
			turn.Command(),
			build.Command(),
		},
	}

	return app.Run(args)
}
