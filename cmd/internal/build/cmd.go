package build

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli/v2"
)

// Set with -ldflags "-X github.com/SB-IM/peerchat/cmd/internal/build.Version=...".
var (
	Branch    string
	Version   string
	Revision  string
	BuildUser string
	BuildDate string
)

func Command() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "info displays build information of this binary",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, `Branch:		%s
Version:	%s
Revision:	%s
BuildUser:	%s
BuildDate:	%s
GoVersion:	%s
`, Branch, Version, Revision, BuildUser, BuildDate, runtime.Version())
			return nil
		},
	}
}
