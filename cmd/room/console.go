package room

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/SB-IM/peerchat/internal/room"
	"github.com/SB-IM/peerchat/internal/signal"
)

// controller is the part of *room.Room the console drives.
type controller interface {
	ToggleScreenShare(ctx context.Context) error
	ToggleMicrophoneShare(ctx context.Context) error
	State() room.State
	Sharing(kind signal.ContentKind) bool
}

// console reads one command per line.
type console struct {
	in     io.Reader
	out    io.Writer
	room   controller
	logger *zerolog.Logger
}

func newConsole(in io.Reader, out io.Writer, r controller, logger *zerolog.Logger) *console {
	return &console{in: in, out: out, room: r, logger: logger}
}

// run executes commands until ctx is done, the input ends or leave is read.
// It reports whether leave was read.
func (c *console) run(ctx context.Context) bool {
	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return false
		case line, ok := <-lines:
			if !ok {
				return false
			}
			if !c.exec(ctx, strings.TrimSpace(line)) {
				return true
			}
		}
	}
}

// exec runs one command and reports whether to keep reading.
func (c *console) exec(ctx context.Context, cmd string) bool {
	var err error
	switch cmd {
	case "":
	case "screen":
		err = c.room.ToggleScreenShare(ctx)
		fmt.Fprintf(c.out, "screen: %s\n", onOff(c.room.Sharing(signal.KindScreen)))
	case "mic":
		err = c.room.ToggleMicrophoneShare(ctx)
		fmt.Fprintf(c.out, "mic: %s\n", onOff(c.room.Sharing(signal.KindAudio)))
	case "state":
		fmt.Fprintf(c.out, "state: %s screen: %s mic: %s\n",
			c.room.State(),
			onOff(c.room.Sharing(signal.KindScreen)),
			onOff(c.room.Sharing(signal.KindAudio)),
		)
	case "leave", "quit", "exit":
		return false
	default:
		fmt.Fprintf(c.out, "unknown command %q, commands: screen, mic, state, leave\n", cmd)
	}
	if err != nil {
		c.logger.Err(err).Str("command", cmd).Msg("command failed")
	}
	return true
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
