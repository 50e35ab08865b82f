package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/loqalabs/readaloud/internal/bus"
	"github.com/loqalabs/readaloud/internal/config"
	"github.com/loqalabs/readaloud/internal/protocol"
	"github.com/loqalabs/readaloud/internal/wordset"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(out io.Writer) *cli.App {
	defaults := config.Default()
	app := &cli.App{
		Name:    "readaloudctl",
		Usage:   "Control a read-aloud node over the message bus",
		Version: Version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Value: defaults.Bus.Servers[0], EnvVars: []string{"READALOUD_BUS_SERVERS"}, Usage: "NATS server URL"},
			&cli.StringFlag{Name: "node", Aliases: []string{"n"}, Value: defaults.Node.ID, EnvVars: []string{"READALOUD_NODE_ID"}, Usage: "Target node ID"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "Request timeout"},
		},
		Commands: []*cli.Command{
			controlCmd("capture", "Capture and read the current frame once"),
			controlCmd("toggle", "Toggle automatic capture"),
			controlCmd("status", "Show the capture loop status"),
			autoCmd(),
			wordsCmd(),
		},
	}
	// Errors are returned to main instead of exiting inside the app.
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func controlCmd(action, usage string) *cli.Command {
	return &cli.Command{
		Name:  action,
		Usage: usage,
		Action: func(c *cli.Context) error {
			return request(c, protocol.ControlRequest{Action: action})
		},
	}
}

func autoCmd() *cli.Command {
	return &cli.Command{
		Name:      "auto",
		Usage:     "Turn automatic capture on or off",
		ArgsUsage: "on|off",
		Action: func(c *cli.Context) error {
			var enabled bool
			switch strings.ToLower(c.Args().First()) {
			case "on", "true", "1":
				enabled = true
			case "off", "false", "0":
				enabled = false
			default:
				return fmt.Errorf("auto expects on or off")
			}
			return request(c, protocol.ControlRequest{Action: "auto", Enabled: &enabled})
		},
	}
}

func wordsCmd() *cli.Command {
	return &cli.Command{
		Name:  "words",
		Usage: "Inspect a word list",
		Subcommands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "Load a word list and report which words would be spoken",
				ArgsUsage: "[word...]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Value: config.Default().Words.Path, Usage: "Word list file"},
				},
				Action: func(c *cli.Context) error {
					set, err := wordset.LoadFile(c.String("path"))
					if err != nil {
						return err
					}
					result := struct {
						Path   string          `json:"path"`
						Words  int             `json:"words"`
						Checks map[string]bool `json:"checks,omitempty"`
					}{Path: c.String("path"), Words: set.Len()}
					if c.NArg() > 0 {
						result.Checks = make(map[string]bool, c.NArg())
						for _, w := range c.Args().Slice() {
							result.Checks[w] = set.Contains(w)
						}
					}
					return writeJSON(c.App.Writer, result)
				},
			},
		},
	}
}

func request(c *cli.Context, req protocol.ControlRequest) error {
	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := bus.Connect(ctx, "readaloudctl", config.BusConfig{
		Servers:        []string{c.String("server")},
		ConnectTimeout: int(c.Duration("timeout") / time.Millisecond),
	}, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	var reply protocol.ControlReply
	if err := client.RequestJSON(ctx, protocol.ControlSubject(c.String("node")), req, &reply); err != nil {
		return err
	}
	if err := writeJSON(c.App.Writer, reply); err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("%s failed: %s", req.Action, reply.Error)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
