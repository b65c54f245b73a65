package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/onvifrelay/onvifrelay/internal/api"
	"github.com/onvifrelay/onvifrelay/internal/api/ws"
	"github.com/onvifrelay/onvifrelay/internal/app"
	"github.com/onvifrelay/onvifrelay/internal/mdns"
	"github.com/onvifrelay/onvifrelay/internal/relay"
	"github.com/onvifrelay/onvifrelay/pkg/onvif"
	"github.com/onvifrelay/onvifrelay/pkg/shell"
	"github.com/onvifrelay/onvifrelay/pkg/yaml"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	cliApp := &cli.App{
		Name:    "onvifrelay",
		Usage:   "ONVIF camera control relay for browser UI",
		Version: app.Version,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file, raw YAML or `section.key=value`",
			},
		},
		DisableSliceFlagSeparator: true,
		Action:                    serve,
		Commands: []*cli.Command{
			{
				Name:  "discover",
				Usage: "probe local network for ONVIF devices and exit",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:    "timeout",
						Aliases: []string{"t"},
						Value:   onvif.DiscoveryTimeout,
						Usage:   "how long to wait for answers",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Value:   "table",
						Usage:   "output format: table, yaml, json",
					},
				},
				Action: discover,
			},
			{
				Name:  "relays",
				Usage: "list relays advertised over mDNS and exit",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Value: 2 * time.Second,
					},
				},
				Action: relays,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	app.Init(c.StringSlice("config")) // init config and logs

	api.Init() // http server
	ws.Init()  // websocket channel for UI

	relay.Init() // device registry and commands

	mdns.Init() // relay advertisement

	sig := shell.RunUntilSignal()
	log.Info().Str("signal", sig.String()).Msg("shutdown")

	mdns.Close()
	ws.Close()
	relay.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return api.Close(ctx)
}

func discover(c *cli.Context) error {
	matches, err := onvif.Probe(c.Context, c.Duration("timeout"))
	if err != nil {
		return err
	}

	return output(c.App.Writer, c.String("format"), matches, func(w io.Writer) {
		_, _ = fmt.Fprintln(w, "NAME\tHARDWARE\tXADDR")
		for _, m := range matches {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, m.Hardware, strings.Join(m.XAddrs, " "))
		}
	})
}

func relays(c *cli.Context) error {
	items, err := mdns.Lookup(c.Duration("timeout"))
	if err != nil {
		return err
	}

	return output(c.App.Writer, "table", items, func(w io.Writer) {
		_, _ = fmt.Fprintln(w, "NAME\tADDR\tINFO")
		for _, r := range items {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Addr, strings.Join(r.Info, " "))
		}
	})
}

func output(out io.Writer, format string, v any, table func(w io.Writer)) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		b, err := yaml.Encode(v, 2)
		if err != nil {
			return err
		}
		_, err = out.Write(b)
		return err
	case "table":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		table(w)
		return w.Flush()
	}

	return fmt.Errorf("unknown format: %s", format)
}
