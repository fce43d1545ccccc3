package main

import (
	"context"
	"os"

	"github.com/paularlott/cli"
	"github.com/paularlott/cli/env"

	"github.com/martinsuchenak/beacond/cmd/device"
	"github.com/martinsuchenak/beacond/cmd/server"
	"github.com/martinsuchenak/beacond/cmd/site"
	"github.com/martinsuchenak/beacond/internal/log"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Load .env file if it exists
	env.Load()

	log.Configure("info", "console")

	rootCmd := &cli.Command{
		Name:        "beacond",
		Version:     version,
		Usage:       "Resolve beacon sightings into page metadata",
		Description: "Looks up or registers sighted beacon devices, fetches and caches the metadata of the page each one points to, and serves it back to scanners",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:         "log-level",
				Usage:        "Log level (trace, debug, info, warn, error)",
				DefaultValue: "info",
				EnvVars:      []string{"BEACOND_LOG_LEVEL"},
				Global:       true,
			},
			&cli.StringFlag{
				Name:         "log-format",
				Usage:        "Log format (console, json)",
				DefaultValue: "console",
				EnvVars:      []string{"BEACOND_LOG_FORMAT"},
				Global:       true,
			},
		},
		PreRun: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			log.Configure(cmd.GetString("log-level"), cmd.GetString("log-format"))
			log.Debug("beacond starting", "version", version, "commit", commit, "date", date)
			return ctx, nil
		},
		Commands: []*cli.Command{
			server.Command(),
			{
				Name:        "device",
				Usage:       "Device commands",
				Description: "Register, scan and list devices on a running server",
				Flags:       device.Flags(),
				Commands:    device.Commands(),
			},
			{
				Name:        "site",
				Usage:       "Page commands",
				Description: "Fetch pages with the local scraper",
				Commands:    site.Commands(),
			},
		},
	}

	if err := rootCmd.Execute(context.Background()); err != nil {
		log.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}
