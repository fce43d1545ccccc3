package device

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/paularlott/cli"
	"golang.org/x/term"

	"github.com/martinsuchenak/beacond/internal/model"
)

// Commands returns the device subcommands
func Commands() []*cli.Command {
	return []*cli.Command{
		registerCommand(),
		scanCommand(),
		listCommand(),
		getCommand(),
	}
}

// Flags returns the flags shared by commands that talk to a server
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:         "server",
			Aliases:      []string{"s"},
			Usage:        "beacond server URL",
			DefaultValue: "http://localhost:8080",
			EnvVars:      []string{"BEACOND_SERVER_URL"},
			Global:       true,
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "API bearer token",
			EnvVars: []string{"BEACOND_API_TOKEN"},
			Global:  true,
		},
		&cli.BoolFlag{
			Name:   "json",
			Usage:  "Always print JSON",
			Global: true,
		},
	}
}

func clientFor(cmd *cli.Command) *Client {
	return NewClient(cmd.GetString("server"), cmd.GetString("token"))
}

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:        "register",
		Usage:       "Register a device URL",
		Description: "Set the page URL a device resolves to and fetch its metadata",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Device ID", Required: true},
			&cli.StringFlag{Name: "url", Usage: "Page URL", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			device, err := clientFor(cmd).Register(ctx, cmd.GetString("name"), cmd.GetString("url"))
			if err != nil {
				return err
			}
			return output(cmd, device, func(w io.Writer) {
				fmt.Fprintf(w, "Device registered: %s -> %s\n", device.Name, device.URLString())
			})
		},
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:        "scan",
		Usage:       "Resolve a single sighting",
		Description: "Post a one-sighting batch to /resolve-scan and print the resolved entry",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Device ID"},
			&cli.StringFlag{Name: "url", Usage: "Sighted URL"},
			&cli.StringFlag{Name: "rssi", Usage: "Signal strength", DefaultValue: "-60"},
			&cli.BoolFlag{Name: "force", Usage: "Refetch the page even when cached"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			sighting, err := buildSighting(cmd.GetString("id"), cmd.GetString("url"), cmd.GetString("rssi"), cmd.GetBool("force"))
			if err != nil {
				return err
			}

			entry, err := clientFor(cmd).Scan(ctx, sighting)
			if err != nil {
				return err
			}
			return output(cmd, entry, func(w io.Writer) { printEntry(w, entry) })
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:        "list",
		Usage:       "List devices",
		Description: "List all devices known to the server",
		Run: func(ctx context.Context, cmd *cli.Command) error {
			devices, err := clientFor(cmd).List(ctx)
			if err != nil {
				return err
			}
			return output(cmd, devices, func(w io.Writer) { printDevices(w, devices) })
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:        "get",
		Usage:       "Get a device",
		Description: "Get a device by ID",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Device ID", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			device, err := clientFor(cmd).Get(ctx, cmd.GetString("id"))
			if err != nil {
				return err
			}
			return output(cmd, device, func(w io.Writer) { printDevices(w, []model.Device{*device}) })
		},
	}
}

func buildSighting(id, sightedURL, rssi string, force bool) (model.Sighting, error) {
	if id == "" && sightedURL == "" {
		return model.Sighting{}, fmt.Errorf("one of --id or --url is required")
	}
	value, err := strconv.ParseFloat(rssi, 64)
	if err != nil {
		return model.Sighting{}, fmt.Errorf("invalid --rssi %q: %w", rssi, err)
	}

	s := model.Sighting{RSSI: &value, Force: force}
	if id != "" {
		s.ID = &id
	}
	if sightedURL != "" {
		s.URL = &sightedURL
	}
	return s, nil
}

// output prints v as JSON unless stdout is a terminal
func output(cmd *cli.Command, v any, pretty func(io.Writer)) error {
	if !cmd.GetBool("json") && term.IsTerminal(int(os.Stdout.Fd())) {
		pretty(os.Stdout)
		return nil
	}
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printEntry(w io.Writer, e *model.MetadataEntry) {
	fmt.Fprintf(w, "ID:          %s\n", e.ID)
	if e.URL == "" {
		fmt.Fprintln(w, "URL:         (none)")
		return
	}
	fmt.Fprintf(w, "URL:         %s\n", e.URL)
	fmt.Fprintf(w, "Title:       %s\n", e.Title)
	fmt.Fprintf(w, "Description: %s\n", e.Description)
	fmt.Fprintf(w, "Icon:        %s\n", e.Icon)
}

func printDevices(w io.Writer, devices []model.Device) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices found")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tURL\tFIRST SEEN")
	for _, d := range devices {
		url := d.URLString()
		if url == "" {
			url = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, url, d.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()
}
