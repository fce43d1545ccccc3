package site

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/paularlott/cli"

	"github.com/martinsuchenak/beacond/internal/model"
	"github.com/martinsuchenak/beacond/internal/scraper"
)

// Commands returns the site subcommands
func Commands() []*cli.Command {
	return []*cli.Command{
		fetchCommand(),
	}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:        "fetch",
		Usage:       "Fetch a page and print its metadata",
		Description: "Run the scraper locally against a URL without touching any server or cache",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "Page URL", Required: true},
			&cli.StringFlag{
				Name:         "timeout",
				Usage:        "Fetch timeout",
				DefaultValue: scraper.DefaultTimeout.String(),
			},
			&cli.StringFlag{
				Name:         "user-agent",
				Usage:        "User-Agent header",
				DefaultValue: scraper.DefaultUserAgent,
			},
			&cli.BoolFlag{Name: "json", Usage: "Print JSON"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			timeout, err := time.ParseDuration(cmd.GetString("timeout"))
			if err != nil {
				return fmt.Errorf("invalid --timeout: %w", err)
			}

			s := scraper.New(scraper.Options{
				Timeout:   timeout,
				UserAgent: cmd.GetString("user-agent"),
			})

			meta, err := s.FetchAndExtract(ctx, cmd.GetString("url"))
			if err != nil {
				return err
			}

			if cmd.GetBool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(meta)
			}
			printMetadata(os.Stdout, meta)
			return nil
		},
	}
}

func printMetadata(w io.Writer, meta *model.SiteMetadata) {
	fmt.Fprintf(w, "URL:         %s\n", meta.URL)
	fmt.Fprintf(w, "Title:       %s\n", meta.Title)
	fmt.Fprintf(w, "Description: %s\n", meta.Description)
	fmt.Fprintf(w, "Icon:        %s\n", meta.FaviconURL)
	fmt.Fprintf(w, "Body bytes:  %d\n", len(meta.RawContent))
}
