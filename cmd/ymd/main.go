// Command ymd downloads, tags and records the playlists of a music service
// account.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Laynholt/ymd2/internal/download"
)

const version = "2.2.0"

const (
	flagConfig       = "config"
	flagPlaylist     = "playlist"
	flagTrack        = "track"
	flagAppendID     = "append-id"
	flagRewrite      = "rewrite"
	flagSkipExisting = "skip-existing"
	flagWorkers      = "workers"
)

func main() {
	app := &cli.App{
		Name:    "ymd",
		Version: version,
		Usage:   "Batch playlist downloader",
		Suggest: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "Config file path",
				EnvVars: []string{"YMD_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "playlists",
				Usage:  "List the account's playlists",
				Action: listPlaylists,
			},
			basketCommand("download", "Download playlist tracks", download.ActionDownload),
			basketCommand("update-metadata", "Rewrite the tags of downloaded tracks", download.ActionUpdateMetadata),
			basketCommand("add-to-history", "Record tracks in the history without downloading", download.ActionAddToHistory),
			basketCommand("update-favorite", "Sync the favorite flag of recorded tracks", download.ActionUpdateFavorite),
			{
				Name:   "migrate",
				Usage:  "Import settings from an earlier installation",
				Action: migrate,
			},
			{
				Name:  "token",
				Usage: "Manage the account token",
				Subcommands: []*cli.Command{
					{
						Name:      "set",
						Usage:     "Store a token, encrypted for this machine",
						ArgsUsage: "<token>",
						Action:    setToken,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ymd: %v\n", err)
		os.Exit(1)
	}
}

func basketCommand(name, usage string, action download.ActionKind) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{
			&cli.Int64SliceFlag{
				Name:     flagPlaylist,
				Aliases:  []string{"p"},
				Usage:    "Playlist kind to process (repeatable)",
				Required: true,
			},
			&cli.Int64SliceFlag{
				Name:  flagTrack,
				Usage: "Restrict the playlists to these track ids (repeatable)",
			},
			&cli.BoolFlag{
				Name:  flagAppendID,
				Usage: "Append the track id to file names",
			},
			&cli.BoolFlag{
				Name:  flagRewrite,
				Usage: "Transfer tracks again even when the file exists",
			},
			&cli.BoolFlag{
				Name:  flagSkipExisting,
				Usage: "Skip tracks already recorded in the history",
			},
			&cli.IntFlag{
				Name:  flagWorkers,
				Usage: "Number of concurrent workers",
			},
		},
		Action: func(cliCtx *cli.Context) error {
			return runBasket(cliCtx, action)
		},
	}
}
