// Package command holds the command line interface of feedsync.
package command

import (
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "feedsync",
		Usage: "Synchronize feeds, folders and articles from RSS, FreshRSS and Nextcloud News",
		Description: `feedsync keeps a local store of feeds, folders and articles in sync
		with their sources: raw RSS/Atom/JSON feeds fetched directly, a FreshRSS
		server (Google Reader API) or a Nextcloud News server. Read and starred
		state changed locally is pushed back upstream on the next round.

		Flags can generally be set via environment variables, e.g.:

		--config => FEEDSYNC_CONFIG=feedsync.toml
		--db-dsn => FEEDSYNC_DB_DSN=feedsync.db
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the TOML configuration file",
				EnvVars: []string{"FEEDSYNC_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "db-driver",
				Usage:   "Database driver (sqlite or postgres)",
				EnvVars: []string{"FEEDSYNC_DB_DRIVER"},
			},
			&cli.StringFlag{
				Name:    "db-dsn",
				Usage:   "SQLite file path or postgres:// URL",
				EnvVars: []string{"FEEDSYNC_DB_DSN"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"FEEDSYNC_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			syncCmd(),
			addCmd(),
			feedsCmd(),
			importCmd(),
			exportCmd(),
			migrateCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return cli.ShowAppHelp(ctx)
		},
	}
}
