package command

import (
	"fmt"

	"github.com/bryan-buckman/feedsync/internal/database"
	"github.com/urfave/cli/v2"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or upgrade the database schema",
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			store, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			version, dirty, err := database.SchemaVersion(store)
			if err != nil {
				return err
			}
			fmt.Fprintf(ctx.App.Writer, "%s schema at version %d", store.DatabaseType(), version)
			if dirty {
				fmt.Fprint(ctx.App.Writer, " (dirty)")
			}
			fmt.Fprintln(ctx.App.Writer)
			return nil
		},
	}
}
