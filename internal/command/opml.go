package command

import (
	"fmt"
	"os"

	"github.com/bryan-buckman/feedsync/internal/opml"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func importCmd() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import subscriptions from an OPML file",
		ArgsUsage: "FILE",
		Flags:     []cli.Flag{accountFlag()},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return cli.Exit("exactly one OPML file is required", 1)
			}
			f, err := os.Open(ctx.Args().First())
			if err != nil {
				return err
			}
			defer f.Close()
			entries, err := opml.Parse(f)
			if err != nil {
				return err
			}

			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			account, err := e.account(ctx.String("account"))
			if err != nil {
				return err
			}
			failed := printInsertions(ctx.App.Writer, e.syncer.ImportOPML(ctx.Context, account.ID, entries))
			log.Printf("Imported %d of %d feeds into %s", len(entries)-failed, len(entries), account.Name)
			return nil
		},
	}
}

func exportCmd() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export the subscriptions of an account as OPML",
		Flags: []cli.Flag{
			accountFlag(),
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "File to write, stdout when omitted",
			},
		},
		Action: func(ctx *cli.Context) error {
			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			account, err := e.account(ctx.String("account"))
			if err != nil {
				return err
			}
			data, err := e.syncer.ExportOPML(account.ID)
			if err != nil {
				return err
			}

			if out := ctx.String("output"); out != "" {
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				return nil
			}
			_, err = ctx.App.Writer.Write(data)
			return err
		},
	}
}
