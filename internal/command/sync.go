package command

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

func syncCmd() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run one sync round",
		Description: `Runs a sync round for the given account, or for every account when
--account is omitted, and prints a report per round.`,
		Flags: []cli.Flag{accountFlag()},
		Action: func(ctx *cli.Context) error {
			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			if name := ctx.String("account"); name != "" {
				account, err := e.account(name)
				if err != nil {
					return err
				}
				report, err := e.syncer.Sync(ctx.Context, account.ID)
				if err != nil {
					return err
				}
				printReports(ctx.App.Writer, []model.Report{report})
				return nil
			}

			// Aborted rounds still get a row; their errors are returned after the table.
			reports, err := e.syncer.SyncAll(ctx.Context)
			printReports(ctx.App.Writer, reports)
			return err
		},
	}
}

func printReports(w io.Writer, reports []model.Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Account", "Type", "Folders", "Feeds", "Items", "Failures", "Duration", "Remote error"})
	for _, r := range reports {
		table.Append([]string{
			r.AccountName,
			r.SyncType.String(),
			strconv.Itoa(r.NewFolders),
			strconv.Itoa(r.NewFeeds),
			strconv.Itoa(r.NewItems),
			strconv.Itoa(len(r.Failures)),
			r.Duration().Round(time.Millisecond).String(),
			strconv.FormatBool(r.RemoteError),
		})
	}
	table.Render()

	for _, r := range reports {
		for _, f := range r.Failures {
			fmt.Fprintf(w, "%s: %s: %v\n", r.AccountName, f.URL, f.Err)
		}
	}
}
