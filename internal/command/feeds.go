package command

import (
	"fmt"
	"io"

	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/syncer"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

func addCmd() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Subscribe to feeds",
		ArgsUsage: "URL [URL...]",
		Flags: []cli.Flag{
			accountFlag(),
			&cli.StringFlag{
				Name:  "folder",
				Usage: "Name of an existing folder to file the feeds under",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() == 0 {
				return cli.Exit("at least one feed URL is required", 1)
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
			folderID, err := e.folderID(account.ID, ctx.String("folder"))
			if err != nil {
				return err
			}

			var feeds []syncer.NewFeed
			for _, u := range ctx.Args().Slice() {
				feeds = append(feeds, syncer.NewFeed{URL: u, FolderID: folderID})
			}
			failed := printInsertions(ctx.App.Writer, e.syncer.AddFeeds(ctx.Context, account.ID, feeds))
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("%d of %d feeds failed", failed, len(feeds)), 1)
			}
			return nil
		},
	}
}

// printInsertions writes one line per result and returns the failure count.
func printInsertions(w io.Writer, results []model.FeedInsertionResult) int {
	failed := 0
	for _, r := range results {
		switch {
		case r.Failed():
			failed++
			fmt.Fprintf(w, "failed   %s: %v\n", r.URL, r.Err)
		case r.AlreadyInserted:
			fmt.Fprintf(w, "exists   %s\n", r.URL)
		default:
			fmt.Fprintf(w, "added    %s (%s)\n", r.URL, r.Feed.Name)
		}
	}
	return failed
}

func feedsCmd() *cli.Command {
	return &cli.Command{
		Name:  "feeds",
		Usage: "List the feeds of an account",
		Flags: []cli.Flag{accountFlag()},
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
			folders, err := e.store.ListFolders(account.ID)
			if err != nil {
				return err
			}
			feeds, err := e.store.GetFeeds(account.ID)
			if err != nil {
				return err
			}
			printFeeds(ctx.App.Writer, folders, feeds)
			return nil
		},
	}
}

func printFeeds(w io.Writer, folders []model.Folder, feeds []model.Feed) {
	names := make(map[int64]string, len(folders))
	for _, f := range folders {
		names[f.ID] = f.Name
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Name", "Folder", "URL", "Last fetched", "Error"})
	table.SetAutoWrapText(false)
	for _, f := range feeds {
		folder := ""
		if f.FolderID != nil {
			folder = names[*f.FolderID]
		}
		fetched := "never"
		if !f.LastFetched.IsZero() {
			fetched = humanize.Time(f.LastFetched)
		}
		table.Append([]string{fmt.Sprint(f.ID), f.Name, folder, f.URL, fetched, f.LastError})
	}
	table.Render()
}
