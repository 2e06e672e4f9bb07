package command

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryan-buckman/feedsync/internal/server"
	"github.com/bryan-buckman/feedsync/internal/syncer"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the control API and poll every account",
		Description: `Starts the HTTP control API and a poller running a sync round for
every account on the configured polling interval. Prometheus metrics are
served on /metrics.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "Address to listen on",
				EnvVars: []string{"FEEDSYNC_LISTEN"},
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Rounds run at once by the API, 0 for the database default",
				EnvVars: []string{"FEEDSYNC_WORKERS"},
			},
			&cli.BoolFlag{
				Name:    "no-poll",
				Usage:   "Only sync on request",
				EnvVars: []string{"FEEDSYNC_NO_POLL"},
			},
		},
		Action: func(ctx *cli.Context) error {
			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			listen := e.config.Listen
			if ctx.IsSet("listen") {
				listen = ctx.String("listen")
			}
			workers := e.config.Workers
			if ctx.IsSet("workers") {
				workers = ctx.Int("workers")
			}

			var poller *syncer.Poller
			if !ctx.Bool("no-poll") {
				poller = syncer.NewPoller(e.syncer, e.store)
			}
			srv := server.New(e.store, e.syncer, syncer.NewRunner(e.syncer, workers), poller)

			// Graceful shutdown
			done := make(chan struct{})
			go func() {
				defer close(done)
				c := make(chan os.Signal, 1)
				signal.Notify(c, os.Interrupt, syscall.SIGTERM)
				<-c
				log.Println("Gracefully shutting down...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.WithError(err).Warn("Shutdown")
				}
			}()

			if err := srv.Start(listen); err != nil {
				return err
			}
			<-done
			log.Println("Done!")
			return nil
		},
	}
}
