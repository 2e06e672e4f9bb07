package main

import (
	"os"

	"github.com/bryan-buckman/feedsync/internal/command"
	log "github.com/sirupsen/logrus"
)

func main() {
	if err := command.RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
