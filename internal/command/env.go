package command

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/bryan-buckman/feedsync/internal/config"
	"github.com/bryan-buckman/feedsync/internal/database"
	"github.com/bryan-buckman/feedsync/internal/icon"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/rss"
	"github.com/bryan-buckman/feedsync/internal/syncer"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// env is what every command works with: the configuration, the store with
// the configured accounts registered, and a syncer over it.
type env struct {
	config  *config.TomlConfig
	store   database.Store
	syncer  *syncer.Syncer
	fetcher *rss.Fetcher
}

// loadConfig reads the configuration file and applies the global flags.
func loadConfig(ctx *cli.Context) (*config.TomlConfig, error) {
	cfg, err := config.LoadConfig(ctx.String("config"))
	if err != nil {
		return nil, err
	}
	if ctx.IsSet("db-driver") {
		cfg.Database.Driver = ctx.String("db-driver")
	}
	if ctx.IsSet("db-dsn") {
		cfg.Database.DSN = ctx.String("db-dsn")
	}
	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)
	return cfg, nil
}

func setup(ctx *cli.Context) (*env, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	store, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	log.Debugf("Database configured: %s", store.DatabaseType())

	for _, a := range cfg.Accounts {
		account := a.Account()
		if _, err := store.UpsertAccount(&account); err != nil {
			store.Close()
			return nil, err
		}
	}
	if cfg.PollingInterval > 0 {
		if err := store.SetSetting(model.SettingPollingInterval, strconv.Itoa(cfg.PollingInterval)); err != nil {
			store.Close()
			return nil, fmt.Errorf("save polling interval: %w", err)
		}
	}

	timeout, _ := cfg.RequestTimeout()
	fetcher := rss.NewFetcher(timeout)
	s := syncer.New(store, syncer.NewFactory(fetcher, timeout), icon.NewResolver(timeout))
	return &env{config: cfg, store: store, syncer: s, fetcher: fetcher}, nil
}

// Close waits for the background icon jobs then closes the store.
func (e *env) Close() {
	e.syncer.Wait()
	e.fetcher.Close()
	if err := e.store.Close(); err != nil {
		log.WithError(err).Warn("Failed to close database")
	}
}

// account returns the account called name, or the only account when name
// is empty.
func (e *env) account(name string) (*model.Account, error) {
	if name != "" {
		a, err := e.store.GetAccountByName(name)
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("no account named %q", name)
		}
		return a, err
	}
	accounts, err := e.store.GetAccounts()
	if err != nil {
		return nil, err
	}
	if len(accounts) != 1 {
		return nil, fmt.Errorf("%d accounts configured, choose one with --account", len(accounts))
	}
	return &accounts[0], nil
}

// folderID returns the id of the account folder called name, nil for an
// empty name.
func (e *env) folderID(accountID int64, name string) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	folder, err := e.store.GetFolderByName(accountID, name)
	if err != nil {
		return nil, fmt.Errorf("folder %q: %w", name, err)
	}
	return &folder.ID, nil
}

func accountFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "account",
		Aliases: []string{"a"},
		Usage:   "Name of the account, optional when only one is configured",
		EnvVars: []string{"FEEDSYNC_ACCOUNT"},
	}
}
