package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/sleeplog/internal/monitor"
	"github.com/srg/sleeplog/internal/picker"
	"github.com/srg/sleeplog/internal/store"
	"github.com/srg/sleeplog/pkg/config"
)

// app bundles what every command needs: config, logger and where the config lives.
type app struct {
	cfg        *config.Config
	configPath string
	database   string
	logger     *logrus.Logger
}

func newApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	// --db is not written back when a command saves the config
	database := cfg.Database
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		database = db
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, configPath: path, database: database, logger: logger}, nil
}

func (a *app) openStore() (*store.Store, error) {
	return store.Open(a.database, a.logger)
}

func (a *app) monitorOptions(address string) monitor.Options {
	opts := monitor.DefaultOptions(address)
	opts.ConnectTimeout = a.cfg.Monitor.ConnectTimeout
	opts.Reconnect = a.cfg.Monitor.Reconnect
	opts.ReconnectDelay = a.cfg.Monitor.ReconnectDelay
	opts.MaxReconnectDelay = a.cfg.Monitor.MaxReconnectDelay
	opts.ScanPeriod = a.cfg.Scan.Period
	if a.cfg.Scan.Duration > 0 {
		opts.ScanTimeout = a.cfg.Scan.Duration
	}
	return opts
}

func (a *app) pickerOptions() picker.Options {
	return picker.Options{
		Period:        a.cfg.Scan.Period,
		Duration:      a.cfg.Scan.Duration,
		HeartRateOnly: true,
	}
}

// interruptContext is cancelled on Ctrl+C or SIGTERM.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
