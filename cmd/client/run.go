package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cbodonnell/apsync/pkg/api"
	"github.com/cbodonnell/apsync/pkg/bridge"
	"github.com/cbodonnell/apsync/pkg/catalog"
	"github.com/cbodonnell/apsync/pkg/core"
	"github.com/cbodonnell/apsync/pkg/log"
	"github.com/spf13/cobra"
)

var (
	simulate      bool
	checkInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect and sync against an in-memory game",
	Long: `Runs the sync client against an in-memory game. Received items are
added to the in-memory inventory. With --simulate, the game also checks one
catalog location per --check-interval and reports the goal once every
location is checked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulate && checkInterval <= 0 {
			return fmt.Errorf("--check-interval must be positive")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cat, err := catalog.Load(cfg.Catalog)
		if err != nil {
			return err
		}
		host := bridge.NewMemoryHost()
		c, err := core.New(ctx, core.NewCoreOptions{Config: cfg, Host: host, Catalog: cat})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.Shutdown(shutdownCtx); err != nil {
				log.Error("Failed to shut down: %v", err)
			}
			log.Info("Inventory: %v", host.Inventory())
		}()

		if cfg.Status.Enabled {
			apiServer := api.NewAPIServer(api.NewAPIServerOptions{
				Port:       cfg.Status.Port,
				Token:      cfg.Status.Token,
				Controller: c,
			})
			go apiServer.Start()
			defer apiServer.Stop(context.Background())
		}

		if simulate {
			go simulatePlayer(ctx, host, cat, checkInterval)
		}
		return c.Run(ctx)
	},
}

func init() {
	runCmd.Flags().BoolVar(&simulate, "simulate", false, "Check catalog locations automatically")
	runCmd.Flags().DurationVar(&checkInterval, "check-interval", 5*time.Second, "Time between simulated checks")
}

// simulatePlayer checks locations in multiworld id order, then reaches the goal.
func simulatePlayer(ctx context.Context, host *bridge.MemoryHost, cat *catalog.Catalog, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for _, location := range cat.Locations() {
		local, err := cat.DenormalizeLocation(location.Normalized)
		if err != nil {
			log.Warn("Skipping simulated check: %v", err)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info("Simulated check of %s", location.Name)
			host.Check(local)
		}
	}
	log.Info("Simulated player reached the goal")
	host.SetGoal(true)
}
