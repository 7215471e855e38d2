// Package core is the entry point for a host that embeds the sync client.
//
// A host creates a Core with New, calls Start once, then Tick from its frame
// hook, and Shutdown on exit. Run drives ticks from a timer for hosts that do
// not have a frame hook.
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cbodonnell/apsync/pkg/bridge"
	"github.com/cbodonnell/apsync/pkg/catalog"
	"github.com/cbodonnell/apsync/pkg/client/network"
	"github.com/cbodonnell/apsync/pkg/config"
	"github.com/cbodonnell/apsync/pkg/engine"
	"github.com/cbodonnell/apsync/pkg/log"
	"github.com/cbodonnell/apsync/pkg/queue"
	"github.com/cbodonnell/apsync/pkg/repositories"
	"github.com/cbodonnell/apsync/pkg/state"
	"github.com/cbodonnell/apsync/pkg/version"
	"github.com/cbodonnell/apsync/pkg/workers"
)

// Core owns every component of a running client.
type Core struct {
	// lock serializes Tick, ResetSession, Shutdown and changes to config
	lock sync.Mutex

	config         *config.Config
	catalog        *catalog.Catalog
	session        *network.Session
	bridge         *bridge.Bridge
	manager        *engine.SyncManager
	repository     repositories.Repository
	ownsRepository bool
	stateManager   state.StateManager
	logBuffer      *log.Buffer

	connectionWorker *workers.ConnectionEventWorker
	backupWorker     *workers.SaveBackupWorker

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	shutdown bool
	// fatal is an error found before the sync loop ran, or a panic at the host boundary
	fatal    error
	reported error
}

// NewCoreOptions contains options for creating a new Core.
type NewCoreOptions struct {
	Config *config.Config
	Host   bridge.Host
	// Catalog is loaded from Config.Catalog when nil.
	Catalog *catalog.Catalog
	// Repository is opened from Config.DatabaseURL when nil, and closed on Shutdown.
	Repository repositories.Repository
	// Session holds transport settings that take precedence over Config.
	// Credentials and Game are always taken from Config and the catalog.
	Session *network.NewSessionOptions
}

// New loads the catalog and the stored session state and wires the client
// together. Nothing connects until Start.
func New(ctx context.Context, opts NewCoreOptions) (*Core, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Host == nil {
		return nil, fmt.Errorf("host is required")
	}

	c := &Core{
		config:       cfg,
		catalog:      opts.Catalog,
		repository:   opts.Repository,
		stateManager: state.NewInMemoryStateManager(),
		logBuffer:    log.NewBuffer(log.DefaultBufferLimit),
	}
	log.SetBuffer(c.logBuffer)

	if c.catalog == nil {
		cat, err := catalog.Load(cfg.Catalog)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		c.catalog = cat
	}
	game := cfg.Game
	if game == "" {
		game = c.catalog.Game()
	}
	log.Info("Loaded catalog for %s: %d locations, %d items (sha256 %s)",
		game, len(c.catalog.Locations()), len(c.catalog.Items()), c.catalog.Digest())

	if c.repository == nil {
		repo, err := repositories.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open repository: %w", err)
		}
		c.repository = repo
		c.ownsRepository = true
	}

	sessionOpts := network.NewSessionOptions{}
	if opts.Session != nil {
		sessionOpts = *opts.Session
	}
	sessionOpts.Credentials = network.Credentials{ServerAddress: cfg.URL, Slot: cfg.Slot, Token: cfg.Password}
	sessionOpts.Game = game
	if sessionOpts.HandshakeTimeout == 0 {
		sessionOpts.HandshakeTimeout = cfg.Network.HandshakeTimeout
	}
	if sessionOpts.KeepaliveInterval == 0 {
		sessionOpts.KeepaliveInterval = cfg.Network.KeepaliveInterval
	}
	if sessionOpts.KeepaliveTimeout == 0 {
		sessionOpts.KeepaliveTimeout = cfg.Network.KeepaliveTimeout
	}
	if sessionOpts.BackoffInitial == 0 {
		sessionOpts.BackoffInitial = cfg.Network.BackoffInitial
	}
	if sessionOpts.BackoffMax == 0 {
		sessionOpts.BackoffMax = cfg.Network.BackoffMax
	}
	c.session = network.NewSession(sessionOpts)

	c.bridge = bridge.NewBridge(bridge.NewBridgeOptions{
		Host:        opts.Host,
		GracePeriod: cfg.Sync.GracePeriod,
	})

	connectionEventQueue := queue.NewInMemoryQueue[engine.ConnectionEvent](0)
	manager, err := engine.NewSyncManager(ctx, engine.NewSyncManagerOptions{
		Key:                  state.SessionKey{Seed: cfg.Seed, Slot: cfg.Slot},
		Catalog:              c.catalog,
		Transport:            c.session,
		Bridge:               c.bridge,
		Repository:           c.repository,
		StateManager:         c.stateManager,
		ConnectionEventQueue: connectionEventQueue,
		TickInterval:         cfg.Sync.TickInterval,
		ApplyInterval:        cfg.Sync.ApplyInterval,
	})
	if err != nil {
		c.closeRepository(ctx)
		return nil, fmt.Errorf("failed to create sync manager: %w", err)
	}
	c.manager = manager

	c.connectionWorker = workers.NewConnectionEventWorker(workers.NewConnectionEventWorkerOptions{
		StateChanges:         c.session.StateChanges(),
		ConnectionEventQueue: connectionEventQueue,
	})
	if cfg.Sync.BackupPath != "" {
		c.backupWorker = workers.NewSaveBackupWorker(workers.NewSaveBackupWorkerOptions{
			StateManager: c.stateManager,
			Path:         cfg.Sync.BackupPath,
			Interval:     cfg.Sync.BackupInterval,
		})
	}

	if cfg.ClientVersion != "" && cfg.ClientVersion != version.Version {
		c.fatal = &ErrVersionMismatch{ConfigVersion: cfg.ClientVersion, ClientVersion: version.Version}
	}
	return c, nil
}

// Start connects to the server and starts the background workers. It does
// not block.
func (c *Core) Start(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.shutdown {
		return ErrShutdown
	}
	if c.started {
		return fmt.Errorf("core already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.connectionWorker.Start(ctx)
	}()
	if c.backupWorker != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.backupWorker.Start(ctx)
		}()
	}

	log.User("Connecting to %s as %s", c.config.URL, c.config.Slot)
	return c.session.Start(ctx)
}

// Run starts the core and ticks it until ctx is done or a fatal error
// stops the sync loop.
func (c *Core) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(c.config.Sync.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil {
				if fatal := c.Err(); fatal != nil {
					return fatal
				}
				log.Warn("Tick incomplete: %v", err)
			}
		}
	}
}

// Tick runs one iteration of the sync loop. Hosts call it once per frame.
// It never panics; a panic in a collaborator becomes a fatal error.
func (c *Core) Tick(ctx context.Context) (err error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.shutdown {
		return ErrShutdown
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic in host tick: %v", r)
			c.fatal = &engine.ErrPanic{Value: r}
			err = c.fatal
		}
		c.reportFatal()
	}()

	if c.fatal != nil {
		return c.fatal
	}
	return c.manager.Tick(ctx)
}

// reportFatal tells the player about a new fatal error once.
func (c *Core) reportFatal() {
	err := c.fatal
	if err == nil {
		err = c.manager.Err()
	}
	if err == nil || err == c.reported {
		return
	}
	c.reported = err
	log.User("Error: %v", err)
}

// Err returns the error that stopped the sync loop, if any.
func (c *Core) Err() error {
	c.lock.Lock()
	fatal := c.fatal
	c.lock.Unlock()
	if fatal != nil {
		return fatal
	}
	return c.manager.Err()
}

// Reconnect drops the connection and dials again, clearing a refusal or
// seed mismatch so the player can retry after fixing the room.
func (c *Core) Reconnect() error {
	c.manager.Resume()
	c.lock.Lock()
	c.reported = nil
	c.lock.Unlock()
	log.User("Reconnecting to %s", c.session.Credentials().ServerAddress)
	return c.session.Reconnect()
}

// UpdateURL changes the server address, saves it to the config file and
// reconnects.
func (c *Core) UpdateURL(url string) error {
	if err := c.updateURL(url); err != nil {
		return err
	}
	return c.Reconnect()
}

func (c *Core) updateURL(url string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	previous := c.config.URL
	c.config.SetURL(url)
	if c.config.URL == "" {
		c.config.URL = previous
		return fmt.Errorf("url is empty")
	}
	credentials := c.session.Credentials()
	credentials.ServerAddress = c.config.URL
	c.session.SetCredentials(credentials)

	if c.config.Path() != "" {
		if err := c.config.Save(); err != nil {
			log.Warn("Failed to save config: %v", err)
		}
	}
	return nil
}

// Say sends a chat message to the room.
func (c *Core) Say(ctx context.Context, text string) error {
	return c.session.Say(ctx, text)
}

// ResetSession archives the stored state and starts over: every checked
// location is reported again and the server replays every item.
func (c *Core) ResetSession(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.shutdown {
		return ErrShutdown
	}
	if err := c.manager.Archive(ctx); err != nil {
		return err
	}
	c.bridge.Reset()
	log.User("Session state was reset")
	if !c.started {
		return nil
	}
	return c.session.Reconnect()
}

// Logs returns the messages shown to the player, oldest first.
func (c *Core) Logs() []log.Entry {
	return c.logBuffer.Entries()
}

// Shutdown disconnects, stops the workers and closes the repository. Tick
// returns ErrShutdown afterwards.
func (c *Core) Shutdown(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.shutdown {
		return nil
	}
	c.shutdown = true

	if c.cancel != nil {
		c.cancel()
	}
	c.session.Close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for workers: %w", ctx.Err())
	}

	log.Info("Sync stopped: %+v", c.manager.Stats())
	return c.closeRepository(ctx)
}

func (c *Core) closeRepository(ctx context.Context) error {
	if !c.ownsRepository {
		return nil
	}
	if err := c.repository.Close(ctx); err != nil {
		return fmt.Errorf("failed to close repository: %w", err)
	}
	return nil
}

// Snapshot returns the last published sync state.
func (c *Core) Snapshot(ctx context.Context) (*state.Snapshot, error) {
	return c.stateManager.Get(ctx)
}
