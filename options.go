package paidwork

import (
	"context"
	"fmt"
	"log/slog"
)

// Option configures a Core.
type Option func(*Core) error

// Storer is the minimal store interface held by the Core.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for extension lifecycle events.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Core is the central coordinator for paid job processing. It holds the
// configuration, logger, and store shared by every subsystem.
//
// Create one with New() and functional options, then use engine.Build to
// wire the ledger service, batch tracker, and worker pool around it.
type Core struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
	pool   poolRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Core with the given options.
func New(opts ...Option) (*Core, error) {
	c := &Core{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the core's logger.
func (c *Core) Logger() *slog.Logger { return c.logger }

// Store returns the core's store.
func (c *Core) Store() Storer { return c.store }

// Config returns a copy of the core's configuration.
func (c *Core) Config() Config { return c.config }

// SetPool sets the worker pool (called by the engine package).
func (c *Core) SetPool(p poolRunner) { c.pool = p }

// SetHooks sets the hook emitter (called by the engine package).
func (c *Core) SetHooks(h hookEmitter) { c.hooks = h }

// Start begins job processing.
func (c *Core) Start(ctx context.Context) error {
	if c.pool == nil {
		return fmt.Errorf("%w: no worker pool wired, use engine.Build", ErrInvalidState)
	}
	if err := c.pool.Start(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down the core. New dispatch cycles stop; jobs
// already handed to a processor run to completion.
func (c *Core) Stop(ctx context.Context) error {
	if c.pool != nil && c.started {
		if err := c.pool.Stop(ctx); err != nil {
			c.logger.Error("pool stop error", "error", err)
		}
	}
	if c.hooks != nil {
		c.hooks.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithConfig replaces the entire configuration.
func WithConfig(cfg Config) Option {
	return func(c *Core) error {
		c.config = cfg
		return nil
	}
}

// WithConcurrency sets the maximum number of concurrent job processors.
func WithConcurrency(n int) Option {
	return func(c *Core) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithQueues sets the queues the worker pool will poll.
func WithQueues(queues []string) Option {
	return func(c *Core) error {
		c.config.Queues = queues
		return nil
	}
}

// WithLogger sets the structured logger for the core.
func WithLogger(l *slog.Logger) Option {
	return func(c *Core) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the core.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(c *Core) error {
		c.store = s
		return nil
	}
}
