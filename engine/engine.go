package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/robelmit/paidwork"
	"github.com/robelmit/paidwork/backoff"
	"github.com/robelmit/paidwork/batch"
	"github.com/robelmit/paidwork/ext"
	"github.com/robelmit/paidwork/id"
	"github.com/robelmit/paidwork/job"
	"github.com/robelmit/paidwork/ledger"
	mw "github.com/robelmit/paidwork/middleware"
	"github.com/robelmit/paidwork/observability"
	"github.com/robelmit/paidwork/queue"
	settlehook "github.com/robelmit/paidwork/settle_hook"
	"github.com/robelmit/paidwork/types"
	"github.com/robelmit/paidwork/worker"
)

// extReadyEmitter adapts *ext.Registry to satisfy batch.ReadyEmitter.
// This breaks the import cycle: batch defines the interface, ext.Registry
// provides the implementation, and the engine layer plugs them together.
type extReadyEmitter struct {
	r *ext.Registry
}

func (a *extReadyEmitter) EmitBatchReady(ctx context.Context, groupID string, batchIndex int, artifacts []batch.Artifact) {
	a.r.EmitBatchReady(ctx, groupID, batchIndex, artifacts)
}

// extLedgerEmitter adapts *ext.Registry to satisfy ledger.Emitter.
type extLedgerEmitter struct {
	r *ext.Registry
}

func (a *extLedgerEmitter) EmitCreditRecorded(ctx context.Context, e *ledger.Entry) {
	a.r.EmitCreditRecorded(ctx, e)
}

func (a *extLedgerEmitter) EmitRefundIssued(ctx context.Context, e *ledger.Entry) {
	a.r.EmitRefundIssued(ctx, e)
}

// Engine wraps a Core with typed subsystem access.
// Use Build() to create one from a Core.
type Engine struct {
	core       *paidwork.Core
	extensions *ext.Registry
	registry   *job.Registry
	jobStore   job.Store
	wallet     *ledger.Service
	tracker    *batch.Tracker
	bo         backoff.Strategy
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	// Settlement.
	notifier settlehook.Notifier
	denoms   []types.Money

	// Queue subsystem.
	queueConfigs   []queue.Config
	accountConfigs []queue.AccountConfig
	queueManager   *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, a constant strategy using Config.RetryDelay is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithNotifier sets the delivery channel for job outcomes. The
// settlement hook uses it to notify completion and failure; refunds
// happen with or without it.
func WithNotifier(n settlehook.Notifier) Option {
	return func(eng *Engine) {
		eng.notifier = n
	}
}

// WithDenominations replaces the wallet's credit allow-list.
func WithDenominations(denoms ...types.Money) Option {
	return func(eng *Engine) {
		eng.denoms = denoms
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithAccountConfig registers per-account rate and concurrency caps so
// one account's bulk run cannot starve the pool.
func WithAccountConfig(configs ...queue.AccountConfig) Option {
	return func(eng *Engine) {
		eng.accountConfigs = append(eng.accountConfigs, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Core.
// The Core's store must implement both job.Store and ledger.Store.
func Build(c *paidwork.Core, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	st := c.Store()

	if st == nil {
		return nil, paidwork.ErrNoStore
	}

	js, ok := st.(job.Store)
	if !ok {
		return nil, fmt.Errorf("paidwork: store does not implement job.Store")
	}
	ls, ok := st.(ledger.Store)
	if !ok {
		return nil, fmt.Errorf("paidwork: store does not implement ledger.Store")
	}

	eng := &Engine{
		core:       c,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		jobStore:   js,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	config := c.Config()

	// Default backoff strategy if none provided.
	if eng.bo == nil {
		eng.bo = backoff.NewConstant(config.RetryDelay)
	}

	// Wallet service, publishing ledger events through the registry.
	walletOpts := []ledger.ServiceOption{
		ledger.WithLogger(logger),
		ledger.WithEmitter(&extLedgerEmitter{r: eng.extensions}),
	}
	if len(eng.denoms) > 0 {
		walletOpts = append(walletOpts, ledger.WithDenominations(eng.denoms...))
	}
	eng.wallet = ledger.NewService(ls, walletOpts...)

	// Batch tracker, publishing ready events through the registry.
	eng.tracker = batch.NewTracker(
		batch.WithGraceDelay(config.BatchGraceDelay),
		batch.WithLogger(logger),
		batch.WithEmitter(&extReadyEmitter{r: eng.extensions}),
	)

	// Settlement hook: refunds on failure, delivery and batch reporting
	// on success. Registered even without a notifier so refunds always
	// run.
	eng.extensions.Register(settlehook.New(eng.notifier,
		settlehook.WithLedger(eng.wallet),
		settlehook.WithBatchSink(eng.tracker),
		settlehook.WithLogger(logger),
	))

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/robelmit/paidwork/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/robelmit/paidwork")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/robelmit/paidwork")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.registry, eng.extensions, eng.jobStore, eng.bo, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolQueues(config.Queues),
		worker.WithPollInterval(config.PollInterval),
		worker.WithJanitorInterval(config.CleanupInterval),
		worker.WithTerminalJobTTL(config.TerminalJobTTL),
	}

	// Create queue manager if queue or account configs were provided.
	if len(eng.queueConfigs) > 0 || len(eng.accountConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		for _, ac := range eng.accountConfigs {
			eng.queueManager.SetAccountConfig(ac)
		}
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}

	eng.pool = worker.NewPool(
		eng.jobStore,
		executor,
		eng.extensions,
		logger,
		poolOpts...,
	)

	// Wire back into the Core.
	c.SetPool(eng.pool)
	c.SetHooks(eng.extensions)

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue creates and enqueues a job.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}

	return eng.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueuePaid debits the account for the job's cost and enqueues on
// success. A declined debit (insufficient funds) returns ok=false with
// no job and no balance change. The debit happens first and references
// the job's ID, so a later terminal failure refunds exactly this charge.
func EnqueuePaid[T any](ctx context.Context, eng *Engine, accountID id.AccountID, cost types.Money, name string, payload T, opts ...job.Option) (*job.Job, bool, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}

	jobID := id.NewJobID()
	ok, err := eng.wallet.Debit(ctx, accountID, cost, jobID.String())
	if err != nil {
		return nil, false, fmt.Errorf("debit for job %q: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	opts = append(opts, job.WithJobID(jobID), job.WithAccount(accountID, cost))
	j, err := eng.EnqueueRaw(ctx, name, data, opts...)
	if err != nil {
		// The charge must not outlive a job that never existed.
		if _, refundErr := eng.wallet.Refund(ctx, accountID, cost, jobID.String()); refundErr != nil {
			eng.logger.Error("refund after failed enqueue",
				"job_id", jobID,
				"account_id", accountID,
				"error", refundErr,
			)
		}
		return nil, false, err
	}
	return j, true, nil
}

// EnqueueRaw enqueues a job with a pre-serialized payload.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	config := eng.core.Config()

	jobOpts := job.DefaultOptions()
	if config.MaxAttempts > 0 {
		jobOpts.MaxAttempts = config.MaxAttempts
	}
	for _, opt := range opts {
		opt(&jobOpts)
	}

	jobID := jobOpts.JobID
	if jobID.IsNil() {
		jobID = id.NewJobID()
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      paidwork.NewEntity(),
		ID:          jobID,
		Name:        name,
		Queue:       jobOpts.Queue,
		Payload:     payload,
		State:       job.StatePending,
		Priority:    jobOpts.Priority,
		MaxAttempts: jobOpts.MaxAttempts,
		AccountID:   jobOpts.AccountID,
		Cost:        jobOpts.Cost,
		BatchGroup:  jobOpts.BatchGroup,
		BatchIndex:  jobOpts.BatchIndex,
		BatchExpect: jobOpts.BatchExpect,
		RunAt:       now,
	}
	if !jobOpts.RunAt.IsZero() {
		j.RunAt = jobOpts.RunAt
	}

	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// GetJob retrieves a job by ID.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.jobStore.GetJob(ctx, jobID)
}

// Stats returns a snapshot of job counts per state.
func (eng *Engine) Stats(ctx context.Context) (job.Stats, error) {
	return eng.jobStore.JobStats(ctx)
}

// Cleanup removes terminal jobs older than maxAge. The pool's janitor
// runs this on Config.CleanupInterval; Cleanup is the manual trigger.
func (eng *Engine) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	return eng.jobStore.PurgeTerminalJobs(ctx, maxAge)
}

// Start begins job processing by starting the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.core.Start(ctx)
}

// Stop gracefully shuts down the engine and disposes batch state.
func (eng *Engine) Stop(ctx context.Context) error {
	err := eng.core.Stop(ctx)
	eng.tracker.Close()
	return err
}

// Core returns the underlying Core.
func (eng *Engine) Core() *paidwork.Core { return eng.core }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Wallet returns the ledger service.
func (eng *Engine) Wallet() *ledger.Service { return eng.wallet }

// Tracker returns the batch tracker.
func (eng *Engine) Tracker() *batch.Tracker { return eng.tracker }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
