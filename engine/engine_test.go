package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robelmit/paidwork"
	"github.com/robelmit/paidwork/batch"
	"github.com/robelmit/paidwork/engine"
	"github.com/robelmit/paidwork/ext"
	"github.com/robelmit/paidwork/id"
	"github.com/robelmit/paidwork/job"
	"github.com/robelmit/paidwork/ledger"
	settlehook "github.com/robelmit/paidwork/settle_hook"
	"github.com/robelmit/paidwork/store/memory"
	"github.com/robelmit/paidwork/types"
)

// ── Helpers ──────────────────────────────────────────

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() paidwork.Config {
	cfg := paidwork.DefaultConfig()
	cfg.Concurrency = 4
	cfg.PollInterval = 10 * time.Millisecond
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.CleanupInterval = 0 // no janitor in tests
	cfg.BatchGraceDelay = 50 * time.Millisecond
	return cfg
}

func buildEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()

	core, err := paidwork.New(
		paidwork.WithStore(memory.New()),
		paidwork.WithConfig(testConfig()),
		paidwork.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("paidwork.New: %v", err)
	}

	eng, err := engine.Build(core, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return eng
}

func startEngine(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fund opens an account and credits it with one 100-birr top-up.
func fund(t *testing.T, eng *engine.Engine, owner string) *ledger.Account {
	t.Helper()
	a, err := eng.Wallet().Open(context.Background(), owner, "etb")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := eng.Wallet().Credit(context.Background(), a.ID, types.ETB(10000), "tx-"+owner, "telebirr"); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	return a
}

func balance(t *testing.T, eng *engine.Engine, accountID id.AccountID) types.Money {
	t.Helper()
	b, err := eng.Wallet().Balance(context.Background(), accountID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b
}

// ── Mocks ────────────────────────────────────────────

// captureNotifier records delivered notifications.
type captureNotifier struct {
	mu   sync.Mutex
	sent []*settlehook.Notification
}

func (c *captureNotifier) Notify(_ context.Context, n *settlehook.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func (c *captureNotifier) find(outcome string) *settlehook.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.sent {
		if n.Outcome == outcome {
			return n
		}
	}
	return nil
}

// batchCapture records batch-ready events.
type batchCapture struct {
	mu        sync.Mutex
	fires     int
	artifacts []batch.Artifact
}

func (b *batchCapture) Name() string { return "batch-capture" }

func (b *batchCapture) OnBatchReady(_ context.Context, _ string, _ int, artifacts []batch.Artifact) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fires++
	b.artifacts = artifacts
	return nil
}

var _ ext.BatchReady = (*batchCapture)(nil)

type echoPayload struct {
	Text string `json:"text"`
}

// ── Tests ────────────────────────────────────────────

func TestBuildRequiresStore(t *testing.T) {
	core, err := paidwork.New(paidwork.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("paidwork.New: %v", err)
	}
	if _, err := engine.Build(core); !errors.Is(err, paidwork.ErrNoStore) {
		t.Fatalf("Build without store: %v, want ErrNoStore", err)
	}
}

func TestPaidJobEndToEnd(t *testing.T) {
	notifier := &captureNotifier{}
	eng := buildEngine(t, engine.WithNotifier(notifier))

	engine.Register(eng, &job.Definition[echoPayload]{
		Name: "echo",
		Handler: func(_ context.Context, p echoPayload) ([]byte, error) {
			return []byte(p.Text), nil
		},
	})
	startEngine(t, eng)

	a := fund(t, eng, "user-1")
	cost := types.ETB(1000)

	j, ok, err := engine.EnqueuePaid(context.Background(), eng, a.ID, cost, "echo", echoPayload{Text: "selam"})
	if err != nil {
		t.Fatalf("EnqueuePaid: %v", err)
	}
	if !ok {
		t.Fatal("EnqueuePaid declined with sufficient funds")
	}

	waitFor(t, "job completion", func() bool {
		got, err := eng.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateCompleted
	})

	got, err := eng.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if string(got.Result) != "selam" {
		t.Errorf("result = %q, want %q", got.Result, "selam")
	}
	if !got.Cost.Equal(cost) {
		t.Errorf("job cost = %v, want %v", got.Cost, cost)
	}

	// The debit sticks on success.
	if b := balance(t, eng, a.ID); !b.Equal(types.ETB(9000)) {
		t.Errorf("balance = %v, want 90.00 birr", b)
	}

	waitFor(t, "success notification", func() bool {
		return notifier.find(settlehook.OutcomeSuccess) != nil
	})
	n := notifier.find(settlehook.OutcomeSuccess)
	if string(n.Result) != "selam" {
		t.Errorf("notification result = %q", n.Result)
	}
}

func TestEnqueuePaidInsufficientFunds(t *testing.T) {
	eng := buildEngine(t)
	startEngine(t, eng)

	a := fund(t, eng, "user-1") // 100 birr

	j, ok, err := engine.EnqueuePaid(context.Background(), eng, a.ID, types.ETB(20000), "echo", echoPayload{})
	if err != nil {
		t.Fatalf("EnqueuePaid: %v", err)
	}
	if ok || j != nil {
		t.Fatalf("EnqueuePaid = (%v, %v), want declined without a job", j, ok)
	}

	// The decline leaves no trace: full balance, no debit entries.
	if b := balance(t, eng, a.ID); !b.Equal(types.ETB(10000)) {
		t.Errorf("balance = %v, want 100.00 birr", b)
	}
	entries, err := eng.Wallet().Entries(context.Background(), a.ID, ledger.ListOpts{Type: ledger.EntryDebit})
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("debit entries = %d, want 0", len(entries))
	}

	stats, err := eng.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Pending != 0 || stats.Processing != 0 {
		t.Errorf("stats = %+v, want no jobs", stats)
	}
}

func TestFailedPaidJobRefundedExactlyOnce(t *testing.T) {
	notifier := &captureNotifier{}
	eng := buildEngine(t, engine.WithNotifier(notifier))

	var runs atomic.Int32
	engine.Register(eng, &job.Definition[echoPayload]{
		Name: "doomed",
		Handler: func(_ context.Context, _ echoPayload) ([]byte, error) {
			runs.Add(1)
			return nil, errors.New("render: upstream timeout")
		},
	})
	startEngine(t, eng)

	a := fund(t, eng, "user-1")
	cost := types.ETB(1000)

	j, ok, err := engine.EnqueuePaid(context.Background(), eng, a.ID, cost, "doomed", echoPayload{},
		job.WithMaxAttempts(3))
	if err != nil || !ok {
		t.Fatalf("EnqueuePaid = (%v, %v)", err, ok)
	}

	waitFor(t, "terminal failure", func() bool {
		got, err := eng.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateFailed
	})

	got, _ := eng.GetJob(context.Background(), j.ID)
	if got.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", got.Attempts)
	}
	if n := runs.Load(); n != 3 {
		t.Errorf("handler runs = %d, want 3", n)
	}

	// Exactly one refund, restoring the full balance.
	waitFor(t, "refund", func() bool {
		return balance(t, eng, a.ID).Equal(types.ETB(10000))
	})
	refunds, err := eng.Wallet().Entries(context.Background(), a.ID, ledger.ListOpts{Type: ledger.EntryRefund})
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(refunds) != 1 {
		t.Fatalf("refund entries = %d, want exactly 1", len(refunds))
	}
	if refunds[0].Reference != j.ID.String() {
		t.Errorf("refund reference = %q, want job id %q", refunds[0].Reference, j.ID)
	}

	waitFor(t, "failure notification", func() bool {
		return notifier.find(settlehook.OutcomeFailure) != nil
	})
	n := notifier.find(settlehook.OutcomeFailure)
	if n.Refund == nil || !n.Refund.Equal(cost) {
		t.Errorf("notification refund = %v, want %v", n.Refund, cost)
	}
}

func TestBatchEndToEnd(t *testing.T) {
	capture := &batchCapture{}
	eng := buildEngine(t, engine.WithExtension(capture))

	engine.Register(eng, &job.Definition[echoPayload]{
		Name: "render-card",
		Handler: func(_ context.Context, p echoPayload) ([]byte, error) {
			return []byte(p.Text), nil
		},
	})
	startEngine(t, eng)

	const members = 5
	for i := 0; i < members; i++ {
		_, err := engine.Enqueue(context.Background(), eng, "render-card",
			echoPayload{Text: "card"},
			job.WithQueue("bulk"),
			job.WithBatch("run_7", 0, members),
		)
		if err != nil {
			t.Fatalf("Enqueue member %d: %v", i, err)
		}
	}

	waitFor(t, "batch ready", func() bool {
		capture.mu.Lock()
		defer capture.mu.Unlock()
		return capture.fires > 0
	})

	// Stragglers settled; the batch fired once with every artifact.
	time.Sleep(50 * time.Millisecond)
	capture.mu.Lock()
	defer capture.mu.Unlock()
	if capture.fires != 1 {
		t.Errorf("batch fired %d times, want exactly 1", capture.fires)
	}
	if len(capture.artifacts) != members {
		t.Errorf("artifacts = %d, want %d", len(capture.artifacts), members)
	}
	for i, art := range capture.artifacts {
		if art.Seq != i {
			t.Errorf("artifact %d has seq %d, want arrival order", i, art.Seq)
		}
	}
}

func TestFreeJobSkipsLedger(t *testing.T) {
	eng := buildEngine(t)

	engine.Register(eng, &job.Definition[echoPayload]{
		Name: "echo",
		Handler: func(_ context.Context, p echoPayload) ([]byte, error) {
			return []byte(p.Text), nil
		},
	})
	startEngine(t, eng)

	j, err := engine.Enqueue(context.Background(), eng, "echo", echoPayload{Text: "free"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, "job completion", func() bool {
		got, err := eng.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateCompleted
	})
}

func TestCleanupPurgesTerminalJobs(t *testing.T) {
	eng := buildEngine(t)

	engine.Register(eng, &job.Definition[echoPayload]{
		Name: "echo",
		Handler: func(_ context.Context, p echoPayload) ([]byte, error) {
			return []byte(p.Text), nil
		},
	})
	startEngine(t, eng)

	j, err := engine.Enqueue(context.Background(), eng, "echo", echoPayload{Text: "done"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, "job completion", func() bool {
		got, err := eng.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateCompleted
	})

	purged, err := eng.Cleanup(context.Background(), 0)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	if _, err := eng.GetJob(context.Background(), j.ID); !errors.Is(err, paidwork.ErrJobNotFound) {
		t.Errorf("GetJob after cleanup: %v, want ErrJobNotFound", err)
	}
}
