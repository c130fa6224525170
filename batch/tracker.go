// Package batch aggregates the artifacts of independently scheduled jobs
// that belong to one logical bulk run, and fires a ready event exactly
// once per batch when every member has reported.
//
// Known gap, preserved intentionally: a batch whose expected count can
// never be reached (some member jobs failed permanently) never fires.
// There is no partial-batch delivery; Abandon is the only escape hatch.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robelmit/paidwork/id"
)

// Artifact is one job's contribution to a batch, typically the rendered
// output bytes.
type Artifact struct {
	JobID      id.JobID  `json:"job_id"`
	Name       string    `json:"name"`
	Data       []byte    `json:"data"`
	Seq        int       `json:"seq"` // arrival order within the batch
	ReportedAt time.Time `json:"reported_at"`
}

// ReadyEmitter receives the batch-ready event. The engine package adapts
// the extension registry to this interface; the indirection keeps batch
// free of an ext import.
type ReadyEmitter interface {
	EmitBatchReady(ctx context.Context, groupID string, batchIndex int, artifacts []Artifact)
}

// batchState tracks one (group, batchIndex) pair.
type batchState struct {
	expected  int
	artifacts []Artifact
	fired     bool
}

// group tracks every batch of one bulk run.
type group struct {
	batches map[int]*batchState

	// total is the number of batches in the group, when known via
	// ExpectBatches. Zero means unknown: disposal is considered whenever
	// all currently tracked batches have fired.
	total int

	disposal *time.Timer
}

// Tracker is the in-memory aggregator for bulk runs. It is safe for
// concurrent use; the threshold check-and-increment for a batch is
// serialized under the tracker mutex, so two completions racing across
// the threshold cannot both fire the ready event.
type Tracker struct {
	mu      sync.Mutex
	groups  map[string]*group
	emitter ReadyEmitter
	grace   time.Duration
	logger  *slog.Logger
	closed  bool
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithGraceDelay sets how long completed group state is retained to
// absorb straggler duplicate reports before disposal.
func WithGraceDelay(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.grace = d }
}

// WithLogger sets the structured logger for the tracker.
func WithLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// WithEmitter sets the ready event emitter.
func WithEmitter(e ReadyEmitter) TrackerOption {
	return func(t *Tracker) { t.emitter = e }
}

// NewTracker creates a batch tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		groups: make(map[string]*group),
		grace:  30 * time.Second,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetEmitter wires the ready event emitter after construction (called by
// the engine package).
func (t *Tracker) SetEmitter(e ReadyEmitter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e != nil {
		t.emitter = e
	}
}

// ExpectBatches declares how many batches groupID consists of, enabling
// group disposal once all of them have fired. Calling it is optional;
// without it the group is disposed once every batch seen so far is ready.
func (t *Tracker) ExpectBatches(groupID string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g := t.group(groupID)
	g.total = total
	t.maybeScheduleDisposalLocked(groupID, g)
}

// Report records the arrival of one artifact for (groupID, batchIndex).
// When this is the expect-th arrival for the batch, the ready event fires
// exactly once with the artifacts in arrival order. Reports for a batch
// that already fired are ignored.
func (t *Tracker) Report(ctx context.Context, groupID string, batchIndex, expect int, art Artifact) error {
	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()
		return nil
	}

	g := t.group(groupID)
	bs, ok := g.batches[batchIndex]
	if !ok {
		bs = &batchState{expected: expect}
		g.batches[batchIndex] = bs
	}

	if bs.fired {
		t.mu.Unlock()
		t.logger.Debug("duplicate batch report ignored",
			slog.String("group_id", groupID),
			slog.Int("batch_index", batchIndex),
			slog.String("job_id", art.JobID.String()),
		)
		return nil
	}

	art.Seq = len(bs.artifacts)
	if art.ReportedAt.IsZero() {
		art.ReportedAt = time.Now().UTC()
	}
	bs.artifacts = append(bs.artifacts, art)

	if len(bs.artifacts) < bs.expected {
		t.mu.Unlock()
		return nil
	}

	// Threshold crossed: mark fired while still holding the mutex so a
	// racing report cannot fire a second time.
	bs.fired = true
	arts := make([]Artifact, len(bs.artifacts))
	copy(arts, bs.artifacts)
	emitter := t.emitter
	t.maybeScheduleDisposalLocked(groupID, g)
	t.mu.Unlock()

	t.logger.Info("batch ready",
		slog.String("group_id", groupID),
		slog.Int("batch_index", batchIndex),
		slog.Int("count", len(arts)),
	)
	if emitter != nil {
		emitter.EmitBatchReady(ctx, groupID, batchIndex, arts)
	}
	return nil
}

// Abandon removes all tracking state for a group immediately. Use it when
// a group can never complete (member jobs failed permanently).
func (t *Tracker) Abandon(groupID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(groupID)
}

// Groups returns the number of groups currently tracked.
func (t *Tracker) Groups() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.groups)
}

// Close stops all pending disposal timers and drops tracking state.
// Further reports are ignored.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for groupID := range t.groups {
		t.removeLocked(groupID)
	}
}

// group returns the state for groupID, creating it lazily.
// Caller must hold t.mu.
func (t *Tracker) group(groupID string) *group {
	g, ok := t.groups[groupID]
	if !ok {
		g = &group{batches: make(map[int]*batchState)}
		t.groups[groupID] = g
	}
	return g
}

// maybeScheduleDisposalLocked schedules group disposal after the grace
// delay once the whole group is complete. Caller must hold t.mu.
func (t *Tracker) maybeScheduleDisposalLocked(groupID string, g *group) {
	if !t.groupCompleteLocked(g) || g.disposal != nil {
		return
	}
	g.disposal = time.AfterFunc(t.grace, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.removeLocked(groupID)
	})
}

func (t *Tracker) groupCompleteLocked(g *group) bool {
	if len(g.batches) == 0 {
		return false
	}
	if g.total > 0 && len(g.batches) < g.total {
		return false
	}
	for _, bs := range g.batches {
		if !bs.fired {
			return false
		}
	}
	return true
}

// removeLocked drops a group and stops its disposal timer.
// Caller must hold t.mu.
func (t *Tracker) removeLocked(groupID string) {
	g, ok := t.groups[groupID]
	if !ok {
		return
	}
	if g.disposal != nil {
		g.disposal.Stop()
	}
	delete(t.groups, groupID)
}
