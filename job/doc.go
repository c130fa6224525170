// Package job defines the job entity, state machine, typed definitions,
// and store interface.
//
// # Job Entity
//
// A [Job] represents one paid unit of work. It embeds [paidwork.Entity]
// for timestamps, carries a typed payload (JSON), and progresses through
// a state machine:
//
//	pending → processing → completed
//	pending → processing → pending (retry, delayed) → processing → ...
//	pending → processing → failed
//
// Completed and failed are terminal. A job is attempted at most
// MaxAttempts times in total, first try included.
//
// Fields of note:
//   - Queue: which queue the job belongs to (default: "default")
//   - Priority: higher values are dequeued first
//   - AccountID / Cost: the wallet debit backing this job; a terminal
//     failure refunds Cost to AccountID
//   - BatchGroup / BatchIndex / BatchExpect: set on bulk jobs whose
//     results converge into one combined artifact
//   - RunAt: earliest time the job may be dequeued
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs. The handler
// returns the produced artifact bytes:
//
//	var RenderCard = job.NewDefinition("render_card",
//	    func(ctx context.Context, input CardInput) ([]byte, error) {
//	        return renderer.Render(input)
//	    },
//	)
//
// # Registry
//
// [Registry] maps job names to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]. The engine
// package provides higher-level engine.Register and engine.Enqueue
// wrappers.
package job
