package postgres

// migration is one schema change applied by Migrate. Migrations run in
// slice order and are recorded by name, so entries must never be
// reordered or edited once shipped.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "001_create_jobs",
		sql: `
CREATE TABLE IF NOT EXISTS paidwork_jobs (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	queue         TEXT NOT NULL DEFAULT 'default',
	payload       BYTEA,
	result        BYTEA,
	state         TEXT NOT NULL DEFAULT 'pending',
	priority      INTEGER NOT NULL DEFAULT 0,
	attempts      INTEGER NOT NULL DEFAULT 0,
	max_attempts  INTEGER NOT NULL DEFAULT 1,
	last_error    TEXT NOT NULL DEFAULT '',
	account_id    TEXT,
	cost_amount   BIGINT NOT NULL DEFAULT 0,
	cost_currency TEXT NOT NULL DEFAULT '',
	batch_group   TEXT NOT NULL DEFAULT '',
	batch_index   INTEGER NOT NULL DEFAULT 0,
	batch_expect  INTEGER NOT NULL DEFAULT 0,
	run_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	processed_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_paidwork_jobs_dequeue
	ON paidwork_jobs (queue, priority DESC, run_at)
	WHERE state = 'pending';

CREATE INDEX IF NOT EXISTS idx_paidwork_jobs_state
	ON paidwork_jobs (state, updated_at);
`,
	},
	{
		name: "002_create_accounts",
		sql: `
CREATE TABLE IF NOT EXISTS paidwork_accounts (
	id               TEXT PRIMARY KEY,
	owner            TEXT NOT NULL UNIQUE,
	balance_amount   BIGINT NOT NULL DEFAULT 0,
	balance_currency TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT paidwork_accounts_balance_nonneg CHECK (balance_amount >= 0)
);
`,
	},
	{
		name: "003_create_entries",
		sql: `
CREATE TABLE IF NOT EXISTS paidwork_entries (
	id              TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL REFERENCES paidwork_accounts(id),
	type            TEXT NOT NULL,
	amount          BIGINT NOT NULL,
	currency        TEXT NOT NULL,
	reference       TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL DEFAULT '',
	provider        TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_paidwork_entries_account
	ON paidwork_entries (account_id, created_at DESC);
`,
	},
	{
		name: "004_create_used_keys",
		sql: `
CREATE TABLE IF NOT EXISTS paidwork_used_keys (
	provider    TEXT NOT NULL,
	key         TEXT NOT NULL,
	consumed_by TEXT NOT NULL,
	account_id  TEXT NOT NULL,
	amount      BIGINT NOT NULL,
	currency    TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (provider, key)
);
`,
	},
}
