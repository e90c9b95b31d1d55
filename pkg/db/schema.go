package db

// schema 按顺序执行，全部使用 IF NOT EXISTS
var schema = []string{
	`CREATE TABLE IF NOT EXISTS triage_emails (
		id           TEXT PRIMARY KEY,
		sender       TEXT NOT NULL,
		thread_id    TEXT NOT NULL DEFAULT '',
		subject      TEXT NOT NULL DEFAULT '',
		body_excerpt TEXT NOT NULL DEFAULT '',
		received_at  TIMESTAMPTZ NOT NULL,
		due_hint     TIMESTAMPTZ,
		pending      BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_pending ON triage_emails (pending) WHERE pending`,

	`CREATE TABLE IF NOT EXISTS classification_decisions (
		id             TEXT PRIMARY KEY,
		email_id       TEXT NOT NULL,
		sender_domain  TEXT NOT NULL,
		urgency        TEXT NOT NULL,
		category       TEXT NOT NULL,
		confidence     DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
		raw_confidence DOUBLE PRECISION NOT NULL,
		rationale      TEXT NOT NULL,
		degraded       BOOLEAN NOT NULL DEFAULT FALSE,
		supersedes     TEXT,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_email ON classification_decisions (email_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS correction_events (
		id                 TEXT PRIMARY KEY,
		decision_id        TEXT NOT NULL REFERENCES classification_decisions (id),
		email_id           TEXT NOT NULL,
		sender_domain      TEXT NOT NULL,
		original_urgency   TEXT NOT NULL,
		original_category  TEXT NOT NULL,
		corrected_urgency  TEXT,
		corrected_category TEXT,
		note               TEXT NOT NULL DEFAULT '',
		source             TEXT NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_corrections_created ON correction_events (created_at)`,

	`CREATE TABLE IF NOT EXISTS learning_weights (
		key          TEXT PRIMARY KEY,
		value        DOUBLE PRECISION NOT NULL,
		observations BIGINT NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL,
		decayed_at   TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS followup_tasks (
		id                TEXT PRIMARY KEY,
		email_id          TEXT NOT NULL,
		decision_id       TEXT NOT NULL,
		sender_domain     TEXT NOT NULL,
		urgency           TEXT NOT NULL,
		confidence        DOUBLE PRECISION NOT NULL,
		rationale         TEXT NOT NULL,
		state             TEXT NOT NULL,
		awaiting_response BOOLEAN NOT NULL DEFAULT FALSE,
		created_at        TIMESTAMPTZ NOT NULL,
		due_at            TIMESTAMPTZ,
		overdue_since     TIMESTAMPTZ,
		escalation_level  INT NOT NULL DEFAULT 0,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_state ON followup_tasks (state)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_due ON followup_tasks (due_at)`,

	`CREATE TABLE IF NOT EXISTS reminder_instances (
		task_id          TEXT PRIMARY KEY REFERENCES followup_tasks (id),
		scheduled_at     TIMESTAMPTZ NOT NULL,
		snooze_count     INT NOT NULL DEFAULT 0,
		interval_seconds BIGINT NOT NULL,
		active           BOOLEAN NOT NULL DEFAULT TRUE,
		created_at       TIMESTAMPTZ NOT NULL
	)`,
}
