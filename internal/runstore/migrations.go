package runstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    active INTEGER NOT NULL DEFAULT 0,
    iteration INTEGER NOT NULL DEFAULT 1,
    max_iterations INTEGER NOT NULL,
    phase TEXT NOT NULL,
    last_verdict TEXT,
    mutation_threshold REAL NOT NULL,
    requirement_path TEXT NOT NULL,
    test_paths TEXT,
    impl_paths TEXT,
    mutation_score REAL,
    stopped_reason TEXT,
    language TEXT,
    test_scope TEXT,
    notes TEXT,
    started_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_single_active ON runs(active) WHERE active = 1;

CREATE TABLE IF NOT EXISTS history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    iteration INTEGER NOT NULL,
    verdict TEXT NOT NULL,
    author_feedback TEXT,
    implementer_feedback TEXT,
    mutation_score REAL,
    survivors TEXT,
    recorded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_run ON history(run_id, iteration);
`
