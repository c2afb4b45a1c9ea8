package storage

// migrations are applied in order; the position of a migration plus one is the
// schema version recorded in PRAGMA user_version once it has been applied.
var migrations = []string{
	// 1: items, sessions and the trigram index over item keys.
	`
-- The 'sessions' table is the ledger of review passes. AUTOINCREMENT keeps
-- ids strictly increasing even after rows are deleted.
CREATE TABLE sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at INTEGER NOT NULL
);

-- The 'items' table stores every looked-up word and its scheduling state.
-- Times are unix milliseconds (UTC).
CREATE TABLE items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT NOT NULL UNIQUE,
    due_at INTEGER NOT NULL,
    stability REAL NOT NULL DEFAULT 0,
    difficulty REAL NOT NULL DEFAULT 0,
    elapsed_days INTEGER NOT NULL DEFAULT 0,
    scheduled_days INTEGER NOT NULL DEFAULT 0,
    reps INTEGER NOT NULL DEFAULT 0,
    lapses INTEGER NOT NULL DEFAULT 0,
    phase INTEGER NOT NULL DEFAULT 0, -- 0: New, 1: Learning, 2: Review, 3: Relearning
    last_reviewed_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    session_id INTEGER,

    FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE SET NULL
);

CREATE INDEX idx_items_due_at ON items(due_at);

CREATE VIRTUAL TABLE items_fts USING fts5(
    key,
    content='items',
    content_rowid='id',
    tokenize='trigram'
);

CREATE TRIGGER items_fts_insert AFTER INSERT ON items BEGIN
    INSERT INTO items_fts(rowid, key) VALUES (new.id, new.key);
END;

CREATE TRIGGER items_fts_delete AFTER DELETE ON items BEGIN
    INSERT INTO items_fts(items_fts, rowid, key) VALUES ('delete', old.id, old.key);
END;

CREATE TRIGGER items_fts_update AFTER UPDATE OF key ON items BEGIN
    INSERT INTO items_fts(items_fts, rowid, key) VALUES ('delete', old.id, old.key);
    INSERT INTO items_fts(rowid, key) VALUES (new.id, new.key);
END;
`,
	// 2: history of applied ratings.
	`
CREATE TABLE review_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id INTEGER NOT NULL,
    rating INTEGER NOT NULL,
    reviewed_at INTEGER NOT NULL,
    elapsed_days INTEGER NOT NULL,
    scheduled_days INTEGER NOT NULL,
    phase INTEGER NOT NULL,

    FOREIGN KEY(item_id) REFERENCES items(id) ON DELETE CASCADE
);

CREATE INDEX idx_review_log_item ON review_log(item_id, reviewed_at);
`,
}

// SchemaVersion is the version a fully migrated database reports.
var SchemaVersion = len(migrations)
