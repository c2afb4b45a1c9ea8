package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/conorfennell/knolword/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sql.DB
}

// Open creates a new database connection and migrates the schema to the latest version.
// Pass ":memory:" for an in-memory database (used by tests).
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// A single connection keeps the store single-writer and lets ":memory:"
	// databases survive across calls.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if dsn != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate applies every migration newer than the stored user_version. Each
// migration and its version bump commit together.
func (db *DB) migrate(ctx context.Context) error {
	version, err := db.Version(ctx)
	if err != nil {
		return err
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Version returns the schema version recorded in the database.
func (db *DB) Version(ctx context.Context) (int, error) {
	var version int
	if err := db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

const itemColumns = `id, key, due_at, stability, difficulty, elapsed_days, scheduled_days,
	reps, lapses, phase, last_reviewed_at, created_at, session_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*domain.Item, error) {
	var (
		it                         domain.Item
		due, lastReviewed, created int64
		phase                      int
		session                    sql.NullInt64
	)
	err := row.Scan(
		&it.ID,
		&it.Key,
		&due,
		&it.State.Stability,
		&it.State.Difficulty,
		&it.State.ElapsedDays,
		&it.State.ScheduledDays,
		&it.State.Reps,
		&it.State.Lapses,
		&phase,
		&lastReviewed,
		&created,
		&session,
	)
	if err != nil {
		return nil, err
	}
	it.DueAt = fromMillis(due)
	it.LastReviewedAt = fromMillis(lastReviewed)
	it.CreatedAt = fromMillis(created)
	it.State.Phase = domain.Phase(phase)
	if session.Valid {
		it.Session = domain.SessionID(session.Int64)
	}
	return &it, nil
}

// EnsureItem inserts key with the given initial state, due immediately, unless it
// already exists. It returns the stored item and whether it was created.
func (db *DB) EnsureItem(ctx context.Context, key string, initial domain.StrengthState, now time.Time) (*domain.Item, bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction for %s: %w", key, err)
	}
	defer tx.Rollback()

	ms := toMillis(now)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO items (key, due_at, stability, difficulty, elapsed_days, scheduled_days,
			reps, lapses, phase, last_reviewed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`,
		key,
		ms,
		initial.Stability,
		initial.Difficulty,
		initial.ElapsedDays,
		initial.ScheduledDays,
		initial.Reps,
		initial.Lapses,
		int(initial.Phase),
		ms,
		ms,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert item %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check insert of item %s: %w", key, err)
	}

	it, err := scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE key = ?`, key))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read item %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit item %s: %w", key, err)
	}
	return it, n > 0, nil
}

// GetItem retrieves an item by key. It returns domain.ErrNotFound if the key is not stored.
func (db *DB) GetItem(ctx context.Context, key string) (*domain.Item, error) {
	it, err := scanItem(db.conn.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE key = ?`, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to find item %s: %w", key, err)
	}
	return it, nil
}

// ItemUpdate is the result of one applied rating.
type ItemUpdate struct {
	Key        string
	DueAt      time.Time
	State      domain.StrengthState
	ReviewedAt time.Time
	Rating     domain.Rating
}

// UpdateItem writes a new due date and strength state and appends to the review
// log in a single transaction. It returns domain.ErrNotFound if the key is not stored.
func (db *DB) UpdateItem(ctx context.Context, u ItemUpdate) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s: %w", u.Key, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE items
		SET due_at = ?, stability = ?, difficulty = ?, elapsed_days = ?, scheduled_days = ?,
			reps = ?, lapses = ?, phase = ?, last_reviewed_at = ?
		WHERE key = ?
	`,
		toMillis(u.DueAt),
		u.State.Stability,
		u.State.Difficulty,
		u.State.ElapsedDays,
		u.State.ScheduledDays,
		u.State.Reps,
		u.State.Lapses,
		int(u.State.Phase),
		toMillis(u.ReviewedAt),
		u.Key,
	)
	if err != nil {
		return fmt.Errorf("failed to update item %s: %w", u.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of item %s: %w", u.Key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, u.Key)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO review_log (item_id, rating, reviewed_at, elapsed_days, scheduled_days, phase)
		SELECT id, ?, ?, ?, ?, ? FROM items WHERE key = ?
	`,
		int(u.Rating),
		toMillis(u.ReviewedAt),
		u.State.ElapsedDays,
		u.State.ScheduledDays,
		int(u.State.Phase),
		u.Key,
	); err != nil {
		return fmt.Errorf("failed to log review of %s: %w", u.Key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update of %s: %w", u.Key, err)
	}
	return nil
}

// RemoveItem deletes an item and its review history, returning the number of items removed.
func (db *DB) RemoveItem(ctx context.Context, key string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM items WHERE key = ?`, key)
	if err != nil {
		return 0, fmt.Errorf("failed to delete item %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check delete of item %s: %w", key, err)
	}
	return n, nil
}

// Keys yields every stored key in insertion order. The rows are read lazily, so
// callers must not issue other queries on the same DB while ranging.
func (db *DB) Keys(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rows, err := db.conn.QueryContext(ctx, `SELECT key FROM items ORDER BY id`)
		if err != nil {
			yield("", fmt.Errorf("failed to list keys: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				yield("", fmt.Errorf("failed to scan key: %w", err))
				return
			}
			if !yield(key, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield("", fmt.Errorf("failed to list keys: %w", err))
		}
	}
}

// SearchKeys returns keys containing fragment, case-insensitively. Fragments of
// three or more characters are answered from the trigram index.
func (db *DB) SearchKeys(ctx context.Context, fragment string, limit int) ([]string, error) {
	if fragment == "" {
		return nil, nil
	}

	var (
		rows *sql.Rows
		err  error
	)
	if utf8.RuneCountInString(fragment) >= 3 {
		phrase := `"` + strings.ReplaceAll(fragment, `"`, `""`) + `"`
		rows, err = db.conn.QueryContext(ctx, `
			SELECT i.key FROM items_fts f
			JOIN items i ON i.id = f.rowid
			WHERE items_fts MATCH ?
			ORDER BY i.key
			LIMIT ?
		`, phrase, limit)
	} else {
		rows, err = db.conn.QueryContext(ctx, `
			SELECT key FROM items
			WHERE key LIKE ? ESCAPE '\'
			ORDER BY key
			LIMIT ?
		`, "%"+escapeLike(fragment)+"%", limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search keys for %q: %w", fragment, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key row: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// CreateSession records a new review pass and returns its id. Ids are strictly
// greater than every id handed out before.
func (db *DB) CreateSession(ctx context.Context, now time.Time) (domain.SessionID, error) {
	res, err := db.conn.ExecContext(ctx, `INSERT INTO sessions (created_at) VALUES (?)`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for session: %w", err)
	}
	return domain.SessionID(id), nil
}

// MarkShown stamps key with the session it was shown in.
func (db *DB) MarkShown(ctx context.Context, key string, session domain.SessionID) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE items SET session_id = ? WHERE key = ?`, int64(session), key)
	if err != nil {
		return fmt.Errorf("failed to mark item %s for session %d: %w", key, session, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check mark of item %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	return nil
}

// PickDue returns one random item that is due at now, was not shown in session
// and whose row id is greater than after. It returns nil, nil when none qualifies.
func (db *DB) PickDue(ctx context.Context, session domain.SessionID, after int64, now time.Time) (*domain.Item, error) {
	it, err := scanItem(db.conn.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE due_at <= ? AND session_id IS NOT ? AND id > ?
		ORDER BY RANDOM()
		LIMIT 1
	`, toMillis(now), int64(session), after))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pick due item: %w", err)
	}
	return it, nil
}

// CountDue returns the number of items due at now that were not shown in session.
func (db *DB) CountDue(ctx context.Context, session domain.SessionID, now time.Time) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM items WHERE due_at <= ? AND session_id IS NOT ?
	`, toMillis(now), int64(session)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count due items: %w", err)
	}
	return n, nil
}

// History returns the review log of key, oldest first.
func (db *DB) History(ctx context.Context, key string) ([]domain.ReviewLog, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT i.key, r.rating, r.reviewed_at, r.elapsed_days, r.scheduled_days, r.phase
		FROM review_log r
		JOIN items i ON i.id = r.item_id
		WHERE i.key = ?
		ORDER BY r.reviewed_at, r.id
	`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get history of %s: %w", key, err)
	}
	defer rows.Close()

	var logs []domain.ReviewLog
	for rows.Next() {
		var (
			l             domain.ReviewLog
			rating, phase int
			reviewedAt    int64
		)
		if err := rows.Scan(&l.Key, &rating, &reviewedAt, &l.ElapsedDays, &l.ScheduledDays, &phase); err != nil {
			return nil, fmt.Errorf("failed to scan review row for %s: %w", key, err)
		}
		l.Rating = domain.Rating(rating)
		l.Phase = domain.Phase(phase)
		l.ReviewedAt = fromMillis(reviewedAt)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Stats summarizes the collection.
type Stats struct {
	Items    int
	Due      int
	Sessions int
	Reviews  int
}

// GetStats counts items, items due at now, sessions opened and ratings applied.
func (db *DB) GetStats(ctx context.Context, now time.Time) (Stats, error) {
	var s Stats
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM items),
			(SELECT COUNT(*) FROM items WHERE due_at <= ?),
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM review_log)
	`, toMillis(now)).Scan(&s.Items, &s.Due, &s.Sessions, &s.Reviews)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	return s, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
