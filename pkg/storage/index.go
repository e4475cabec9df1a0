package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mercator-hq/llmtap/pkg/capture"
)

// Entry is the index row of one stored capture.
type Entry struct {
	ID     string
	Path   string
	Method string
	URL    string
	// Status is zero when no response head was recorded.
	Status    int
	StartTime time.Time
	// EndTime is nil for incomplete captures.
	EndTime *time.Time
	Chunks  int
	Bytes   int
}

// Complete reports whether the recorded response finished normally.
func (e Entry) Complete() bool {
	return e.EndTime != nil
}

// EntryFor builds the index row for c stored at path.
func EntryFor(c *capture.Capture, path string) Entry {
	e := Entry{
		ID:        c.ID,
		Path:      path,
		Method:    c.Request.Method,
		URL:       c.Request.URL,
		StartTime: c.Request.StartTime,
	}
	if r := c.Response; r != nil {
		e.Status = r.Status
		e.EndTime = r.EndTime
		e.Chunks = len(r.BodyChunks)
		e.Bytes = r.Size()
	}
	return e
}

// ListOptions filters Index.List.
type ListOptions struct {
	// Limit defaults to 100.
	Limit int
	// Since excludes captures that started before it.
	Since time.Time
	// IncompleteOnly keeps captures whose response never finished.
	IncompleteOnly bool
}

// Index is the SQLite catalogue of stored captures.
type Index struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// OpenIndex opens or creates the index database at path. ":memory:"
// gives a private in-memory index.
func OpenIndex(path string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &PersistenceError{Op: "open", Path: path, Cause: err}
	}
	// One connection serializes writers and keeps an in-memory database
	// alive for the lifetime of the Index.
	db.SetMaxOpenConns(1)

	idx := &Index{db: db, path: path, logger: logger.With("component", "storage.index")}
	if err := idx.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	idx.logger.Info("capture index opened", "path", path)
	return idx, nil
}

func (x *Index) initialize() error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
	}
	if x.path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL;")
	}
	for _, p := range pragmas {
		if _, err := x.db.Exec(p); err != nil {
			return &PersistenceError{Op: "pragma", Path: x.path, Cause: err}
		}
	}
	if _, err := x.db.Exec(schema); err != nil {
		return &PersistenceError{Op: "create_schema", Path: x.path, Cause: err}
	}
	if _, err := x.db.Exec(insertSchemaVersion, SchemaVersion); err != nil {
		return &PersistenceError{Op: "schema_version", Path: x.path, Cause: err}
	}
	var version int
	if err := x.db.QueryRow(getSchemaVersion).Scan(&version); err != nil {
		return &PersistenceError{Op: "schema_version", Path: x.path, Cause: err}
	}
	if version != SchemaVersion {
		return &PersistenceError{Op: "schema_version", Path: x.path,
			Cause: fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version)}
	}
	return nil
}

// Ping checks the database connection.
func (x *Index) Ping(ctx context.Context) error {
	return x.db.PingContext(ctx)
}

// Insert adds or replaces the row for e.ID.
func (x *Index) Insert(ctx context.Context, e Entry) error {
	var status, end any
	if e.Status != 0 {
		status = e.Status
	}
	if e.EndTime != nil {
		end = e.EndTime.UnixNano()
	}
	_, err := x.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO captures (id, path, method, url, status, start_time, end_time, chunks, bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Path, e.Method, e.URL, status, e.StartTime.UnixNano(), end, e.Chunks, e.Bytes,
	)
	if err != nil {
		return &PersistenceError{Op: "index", Path: e.Path, Cause: err}
	}
	return nil
}

const selectColumns = `SELECT id, path, method, url, status, start_time, end_time, chunks, bytes FROM captures`

// List returns matching entries, newest first.
func (x *Index) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if !opts.Since.IsZero() {
		where = append(where, "start_time >= ?")
		args = append(args, opts.Since.UnixNano())
	}
	if opts.IncompleteOnly {
		where = append(where, "end_time IS NULL")
	}
	q := selectColumns
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY start_time DESC LIMIT ?"
	args = append(args, limit)
	return x.query(ctx, "list", q, args...)
}

// Get returns the entry for id, or ErrNotFound. A unique ID prefix of at
// least eight characters is accepted as well.
func (x *Index) Get(ctx context.Context, id string) (Entry, error) {
	entries, err := x.query(ctx, "get", selectColumns+" WHERE id = ?", id)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 && len(id) >= 8 {
		entries, err = x.query(ctx, "get", selectColumns+" WHERE id LIKE ? ESCAPE '\\' LIMIT 2", escapeLike(id)+"%")
		if err != nil {
			return Entry{}, err
		}
		if len(entries) > 1 {
			return Entry{}, fmt.Errorf("%w: %s", ErrAmbiguousID, id)
		}
	}
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entries[0], nil
}

// OlderThan returns entries that started before t, oldest first.
func (x *Index) OlderThan(ctx context.Context, t time.Time) ([]Entry, error) {
	return x.query(ctx, "older_than", selectColumns+" WHERE start_time < ? ORDER BY start_time ASC", t.UnixNano())
}

// Oldest returns the n oldest entries.
func (x *Index) Oldest(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	return x.query(ctx, "oldest", selectColumns+" ORDER BY start_time ASC LIMIT ?", n)
}

// Count returns the number of indexed captures.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM captures").Scan(&n); err != nil {
		return 0, &PersistenceError{Op: "count", Path: x.path, Cause: err}
	}
	return n, nil
}

// Delete removes the rows for ids and returns how many existed.
func (x *Index) Delete(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := x.db.ExecContext(ctx, "DELETE FROM captures WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, &PersistenceError{Op: "delete", Path: x.path, Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &PersistenceError{Op: "delete", Path: x.path, Cause: err}
	}
	return n, nil
}

// Close releases the database.
func (x *Index) Close() error {
	if err := x.db.Close(); err != nil {
		return &PersistenceError{Op: "close", Path: x.path, Cause: err}
	}
	return nil
}

func (x *Index) query(ctx context.Context, op, q string, args ...any) ([]Entry, error) {
	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &PersistenceError{Op: op, Path: x.path, Cause: err}
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			status sql.NullInt64
			start  int64
			end    sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Path, &e.Method, &e.URL, &status, &start, &end, &e.Chunks, &e.Bytes); err != nil {
			return nil, &PersistenceError{Op: op, Path: x.path, Cause: err}
		}
		e.Status = int(status.Int64)
		e.StartTime = time.Unix(0, start).UTC()
		if end.Valid {
			t := time.Unix(0, end.Int64).UTC()
			e.EndTime = &t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: op, Path: x.path, Cause: err}
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// IsNotFound reports whether err is an unknown-ID error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
