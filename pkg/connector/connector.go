// Package connector provides pooled Oracle session access for the schema
// cache and the SQL tools. It owns the statement-kind gate, transient-fault
// retry, and the parameterized catalog query templates; callers never build
// SQL with value interpolation.
package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// DefaultPoolSize is the number of pooled sessions when POOL_SIZE is
	// unset. The spec floor is 4.
	DefaultPoolSize = 8

	// DefaultAcquireTimeout bounds the wait for a pooled session.
	DefaultAcquireTimeout = 5 * time.Second

	// idleGrace is how long a session may sit idle before being recycled,
	// and the minimum spacing between validation probes.
	idleGrace = time.Minute

	validationProbe = "SELECT 1 FROM DUAL"
)

// Config configures the connector. All fields are fixed at startup.
type Config struct {
	ConnectionString string
	TargetSchema     string
	ThickMode        bool
	LibDir           string
	PoolSize         int
	AcquireTimeout   time.Duration
}

// Connector multiplexes a bounded pool of Oracle sessions. Safe for
// concurrent use.
type Connector struct {
	db        *sql.DB
	cfg       Config
	user      string
	mode      string
	logger    *slog.Logger
	lastProbe atomic.Int64 // unix nanos of the last successful validation probe
}

// Rows is a fully materialized result set.
type Rows struct {
	Columns []string
	Rows    [][]any
}

// Result is the outcome of Execute: rows for SELECT, affected count
// otherwise.
type Result struct {
	Columns  []string
	Rows     [][]any
	Affected int64
}

// SessionInfo describes the connected database and session.
type SessionInfo struct {
	Product        string
	Version        string
	Banner         []string
	Schema         string
	ConnectionMode string // "thin" or "thick"
	NLS            map[string]string
}

// New opens the pool and verifies connectivity. It fails early: an
// unreachable database or a missing client library is a startup error,
// never a silent fallback to another mode.
func New(cfg Config, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	target, err := parseConnectionString(cfg.ConnectionString)
	if err != nil {
		return nil, err
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}

	db, err := sql.Open(driverName(cfg.ThickMode), target.dsn(cfg.ThickMode, cfg.LibDir))
	if err != nil {
		return nil, Wrap(CodeConnection, err, "opening driver")
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxIdleTime(idleGrace)

	c := newWithDB(db, cfg, logger)
	c.user = strings.ToUpper(target.User)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AcquireTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, Wrap(CodeConnection, err, "database unreachable")
	}
	logger.Info("oracle pool ready",
		"mode", c.mode, "pool_size", cfg.PoolSize, "schema", c.Schema())
	return c, nil
}

// NewWithDB wraps an existing database handle. Used by tests.
func NewWithDB(db *sql.DB, cfg Config, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return newWithDB(db, cfg, logger)
}

func newWithDB(db *sql.DB, cfg Config, logger *slog.Logger) *Connector {
	mode := "thin"
	if cfg.ThickMode {
		mode = "thick"
	}
	return &Connector{db: db, cfg: cfg, mode: mode, logger: logger}
}

// Schema returns the effective target schema: TARGET_SCHEMA when set,
// otherwise the session user. Always upper-cased.
func (c *Connector) Schema() string {
	if c.cfg.TargetSchema != "" {
		return strings.ToUpper(c.cfg.TargetSchema)
	}
	return c.user
}

// Mode reports "thin" or "thick".
func (c *Connector) Mode() string { return c.mode }

// Close releases the pool.
func (c *Connector) Close() error {
	return c.db.Close()
}

// acquire checks a session out of the pool, waiting at most the configured
// acquire timeout. The session is validated with a trivial probe at most
// once per idle interval.
func (c *Connector) acquire(ctx context.Context) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, c.cfg.AcquireTimeout)
	defer cancel()

	conn, err := c.db.Conn(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, Errorf(CodeConnection, "pool acquire timed out after %s", c.cfg.AcquireTimeout)
		}
		return nil, Wrap(CodeConnection, err, "acquiring session")
	}

	last := c.lastProbe.Load()
	now := time.Now().UnixNano()
	if now-last > int64(idleGrace) {
		var one int
		if err := conn.QueryRowContext(ctx, validationProbe).Scan(&one); err != nil {
			_ = conn.Close()
			return nil, Wrap(CodeConnection, err, "session validation failed")
		}
		c.lastProbe.Store(now)
	}
	return conn, nil
}

// FetchAll runs a query and materializes every row.
func (c *Connector) FetchAll(ctx context.Context, query string, args ...any) (*Rows, error) {
	var out *Rows
	err := withRetry(ctx, func() error {
		conn, err := c.acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return queryError(err)
		}
		defer rows.Close()

		out, err = collectRows(rows)
		return err
	})
	if err != nil {
		return nil, classify(ctx, err)
	}
	return out, nil
}

// Stream is a lazy row sequence. Close releases the session promptly;
// canceling the query context has the same effect.
type Stream struct {
	conn    *sql.Conn
	rows    *sql.Rows
	Columns []string
}

// Next advances to the next row, returning false at the end of the set.
func (s *Stream) Next() bool { return s.rows.Next() }

// Scan reads the current row into a fresh value slice.
func (s *Stream) Scan() ([]any, error) {
	vals := make([]any, len(s.Columns))
	ptrs := make([]any, len(s.Columns))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return nil, queryError(err)
	}
	normalize(vals)
	return vals, nil
}

// Err returns the deferred iteration error, if any.
func (s *Stream) Err() error { return s.rows.Err() }

// Close releases the underlying rows and session.
func (s *Stream) Close() error {
	_ = s.rows.Close()
	return s.conn.Close()
}

// FetchStream runs a query and returns a lazily consumed row stream. The
// caller must Close it.
func (c *Connector) FetchStream(ctx context.Context, query string, args ...any) (*Stream, error) {
	conn, err := c.acquire(ctx)
	if err != nil {
		return nil, classify(ctx, err)
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		_ = conn.Close()
		return nil, classify(ctx, queryError(err))
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		_ = conn.Close()
		return nil, classify(ctx, queryError(err))
	}
	return &Stream{conn: conn, rows: rows, Columns: cols}, nil
}

// Execute runs a statement after checking it against the declared kind. A
// gate mismatch never reaches the driver. SELECT statements return rows;
// everything else returns the affected count.
func (c *Connector) Execute(ctx context.Context, stmt string, kind StatementKind, args ...any) (*Result, error) {
	if err := CheckKind(stmt, kind); err != nil {
		return nil, err
	}

	if kind == KindSelect {
		rows, err := c.FetchAll(ctx, stmt, args...)
		if err != nil {
			return nil, err
		}
		return &Result{Columns: rows.Columns, Rows: rows.Rows}, nil
	}

	var affected int64
	err := withRetry(ctx, func() error {
		conn, err := c.acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		res, err := conn.ExecContext(ctx, stmt, args...)
		if err != nil {
			return queryError(err)
		}
		// DDL and PL/SQL have no meaningful count; RowsAffected still
		// succeeds with both drivers.
		if n, err := res.RowsAffected(); err == nil {
			affected = n
		}
		return nil
	})
	if err != nil {
		return nil, classify(ctx, err)
	}
	return &Result{Affected: affected}, nil
}

// SessionInfo reports the version banner, effective schema, and the NLS
// settings relevant to identifier comparison.
func (c *Connector) SessionInfo(ctx context.Context) (*SessionInfo, error) {
	banner, err := c.FetchAll(ctx, "SELECT banner FROM v$version")
	if err != nil {
		return nil, err
	}
	info := &SessionInfo{
		Product:        "Oracle",
		Schema:         c.Schema(),
		ConnectionMode: c.mode,
		NLS:            map[string]string{},
	}
	for _, row := range banner.Rows {
		if len(row) == 1 {
			if s, ok := row[0].(string); ok && s != "" {
				info.Banner = append(info.Banner, s)
			}
		}
	}
	if len(info.Banner) > 0 {
		info.Version = info.Banner[0]
	}

	nls, err := c.FetchAll(ctx,
		"SELECT parameter, value FROM nls_session_parameters WHERE parameter IN ('NLS_COMP', 'NLS_SORT', 'NLS_LANGUAGE')")
	if err == nil {
		for _, row := range nls.Rows {
			if len(row) == 2 {
				k, _ := row[0].(string)
				v, _ := row[1].(string)
				info.NLS[k] = v
			}
		}
	}
	return info, nil
}

func collectRows(rows *sql.Rows) (*Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, queryError(err)
	}
	out := &Rows{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, queryError(err)
		}
		normalize(vals)
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

// normalize converts driver byte slices to strings so results serialize
// cleanly.
func normalize(vals []any) {
	for i, v := range vals {
		if b, ok := v.([]byte); ok {
			vals[i] = string(b)
		}
	}
}

// queryError tags a driver error, preserving the vendor code.
func queryError(err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return Wrap(CodeQuery, err, "query failed")
}

// classify maps context expiry onto the timeout code; everything else keeps
// its existing tag.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Wrap(CodeTimeout, err, "deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(CodeTimeout, err, "canceled")
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return Wrap(CodeQuery, err, fmt.Sprintf("unexpected: %v", err))
}
