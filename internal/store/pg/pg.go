package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"net"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultMaxAttempts = 3

	maxOpenConns    = 20
	maxIdleConns    = 10
	connMaxIdleTime = 30 * time.Second
	connMaxLifetime = 15 * time.Minute

	// Server-side statement timeout, milliseconds.
	statementTimeoutMS = "15000"
)

// ErrUnavailable wraps a storage error that persisted through the whole
// retry budget. Callers map it to a service-unavailable response.
var ErrUnavailable = errors.New("pg: storage unavailable")

// DB owns the connection pool and the transient-failure retry policy.
type DB struct {
	sql         *sql.DB
	maxAttempts int
	backoff     func(attempt int) time.Duration
}

// Option configures DB behavior.
type Option func(*DB)

// WithMaxAttempts overrides the total attempt budget (including the first try).
func WithMaxAttempts(n int) Option {
	return func(d *DB) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithBackoff overrides the delay before retry n (useful for tests).
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(d *DB) {
		if fn != nil {
			d.backoff = fn
		}
	}
}

// defaultBackoff yields 1s before the second attempt, 2s before the third.
func defaultBackoff(attempt int) time.Duration {
	return time.Duration(1<<(attempt-1)) * time.Second
}

// Open parses the DSN, verifies the database host resolves to a usable
// address family, and configures the shared pool. Hosts that resolve only
// over an unroutable family fail here instead of on the first query.
func Open(dsn string, opts ...Option) (*DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	cfg.LookupFunc = lookupIPv4First
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	if _, ok := cfg.RuntimeParams["statement_timeout"]; !ok {
		cfg.RuntimeParams["statement_timeout"] = statementTimeoutMS
	}
	if err := checkHostResolvable(cfg.Host); err != nil {
		return nil, err
	}

	db := sql.OpenDB(stdlib.GetConnector(*cfg))
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxIdleTime(connMaxIdleTime)
	db.SetConnMaxLifetime(connMaxLifetime)
	return Wrap(db, opts...), nil
}

// Wrap builds a DB around an existing handle. Tests use it with sqlmock.
func Wrap(db *sql.DB, opts ...Option) *DB {
	d := &DB{
		sql:         db,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *DB) Close() error { return d.sql.Close() }

// Std exposes the underlying handle for readiness probes and migrations.
func (d *DB) Std() *sql.DB { return d.sql }

func (d *DB) Ping(ctx context.Context) error {
	return d.Retry(ctx, func(ctx context.Context) error {
		return d.sql.PingContext(ctx)
	})
}

// Retry runs op, retrying connection-class failures with exponential
// backoff until the attempt budget is spent. Server-side errors
// (constraint violations, bad SQL) surface immediately. A started retry
// sequence runs to completion; it is not interrupted by caller cancellation.
func (d *DB) Retry(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(d.backoff(attempt - 1))
		}
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Exec executes a statement under the retry policy.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := d.Retry(ctx, func(ctx context.Context) error {
		var execErr error
		res, execErr = d.sql.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// Query executes a multi-row query under the retry policy.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := d.Retry(ctx, func(ctx context.Context) error {
		var queryErr error
		rows, queryErr = d.sql.QueryContext(ctx, query, args...)
		return queryErr
	})
	return rows, err
}

// QueryRow scans a single row into dest under the retry policy.
// sql.ErrNoRows passes through unretried.
func (d *DB) QueryRow(ctx context.Context, query string, args []any, dest ...any) error {
	return d.Retry(ctx, func(ctx context.Context) error {
		return d.sql.QueryRowContext(ctx, query, args...).Scan(dest...)
	})
}

// Transaction runs fn inside a begin/commit-or-rollback scope. The whole
// scope is retried on connection-class failures; fn must therefore be safe
// to re-run against a fresh transaction.
func (d *DB) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return d.Retry(ctx, func(ctx context.Context) error {
		tx, err := d.sql.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Retryable reports whether err is a connection-class failure (timeout,
// reset, refused, dead pool conn). Anything the server answered with,
// constraint violations included, is not retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// lookupIPv4First resolves host with IPv4 addresses ordered before IPv6,
// so pools on hosts without outbound IPv6 routing dial a reachable address
// instead of failing on every connect.
func lookupIPv4First(ctx context.Context, host string) ([]string, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	var v4, v6 []string
	for _, addr := range addrs {
		if addr.IP.To4() != nil {
			v4 = append(v4, addr.IP.String())
		} else {
			v6 = append(v6, addr.IP.String())
		}
	}
	return append(v4, v6...), nil
}

// checkHostResolvable fails fast at startup when the configured host has
// no resolvable address at all. Socket paths and literal IPs skip the check.
func checkHostResolvable(host string) error {
	if host == "" || host[0] == '/' || net.ParseIP(host) != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	addrs, err := lookupIPv4First(ctx, host)
	if err != nil {
		return fmt.Errorf("pg: resolve database host %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("pg: database host %q has no resolvable address family", host)
	}
	if first := net.ParseIP(addrs[0]); first == nil || first.To4() == nil {
		log.Printf("pg: database host %q has no IPv4 address; relying on IPv6 reachability", host)
	}
	return nil
}
