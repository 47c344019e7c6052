// Package journal keeps an append-only SQL record of committed ledger events.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/leafsii/leafsii-lending/internal/ledger"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// Supported database/sql drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

func dialect(driver string) (string, error) {
	switch driver {
	case DriverSQLite:
		return "sqlite3", nil
	case DriverPostgres:
		return "postgres", nil
	}
	return "", fmt.Errorf("unsupported journal driver %q (supported: %s, %s)", driver, DriverSQLite, DriverPostgres)
}

// Journal stores ledger events. It implements ledger.EventSink.
type Journal struct {
	db     *sql.DB
	driver string
	logger *zap.SugaredLogger
}

// Open connects to dsn with driver and checks the connection.
func Open(ctx context.Context, driver, dsn string, logger *zap.SugaredLogger) (*Journal, error) {
	if _, err := dialect(driver); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if driver == DriverSQLite {
		// One writer at a time
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	return &Journal{db: db, driver: driver, logger: logger}, nil
}

// DB exposes the connection pool.
func (j *Journal) DB() *sql.DB { return j.db }

func (j *Journal) Close() error { return j.db.Close() }

// Migrate applies the embedded migrations.
func (j *Journal) Migrate(ctx context.Context) error {
	return RunMigrations(ctx, j.db, j.driver, "up")
}

// RunMigrations runs a goose command (up, down, status) with the embedded
// migrations.
func RunMigrations(ctx context.Context, db *sql.DB, driver, command string) error {
	d, err := dialect(driver)
	if err != nil {
		return err
	}
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(d); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	switch command {
	case "up":
		err = goose.UpContext(ctx, db, migrationsDir)
	case "down":
		err = goose.DownContext(ctx, db, migrationsDir)
	case "status":
		err = goose.StatusContext(ctx, db, migrationsDir)
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", command, err)
	}
	return nil
}

// rebind rewrites ? placeholders for drivers that number them.
func (j *Journal) rebind(query string) string {
	if j.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const insertEvent = `INSERT INTO ledger_events
	(id, kind, occurred_ns, asset, user_addr, amount, caller, borrower,
	 borrow_asset, collateral_asset, repay_amount, collateral_seized, borrow_index)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Append stores e.
func (j *Journal) Append(ctx context.Context, e ledger.Event) error {
	r := e.Record()
	_, err := j.db.ExecContext(ctx, j.rebind(insertEvent),
		r.ID, string(r.Kind), r.Time.UnixNano(),
		string(r.Asset), string(r.User), r.Amount,
		string(r.Caller), string(r.Borrower),
		string(r.BorrowAsset), string(r.CollateralAsset),
		r.RepayAmount, r.CollateralSeized, r.BorrowIndex,
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", r.ID, err)
	}
	return nil
}

// Emit implements ledger.EventSink. Failures are logged; the ledger has
// already committed.
func (j *Journal) Emit(ctx context.Context, e ledger.Event) {
	if err := j.Append(ctx, e); err != nil {
		j.logger.Errorw("Failed to journal ledger event", "id", e.ID, "kind", e.Kind, "error", err)
	}
}

// Filter selects journal entries. Zero fields match everything.
type Filter struct {
	// User matches the user, caller or borrower of an event.
	User  ledger.Address
	Kind  ledger.EventKind
	Asset ledger.Address
	// Since excludes events before this time.
	Since time.Time
	Limit int
}

// Recent returns the newest matching events, newest first.
func (j *Journal) Recent(ctx context.Context, f Filter) ([]ledger.EventRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.User.Valid() {
		where = append(where, "(user_addr = ? OR caller = ? OR borrower = ?)")
		args = append(args, string(f.User), string(f.User), string(f.User))
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Asset.Valid() {
		where = append(where, "(asset = ? OR borrow_asset = ? OR collateral_asset = ?)")
		args = append(args, string(f.Asset), string(f.Asset), string(f.Asset))
	}
	if !f.Since.IsZero() {
		where = append(where, "occurred_ns >= ?")
		args = append(args, f.Since.UnixNano())
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	query := `SELECT id, kind, occurred_ns, asset, user_addr, amount, caller, borrower,
		borrow_asset, collateral_asset, repay_amount, collateral_seized, borrow_index
		FROM ledger_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_ns DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, j.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	out := make([]ledger.EventRecord, 0)
	for rows.Next() {
		var (
			r                            ledger.EventRecord
			kind                         string
			ns                           int64
			asset, user                  string
			caller, borrower             string
			borrowAsset, collateralAsset string
		)
		if err := rows.Scan(&r.ID, &kind, &ns, &asset, &user, &r.Amount, &caller, &borrower,
			&borrowAsset, &collateralAsset, &r.RepayAmount, &r.CollateralSeized, &r.BorrowIndex); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		r.Kind = ledger.EventKind(kind)
		r.Time = time.Unix(0, ns).UTC()
		r.Asset = ledger.Address(asset)
		r.User = ledger.Address(user)
		r.Caller = ledger.Address(caller)
		r.Borrower = ledger.Address(borrower)
		r.BorrowAsset = ledger.Address(borrowAsset)
		r.CollateralAsset = ledger.Address(collateralAsset)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return out, nil
}

// Count returns the number of stored events.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal: %w", err)
	}
	return n, nil
}
