package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/neomorfeo/orderdesk/internal/domain"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// Compile-time check: OrderRepository implements domain.OrderRepository.
var _ domain.OrderRepository = (*OrderRepository)(nil)

// OrderRepository implements domain.OrderRepository using SQLite.
// An order's history lives in order_history, one row per status change.
type OrderRepository struct {
	db *sql.DB
}

// New opens a SQLite database, runs migrations, and returns a ready repository.
func New(dataSourceName string) (*OrderRepository, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: ":memory:" databases are per-connection, and SQLite
	// allows a single writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return NewFromDB(db)
}

// NewFromDB wraps an existing database connection, runs migrations, and returns a ready repository.
// Use this when the *sql.DB has been pre-configured (e.g., with otelsql instrumentation).
func NewFromDB(db *sql.DB) (*OrderRepository, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &OrderRepository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *OrderRepository) Close() error {
	return r.db.Close()
}

// DB returns the underlying database connection for use by other adapters (e.g., river).
func (r *OrderRepository) DB() *sql.DB {
	return r.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

// timeFormat has fixed-width fractions so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t, nil
}

// unavailable marks a driver failure as a storage outage so callers retry it.
func unavailable(action string, err error) error {
	return fmt.Errorf("%s: %w: %w", action, domain.ErrStorageUnavailable, err)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *OrderRepository) Insert(ctx context.Context, o domain.Order) (domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, unavailable("beginning insert", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := formatTime(time.Now())
	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, customer_id, service, description, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.CustomerID, string(o.Service), o.Description, string(o.Status),
		formatTime(o.Created), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Order{}, domain.ErrOrderExists
		}
		return domain.Order{}, unavailable("inserting order", err)
	}

	if err := appendHistory(ctx, tx, o.ID, 0, o.UpdateHistory); err != nil {
		return domain.Order{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, unavailable("committing insert", err)
	}
	return o, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (domain.Order, error) {
	return findOrder(ctx, r.db, id)
}

func (r *OrderRepository) FindAll(ctx context.Context, filter domain.ListFilter) ([]domain.Order, error) {
	query := `SELECT id, customer_id, service, description, status, created_at FROM orders`
	var (
		where []string
		args  []any
	)

	if filter.Status != nil {
		where = append(where, `status = ?`)
		args = append(args, string(*filter.Status))
	}
	if filter.CustomerID != "" {
		where = append(where, `customer_id = ?`)
		args = append(args, filter.CustomerID)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}

	query += ` ORDER BY created_at DESC, id`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		// SQLite requires a LIMIT before OFFSET.
		query += ` LIMIT -1`
	}

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("listing orders", err)
	}

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, unavailable("listing orders", err)
	}
	// Release the connection before loading histories.
	rows.Close()

	for i := range orders {
		history, err := loadHistory(ctx, r.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].UpdateHistory = history
	}

	return orders, nil
}

// CompareAndUpdate stores o when the persisted status still equals expected.
// History is append-only: rows already stored are never rewritten.
func (r *OrderRepository) CompareAndUpdate(ctx context.Context, id string, expected domain.Status, o domain.Order) (domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, unavailable("beginning update", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	result, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, description = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(o.Status), o.Description, formatTime(time.Now()), id, string(expected),
	)
	if err != nil {
		return domain.Order{}, unavailable("updating order", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return domain.Order{}, unavailable("checking rows affected", err)
	}
	if affected == 0 {
		var actual string
		err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ?`, id).Scan(&actual)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		if err != nil {
			return domain.Order{}, unavailable("reading order status", err)
		}
		return domain.Order{}, &domain.ConflictError{OrderID: id, Expected: expected, Actual: domain.Status(actual)}
	}

	var stored int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM order_history WHERE order_id = ?`, id,
	).Scan(&stored); err != nil {
		return domain.Order{}, unavailable("counting history", err)
	}
	if len(o.UpdateHistory) < stored {
		return domain.Order{}, fmt.Errorf("order %q: history has %d entries, %d already stored", id, len(o.UpdateHistory), stored)
	}

	if err := appendHistory(ctx, tx, id, stored, o.UpdateHistory[stored:]); err != nil {
		return domain.Order{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, unavailable("committing update", err)
	}
	return o, nil
}

func appendHistory(ctx context.Context, q querier, orderID string, from int, entries []domain.StateUpdate) error {
	for i, u := range entries {
		_, err := q.ExecContext(ctx,
			`INSERT INTO order_history (order_id, seq, new_status, changed_at, changed_by, comment)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			orderID, from+i, string(u.NewStatus), formatTime(u.When), u.By, u.Comment,
		)
		if err != nil {
			return unavailable("appending history", err)
		}
	}
	return nil
}

func findOrder(ctx context.Context, q querier, id string) (domain.Order, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, customer_id, service, description, status, created_at
		 FROM orders WHERE id = ?`, id,
	)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}

	o.UpdateHistory, err = loadHistory(ctx, q, id)
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func loadHistory(ctx context.Context, q querier, orderID string) ([]domain.StateUpdate, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT new_status, changed_at, changed_by, comment
		 FROM order_history WHERE order_id = ? ORDER BY seq`, orderID,
	)
	if err != nil {
		return nil, unavailable("loading history", err)
	}
	defer rows.Close()

	history := []domain.StateUpdate{}
	for rows.Next() {
		var (
			u               domain.StateUpdate
			status, stamped string
		)
		if err := rows.Scan(&status, &stamped, &u.By, &u.Comment); err != nil {
			return nil, unavailable("scanning history row", err)
		}
		u.NewStatus = domain.Status(status)
		if u.When, err = parseTime(stamped); err != nil {
			return nil, err
		}
		history = append(history, u)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("loading history", err)
	}
	return history, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanOrder reads the orders columns; the history is loaded separately.
func scanOrder(s scanner) (domain.Order, error) {
	var (
		o                         domain.Order
		service, status, created string
	)
	err := s.Scan(&o.ID, &o.CustomerID, &service, &o.Description, &status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, err
	}
	if err != nil {
		return domain.Order{}, unavailable("scanning order", err)
	}

	o.Service = domain.Service(service)
	o.Status = domain.Status(status)
	if o.Created, err = parseTime(created); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
