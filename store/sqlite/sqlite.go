/*
Package sqlite provides a SQLite-backed implementation of lending.Store.

PURPOSE:
  Persists loans, payments, clients and finance entries. The collection
  engine never talks to this package directly: collection.Service loads
  scoped records through the lending.Store interface.

KEY TABLES:
  loans:           Terms, balance, route position, denormalized client
  payments:        Amount and instant, FK to loans
  clients:         Borrowers
  finance_entries: Capital injections, bills and withdrawals
  routes:          Collection routes
  route_collectors: Collectors assigned to each route, in assignment order

STORAGE FORMATS:
  Money is stored as decimal TEXT so no precision is lost to floats.
  Instants are stored as fixed-width UTC TEXT (timeLayout), which sorts
  lexically in chronological order and makes range filters plain string
  comparisons.

TRANSACTIONS:
  Every query is written once against the dbtx interface and shared by the
  Store (on *sql.DB) and the transactional view (on *sql.Tx). WithTx is
  serialized by a mutex: SQLite has a single writer anyway, and holding
  the lock up front avoids SQLITE_BUSY half-way through a multi-record
  write.

MIGRATION:
  Versioned migrations under migrations/ are embedded and applied with
  golang-migrate on New().

USAGE:
  st, err := sqlite.New("./data/collections.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  svc := lending.NewService(st, publisher, logger)

SEE ALSO:
  - lending/store.go: Interface definitions
  - lending/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smartmoney/collection-engine/generic"
	"github.com/smartmoney/collection-engine/lending"
)

// timeLayout is fixed width so stored instants compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements lending.Store using SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex
}

var _ lending.Store = (*Store)(nil)

// New opens (creating if needed) the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{queries: queries{db: db}, db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(lending.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries: queries{db: sqlTx}}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Reset deletes every record. Used by the demo scenario loader.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// payments first: they reference loans
	tables := []string{"payments", "loans", "clients", "finance_entries", "route_collectors", "routes"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

type txStore struct {
	queries
}

// WithTx joins the surrounding transaction.
func (ts *txStore) WithTx(_ context.Context, fn func(lending.Store) error) error {
	return fn(ts)
}

// =============================================================================
// QUERIES
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

// -----------------------------------------------------------------------------
// Loans
// -----------------------------------------------------------------------------

const loanColumns = `id, created_by, client_id, client_name, client_document, loan_amount, interest,
	installments, installment_value, balance, start_date, finish_date, terminated, route, position, description`

// SaveLoan upserts in place; a REPLACE would delete the row its payments
// reference.
func (q queries) SaveLoan(ctx context.Context, l lending.Loan) error {
	var finish sql.NullString
	if l.FinishDate != nil {
		finish = sql.NullString{String: formatTime(*l.FinishDate), Valid: true}
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_by = excluded.created_by,
			client_id = excluded.client_id,
			client_name = excluded.client_name,
			client_document = excluded.client_document,
			loan_amount = excluded.loan_amount,
			interest = excluded.interest,
			installments = excluded.installments,
			installment_value = excluded.installment_value,
			balance = excluded.balance,
			start_date = excluded.start_date,
			finish_date = excluded.finish_date,
			terminated = excluded.terminated,
			route = excluded.route,
			position = excluded.position,
			description = excluded.description`,
		l.ID,
		l.CreatedBy,
		l.Client.ID,
		l.Client.Name,
		l.Client.Document,
		l.LoanAmount.String(),
		l.Interest,
		l.Installments,
		l.InstallmentValue.String(),
		l.Balance.String(),
		formatTime(l.Date),
		finish,
		l.Terminated,
		l.Route,
		l.Position,
		l.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to save loan: %w", err)
	}
	return nil
}

func (q queries) GetLoan(ctx context.Context, id lending.LoanID) (*lending.Loan, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id)
	l, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return &l, nil
}

func (q queries) ListLoans(ctx context.Context, f lending.LoanFilter) ([]lending.Loan, error) {
	var w where
	w.scope("created_by", f.Scope)
	w.eq("route", string(f.Route), f.Route != "")
	w.eq("client_id", string(f.ClientID), f.ClientID != "")
	w.dateRange("start_date", f.Started)

	rows, err := q.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans`+w.String()+` ORDER BY position, start_date, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []lending.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

func (q queries) DeleteLoan(ctx context.Context, id lending.LoanID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM loans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrLoanNotFound
	}
	return nil
}

func (q queries) ShiftRoute(ctx context.Context, route lending.RouteID, from, to, delta int) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE loans SET position = position + ?
		WHERE route = ? AND position >= ? AND (? < 0 OR position <= ?)`,
		delta, route, from, to, to)
	if err != nil {
		return fmt.Errorf("failed to shift route %s: %w", route, err)
	}
	return nil
}

func (q queries) LastPosition(ctx context.Context, route lending.RouteID) (int, error) {
	var last int
	err := q.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) FROM loans WHERE route = ?`, route).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("failed to read last position: %w", err)
	}
	return last, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLoan(row scanner) (lending.Loan, error) {
	var (
		l                                 lending.Loan
		amount, value, balance, startDate string
		finish                            sql.NullString
	)
	err := row.Scan(
		&l.ID,
		&l.CreatedBy,
		&l.Client.ID,
		&l.Client.Name,
		&l.Client.Document,
		&amount,
		&l.Interest,
		&l.Installments,
		&value,
		&balance,
		&startDate,
		&finish,
		&l.Terminated,
		&l.Route,
		&l.Position,
		&l.Description,
	)
	if err != nil {
		return l, err
	}

	l.LoanAmount = generic.ParseAmount(amount)
	l.InstallmentValue = generic.ParseAmount(value)
	l.Balance = generic.ParseAmount(balance)
	l.Date = parseTime(startDate)
	if finish.Valid {
		t := parseTime(finish.String)
		l.FinishDate = &t
	}
	return l, nil
}

// -----------------------------------------------------------------------------
// Payments
// -----------------------------------------------------------------------------

const paymentColumns = `id, loan_id, client_id, client_name, client_document, created_by, amount, paid_at`

func (q queries) SavePayment(ctx context.Context, p lending.Payment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.LoanID,
		p.Client.ID,
		p.Client.Name,
		p.Client.Document,
		p.CreatedBy,
		p.Amount.String(),
		formatTime(p.Date),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return generic.ErrLoanNotFound
		}
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

func (q queries) GetPayment(ctx context.Context, id lending.PaymentID) (*lending.Payment, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

func (q queries) ListPayments(ctx context.Context, f lending.PaymentFilter) ([]lending.Payment, error) {
	var w where
	w.scope("created_by", f.Scope)
	w.eq("loan_id", string(f.LoanID), f.LoanID != "")
	w.dateRange("paid_at", f.Paid)

	rows, err := q.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments`+w.String()+` ORDER BY paid_at, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []lending.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (q queries) DeletePayment(ctx context.Context, id lending.PaymentID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM payments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrPaymentNotFound
	}
	return nil
}

func (q queries) DeletePaymentsByLoan(ctx context.Context, loanID lending.LoanID) (int, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM payments WHERE loan_id = ?`, loanID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete payments of loan %s: %w", loanID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanPayment(row scanner) (lending.Payment, error) {
	var (
		p              lending.Payment
		amount, paidAt string
	)
	err := row.Scan(
		&p.ID,
		&p.LoanID,
		&p.Client.ID,
		&p.Client.Name,
		&p.Client.Document,
		&p.CreatedBy,
		&amount,
		&paidAt,
	)
	if err != nil {
		return p, err
	}
	p.Amount = generic.ParseAmount(amount)
	p.Date = parseTime(paidAt)
	return p, nil
}

// -----------------------------------------------------------------------------
// Clients
// -----------------------------------------------------------------------------

func (q queries) SaveClient(ctx context.Context, c lending.Client) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO clients (id, name, document, favorite, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Document, c.Favorite, c.CreatedBy, formatTime(c.Date))
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

func (q queries) GetClient(ctx context.Context, id lending.ClientID) (*lending.Client, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, name, document, favorite, created_by, created_at FROM clients WHERE id = ?`, id)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &c, nil
}

func (q queries) ListClients(ctx context.Context, f lending.ClientFilter) ([]lending.Client, error) {
	var w where
	w.scope("created_by", f.Scope)
	w.dateRange("created_at", f.Created)

	rows, err := q.db.QueryContext(ctx,
		`SELECT id, name, document, favorite, created_by, created_at FROM clients`+w.String()+` ORDER BY name, id`,
		w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []lending.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func scanClient(row scanner) (lending.Client, error) {
	var (
		c         lending.Client
		createdAt string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Document, &c.Favorite, &c.CreatedBy, &createdAt); err != nil {
		return c, err
	}
	c.Date = parseTime(createdAt)
	return c, nil
}

// -----------------------------------------------------------------------------
// Finance entries
// -----------------------------------------------------------------------------

func (q queries) SaveFinanceEntry(ctx context.Context, e lending.FinanceEntry) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO finance_entries (id, kind, amount, description, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Amount.String(), e.Description, e.CreatedBy, formatTime(e.Date))
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", e.Kind, err)
	}
	return nil
}

func (q queries) ListFinanceEntries(ctx context.Context, scope lending.Scope, kind lending.FinanceKind) ([]lending.FinanceEntry, error) {
	var w where
	w.eq("kind", string(kind), true)
	w.scope("created_by", scope)

	rows, err := q.db.QueryContext(ctx,
		`SELECT id, kind, amount, description, created_by, created_at FROM finance_entries`+w.String()+
			` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	defer rows.Close()

	var entries []lending.FinanceEntry
	for rows.Next() {
		var (
			e                 lending.FinanceEntry
			amount, createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &amount, &e.Description, &e.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		e.Amount = generic.ParseAmount(amount)
		e.Date = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SumFinance adds the entries in Go; SQLite's SUM would go through floats.
func (q queries) SumFinance(ctx context.Context, scope lending.Scope, kind lending.FinanceKind) (generic.Amount, error) {
	entries, err := q.ListFinanceEntries(ctx, scope, kind)
	if err != nil {
		return generic.Amount{}, err
	}
	var total generic.Amount
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total, nil
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

// SaveRoute upserts the route row and rewrites its collector list. Run it
// inside WithTx when both writes must land together.
func (q queries) SaveRoute(ctx context.Context, r lending.Route) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO routes (id, name, description, default_order, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			default_order = excluded.default_order,
			created_by = excluded.created_by,
			created_at = excluded.created_at`,
		r.ID, r.Name, r.Description, r.DefaultOrder, r.CreatedBy, formatTime(r.Date))
	if err != nil {
		return fmt.Errorf("failed to save route: %w", err)
	}

	if _, err := q.db.ExecContext(ctx, `DELETE FROM route_collectors WHERE route_id = ?`, r.ID); err != nil {
		return fmt.Errorf("failed to clear route collectors: %w", err)
	}
	for i, op := range r.Collectors {
		_, err := q.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO route_collectors (route_id, collector, seq) VALUES (?, ?, ?)`,
			r.ID, op, i)
		if err != nil {
			return fmt.Errorf("failed to assign collector %s: %w", op, err)
		}
	}
	return nil
}

const routeColumns = `id, name, description, default_order, created_by, created_at`

func (q queries) GetRoute(ctx context.Context, id lending.RouteID) (*lending.Route, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = ?`, id)
	r, err := scanRoute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrRouteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get route: %w", err)
	}
	if r.Collectors, err = q.routeCollectors(ctx, r.ID); err != nil {
		return nil, err
	}
	return &r, nil
}

func (q queries) ListRoutes(ctx context.Context, f lending.RouteFilter) ([]lending.Route, error) {
	var w where
	w.scope("created_by", f.Scope)
	w.raw("id IN (SELECT route_id FROM route_collectors WHERE collector = ?)", string(f.Collector), f.Collector != "")

	rows, err := q.db.QueryContext(ctx,
		`SELECT `+routeColumns+` FROM routes`+w.String()+` ORDER BY default_order, name, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}

	var routes []lending.Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		routes = append(routes, r)
	}
	// release the connection before the collector queries; an in-memory
	// database has only one
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}

	for i := range routes {
		if routes[i].Collectors, err = q.routeCollectors(ctx, routes[i].ID); err != nil {
			return nil, err
		}
	}
	return routes, nil
}

func (q queries) DeleteRoute(ctx context.Context, id lending.RouteID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM routes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete route: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrRouteNotFound
	}
	return nil
}

func (q queries) routeCollectors(ctx context.Context, id lending.RouteID) ([]lending.OperatorID, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT collector FROM route_collectors WHERE route_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list route collectors: %w", err)
	}
	defer rows.Close()

	collectors := []lending.OperatorID{}
	for rows.Next() {
		var op lending.OperatorID
		if err := rows.Scan(&op); err != nil {
			return nil, fmt.Errorf("failed to scan route collector: %w", err)
		}
		collectors = append(collectors, op)
	}
	return collectors, rows.Err()
}

func scanRoute(row scanner) (lending.Route, error) {
	var (
		r         lending.Route
		createdAt string
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.DefaultOrder, &r.CreatedBy, &createdAt); err != nil {
		return r, err
	}
	r.Date = parseTime(createdAt)
	return r, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// where accumulates AND-ed conditions and their arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) eq(column string, value any, when bool) {
	if !when {
		return
	}
	w.conds = append(w.conds, column+" = ?")
	w.args = append(w.args, value)
}

// raw adds a hand-written condition with a single placeholder.
func (w *where) raw(cond string, arg any, when bool) {
	if !when {
		return
	}
	w.conds = append(w.conds, cond)
	w.args = append(w.args, arg)
}

func (w *where) scope(column string, scope lending.Scope) {
	if len(scope) == 0 {
		return
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(scope)), ", ")
	w.conds = append(w.conds, column+" IN ("+marks+")")
	for _, op := range scope {
		w.args = append(w.args, string(op))
	}
}

func (w *where) dateRange(column string, r lending.DateRange) {
	if r.From != nil {
		w.conds = append(w.conds, column+" >= ?")
		w.args = append(w.args, formatTime(*r.From))
	}
	if r.To != nil {
		w.conds = append(w.conds, column+" <= ?")
		w.args = append(w.args, formatTime(*r.To))
	}
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
