/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements fieldwork.TxStore, billing.Store, and fieldwork.AuditSink
  using SQLite. In production the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  trainees / supervisors:  profile records
  independent_hours:       independent ledger entries
  supervised_hours:        supervised ledger entries (approval lifecycle)
  payment_aggregates:      one row per (supervisor, trainee, month)
  invoices:                one row per (trainee, month)
  trainee_payments:        recorded client payments
  audit_log:               append-only transition trail

CONSTRAINTS:
  - payment_aggregates and invoices carry UNIQUE keys so derived state
    cannot fork into duplicate rows
  - hour entries REFERENCE trainees; trainees with entries cannot be
    hard-deleted
  - hours must be positive (CHECK)

CONCURRENCY:
  A sync.RWMutex serializes writers on top of SQLite's single-writer
  model. WithTx holds the write lock for the whole unit of work, so a
  concurrent submission cannot read the monthly total between another
  unit's cap check and insert, and concurrent approvals touching the same
  aggregate row serialize their increments.

WAL MODE:
  Opened with WAL (Write-Ahead Logging) for better read concurrency and
  crash recovery.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/fieldwork-engine/billing"
	"github.com/warp/fieldwork-engine/fieldwork"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Interface checks.
var (
	_ fieldwork.TxStore   = (*Store)(nil)
	_ billing.Store       = (*Store)(nil)
	_ fieldwork.AuditSink = (*Store)(nil)
)

// New creates a SQLite store at the given path. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS supervisors (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		commission_pct TEXT,
		max_trainees INTEGER DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trainees (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		track TEXT NOT NULL,
		supervisor_id TEXT REFERENCES supervisors(id),
		hourly_rate TEXT NOT NULL DEFAULT '0',
		monthly_cap_override TEXT,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS independent_hours (
		id TEXT PRIMARY KEY,
		trainee_id TEXT NOT NULL REFERENCES trainees(id),
		date TEXT NOT NULL,
		start_time TEXT NOT NULL,
		hours TEXT NOT NULL,
		setting TEXT NOT NULL,
		activity TEXT NOT NULL,
		notes TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		reject_reason TEXT,
		created_at TEXT NOT NULL,
		CHECK (CAST(hours AS REAL) > 0)
	);

	CREATE INDEX IF NOT EXISTS idx_independent_trainee_date
		ON independent_hours(trainee_id, date);

	CREATE TABLE IF NOT EXISTS supervised_hours (
		id TEXT PRIMARY KEY,
		trainee_id TEXT NOT NULL REFERENCES trainees(id),
		supervisor_id TEXT NOT NULL REFERENCES supervisors(id),
		date TEXT NOT NULL,
		start_time TEXT NOT NULL,
		hours TEXT NOT NULL,
		setting TEXT NOT NULL,
		activity TEXT NOT NULL,
		format TEXT NOT NULL DEFAULT 'INDIVIDUAL',
		notes TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		amount_billed TEXT,
		supervisor_pay TEXT,
		reject_reason TEXT,
		created_at TEXT NOT NULL,
		CHECK (CAST(hours AS REAL) > 0)
	);

	CREATE INDEX IF NOT EXISTS idx_supervised_trainee_date
		ON supervised_hours(trainee_id, date);
	CREATE INDEX IF NOT EXISTS idx_supervised_status
		ON supervised_hours(status);

	-- Derived financial state: one row per (supervisor, trainee, month).
	CREATE TABLE IF NOT EXISTS payment_aggregates (
		supervisor_id TEXT NOT NULL REFERENCES supervisors(id),
		trainee_id TEXT NOT NULL REFERENCES trainees(id),
		month TEXT NOT NULL,
		amount_due TEXT NOT NULL DEFAULT '0',
		balance_due TEXT NOT NULL DEFAULT '0',
		paid_this_month TEXT NOT NULL DEFAULT '0',
		total_paid TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (supervisor_id, trainee_id, month),
		CHECK (CAST(balance_due AS REAL) >= 0)
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		trainee_id TEXT NOT NULL REFERENCES trainees(id),
		month TEXT NOT NULL,
		amount_due TEXT NOT NULL,
		amount_paid TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'DRAFT',
		issued_at TEXT NOT NULL,
		sent_at TEXT,
		paid_at TEXT,
		UNIQUE (trainee_id, month)
	);

	CREATE TABLE IF NOT EXISTS trainee_payments (
		id TEXT PRIMARY KEY,
		trainee_id TEXT NOT NULL REFERENCES trainees(id),
		invoice_id TEXT,
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		notes TEXT
	);

	-- Append-only. No UPDATE, no DELETE.
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at TEXT NOT NULL,
		actor_id TEXT,
		entity TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		before_json TEXT,
		after_json TEXT
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithTx executes fn within a database transaction, holding the write lock
// for the whole unit of work.
func (s *Store) WithTx(ctx context.Context, fn func(fieldwork.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every operation through the open *sql.Tx. It must not
// call back into the parent's locked methods.
type txStore struct {
	tx *sql.Tx
}

var (
	_ fieldwork.Store = (*txStore)(nil)
	_ billing.Store   = (*txStore)(nil)
)

// =============================================================================
// PROFILE STORE
// =============================================================================

func (s *Store) TraineeByID(ctx context.Context, id fieldwork.TraineeID) (*fieldwork.TraineeProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return traineeBy(ctx, s.db, "id = ?", string(id))
}

func (s *Store) TraineeByUser(ctx context.Context, userID fieldwork.UserID) (*fieldwork.TraineeProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return traineeBy(ctx, s.db, "user_id = ?", string(userID))
}

func (ts *txStore) TraineeByID(ctx context.Context, id fieldwork.TraineeID) (*fieldwork.TraineeProfile, error) {
	return traineeBy(ctx, ts.tx, "id = ?", string(id))
}

func (ts *txStore) TraineeByUser(ctx context.Context, userID fieldwork.UserID) (*fieldwork.TraineeProfile, error) {
	return traineeBy(ctx, ts.tx, "user_id = ?", string(userID))
}

func traineeBy(ctx context.Context, db dbtx, where string, arg any) (*fieldwork.TraineeProfile, error) {
	query := `
		SELECT id, user_id, name, track, supervisor_id, hourly_rate,
		       monthly_cap_override, status, created_at
		FROM trainees WHERE ` + where

	var t fieldwork.TraineeProfile
	var supervisorID sql.NullString
	var rate string
	var capOverride sql.NullString
	var createdAt string

	err := db.QueryRowContext(ctx, query, arg).Scan(
		&t.ID, &t.UserID, &t.Name, &t.Track, &supervisorID, &rate,
		&capOverride, &t.Status, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, fieldwork.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trainee: %w", err)
	}

	t.SupervisorID = fieldwork.SupervisorID(supervisorID.String)
	t.HourlyRate = mustDecimal(rate)
	if capOverride.Valid {
		d := mustDecimal(capOverride.String)
		t.MonthlyCapOverride = &d
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &t, nil
}

func (s *Store) SupervisorByID(ctx context.Context, id fieldwork.SupervisorID) (*fieldwork.SupervisorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return supervisorBy(ctx, s.db, "id = ?", string(id))
}

func (s *Store) SupervisorByUser(ctx context.Context, userID fieldwork.UserID) (*fieldwork.SupervisorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return supervisorBy(ctx, s.db, "user_id = ?", string(userID))
}

func (ts *txStore) SupervisorByID(ctx context.Context, id fieldwork.SupervisorID) (*fieldwork.SupervisorProfile, error) {
	return supervisorBy(ctx, ts.tx, "id = ?", string(id))
}

func (ts *txStore) SupervisorByUser(ctx context.Context, userID fieldwork.UserID) (*fieldwork.SupervisorProfile, error) {
	return supervisorBy(ctx, ts.tx, "user_id = ?", string(userID))
}

func supervisorBy(ctx context.Context, db dbtx, where string, arg any) (*fieldwork.SupervisorProfile, error) {
	query := `
		SELECT id, user_id, name, commission_pct, max_trainees, created_at
		FROM supervisors WHERE ` + where

	var sp fieldwork.SupervisorProfile
	var pct sql.NullString
	var createdAt string

	err := db.QueryRowContext(ctx, query, arg).Scan(
		&sp.ID, &sp.UserID, &sp.Name, &pct, &sp.MaxTrainees, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, fieldwork.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load supervisor: %w", err)
	}

	if pct.Valid {
		d := mustDecimal(pct.String)
		sp.CommissionPct = &d
	}
	sp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &sp, nil
}

func (s *Store) SaveTrainee(ctx context.Context, t *fieldwork.TraineeProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveTrainee(ctx, s.db, t)
}

func (ts *txStore) SaveTrainee(ctx context.Context, t *fieldwork.TraineeProfile) error {
	return saveTrainee(ctx, ts.tx, t)
}

func saveTrainee(ctx context.Context, db dbtx, t *fieldwork.TraineeProfile) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	var capOverride any
	if t.MonthlyCapOverride != nil {
		capOverride = t.MonthlyCapOverride.String()
	}
	query := `
		INSERT INTO trainees (id, user_id, name, track, supervisor_id, hourly_rate,
		                      monthly_cap_override, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			track = excluded.track,
			supervisor_id = excluded.supervisor_id,
			hourly_rate = excluded.hourly_rate,
			monthly_cap_override = excluded.monthly_cap_override,
			status = excluded.status
	`
	_, err := db.ExecContext(ctx, query,
		t.ID, t.UserID, t.Name, t.Track,
		nullString(string(t.SupervisorID)), t.HourlyRate.String(),
		capOverride, t.Status, t.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save trainee: %w", err)
	}
	return nil
}

func (s *Store) SaveSupervisor(ctx context.Context, sp *fieldwork.SupervisorProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveSupervisor(ctx, s.db, sp)
}

func (ts *txStore) SaveSupervisor(ctx context.Context, sp *fieldwork.SupervisorProfile) error {
	return saveSupervisor(ctx, ts.tx, sp)
}

func saveSupervisor(ctx context.Context, db dbtx, sp *fieldwork.SupervisorProfile) error {
	if sp.CreatedAt.IsZero() {
		sp.CreatedAt = time.Now().UTC()
	}
	var pct any
	if sp.CommissionPct != nil {
		pct = sp.CommissionPct.String()
	}
	query := `
		INSERT INTO supervisors (id, user_id, name, commission_pct, max_trainees, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			commission_pct = excluded.commission_pct,
			max_trainees = excluded.max_trainees
	`
	_, err := db.ExecContext(ctx, query,
		sp.ID, sp.UserID, sp.Name, pct, sp.MaxTrainees,
		sp.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save supervisor: %w", err)
	}
	return nil
}

func (s *Store) DeleteTrainee(ctx context.Context, id fieldwork.TraineeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteTrainee(ctx, s.db, id)
}

func (ts *txStore) DeleteTrainee(ctx context.Context, id fieldwork.TraineeID) error {
	return deleteTrainee(ctx, ts.tx, id)
}

func deleteTrainee(ctx context.Context, db dbtx, id fieldwork.TraineeID) error {
	var refs int
	err := db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM independent_hours WHERE trainee_id = ?) +
		       (SELECT COUNT(*) FROM supervised_hours WHERE trainee_id = ?)`,
		string(id), string(id),
	).Scan(&refs)
	if err != nil {
		return fmt.Errorf("failed to count entries: %w", err)
	}
	if refs > 0 {
		return fieldwork.ErrTraineeReferenced
	}

	res, err := db.ExecContext(ctx, "DELETE FROM trainees WHERE id = ?", string(id))
	if err != nil {
		return fmt.Errorf("failed to delete trainee: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fieldwork.ErrProfileNotFound
	}
	return nil
}

func (s *Store) ActiveTrainees(ctx context.Context) ([]fieldwork.TraineeProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeTrainees(ctx, s.db)
}

func (ts *txStore) ActiveTrainees(ctx context.Context) ([]fieldwork.TraineeProfile, error) {
	return activeTrainees(ctx, ts.tx)
}

func activeTrainees(ctx context.Context, db dbtx) ([]fieldwork.TraineeProfile, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id FROM trainees WHERE status = 'ACTIVE' ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list trainees: %w", err)
	}
	defer rows.Close()

	var ids []fieldwork.TraineeID
	for rows.Next() {
		var id fieldwork.TraineeID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []fieldwork.TraineeProfile
	for _, id := range ids {
		t, err := traineeBy(ctx, db, "id = ?", string(id))
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

// =============================================================================
// ENTRY STORE
// =============================================================================

func (s *Store) InsertIndependent(ctx context.Context, e *fieldwork.IndependentHourEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertIndependent(ctx, s.db, e)
}

func (ts *txStore) InsertIndependent(ctx context.Context, e *fieldwork.IndependentHourEntry) error {
	return insertIndependent(ctx, ts.tx, e)
}

func insertIndependent(ctx context.Context, db dbtx, e *fieldwork.IndependentHourEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO independent_hours
		(id, trainee_id, date, start_time, hours, setting, activity, notes, status, reject_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TraineeID, e.Date.Format(time.RFC3339), e.StartTime.Format(time.RFC3339),
		e.Hours.String(), e.Setting, e.Activity, e.Notes, e.Status,
		nullString(e.RejectReason), e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert independent entry: %w", err)
	}
	return nil
}

func (s *Store) InsertSupervised(ctx context.Context, e *fieldwork.SupervisedHourEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertSupervised(ctx, s.db, e)
}

func (ts *txStore) InsertSupervised(ctx context.Context, e *fieldwork.SupervisedHourEntry) error {
	return insertSupervised(ctx, ts.tx, e)
}

func insertSupervised(ctx context.Context, db dbtx, e *fieldwork.SupervisedHourEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO supervised_hours
		(id, trainee_id, supervisor_id, date, start_time, hours, setting, activity,
		 format, notes, status, amount_billed, supervisor_pay, reject_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TraineeID, e.SupervisorID,
		e.Date.Format(time.RFC3339), e.StartTime.Format(time.RFC3339),
		e.Hours.String(), e.Setting, e.Activity, e.Format, e.Notes, e.Status,
		nullDecimal(e.AmountBilled), nullDecimal(e.SupervisorPay),
		nullString(e.RejectReason), e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert supervised entry: %w", err)
	}
	return nil
}

func (s *Store) SupervisedByID(ctx context.Context, id fieldwork.EntryID) (*fieldwork.SupervisedHourEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return supervisedByID(ctx, s.db, id)
}

func (ts *txStore) SupervisedByID(ctx context.Context, id fieldwork.EntryID) (*fieldwork.SupervisedHourEntry, error) {
	return supervisedByID(ctx, ts.tx, id)
}

const supervisedColumns = `
	id, trainee_id, supervisor_id, date, start_time, hours, setting, activity,
	format, notes, status, amount_billed, supervisor_pay, reject_reason, created_at`

func supervisedByID(ctx context.Context, db dbtx, id fieldwork.EntryID) (*fieldwork.SupervisedHourEntry, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT"+supervisedColumns+" FROM supervised_hours WHERE id = ?", string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load supervised entry: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fieldwork.ErrNotFound
	}
	e, err := scanSupervised(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) UpdateSupervised(ctx context.Context, e *fieldwork.SupervisedHourEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateSupervised(ctx, s.db, e)
}

func (ts *txStore) UpdateSupervised(ctx context.Context, e *fieldwork.SupervisedHourEntry) error {
	return updateSupervised(ctx, ts.tx, e)
}

// updateSupervised touches only the lifecycle columns; the recorded hours
// themselves are immutable.
func updateSupervised(ctx context.Context, db dbtx, e *fieldwork.SupervisedHourEntry) error {
	res, err := db.ExecContext(ctx, `
		UPDATE supervised_hours
		SET status = ?, amount_billed = ?, supervisor_pay = ?, reject_reason = ?
		WHERE id = ?`,
		e.Status, nullDecimal(e.AmountBilled), nullDecimal(e.SupervisorPay),
		nullString(e.RejectReason), e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update supervised entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fieldwork.ErrNotFound
	}
	return nil
}

func (s *Store) MonthlyHours(ctx context.Context, traineeID fieldwork.TraineeID, m fieldwork.Month) (fieldwork.MonthlyHours, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return monthlyHours(ctx, s.db, traineeID, m)
}

func (ts *txStore) MonthlyHours(ctx context.Context, traineeID fieldwork.TraineeID, m fieldwork.Month) (fieldwork.MonthlyHours, error) {
	return monthlyHours(ctx, ts.tx, traineeID, m)
}

func monthlyHours(ctx context.Context, db dbtx, traineeID fieldwork.TraineeID, m fieldwork.Month) (fieldwork.MonthlyHours, error) {
	hrs := fieldwork.MonthlyHours{Total: decimal.Zero, Restricted: decimal.Zero}

	from := m.Start().Format(time.RFC3339)
	to := m.Next().Start().Format(time.RFC3339)

	for _, table := range []string{"independent_hours", "supervised_hours"} {
		rows, err := db.QueryContext(ctx,
			"SELECT hours, activity FROM "+table+
				" WHERE trainee_id = ? AND date >= ? AND date < ?",
			string(traineeID), from, to)
		if err != nil {
			return hrs, fmt.Errorf("failed to sum monthly hours: %w", err)
		}
		for rows.Next() {
			var hours, activity string
			if err := rows.Scan(&hours, &activity); err != nil {
				rows.Close()
				return hrs, err
			}
			d := mustDecimal(hours)
			hrs.Total = hrs.Total.Add(d)
			if fieldwork.ActivityCategory(activity) == fieldwork.ActivityRestricted {
				hrs.Restricted = hrs.Restricted.Add(d)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return hrs, err
		}
		rows.Close()
	}
	return hrs, nil
}

func (s *Store) SupervisedForMonth(ctx context.Context, traineeID fieldwork.TraineeID, m fieldwork.Month, status fieldwork.EntryStatus) ([]fieldwork.SupervisedHourEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return supervisedForMonth(ctx, s.db, traineeID, m, status)
}

func (ts *txStore) SupervisedForMonth(ctx context.Context, traineeID fieldwork.TraineeID, m fieldwork.Month, status fieldwork.EntryStatus) ([]fieldwork.SupervisedHourEntry, error) {
	return supervisedForMonth(ctx, ts.tx, traineeID, m, status)
}

func supervisedForMonth(ctx context.Context, db dbtx, traineeID fieldwork.TraineeID, m fieldwork.Month, status fieldwork.EntryStatus) ([]fieldwork.SupervisedHourEntry, error) {
	query := "SELECT" + supervisedColumns + ` FROM supervised_hours
		WHERE trainee_id = ? AND date >= ? AND date < ?`
	args := []any{
		string(traineeID),
		m.Start().Format(time.RFC3339),
		m.Next().Start().Format(time.RFC3339),
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY date ASC, created_at ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query supervised entries: %w", err)
	}
	defer rows.Close()

	var out []fieldwork.SupervisedHourEntry
	for rows.Next() {
		e, err := scanSupervised(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanSupervised(rows *sql.Rows) (fieldwork.SupervisedHourEntry, error) {
	var e fieldwork.SupervisedHourEntry
	var date, startTime, hours, createdAt string
	var notes, amountBilled, supervisorPay, rejectReason sql.NullString

	err := rows.Scan(
		&e.ID, &e.TraineeID, &e.SupervisorID, &date, &startTime, &hours,
		&e.Setting, &e.Activity, &e.Format, &notes, &e.Status,
		&amountBilled, &supervisorPay, &rejectReason, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan supervised entry: %w", err)
	}

	e.Date, _ = time.Parse(time.RFC3339, date)
	e.StartTime, _ = time.Parse(time.RFC3339, startTime)
	e.Hours = mustDecimal(hours)
	e.Notes = notes.String
	if amountBilled.Valid {
		d := mustDecimal(amountBilled.String)
		e.AmountBilled = &d
	}
	if supervisorPay.Valid {
		d := mustDecimal(supervisorPay.String)
		e.SupervisorPay = &d
	}
	e.RejectReason = rejectReason.String
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return e, nil
}

// =============================================================================
// AGGREGATE STORE
// =============================================================================

func (s *Store) Aggregate(ctx context.Context, supervisorID fieldwork.SupervisorID, traineeID fieldwork.TraineeID, m fieldwork.Month) (*fieldwork.MonthlyPaymentAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadAggregate(ctx, s.db, supervisorID, traineeID, m)
}

func (ts *txStore) Aggregate(ctx context.Context, supervisorID fieldwork.SupervisorID, traineeID fieldwork.TraineeID, m fieldwork.Month) (*fieldwork.MonthlyPaymentAggregate, error) {
	return loadAggregate(ctx, ts.tx, supervisorID, traineeID, m)
}

func loadAggregate(ctx context.Context, db dbtx, supervisorID fieldwork.SupervisorID, traineeID fieldwork.TraineeID, m fieldwork.Month) (*fieldwork.MonthlyPaymentAggregate, error) {
	var a fieldwork.MonthlyPaymentAggregate
	var month, amountDue, balanceDue, paidMonth, totalPaid, updatedAt string

	err := db.QueryRowContext(ctx, `
		SELECT supervisor_id, trainee_id, month, amount_due, balance_due,
		       paid_this_month, total_paid, updated_at
		FROM payment_aggregates
		WHERE supervisor_id = ? AND trainee_id = ? AND month = ?`,
		string(supervisorID), string(traineeID), m.String(),
	).Scan(&a.SupervisorID, &a.TraineeID, &month, &amountDue, &balanceDue,
		&paidMonth, &totalPaid, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fieldwork.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load aggregate: %w", err)
	}

	a.Month, _ = fieldwork.ParseMonth(month)
	a.AmountDue = mustDecimal(amountDue)
	a.BalanceDue = mustDecimal(balanceDue)
	a.PaidThisMonth = mustDecimal(paidMonth)
	a.TotalPaid = mustDecimal(totalPaid)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}

func (s *Store) UpsertAggregate(ctx context.Context, a *fieldwork.MonthlyPaymentAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertAggregate(ctx, s.db, a)
}

func (ts *txStore) UpsertAggregate(ctx context.Context, a *fieldwork.MonthlyPaymentAggregate) error {
	return upsertAggregate(ctx, ts.tx, a)
}

func upsertAggregate(ctx context.Context, db dbtx, a *fieldwork.MonthlyPaymentAggregate) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO payment_aggregates
		(supervisor_id, trainee_id, month, amount_due, balance_due, paid_this_month, total_paid, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(supervisor_id, trainee_id, month) DO UPDATE SET
			amount_due = excluded.amount_due,
			balance_due = excluded.balance_due,
			paid_this_month = excluded.paid_this_month,
			total_paid = excluded.total_paid,
			updated_at = excluded.updated_at`,
		a.SupervisorID, a.TraineeID, a.Month.String(),
		a.AmountDue.String(), a.BalanceDue.String(),
		a.PaidThisMonth.String(), a.TotalPaid.String(),
		a.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert aggregate: %w", err)
	}
	return nil
}

func (s *Store) AggregatesForSupervisor(ctx context.Context, supervisorID fieldwork.SupervisorID, m fieldwork.Month) ([]fieldwork.MonthlyPaymentAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return aggregatesForSupervisor(ctx, s.db, supervisorID, m)
}

func (ts *txStore) AggregatesForSupervisor(ctx context.Context, supervisorID fieldwork.SupervisorID, m fieldwork.Month) ([]fieldwork.MonthlyPaymentAggregate, error) {
	return aggregatesForSupervisor(ctx, ts.tx, supervisorID, m)
}

func aggregatesForSupervisor(ctx context.Context, db dbtx, supervisorID fieldwork.SupervisorID, m fieldwork.Month) ([]fieldwork.MonthlyPaymentAggregate, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT trainee_id FROM payment_aggregates
		WHERE supervisor_id = ? AND month = ? ORDER BY trainee_id`,
		string(supervisorID), m.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}
	defer rows.Close()

	var traineeIDs []fieldwork.TraineeID
	for rows.Next() {
		var id fieldwork.TraineeID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		traineeIDs = append(traineeIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []fieldwork.MonthlyPaymentAggregate
	for _, id := range traineeIDs {
		a, err := loadAggregate(ctx, db, supervisorID, id, m)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

// =============================================================================
// INVOICE STORE (billing.Store)
// =============================================================================

func (s *Store) InvoiceByID(ctx context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return invoiceBy(ctx, s.db, "id = ?", string(id))
}

func (ts *txStore) InvoiceByID(ctx context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	return invoiceBy(ctx, ts.tx, "id = ?", string(id))
}

func (s *Store) InvoiceForMonth(ctx context.Context, traineeID fieldwork.TraineeID, m fieldwork.Month) (*billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return invoiceBy(ctx, s.db, "trainee_id = ? AND month = ?", string(traineeID), m.String())
}

func (ts *txStore) InvoiceForMonth(ctx context.Context, traineeID fieldwork.TraineeID, m fieldwork.Month) (*billing.Invoice, error) {
	return invoiceBy(ctx, ts.tx, "trainee_id = ? AND month = ?", string(traineeID), m.String())
}

func invoiceBy(ctx context.Context, db dbtx, where string, args ...any) (*billing.Invoice, error) {
	query := `
		SELECT id, trainee_id, month, amount_due, amount_paid, status, issued_at, sent_at, paid_at
		FROM invoices WHERE ` + where

	var inv billing.Invoice
	var month, amountDue, amountPaid, issuedAt string
	var sentAt, paidAt sql.NullString

	err := db.QueryRowContext(ctx, query, args...).Scan(
		&inv.ID, &inv.TraineeID, &month, &amountDue, &amountPaid,
		&inv.Status, &issuedAt, &sentAt, &paidAt,
	)
	if err == sql.ErrNoRows {
		return nil, fieldwork.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}

	inv.Month, _ = fieldwork.ParseMonth(month)
	inv.AmountDue = mustDecimal(amountDue)
	inv.AmountPaid = mustDecimal(amountPaid)
	inv.IssuedAt, _ = time.Parse(time.RFC3339, issuedAt)
	if sentAt.Valid {
		t, _ := time.Parse(time.RFC3339, sentAt.String)
		inv.SentAt = &t
	}
	if paidAt.Valid {
		t, _ := time.Parse(time.RFC3339, paidAt.String)
		inv.PaidAt = &t
	}
	return &inv, nil
}

func (s *Store) InsertInvoice(ctx context.Context, inv *billing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeInvoice(ctx, s.db, inv, true)
}

func (ts *txStore) InsertInvoice(ctx context.Context, inv *billing.Invoice) error {
	return writeInvoice(ctx, ts.tx, inv, true)
}

func (s *Store) UpdateInvoice(ctx context.Context, inv *billing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeInvoice(ctx, s.db, inv, false)
}

func (ts *txStore) UpdateInvoice(ctx context.Context, inv *billing.Invoice) error {
	return writeInvoice(ctx, ts.tx, inv, false)
}

func writeInvoice(ctx context.Context, db dbtx, inv *billing.Invoice, insert bool) error {
	if insert {
		_, err := db.ExecContext(ctx, `
			INSERT INTO invoices (id, trainee_id, month, amount_due, amount_paid, status, issued_at, sent_at, paid_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, inv.TraineeID, inv.Month.String(),
			inv.AmountDue.String(), inv.AmountPaid.String(), inv.Status,
			inv.IssuedAt.Format(time.RFC3339), nullTime(inv.SentAt), nullTime(inv.PaidAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert invoice: %w", err)
		}
		return nil
	}

	res, err := db.ExecContext(ctx, `
		UPDATE invoices SET amount_paid = ?, status = ?, sent_at = ?, paid_at = ?
		WHERE id = ?`,
		inv.AmountPaid.String(), inv.Status, nullTime(inv.SentAt), nullTime(inv.PaidAt), inv.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fieldwork.ErrNotFound
	}
	return nil
}

func (s *Store) InsertTraineePayment(ctx context.Context, p *billing.TraineePayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPayment(ctx, s.db, p)
}

func (ts *txStore) InsertTraineePayment(ctx context.Context, p *billing.TraineePayment) error {
	return insertPayment(ctx, ts.tx, p)
}

func insertPayment(ctx context.Context, db dbtx, p *billing.TraineePayment) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO trainee_payments (id, trainee_id, invoice_id, date, amount, method, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TraineeID, nullString(string(p.InvoiceID)),
		p.Date.Format(time.RFC3339), p.Amount.String(), p.Method, p.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// =============================================================================
// AUDIT SINK
// =============================================================================

// Append writes an audit event. Append-only; the engine treats failures
// as non-fatal.
func (s *Store) Append(ctx context.Context, ev fieldwork.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	beforeJSON, _ := json.Marshal(ev.Before)
	afterJSON, _ := json.Marshal(ev.After)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (at, actor_id, entity, entity_id, action, before_json, after_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.At.Format(time.RFC3339), ev.ActorID, ev.Entity, ev.EntityID, ev.Action,
		string(beforeJSON), string(afterJSON),
	)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
