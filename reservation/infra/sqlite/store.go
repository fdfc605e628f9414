// Package sqlite guarda Capacity Store + Ledger de reservas em SQLite.
//
// Cada reserve ou cancel roda em uma transação IMMEDIATE: o lock de escrita é
// pego no BEGIN, então checagem de capacidade, escrita no ledger e contador
// ficam sob o mesmo ponto de serialização. O busy timeout limita a espera por
// esse lock; SQLITE_BUSY vira domain.ErrTransientConflict.
//
// SQLite tem um único escritor por arquivo, então tentativas em recursos
// diferentes também serializam (por pouco tempo) no banco.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"reservation-gateway/reservation/domain"
	"reservation-gateway/reservation/infra/sqlite/migrations"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persiste recursos e reservas no SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open abre o banco e aplica as migrations embutidas.
// busyTimeout limita quanto uma transação espera pelo lock de escrita.
func Open(path string, busyTimeout time.Duration, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	cleanPath := filepath.Clean(path)
	dsn := fmt.Sprintf(
		"file:%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)",
		cleanPath, busyTimeout.Milliseconds(),
	)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{sqlDB: sqlDB, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close fecha o handle do SQLite.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// EnsureResource espelha uma entrada do catálogo. Linha existente não muda.
func (s *Store) EnsureResource(ctx context.Context, id domain.ResourceID, total int) (domain.Resource, error) {
	if err := ctx.Err(); err != nil {
		return domain.Resource{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Resource{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(string(id)) == "" {
		return domain.Resource{}, fmt.Errorf("resource id is required")
	}
	if total < 0 {
		return domain.Resource{}, fmt.Errorf("resource %s: total must be >= 0, got %d", id, total)
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO resources (id, total, filled) VALUES (?, ?, 0)
		 ON CONFLICT (id) DO NOTHING`,
		string(id), total,
	)
	if err != nil {
		return domain.Resource{}, classify(fmt.Errorf("ensure resource: %w", err))
	}
	return s.Resource(ctx, id)
}

// Resource devolve um retrato consultivo do recurso.
func (s *Store) Resource(ctx context.Context, id domain.ResourceID) (domain.Resource, error) {
	if err := ctx.Err(); err != nil {
		return domain.Resource{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Resource{}, fmt.Errorf("storage is not configured")
	}
	return scanResource(s.sqlDB.QueryRowContext(ctx, selectResourceSQL, string(id)))
}

func (s *Store) Reservation(ctx context.Context, id domain.ReservationID) (domain.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Reservation{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Reservation{}, fmt.Errorf("storage is not configured")
	}
	return scanReservation(s.sqlDB.QueryRowContext(ctx, selectReservationSQL+` WHERE id = ?`, string(id)))
}

func (s *Store) ActiveReservation(ctx context.Context, user domain.UserID, resource domain.ResourceID) (domain.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Reservation{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Reservation{}, fmt.Errorf("storage is not configured")
	}
	return scanReservation(s.sqlDB.QueryRowContext(ctx,
		selectReservationSQL+` WHERE user_id = ? AND resource_id = ? AND state = 'ACTIVE'`,
		string(user), string(resource),
	))
}

// InResource roda fn em uma transação IMMEDIATE.
func (s *Store) InResource(ctx context.Context, _ domain.ResourceID, fn func(domain.Tx) error) error {
	return s.inTx(ctx, fn)
}

func (s *Store) InReservation(ctx context.Context, _ domain.ReservationID, fn func(domain.Tx) error) error {
	return s.inTx(ctx, fn)
}

func (s *Store) inTx(ctx context.Context, fn func(domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&tx{tx: sqlTx, now: s.now}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

const selectResourceSQL = `SELECT id, total, filled FROM resources WHERE id = ?`

const selectReservationSQL = `SELECT id, user_id, resource_id, state, created_at, cancelled_at FROM reservations`

type tx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *tx) Resource(ctx context.Context, id domain.ResourceID) (domain.Resource, error) {
	return scanResource(t.tx.QueryRowContext(ctx, selectResourceSQL, string(id)))
}

func (t *tx) Reservation(ctx context.Context, id domain.ReservationID) (domain.Reservation, error) {
	return scanReservation(t.tx.QueryRowContext(ctx, selectReservationSQL+` WHERE id = ?`, string(id)))
}

// TryAdjust é o update condicional: o próprio banco recusa a escrita quando o
// resultado sairia de [0, total].
func (t *tx) TryAdjust(ctx context.Context, id domain.ResourceID, delta int) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE resources
		    SET filled = filled + ?
		  WHERE id = ?
		    AND filled + ? >= 0
		    AND filled + ? <= total`,
		delta, string(id), delta, delta,
	)
	if err != nil {
		return false, classify(fmt.Errorf("adjust resource %s: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("adjust resource %s: %w", id, err)
	}
	if n == 1 {
		return true, nil
	}

	// nenhuma linha: ou o recurso não existe, ou o guarda recusou.
	if _, err := t.Resource(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// TryInsertActive depende do índice único parcial reservations_one_active.
func (t *tx) TryInsertActive(ctx context.Context, r domain.Reservation) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = t.now()
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO reservations (id, user_id, resource_id, state, created_at)
		 VALUES (?, ?, ?, 'ACTIVE', ?)`,
		string(r.ID), string(r.UserID), string(r.ResourceID), toMillis(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyReserved
		}
		if isForeignKeyViolation(err) {
			return domain.ErrResourceNotFound
		}
		return classify(fmt.Errorf("insert reservation: %w", err))
	}
	return nil
}

func (t *tx) MarkCancelled(ctx context.Context, id domain.ReservationID) (domain.Reservation, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE reservations
		    SET state = 'CANCELLED', cancelled_at = ?
		  WHERE id = ? AND state = 'ACTIVE'`,
		toMillis(t.now()), string(id),
	)
	if err != nil {
		return domain.Reservation{}, classify(fmt.Errorf("cancel reservation %s: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("cancel reservation %s: %w", id, err)
	}

	r, err := t.Reservation(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	if n == 0 {
		return domain.Reservation{}, domain.ErrAlreadyCancelled
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (domain.Resource, error) {
	var (
		id            string
		total, filled int
	)
	if err := row.Scan(&id, &total, &filled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Resource{}, domain.ErrResourceNotFound
		}
		return domain.Resource{}, classify(fmt.Errorf("get resource: %w", err))
	}
	return domain.Resource{ID: domain.ResourceID(id), Total: total, Filled: filled}, nil
}

func scanReservation(row rowScanner) (domain.Reservation, error) {
	var (
		id, userID, resourceID, state string
		createdAt                     int64
		cancelledAt                   sql.NullInt64
	)
	if err := row.Scan(&id, &userID, &resourceID, &state, &createdAt, &cancelledAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, classify(fmt.Errorf("get reservation: %w", err))
	}
	r := domain.Reservation{
		ID:         domain.ReservationID(id),
		UserID:     domain.UserID(userID),
		ResourceID: domain.ResourceID(resourceID),
		State:      domain.State(state),
		CreatedAt:  fromMillis(createdAt),
	}
	if cancelledAt.Valid {
		r.CancelledAt = fromMillis(cancelledAt.Int64)
	}
	return r, nil
}

// classify traduz contenção do SQLite para domain.ErrTransientConflict.
func classify(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", domain.ErrTransientConflict, err)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}
