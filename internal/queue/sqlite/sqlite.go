package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	sqlite3 "modernc.org/sqlite"

	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/queue"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the default durable queue backend: a single sqlite file next to
// the terminal binary.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// between the enqueue path and the drain loop.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	srcDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("init iofs: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Enqueue(ctx context.Context, sale domain.PendingSale) (*domain.PendingSale, error) {
	now := time.Now().UTC()
	sale.Status = domain.StatusQueued
	sale.Retryable = true
	sale.Attempts = 0
	sale.LastError = ""
	sale.InvoiceNumber = ""
	sale.CreatedAt = now
	sale.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_sales (local_id, ref, payload, status, retryable, attempts, last_error, invoice_number, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`, sale.LocalID, sale.Ref, []byte(sale.Payload), string(sale.Status), sale.Retryable, sale.Attempts, sale.LastError, sale.InvoiceNumber, sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, queue.ErrDuplicateID
		}
		return nil, fmt.Errorf("insert pending sale: %w", err)
	}

	stored := sale
	return &stored, nil
}

func (s *Store) Get(ctx context.Context, localID int64) (*domain.PendingSale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT local_id, ref, payload, status, retryable, attempts, last_error, invoice_number, created_at, updated_at
		FROM pending_sales
		WHERE local_id = ?
	`, localID)

	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, queue.ErrNotFound
		}
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListByStatus(ctx context.Context, status domain.SaleStatus) ([]domain.PendingSale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, ref, payload, status, retryable, attempts, last_error, invoice_number, created_at, updated_at
		FROM pending_sales
		WHERE status = ?
		ORDER BY local_id
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.PendingSale, 0, 16)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) MarkSyncing(ctx context.Context, localID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_sales
		SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE local_id = ? AND status = ?
	`, string(domain.StatusSyncing), time.Now().UTC(), localID, string(domain.StatusQueued))
	if err != nil {
		return err
	}
	return s.checkMarked(ctx, res, localID)
}

func (s *Store) MarkSynced(ctx context.Context, localID int64, invoiceNumber string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_sales
		SET status = ?, retryable = 0, last_error = '', invoice_number = ?, updated_at = ?
		WHERE local_id = ? AND status = ?
	`, string(domain.StatusSynced), invoiceNumber, time.Now().UTC(), localID, string(domain.StatusSyncing))
	if err != nil {
		return err
	}
	return s.checkMarked(ctx, res, localID)
}

func (s *Store) MarkFailed(ctx context.Context, localID int64, reason string, retryable bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_sales
		SET status = ?, retryable = ?, last_error = ?, updated_at = ?
		WHERE local_id = ? AND status = ?
	`, string(domain.StatusFailed), retryable, reason, time.Now().UTC(), localID, string(domain.StatusSyncing))
	if err != nil {
		return err
	}
	return s.checkMarked(ctx, res, localID)
}

func (s *Store) Requeue(ctx context.Context, localID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_sales
		SET status = ?, retryable = 1, updated_at = ?
		WHERE local_id = ? AND status IN (?, ?)
	`, string(domain.StatusQueued), time.Now().UTC(), localID, string(domain.StatusSyncing), string(domain.StatusFailed))
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	sale, err := s.Get(ctx, localID)
	if err != nil {
		return err
	}
	if sale.Status == domain.StatusQueued {
		return nil
	}
	return queue.ErrBadTransition
}

func (s *Store) Stats(ctx context.Context) (domain.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, retryable, COUNT(*)
		FROM pending_sales
		GROUP BY status, retryable
	`)
	if err != nil {
		return domain.QueueStats{}, err
	}
	defer rows.Close()

	var stats domain.QueueStats
	for rows.Next() {
		var status string
		var retryable bool
		var count int
		if err := rows.Scan(&status, &retryable, &count); err != nil {
			return domain.QueueStats{}, err
		}
		switch domain.SaleStatus(status) {
		case domain.StatusQueued:
			stats.Queued += count
		case domain.StatusSyncing:
			stats.Syncing += count
		case domain.StatusSynced:
			stats.Synced += count
		case domain.StatusFailed:
			if retryable {
				stats.FailedRetryable += count
			} else {
				stats.FailedPermanent += count
			}
		}
	}
	if err := rows.Err(); err != nil {
		return domain.QueueStats{}, err
	}
	return stats, nil
}

func (s *Store) PruneSynced(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_sales
		WHERE status = ? AND updated_at < ?
	`, string(domain.StatusSynced), before.UTC())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// checkMarked turns a zero-row guarded update into the right sentinel.
func (s *Store) checkMarked(ctx context.Context, res sql.Result, localID int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.Get(ctx, localID); err != nil {
		return err
	}
	return queue.ErrBadTransition
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.PendingSale, error) {
	var sale domain.PendingSale
	var payload []byte
	var status string
	if err := row.Scan(&sale.LocalID, &sale.Ref, &payload, &status, &sale.Retryable, &sale.Attempts, &sale.LastError, &sale.InvoiceNumber, &sale.CreatedAt, &sale.UpdatedAt); err != nil {
		return nil, err
	}
	sale.Payload = json.RawMessage(payload)
	sale.Status = domain.SaleStatus(status)
	return &sale, nil
}

func isUniqueViolation(err error) bool {
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		// SQLITE_CONSTRAINT_PRIMARYKEY and SQLITE_CONSTRAINT_UNIQUE.
		return serr.Code() == 1555 || serr.Code() == 2067
	}
	return false
}
