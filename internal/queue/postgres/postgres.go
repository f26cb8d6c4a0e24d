package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/queue"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store keeps the pending-sale queue in postgres. Used by back-office
// deployments where several tills share one database host; the semantics
// match the sqlite store.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
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

	dbDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "pgx", dbDriver)
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
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
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
		WHERE local_id = $1
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
		WHERE status = $1
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
		SET status = $1, attempts = attempts + 1, updated_at = now()
		WHERE local_id = $2 AND status = $3
	`, string(domain.StatusSyncing), localID, string(domain.StatusQueued))
	if err != nil {
		return err
	}
	return s.checkMarked(ctx, res, localID)
}

func (s *Store) MarkSynced(ctx context.Context, localID int64, invoiceNumber string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_sales
		SET status = $1, retryable = FALSE, last_error = '', invoice_number = $2, updated_at = now()
		WHERE local_id = $3 AND status = $4
	`, string(domain.StatusSynced), invoiceNumber, localID, string(domain.StatusSyncing))
	if err != nil {
		return err
	}
	return s.checkMarked(ctx, res, localID)
}

func (s *Store) MarkFailed(ctx context.Context, localID int64, reason string, retryable bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_sales
		SET status = $1, retryable = $2, last_error = $3, updated_at = now()
		WHERE local_id = $4 AND status = $5
	`, string(domain.StatusFailed), retryable, reason, localID, string(domain.StatusSyncing))
	if err != nil {
		return err
	}
	return s.checkMarked(ctx, res, localID)
}

func (s *Store) Requeue(ctx context.Context, localID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_sales
		SET status = $1, retryable = TRUE, updated_at = now()
		WHERE local_id = $2 AND status IN ($3, $4)
	`, string(domain.StatusQueued), localID, string(domain.StatusSyncing), string(domain.StatusFailed))
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
		WHERE status = $1 AND updated_at < $2
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
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
