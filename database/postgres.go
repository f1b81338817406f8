package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresStore keeps addresses and delivery logs in PostgreSQL.
type PostgresStore struct {
	db         *sqlx.DB
	addresses  *postgresAddresses
	deliveries *postgresDeliveries
}

// NewPostgresStore wraps an open connection. The schema is expected to be migrated.
func NewPostgresStore(db *sqlx.DB, policy SourcePolicy) *PostgresStore {
	return &PostgresStore{
		db:         db,
		addresses:  &postgresAddresses{db: db, policy: policy},
		deliveries: &postgresDeliveries{db: db},
	}
}

func (s *PostgresStore) Addresses() AddressDirectory { return s.addresses }
func (s *PostgresStore) Deliveries() DeliveryLog     { return s.deliveries }

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close(context.Context) error {
	return s.db.Close()
}

type postgresAddresses struct {
	db     *sqlx.DB
	policy SourcePolicy
}

const upsertOverwriteSQL = `
	INSERT INTO email_addresses (id, email, source, created_at, last_used_at)
	VALUES ($1, $2, $3, $4, $4)
	ON CONFLICT (email) DO UPDATE
	SET source = EXCLUDED.source, last_used_at = EXCLUDED.last_used_at`

const upsertFirstSeenSQL = `
	INSERT INTO email_addresses (id, email, source, created_at, last_used_at)
	VALUES ($1, $2, $3, $4, $4)
	ON CONFLICT (email) DO UPDATE
	SET last_used_at = EXCLUDED.last_used_at`

// Upsert relies on the unique constraint on email, so concurrent calls for one key converge.
func (r *postgresAddresses) Upsert(ctx context.Context, email string, source Source) error {
	query := upsertOverwriteSQL
	if r.policy == SourceFirstSeen {
		query = upsertFirstSeenSQL
	}
	_, err := r.db.ExecContext(ctx, query, uuid.NewString(), NormalizeEmail(email), source, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert email address: %w", err)
	}
	return nil
}

func (r *postgresAddresses) TouchLastUsed(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE email_addresses SET last_used_at = $1 WHERE email = $2",
		time.Now().UTC(), NormalizeEmail(email),
	)
	if err != nil {
		return fmt.Errorf("failed to update last used time: %w", err)
	}
	return nil
}

func (r *postgresAddresses) List(ctx context.Context, filter AddressFilter) ([]AddressRecord, int, error) {
	where := ""
	var args []any
	if filter.Source != "" {
		where = " WHERE source = $1"
		args = append(args, filter.Source)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM email_addresses"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count email addresses: %w", err)
	}

	_, size := filter.normalized()
	query := fmt.Sprintf(
		"SELECT id, email, source, created_at, last_used_at FROM email_addresses%s ORDER BY created_at DESC, email ASC LIMIT $%d OFFSET $%d",
		where, len(args)+1, len(args)+2,
	)
	args = append(args, size, filter.offset())

	records := []AddressRecord{}
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list email addresses: %w", err)
	}
	return records, total, nil
}

type postgresDeliveries struct {
	db *sqlx.DB
}

func (r *postgresDeliveries) Append(ctx context.Context, rec DeliveryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO email_logs (
			id, email, subject, body, status, error_message, has_attachment, attachment_name, created_at
		) VALUES (
			:id, :email, :subject, :body, :status, :error_message, :has_attachment, :attachment_name, :created_at
		)`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to insert email log: %w", err)
	}
	return nil
}

func (r *postgresDeliveries) List(ctx context.Context, filter DeliveryFilter) ([]DeliveryRecord, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = DefaultPageSize
	}

	records := []DeliveryRecord{}
	err := r.db.SelectContext(ctx, &records, `
		SELECT id, email, subject, body, status, error_message, has_attachment, attachment_name, created_at
		FROM email_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3`,
		filter.Since, filter.Until, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query email logs: %w", err)
	}
	return records, nil
}

func (r *postgresDeliveries) CountByStatus(ctx context.Context, since, until time.Time) (map[Status]int, error) {
	var rows []struct {
		Status Status `db:"status"`
		Count  int    `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS count FROM email_logs
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY status`,
		since, until,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get email status distribution: %w", err)
	}

	counts := make(map[Status]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
