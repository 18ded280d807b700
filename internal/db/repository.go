package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrSubscriptionNotFound is returned when a user has no stored push subscription.
var ErrSubscriptionNotFound = errors.New("push subscription not found")

// Repository handles database operations for notification logs and subscriptions
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// InsertNotificationLog appends one delivery outcome row. There is no
// corresponding update or delete: the log is append-only, so concurrent
// dispatches never contend on a row.
func (r *Repository) InsertNotificationLog(ctx context.Context, entry *NotificationLog) error {
	query := `
		INSERT INTO notification_logs (
			id, type, title, message, target_type, target_value,
			success, provider_message_id, recipient_count, error_message, data
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		RETURNING created_at
	`

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		entry.ID,
		entry.Type,
		entry.Title,
		entry.Message,
		entry.TargetType,
		entry.TargetValue,
		entry.Success,
		entry.ProviderMessageID,
		entry.RecipientCount,
		entry.ErrorMessage,
		entry.Data,
	).Scan(&entry.CreatedAt)

	if err != nil {
		r.logger.Error("failed to insert notification log",
			zap.Error(err),
			zap.String("log_id", entry.ID.String()),
			zap.String("type", entry.Type),
		)
		return fmt.Errorf("insert notification log: %w", err)
	}

	return nil
}

// ListNotificationLogs returns log rows newest first.
func (r *Repository) ListNotificationLogs(ctx context.Context, limit, offset int) ([]*NotificationLog, error) {
	query := `
		SELECT
			id, type, title, message, target_type, target_value,
			success, provider_message_id, recipient_count, error_message, data,
			created_at
		FROM notification_logs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool().Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notification logs: %w", err)
	}
	defer rows.Close()

	var logs []*NotificationLog
	for rows.Next() {
		var entry NotificationLog
		err := rows.Scan(
			&entry.ID,
			&entry.Type,
			&entry.Title,
			&entry.Message,
			&entry.TargetType,
			&entry.TargetValue,
			&entry.Success,
			&entry.ProviderMessageID,
			&entry.RecipientCount,
			&entry.ErrorMessage,
			&entry.Data,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification log: %w", err)
		}
		logs = append(logs, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification logs: %w", err)
	}

	return logs, nil
}

// UpsertPushSubscription stores or replaces the subscription handle for a user.
// The unique constraint on user_id enforces the one-handle-per-user invariant.
func (r *Repository) UpsertPushSubscription(ctx context.Context, sub *PushSubscription) error {
	query := `
		INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			endpoint = EXCLUDED.endpoint,
			p256dh = EXCLUDED.p256dh,
			auth = EXCLUDED.auth,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		sub.ID,
		sub.UserID,
		sub.Endpoint,
		sub.P256dh,
		sub.Auth,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to upsert push subscription",
			zap.Error(err),
			zap.String("user_id", sub.UserID),
		)
		return fmt.Errorf("upsert push subscription: %w", err)
	}

	r.logger.Info("push subscription stored",
		zap.String("user_id", sub.UserID),
		zap.String("subscription_id", sub.ID.String()),
	)

	return nil
}

// GetPushSubscription retrieves the subscription handle for a user.
func (r *Repository) GetPushSubscription(ctx context.Context, userID string) (*PushSubscription, error) {
	query := `
		SELECT id, user_id, endpoint, p256dh, auth, created_at, updated_at
		FROM push_subscriptions
		WHERE user_id = $1
	`

	var sub PushSubscription
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Endpoint,
		&sub.P256dh,
		&sub.Auth,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}

	if err != nil {
		r.logger.Error("failed to get push subscription",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		return nil, fmt.Errorf("query push subscription: %w", err)
	}

	return &sub, nil
}

// DeletePushSubscription removes a dead subscription (endpoint returned 404/410).
func (r *Repository) DeletePushSubscription(ctx context.Context, userID string) error {
	_, err := r.db.Pool().Exec(ctx, `DELETE FROM push_subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}
