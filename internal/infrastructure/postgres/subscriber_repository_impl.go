package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/letterflow/letterflow/internal/domain/entity"
	"github.com/letterflow/letterflow/internal/domain/repository"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type SubscriberRepository struct {
	pool *pgxpool.Pool
}

func NewSubscriberRepository(pool *pgxpool.Pool) *SubscriberRepository {
	return &SubscriberRepository{pool: pool}
}

func (r *SubscriberRepository) InsertPendingWithToken(ctx context.Context, sub *entity.Subscriber, token string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO subscriptions (id, email, name, subscribed_at, status)
		VALUES ($1, $2, $3, $4, $5)
	`, sub.ID, sub.Email, sub.Name, sub.SubscribedAt, string(sub.Status))
	if err != nil {
		if isPgErr(err, uniqueViolation) {
			return repository.ErrDuplicateEmail
		}
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO subscription_tokens (subscription_token, subscriber_id)
		VALUES ($1, $2)
	`, token, sub.ID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *SubscriberRepository) InsertToken(ctx context.Context, token, subscriberID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO subscription_tokens (subscription_token, subscriber_id)
		VALUES ($1, $2)
	`, token, subscriberID)
	if err != nil {
		if isPgErr(err, foreignKeyViolation) {
			return repository.ErrSubscriberNotFound
		}
		return err
	}
	return nil
}

func (r *SubscriberRepository) GetByEmail(ctx context.Context, email string) (*entity.Subscriber, error) {
	sub := &entity.Subscriber{}
	var status string

	row := r.pool.QueryRow(ctx, `
		SELECT id, email, name, subscribed_at, status
		FROM subscriptions
		WHERE email = $1
	`, email)

	if err := row.Scan(&sub.ID, &sub.Email, &sub.Name, &sub.SubscribedAt, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrSubscriberNotFound
		}
		return nil, err
	}
	sub.Status = entity.SubscriberStatus(status)

	return sub, nil
}

func (r *SubscriberRepository) SubscriberIDByToken(ctx context.Context, token string) (string, error) {
	var id string

	row := r.pool.QueryRow(ctx, `
		SELECT subscriber_id
		FROM subscription_tokens
		WHERE subscription_token = $1
	`, token)

	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", repository.ErrTokenNotFound
		}
		return "", err
	}

	return id, nil
}

func (r *SubscriberRepository) ConfirmSubscriber(ctx context.Context, subscriberID string) error {
	// Unconditional UPDATE; re-confirming an already confirmed subscriber
	// is not an error.
	res, err := r.pool.Exec(ctx, `
		UPDATE subscriptions
		SET status = $1
		WHERE id = $2
	`, string(entity.StatusConfirmed), subscriberID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return repository.ErrSubscriberNotFound
	}
	return nil
}

func (r *SubscriberRepository) EachConfirmedEmail(ctx context.Context, fn func(email string) error) error {
	rows, err := r.pool.Query(ctx, `
		SELECT email
		FROM subscriptions
		WHERE status = $1
	`, string(entity.StatusConfirmed))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return err
		}
		if err := fn(email); err != nil {
			return err
		}
	}
	return rows.Err()
}

func isPgErr(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

var _ repository.SubscriberRepository = (*SubscriberRepository)(nil)
