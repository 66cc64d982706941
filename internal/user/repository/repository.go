package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/peerhub/peerhub/internal/common/db"
	"github.com/peerhub/peerhub/internal/common/logger"
	"github.com/peerhub/peerhub/internal/user/domain"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrRequestAlreadyExists = errors.New("friend request already exists")
	ErrRequestNotFound      = errors.New("friend request not found")
)

type Repository interface {
	FindByID(ctx context.Context, id domain.ID) (domain.User, error)
	FriendsOf(ctx context.Context, id domain.ID) ([]domain.ID, error)
	AreFriends(ctx context.Context, a, b domain.ID) (bool, error)
	CreateFriendRequest(ctx context.Context, target, requester domain.ID) error
	AcceptFriendRequest(ctx context.Context, target, requester domain.ID) error
}

type PgRepository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

func NewPgRepository(pool *pgxpool.Pool, log *logger.Logger) *PgRepository {
	return &PgRepository{pool: pool, log: log}
}

func (r *PgRepository) FindByID(ctx context.Context, id domain.ID) (domain.User, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT id, username, email, created_at FROM users WHERE id = $1`,
		string(id),
	)

	var user domain.User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("failed to find user by id: %w", err)
	}

	return user, nil
}

// FriendsOf is on the hub's signaling and disconnect paths, so transient
// connection errors are retried with backoff before the lookup is given up on.
func (r *PgRepository) FriendsOf(ctx context.Context, id domain.ID) ([]domain.ID, error) {
	var friends []domain.ID

	err := db.RetryWithBackoff(ctx, r.log, db.DefaultRetryConfig, func() error {
		rows, err := r.pool.Query(
			ctx,
			`SELECT friend_id FROM friendships WHERE user_id = $1`,
			string(id),
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		friends = friends[:0]
		for rows.Next() {
			var friendID domain.ID
			if err := rows.Scan(&friendID); err != nil {
				return err
			}
			friends = append(friends, friendID)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list friends: %w", err)
	}

	return friends, nil
}

func (r *PgRepository) AreFriends(ctx context.Context, a, b domain.ID) (bool, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM friendships WHERE user_id = $1 AND friend_id = $2)`,
		string(a),
		string(b),
	)

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check friendship: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) CreateFriendRequest(ctx context.Context, target, requester domain.ID) error {
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO friend_requests (target_id, requester_id) VALUES ($1, $2)`,
		string(target),
		string(requester),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrRequestAlreadyExists
			case "23503":
				return ErrUserNotFound
			}
		}
		return fmt.Errorf("failed to create friend request: %w", err)
	}
	return nil
}

// AcceptFriendRequest consumes the pending request and records the
// friendship in both directions inside one transaction.
func (r *PgRepository) AcceptFriendRequest(ctx context.Context, target, requester domain.ID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(
		ctx,
		`DELETE FROM friend_requests WHERE target_id = $1 AND requester_id = $2`,
		string(target),
		string(requester),
	)
	if err != nil {
		return fmt.Errorf("failed to consume friend request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}

	_, err = tx.Exec(
		ctx,
		`INSERT INTO friendships (user_id, friend_id)
		 VALUES ($1, $2), ($2, $1)
		 ON CONFLICT DO NOTHING`,
		string(target),
		string(requester),
	)
	if err != nil {
		return fmt.Errorf("failed to record friendship: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit friendship: %w", err)
	}
	return nil
}
