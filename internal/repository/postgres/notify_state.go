package postgres

import (
	"context"
	"time"

	"gatekeeper-backend/internal/repository"
)

type notifyStateRepository struct {
	db DBTX
}

func NewNotifyStateRepository(db DBTX) repository.NotifyStateRepository {
	return &notifyStateRepository{db: db}
}

func (r *notifyStateRepository) List(ctx context.Context, communityID int64) (map[string][]byte, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key, value FROM notify_state WHERE community_id = $1`, communityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		state[key] = value
	}
	return state, rows.Err()
}

func (r *notifyStateRepository) Put(ctx context.Context, communityID int64, key string, value []byte) error {
	query := `INSERT INTO notify_state (community_id, key, value, updated_on)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (community_id, key) DO UPDATE SET value = $3, updated_on = $4`
	_, err := r.db.ExecContext(ctx, query, communityID, key, value, time.Now())
	return err
}

func (r *notifyStateRepository) Delete(ctx context.Context, communityID int64, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM notify_state WHERE community_id = $1 AND key = $2`, communityID, key)
	return err
}

func (r *notifyStateRepository) DeleteAll(ctx context.Context, communityID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM notify_state WHERE community_id = $1`, communityID)
	return err
}
