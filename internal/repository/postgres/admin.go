package postgres

import (
	"context"

	"gatekeeper-backend/internal/repository"

	"github.com/lib/pq"
)

type adminRepository struct {
	db DBTX
}

func NewAdminRepository(db DBTX) repository.AdminRepository {
	return &adminRepository{db: db}
}

func (r *adminRepository) Replace(ctx context.Context, communityID int64, userIDs []int64) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM community_admins WHERE community_id = $1`, communityID); err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return nil
	}
	query := `INSERT INTO community_admins (community_id, user_id)
	          SELECT $1, unnest($2::bigint[])
	          ON CONFLICT DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, communityID, pq.Array(userIDs))
	return err
}

func (r *adminRepository) Add(ctx context.Context, communityID, userID int64) error {
	query := `INSERT INTO community_admins (community_id, user_id)
	          VALUES ($1, $2) ON CONFLICT DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, communityID, userID)
	return err
}

func (r *adminRepository) Remove(ctx context.Context, communityID, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM community_admins WHERE community_id = $1 AND user_id = $2`,
		communityID, userID)
	return err
}

func (r *adminRepository) IsAdmin(ctx context.Context, communityID, userID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM community_admins WHERE community_id = $1 AND user_id = $2)`
	err := r.db.QueryRowContext(ctx, query, communityID, userID).Scan(&exists)
	return exists, err
}

func (r *adminRepository) ListCommunitiesByAdmin(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT community_id FROM community_admins WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *adminRepository) DeleteByCommunity(ctx context.Context, communityID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM community_admins WHERE community_id = $1`, communityID)
	return err
}
