package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/repository"
)

type communityRepository struct {
	db DBTX
}

func NewCommunityRepository(db DBTX) repository.CommunityRepository {
	return &communityRepository{db: db}
}

func (r *communityRepository) Get(ctx context.Context, id int64) (*domain.Community, error) {
	community := &domain.Community{}
	var config []byte
	query := `SELECT id, mode, config FROM communities WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&community.ID, &community.Mode, &config)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(config) > 0 {
		community.Config = &domain.CommunityConfig{}
		if err := json.Unmarshal(config, community.Config); err != nil {
			return nil, fmt.Errorf("community %d has malformed config: %w", id, err)
		}
	}
	return community, nil
}

func (r *communityRepository) Upsert(ctx context.Context, community *domain.Community) error {
	var config []byte
	if community.Config != nil {
		var err error
		config, err = json.Marshal(community.Config)
		if err != nil {
			return fmt.Errorf("failed to encode community config: %w", err)
		}
	}
	query := `INSERT INTO communities (id, mode, config, updated_on)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (id) DO UPDATE SET mode = $2, config = $3, updated_on = $4`
	_, err := r.db.ExecContext(ctx, query, community.ID, community.Mode, config, time.Now())
	return err
}

func (r *communityRepository) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM communities`)
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

func (r *communityRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM communities WHERE id = $1`, id)
	return err
}
